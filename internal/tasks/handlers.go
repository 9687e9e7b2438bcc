package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
)

// onRequestFinished routes one completion to the handler for its kind.
func (e *Engine) onRequestFinished(ctx context.Context, c completion) {
	tag, last, ok := e.ledger.Complete(c.handle)
	if !ok {
		e.logger.Warn("Response for unknown request", "handle", c.handle)
		return
	}

	e.opts.Progress.Increment()

	if c.err != nil && tag.Kind != KindTestServer {
		e.failures = append(e.failures, c.err)
		e.reportError(tag, c.err)
	}

	switch tag.Kind {
	case KindUsers:
		e.onUsers(tag, c, last)
	case KindMediaList:
		e.onMediaList(ctx, tag, c, last)
	case KindMediaDetail:
		e.onMediaDetail(tag, c, last)
	case KindMissingSearch:
		e.onMissingSearch(ctx, tag, c)
	case KindReload:
		e.onReload(tag, c)
	case KindUpdateData, KindUpdateFavorite:
		e.onWrite(ctx, c)
	case KindTestServer:
		e.onTestServer(tag, c)
	case KindCreateCollection:
		if c.err == nil {
			e.collection, _ = c.result.(string)
			e.logger.Info("Created collection", "name", tag.Payload, "id", e.collection, "server", e.serverName(tag.Side))
		}
	}
}

// reportError sends one message per failed request.
func (e *Engine) reportError(tag Tag, err error) {
	server := e.serverName(tag.Side)

	switch {
	case errors.Is(err, context.Canceled) || e.wasCancelled():
		e.opts.Messages.Message("Request cancelled",
			fmt.Sprintf("%s request to server '%s' was cancelled", tag.Kind, server), SeverityWarning)
	case errors.Is(err, shared.ErrInvalidResponse):
		e.opts.Messages.Message("Invalid Response",
			fmt.Sprintf("Server '%s': %v", server, err), SeverityError)
	default:
		e.opts.Messages.Message("Error response from server",
			fmt.Sprintf("Server '%s': %v", server, err), SeverityError)
	}
}

func (e *Engine) onUsers(tag Tag, c completion, last bool) {
	if c.err == nil && !e.wasCancelled() {
		users, _ := c.result.([]services.User)
		for _, u := range users {
			if e.users.Add(tag.Side, u.Info()) == nil {
				e.logger.Debug("Skipping user without name or ID", "server", e.serverName(tag.Side))
			}
		}
		e.logger.Info("Loaded users", "server", e.serverName(tag.Side), "count", len(users))
	}

	if last {
		e.logger.Info("Users paired", "total", e.users.Len(), "syncable", len(e.users.Syncable()))
	}
}

func (e *Engine) onMediaList(ctx context.Context, tag Tag, c completion, last bool) {
	if c.err == nil && !e.wasCancelled() {
		items, _ := c.result.([]services.Item)
		e.loadMediaList(tag.Side, items)
	}

	if !last || e.wasCancelled() {
		return
	}
	e.startDetails(ctx)
}

// loadMediaList inserts a stub record for every listed item.
func (e *Engine) loadMediaList(side models.Side, items []services.Item) {
	limit := len(items)
	if e.opts.MaxItems > 0 && limit > e.opts.MaxItems {
		limit = e.opts.MaxItems
	}

	e.logger.Info("Loaded played media",
		"user", e.current.Name, "server", e.serverName(side), "count", len(items), "loading", limit)

	for _, item := range items[:limit] {
		if item.ID == "" {
			continue
		}

		rec := models.NewMediaRecord(models.ComputeName(item.Fields()), item.Type)
		state := rec.EnsureState(side)
		state.MediaID = item.ID
		state.UserState = item.State()

		e.catalog.Insert(side, rec)
		e.current.Watched[side] = append(e.current.Watched[side], item.ID)
	}
}

// startDetails requests full item data for every listed record on both sides.
func (e *Engine) startDetails(ctx context.Context) {
	e.startPhase(MediaDetailing)

	total := 0
	for _, side := range models.Sides {
		srv, uid := e.servers[side], e.current.UserID(side)
		for _, key := range e.catalog.Keys(side) {
			if e.wasCancelled() {
				return
			}

			mediaID := key
			e.dispatch(ctx, Tag{Side: side, Kind: KindMediaDetail, Payload: mediaID}, func(ctx context.Context) (any, error) {
				return srv.Item(ctx, uid, mediaID)
			})
			total++
		}
	}

	e.opts.Progress.SetMaximum(total)
	if total == 0 {
		e.armSettle()
	}
}

func (e *Engine) onMediaDetail(tag Tag, c completion, last bool) {
	if c.err == nil && !e.wasCancelled() {
		if item, ok := c.result.(*services.Item); ok && item != nil {
			if id, rec := e.catalog.Lookup(tag.Side, tag.Payload); rec != nil {
				applyItem(rec, tag.Side, item, true)
				e.catalog.RegisterProviders(tag.Side, id)
			}
		}
	}

	if last && !e.wasCancelled() {
		e.armSettle()
	}
}

// applyItem copies a server's view of an item onto rec. Identity fields are only
// taken when full is set; reloads refresh the user state alone.
func applyItem(rec *models.MediaRecord, side models.Side, item *services.Item, full bool) {
	if full {
		rec.Name = models.ComputeName(item.Fields())
		rec.Type = item.Type
		for ns, pid := range item.ProviderIDs {
			rec.AddProvider(ns, pid)
		}
		if rec.ExternalURLs == nil {
			rec.ExternalURLs = map[string]string{}
		}
		for _, u := range item.ExternalURLs {
			if u.Name != "" && u.URL != "" {
				rec.ExternalURLs[u.Name] = u.URL
			}
		}
	}

	state := rec.EnsureState(side)
	if item.ID != "" {
		state.MediaID = item.ID
	}
	state.UserState = item.State()
	state.Loaded = true
}

// onSettle runs once the detail phase has been quiet for the settle delay.
func (e *Engine) onSettle(ctx context.Context) {
	if e.ledger.Len() > 0 {
		e.armSettle()
		return
	}
	if e.wasCancelled() {
		return
	}

	e.startPhase(Merging)
	stats := Merge(e.catalog)
	e.logger.Info("Merged media", "records", e.catalog.Len(), "folded", stats.Folded, "paired", stats.Paired)

	e.startMissing(ctx)
}

func (e *Engine) onReload(tag Tag, c completion) {
	if c.err == nil && !e.wasCancelled() {
		if item, ok := c.result.(*services.Item); ok && item != nil {
			if _, rec := e.catalog.Lookup(tag.Side, tag.Payload); rec != nil {
				applyItem(rec, tag.Side, item, false)
				e.logger.Debug("Reloaded media", "name", rec.Name, "server", e.serverName(tag.Side))
			}
		}
	}
	e.checkDiscovery()
}

// onWrite records a write's outcome. Once every write for an item has returned and
// at least one succeeded, the item is reloaded.
func (e *Engine) onWrite(ctx context.Context, c completion) {
	w := e.writes[c.handle]
	delete(e.writes, c.handle)
	if w == nil {
		return
	}

	key := writeKey(w)
	e.outstanding[key]--

	if c.err != nil {
		w.Status = models.WriteFailed
		w.Err = c.err
	} else {
		w.Status = models.WriteSucceeded
		e.written[key] = true
		e.logger.Info("Updated media", "name", w.MediaName, "kind", w.Kind, "server", e.serverName(w.Side))
	}

	if e.outstanding[key] > 0 {
		return
	}
	delete(e.outstanding, key)

	ok := e.written[key]
	delete(e.written, key)
	if ok && !e.wasCancelled() {
		e.dispatchReload(ctx, w.Side, w.MediaID)
	}
}

func (e *Engine) onTestServer(tag Tag, c completion) {
	e.tests[tag.Side] = c.err

	server := e.serverName(tag.Side)
	if c.err != nil {
		e.logger.Error("Server test failed", "server", server, "error", c.err)
		return
	}
	e.logger.Info("Server test passed", "server", server)
}
