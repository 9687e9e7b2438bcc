package tasks

import (
	"context"
	"strconv"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
)

// startMissing searches each half-known record on the side that lacks it.
func (e *Engine) startMissing(ctx context.Context) {
	e.startPhase(MissingDiscovery)
	e.missing = map[RecordID]struct{}{}
	e.discovered = false

	for _, id := range e.catalog.IDs() {
		if e.wasCancelled() {
			break
		}

		rec := e.catalog.Record(id)
		if !rec.HasMissingInfo() || !rec.HasProviderIDs() {
			continue
		}

		side, _ := rec.MissingSide()
		if !rec.State[side.Other()].Valid() || !e.current.OnSide(side) {
			continue
		}
		e.dispatchMissing(ctx, side, id, rec)
	}

	e.opts.Progress.SetMaximum(len(e.missing))
	e.checkDiscovery()
}

func (e *Engine) dispatchMissing(ctx context.Context, side models.Side, id RecordID, rec *models.MediaRecord) Handle {
	srv := e.servers[side]
	list := rec.ProviderList()
	q := services.ItemQuery{IncludeItemTypes: e.opts.ItemTypes}

	e.missing[id] = struct{}{}
	payload := strconv.Itoa(int(id))
	return e.dispatch(ctx, Tag{Side: side, Kind: KindMissingSearch, Payload: payload}, func(ctx context.Context) (any, error) {
		return srv.FindByProviderIDs(ctx, list, q)
	})
}

func (e *Engine) onMissingSearch(ctx context.Context, tag Tag, c completion) {
	n, _ := strconv.Atoi(tag.Payload)
	id := RecordID(n)
	defer func() {
		delete(e.missing, id)
		e.checkDiscovery()
	}()

	rec := e.catalog.Record(id)
	if c.err != nil || e.wasCancelled() || rec == nil {
		return
	}

	items, _ := c.result.([]services.Item)
	if len(items) == 0 || items[0].ID == "" {
		e.unresolved++
		e.logger.Info("Could not find media", "name", rec.Name, "server", e.serverName(tag.Side))
		return
	}

	found := items[0].ID
	if existing, other := e.catalog.Lookup(tag.Side, found); other != nil && existing != id {
		e.catalog.absorb(id, existing)
		e.logger.Info("Found media already listed", "name", other.Name, "server", e.serverName(tag.Side))
		return
	}

	rec.EnsureState(tag.Side).MediaID = found
	e.catalog.Attach(tag.Side, found, id)
	e.logger.Info("Found media", "name", rec.Name, "server", e.serverName(tag.Side), "remaining", len(e.missing)-1)

	e.dispatchReload(ctx, tag.Side, found)
}

// checkDiscovery ends the missing-item phase once every search and reload has returned.
func (e *Engine) checkDiscovery() {
	if e.Phase() != MissingDiscovery || e.discovered {
		return
	}
	if len(e.missing) > 0 || e.ledger.Count(KindReload) > 0 || e.ledger.Count(KindMissingSearch) > 0 {
		return
	}

	e.discovered = true
	e.logger.Info("Finished finding missing media", "unresolved", e.unresolved)
}
