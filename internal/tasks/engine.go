package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
)

// DefaultMonitorInterval is how often the engine logs outstanding requests.
const DefaultMonitorInterval = 1500 * time.Millisecond

// EngineOpts configures an [Engine]. Zero values select defaults.
type EngineOpts struct {
	ItemTypes       string        // IncludeItemTypes filter for listings and searches
	MaxItems        int           // cap on listed items per side; <= 0 means unlimited
	SettleDelay     time.Duration // wait after the detail phase drains before merging
	MonitorInterval time.Duration // debug log period while requests are outstanding
	Logger          *log.Logger
	Progress        ProgressSink
	Messages        MessageSink
	Callbacks       Callbacks
}

type completion struct {
	handle Handle
	result any
	err    error
}

// Engine reconciles one user's watch state between the LHS and RHS servers.
//
// All state is owned by the goroutine running an operation. Requests run on their own
// goroutines and post completions back; responses are handled one at a time, so no
// handler ever races another.
//
// The Request* methods return as soon as the request is dispatched. Callers must call
// [Engine.Wait] to handle the responses; until then the request goroutines stay blocked
// on delivery. The next operation handles any responses still outstanding before it
// starts.
type Engine struct {
	servers [2]services.MediaServer
	opts    EngineOpts
	logger  *log.Logger

	ledger      *Ledger
	catalog     *Catalog
	users       *models.UserSet
	current     *models.UserRecord
	completions chan completion
	settle      *time.Timer

	missing    map[RecordID]struct{}
	discovered bool
	unresolved int
	failures   []error

	writes      map[Handle]*PlannedWrite
	outstanding map[string]int
	written     map[string]bool

	tests      map[models.Side]error
	collection string

	phase     atomic.Int32
	cancelled atomic.Bool
	mu        sync.Mutex
	cancelRun context.CancelFunc
}

// NewEngine creates an engine for the given pair of servers.
//
// A nil server disables that side; operations that need both sides fail with
// [shared.ErrServiceUnavailable].
func NewEngine(lhs, rhs services.MediaServer, opts EngineOpts) *Engine {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = shared.DefaultSettleDelay
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Progress == nil {
		opts.Progress = nopSink{}
	}
	if opts.Messages == nil {
		opts.Messages = LogSink{Logger: opts.Logger}
	}

	return &Engine{
		servers:     [2]services.MediaServer{lhs, rhs},
		opts:        opts,
		logger:      opts.Logger,
		ledger:      NewLedger(),
		catalog:     NewCatalog(),
		users:       models.NewUserSet(),
		completions: make(chan completion, 64),
		missing:     map[RecordID]struct{}{},
		writes:      map[Handle]*PlannedWrite{},
		outstanding: map[string]int{},
		written:     map[string]bool{},
		tests:       map[models.Side]error{},
	}
}

// Phase returns the current pipeline phase. Safe for use from any goroutine.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// Catalog returns the media gathered by the last [Engine.LoadUserMedia].
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Users returns the users gathered by the last [Engine.LoadUsers].
func (e *Engine) Users() *models.UserSet { return e.users }

// CurrentUser returns the user whose media is loaded, or nil.
func (e *Engine) CurrentUser() *models.UserRecord { return e.current }

// Unresolved returns how many missing-item searches found nothing.
func (e *Engine) Unresolved() int { return e.unresolved }

// Server returns the client for side, or nil.
func (e *Engine) Server(side models.Side) services.MediaServer { return e.servers[side] }

// Cancel stops the running operation. No new batches are issued; in-flight requests
// drain and their results are discarded. Safe for use from any goroutine.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelRun != nil {
		e.cancelRun()
	}
}

func (e *Engine) wasCancelled() bool {
	return e.cancelled.Load() || e.opts.Progress.WasCancelled()
}

// begin prepares a cancellable run. The returned func must be deferred.
//
// An Engine runs one operation at a time; a second caller gets [shared.ErrBusy].
func (e *Engine) begin(ctx context.Context) (context.Context, func(), error) {
	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if e.cancelRun != nil {
		e.mu.Unlock()
		cancel()
		return nil, nil, shared.ErrBusy
	}
	e.cancelRun = cancel
	e.mu.Unlock()

	e.cancelled.Store(false)

	// Requests started by Request* without a Wait are finished first.
	e.pump(runCtx)
	e.failures = nil

	return runCtx, func() {
		cancel()
		e.mu.Lock()
		e.cancelRun = nil
		e.mu.Unlock()

		e.stopSettle()
		e.setPhase(Idle)
		e.opts.Progress.Reset()
	}, nil
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
}

func (e *Engine) startPhase(p Phase) {
	e.setPhase(p)

	name := ""
	if e.current != nil {
		name = e.current.Name
	}

	e.opts.Progress.Reset()
	if ps, ok := e.opts.Progress.(interface{ SetPhase(Phase) }); ok {
		ps.SetPhase(p)
	}
	e.opts.Progress.SetTitle(phaseTitle(p, name))
	e.logger.Debug("Phase started", "phase", p)
}

func (e *Engine) serverName(side models.Side) string {
	if srv := e.servers[side]; srv != nil {
		return srv.Name()
	}
	return side.String()
}

func (e *Engine) requireServers() error {
	for _, side := range models.Sides {
		if e.servers[side] == nil {
			return fmt.Errorf("%w: %s server is not configured", shared.ErrServiceUnavailable, side)
		}
	}
	return nil
}

// dispatch registers tag and runs call on its own goroutine.
func (e *Engine) dispatch(ctx context.Context, tag Tag, call func(context.Context) (any, error)) Handle {
	h := e.ledger.Register(tag)
	go func() {
		result, err := call(ctx)
		e.completions <- completion{handle: h, result: result, err: err}
	}()
	return h
}

func (e *Engine) armSettle() {
	e.stopSettle()
	e.settle = time.NewTimer(e.opts.SettleDelay)
}

func (e *Engine) stopSettle() {
	if e.settle != nil {
		e.settle.Stop()
		e.settle = nil
	}
}

// pump handles completions until no request is outstanding and no settle is armed.
func (e *Engine) pump(ctx context.Context) {
	monitor := time.NewTicker(e.opts.MonitorInterval)
	defer monitor.Stop()

	for e.ledger.Len() > 0 || e.settle != nil {
		var settleC <-chan time.Time
		if e.settle != nil {
			settleC = e.settle.C
		}

		select {
		case c := <-e.completions:
			e.onRequestFinished(ctx, c)
		case <-settleC:
			e.settle = nil
			e.onSettle(ctx)
		case <-monitor.C:
			e.logPending()
		}
	}
}

// Wait handles responses until every outstanding request has finished.
func (e *Engine) Wait(ctx context.Context) {
	e.pump(ctx)
}

func (e *Engine) logPending() {
	if e.ledger.Len() == 0 {
		return
	}

	counts := map[string]int{}
	for _, tag := range e.ledger.Pending() {
		counts[tag.Side.String()+"."+tag.Kind.String()]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := []any{"phase", e.Phase(), "total", e.ledger.Len()}
	for _, k := range keys {
		kv = append(kv, k, counts[k])
	}
	e.logger.Debug("Pending requests", kv...)
}

// LoadUsers lists users on both servers and pairs them.
func (e *Engine) LoadUsers(ctx context.Context) (*models.UserSet, error) {
	if err := e.requireServers(); err != nil {
		return nil, err
	}

	ctx, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	e.users = models.NewUserSet()
	e.current = nil
	e.startPhase(UsersLoading)
	e.opts.Progress.SetMaximum(len(models.Sides))

	for _, side := range models.Sides {
		srv := e.servers[side]
		e.dispatch(ctx, Tag{Side: side, Kind: KindUsers}, func(ctx context.Context) (any, error) {
			return srv.Users(ctx)
		})
	}
	e.pump(ctx)

	if e.wasCancelled() {
		return e.users, shared.ErrCancelled
	}
	if e.users.Len() == 0 && len(e.failures) > 0 {
		return e.users, e.failures[0]
	}

	if cb := e.opts.Callbacks.UsersLoaded; cb != nil {
		cb(e.users)
	}
	return e.users, nil
}

// SelectUser finds a loaded user by display or connect name.
func (e *Engine) SelectUser(name string) (*models.UserRecord, error) {
	user := e.users.Find(name)
	if user == nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, name)
	}
	return user, nil
}

// LoadUserMedia gathers everything user has played on either server, merges records
// for the same title and looks up titles the other server is missing.
func (e *Engine) LoadUserMedia(ctx context.Context, user *models.UserRecord) (*Catalog, error) {
	if user == nil {
		return nil, shared.ErrUserNotFound
	}
	if err := e.requireServers(); err != nil {
		return nil, err
	}

	ctx, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	e.catalog.Clear()
	e.missing = map[RecordID]struct{}{}
	e.discovered = false
	e.unresolved = 0
	e.current = user
	user.ClearWatched()

	e.startPhase(MediaListing)

	listed := 0
	for _, side := range models.Sides {
		if !user.OnSide(side) {
			continue
		}

		srv, uid := e.servers[side], user.UserID(side)
		q := services.ItemQuery{IncludeItemTypes: e.opts.ItemTypes}
		e.dispatch(ctx, Tag{Side: side, Kind: KindMediaList, Payload: user.Name}, func(ctx context.Context) (any, error) {
			return srv.PlayedItems(ctx, uid, q)
		})
		listed++
	}
	if listed == 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotSynced, user.Name)
	}

	e.opts.Progress.SetMaximum(listed)
	e.pump(ctx)

	if e.wasCancelled() {
		e.catalog.Clear()
		return e.catalog, shared.ErrCancelled
	}
	if len(e.failures) >= listed && e.catalog.Len() == 0 {
		return e.catalog, e.failures[0]
	}

	if cb := e.opts.Callbacks.UserMediaLoaded; cb != nil {
		cb(user, e.catalog)
	}
	return e.catalog, nil
}

// TestServers checks both servers and returns each side's outcome.
//
// A side without a configured server reports [shared.ErrServiceUnavailable].
func (e *Engine) TestServers(ctx context.Context) map[models.Side]error {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return map[models.Side]error{models.LHS: err, models.RHS: err}
	}
	defer done()

	e.tests = map[models.Side]error{}
	e.startPhase(TestingServers)

	for _, side := range models.Sides {
		srv := e.servers[side]
		if srv == nil {
			e.tests[side] = fmt.Errorf("%w: %s server is not configured", shared.ErrServiceUnavailable, side)
			continue
		}

		e.logger.Info("Testing server", "server", srv.Name(), "side", side)
		e.dispatch(ctx, Tag{Side: side, Kind: KindTestServer}, func(ctx context.Context) (any, error) {
			return nil, srv.TestServer(ctx)
		})
	}
	e.pump(ctx)

	out := make(map[models.Side]error, len(e.tests))
	for side, err := range e.tests {
		out[side] = err
	}
	return out
}

// CreateCollection creates a collection named name on side containing ids.
func (e *Engine) CreateCollection(ctx context.Context, side models.Side, name string, ids []string) (string, error) {
	srv := e.servers[side]
	if srv == nil {
		return "", fmt.Errorf("%w: %s server is not configured", shared.ErrServiceUnavailable, side)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: collection name", shared.ErrMissingArgument)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: at least one item ID", shared.ErrMissingArgument)
	}

	ctx, done, err := e.begin(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	e.collection = ""
	e.startPhase(CreatingCollection)
	e.opts.Progress.SetMaximum(1)

	items := append([]string(nil), ids...)
	e.dispatch(ctx, Tag{Side: side, Kind: KindCreateCollection, Payload: name}, func(ctx context.Context) (any, error) {
		return srv.CreateCollection(ctx, name, items)
	})
	e.pump(ctx)

	if e.wasCancelled() {
		return "", shared.ErrCancelled
	}
	if len(e.failures) > 0 {
		return "", e.failures[0]
	}
	return e.collection, nil
}

// RequestMediaInfo refreshes rec on side. A record without a media ID on side is
// searched for by provider IDs instead. Call [Engine.Wait] to process the response.
func (e *Engine) RequestMediaInfo(ctx context.Context, rec *models.MediaRecord, side models.Side) (Handle, error) {
	srv := e.servers[side]
	if srv == nil {
		return 0, fmt.Errorf("%w: %s server is not configured", shared.ErrServiceUnavailable, side)
	}
	if e.current == nil {
		return 0, shared.ErrUserNotFound
	}

	if mediaID := rec.MediaID(side); mediaID != "" {
		return e.dispatchReload(ctx, side, mediaID), nil
	}

	id, found := e.catalog.Lookup(side.Other(), rec.MediaID(side.Other()))
	if found == nil {
		return 0, fmt.Errorf("%w: %s is not in the catalog", shared.ErrInvalidArgument, rec.Name)
	}
	if !rec.HasProviderIDs() {
		return 0, fmt.Errorf("%w: %s has no provider IDs", shared.ErrInvalidArgument, rec.Name)
	}
	return e.dispatchMissing(ctx, side, id, rec), nil
}

// RequestUpdateUserData writes state for rec on side. Call [Engine.Wait] to process
// the response.
func (e *Engine) RequestUpdateUserData(ctx context.Context, rec *models.MediaRecord, state models.UserState, side models.Side) (*PlannedWrite, error) {
	w, err := e.requestWrite(rec, side)
	if err != nil {
		return nil, err
	}

	body, err := state.UserDataJSON()
	if err != nil {
		return nil, err
	}

	w.Kind = KindUpdateData
	w.Method = "POST"
	w.Path = services.UserDataPath(w.UserID, w.MediaID)
	w.Body = body
	e.dispatchWrite(ctx, w)
	return w, nil
}

// RequestSetFavorite marks or unmarks rec as favorite on side. Call [Engine.Wait] to
// process the response.
func (e *Engine) RequestSetFavorite(ctx context.Context, rec *models.MediaRecord, favorite bool, side models.Side) (*PlannedWrite, error) {
	w, err := e.requestWrite(rec, side)
	if err != nil {
		return nil, err
	}

	w.Kind = KindUpdateFavorite
	w.Method = services.FavoriteMethod(favorite)
	w.Path = services.FavoritePath(w.UserID, w.MediaID)
	w.Favorite = favorite
	e.dispatchWrite(ctx, w)
	return w, nil
}

func (e *Engine) requestWrite(rec *models.MediaRecord, side models.Side) (*PlannedWrite, error) {
	if e.servers[side] == nil {
		return nil, fmt.Errorf("%w: %s server is not configured", shared.ErrServiceUnavailable, side)
	}
	if e.current == nil {
		return nil, shared.ErrUserNotFound
	}
	if !rec.State[side].Valid() {
		return nil, fmt.Errorf("%w: %s on %s", shared.ErrNoCounterpart, rec.Name, side)
	}

	uid := e.current.UserID(side)
	if uid == "" {
		return nil, fmt.Errorf("%w: %s on %s", shared.ErrUserNotSynced, e.current.Name, side)
	}

	return &PlannedWrite{
		MediaName: rec.Name,
		Side:      side,
		UserID:    uid,
		MediaID:   rec.MediaID(side),
		Status:    models.WritePlanned,
	}, nil
}

func (e *Engine) dispatchReload(ctx context.Context, side models.Side, mediaID string) Handle {
	srv, uid := e.servers[side], e.current.UserID(side)
	return e.dispatch(ctx, Tag{Side: side, Kind: KindReload, Payload: mediaID}, func(ctx context.Context) (any, error) {
		return srv.Item(ctx, uid, mediaID)
	})
}

func writeKey(w *PlannedWrite) string {
	return w.Side.String() + "/" + w.MediaID
}

func (e *Engine) dispatchWrite(ctx context.Context, w *PlannedWrite) Handle {
	srv := e.servers[w.Side]
	uid, mediaID, body, favorite := w.UserID, w.MediaID, w.Body, w.Favorite

	var call func(context.Context) (any, error)
	switch w.Kind {
	case KindUpdateFavorite:
		call = func(ctx context.Context) (any, error) {
			return nil, srv.SetFavorite(ctx, uid, mediaID, favorite)
		}
	default:
		call = func(ctx context.Context) (any, error) {
			return nil, srv.UpdateUserData(ctx, uid, mediaID, body)
		}
	}

	w.Status = models.WritePending
	h := e.dispatch(ctx, Tag{Side: w.Side, Kind: w.Kind, Payload: mediaID}, call)
	e.writes[h] = w
	e.outstanding[writeKey(w)]++
	return h
}
