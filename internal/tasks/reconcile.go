package tasks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
)

// ReconcileOpts controls [Engine.Reconcile].
type ReconcileOpts struct {
	Source *models.Side // forces the authoritative side for every paired record
	DryRun bool         // plan only; nothing is written
}

// PlannedWrite is one request that brings a target server in line with the source.
type PlannedWrite struct {
	MediaName string
	Side      models.Side
	Kind      Kind
	Method    string
	Path      string
	UserID    string
	MediaID   string
	Body      []byte
	Favorite  bool
	Status    string
	Err       error
}

// PlanEntry is the decision for one record.
type PlanEntry struct {
	ID        RecordID
	Record    *models.MediaRecord
	Direction models.Direction
	Writes    []PlannedWrite
}

// Plan is the set of decisions for one user.
type Plan struct {
	User    string
	Entries []PlanEntry
	Counts  map[models.Direction]int
}

// WriteCount returns the number of planned requests.
func (p *Plan) WriteCount() int {
	n := 0
	for _, entry := range p.Entries {
		n += len(entry.Writes)
	}
	return n
}

// Changes returns the entries that need at least one write.
func (p *Plan) Changes() []PlanEntry {
	var out []PlanEntry
	for _, entry := range p.Entries {
		if len(entry.Writes) > 0 {
			out = append(out, entry)
		}
	}
	return out
}

// ReconcileReport summarizes a reconcile run.
type ReconcileReport struct {
	Plan       *Plan
	DryRun     bool
	Cancelled  bool
	Unresolved int
	Succeeded  int
	Failed     int
	Errors     []error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Writes returns pointers to every planned write, in plan order.
func (r *ReconcileReport) Writes() []*PlannedWrite {
	var out []*PlannedWrite
	for i := range r.Plan.Entries {
		for j := range r.Plan.Entries[i].Writes {
			out = append(out, &r.Plan.Entries[i].Writes[j])
		}
	}
	return out
}

// Pushed returns how many records were scheduled for writes to side.
func (r *ReconcileReport) Pushed(side models.Side) int {
	if side == models.LHS {
		return r.Plan.Counts[models.NeedsPushToLHS]
	}
	return r.Plan.Counts[models.NeedsPushToRHS]
}

func (r *ReconcileReport) tally() {
	r.Succeeded, r.Failed, r.Errors = 0, 0, nil
	for _, w := range r.Writes() {
		switch w.Status {
		case models.WriteSucceeded:
			r.Succeeded++
		case models.WriteFailed:
			r.Failed++
			r.Errors = append(r.Errors, fmt.Errorf("%s on %s: %w", w.MediaName, w.Side, w.Err))
		}
	}
}

// DirectionFor returns rec's direction, overridden by source for paired records
// that are not already equal.
func DirectionFor(rec *models.MediaRecord, source *models.Side) models.Direction {
	d := rec.Direction()
	if source == nil || d == models.NoPair || d == models.Equal {
		return d
	}
	if *source == models.LHS {
		return models.NeedsPushToRHS
	}
	return models.NeedsPushToLHS
}

// BuildPlan decides the direction for every record in c and the writes it needs.
func BuildPlan(c *Catalog, user *models.UserRecord, source *models.Side) (*Plan, error) {
	if user == nil {
		return nil, shared.ErrUserNotFound
	}

	plan := &Plan{User: user.Name, Counts: map[models.Direction]int{}}
	for _, id := range c.IDs() {
		rec := c.Record(id)
		entry := PlanEntry{ID: id, Record: rec, Direction: DirectionFor(rec, source)}

		if target, ok := entry.Direction.Target(); ok {
			writes, err := planWrites(rec, user, target.Other(), target)
			if err != nil {
				return nil, err
			}
			entry.Writes = writes
		}

		plan.Counts[entry.Direction]++
		plan.Entries = append(plan.Entries, entry)
	}
	return plan, nil
}

// planWrites copies the source side's state onto the target side.
//
// The user data write is always issued; the favorite flag needs its own request
// when it differs.
func planWrites(rec *models.MediaRecord, user *models.UserRecord, from, to models.Side) ([]PlannedWrite, error) {
	src, dst := rec.State[from], rec.State[to]
	if !src.Valid() || !dst.Valid() {
		return nil, fmt.Errorf("%w: %s", shared.ErrNoCounterpart, rec.Name)
	}

	uid := user.UserID(to)
	if uid == "" {
		return nil, fmt.Errorf("%w: %s on %s", shared.ErrUserNotSynced, user.Name, to)
	}

	state := src.UserState
	body, err := state.UserDataJSON()
	if err != nil {
		return nil, err
	}

	writes := []PlannedWrite{{
		MediaName: rec.Name,
		Side:      to,
		Kind:      KindUpdateData,
		Method:    http.MethodPost,
		Path:      services.UserDataPath(uid, dst.MediaID),
		UserID:    uid,
		MediaID:   dst.MediaID,
		Body:      body,
		Status:    models.WritePlanned,
	}}

	if dst.IsFavorite != state.IsFavorite {
		writes = append(writes, PlannedWrite{
			MediaName: rec.Name,
			Side:      to,
			Kind:      KindUpdateFavorite,
			Method:    services.FavoriteMethod(state.IsFavorite),
			Path:      services.FavoritePath(uid, dst.MediaID),
			UserID:    uid,
			MediaID:   dst.MediaID,
			Favorite:  state.IsFavorite,
			Status:    models.WritePlanned,
		})
	}
	return writes, nil
}

// Plan builds the plan for the loaded user without writing anything.
func (e *Engine) Plan(source *models.Side) (*Plan, error) {
	return BuildPlan(e.catalog, e.current, source)
}

// Reconcile plans and, unless opts.DryRun is set, applies writes for the loaded user.
func (e *Engine) Reconcile(ctx context.Context, opts ReconcileOpts) (*ReconcileReport, error) {
	if e.current == nil {
		return nil, shared.ErrUserNotFound
	}

	plan, err := e.Plan(opts.Source)
	if err != nil {
		return nil, err
	}

	ctx, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	report := &ReconcileReport{
		Plan:       plan,
		DryRun:     opts.DryRun,
		Unresolved: e.unresolved,
		StartedAt:  time.Now(),
	}

	if !opts.DryRun {
		e.startPhase(Reconciling)
		e.opts.Progress.SetMaximum(plan.WriteCount())

		for _, w := range report.Writes() {
			if e.wasCancelled() {
				break
			}
			e.dispatchWrite(ctx, w)
		}
		e.pump(ctx)
	}

	report.Cancelled = e.wasCancelled()
	report.FinishedAt = time.Now()
	report.tally()

	e.logger.Info("Reconcile finished",
		"user", plan.User,
		"dry_run", opts.DryRun,
		"equal", plan.Counts[models.Equal],
		"no_pair", plan.Counts[models.NoPair],
		"push_lhs", plan.Counts[models.NeedsPushToLHS],
		"push_rhs", plan.Counts[models.NeedsPushToRHS],
		"succeeded", report.Succeeded,
		"failed", report.Failed)

	if cb := e.opts.Callbacks.ReconcileFinished; cb != nil {
		cb(report)
	}
	if report.Cancelled {
		return report, shared.ErrCancelled
	}
	return report, nil
}
