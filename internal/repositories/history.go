package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/shared"
	"github.com/desertthunder/embysync/internal/tasks"
)

// HistoryRecorder persists reconcile reports as sync runs and their writes.
type HistoryRecorder struct {
	runs   *RunRepository
	writes *WriteRepository
	lhsURL string
	rhsURL string
}

// NewHistoryRecorder creates a recorder tagging runs with both server URLs
func NewHistoryRecorder(db *sql.DB, lhsURL, rhsURL string) *HistoryRecorder {
	return &HistoryRecorder{
		runs:   NewRunRepository(db),
		writes: NewWriteRepository(db),
		lhsURL: lhsURL,
		rhsURL: rhsURL,
	}
}

// Runs exposes the underlying run repository.
func (h *HistoryRecorder) Runs() *RunRepository { return h.runs }

// Writes exposes the underlying write repository.
func (h *HistoryRecorder) Writes() *WriteRepository { return h.writes }

// Begin stores a running sync run for userName.
func (h *HistoryRecorder) Begin(userName string, dryRun bool) (*models.SyncRun, error) {
	run := models.NewSyncRun(0, userName, h.lhsURL, h.rhsURL)
	run.SetDryRun(dryRun)
	run.Start()

	if err := h.runs.Create(run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// Finish stores the outcome of run from report and the error the reconcile returned.
// A nil report marks the run failed before any plan was made.
func (h *HistoryRecorder) Finish(run *models.SyncRun, report *tasks.ReconcileReport, runErr error) error {
	status := models.RunCompleted
	switch {
	case errors.Is(runErr, shared.ErrCancelled) || (report != nil && report.Cancelled):
		status = models.RunCancelled
	case runErr != nil:
		status = models.RunFailed
	}

	if report != nil && report.Plan != nil {
		plan := report.Plan
		run.SetMediaTotal(len(plan.Entries))
		run.SetCounts(
			plan.Counts[models.Equal],
			plan.Counts[models.NoPair],
			plan.Counts[models.NeedsPushToLHS],
			plan.Counts[models.NeedsPushToRHS],
		)
		run.SetUnresolvedCount(report.Unresolved)
		run.SetErrorCount(report.Failed)
		if report.DryRun {
			run.SetPhase(tasks.Merging.String())
		} else {
			run.SetPhase(tasks.Reconciling.String())
		}
		if runErr == nil && report.Failed > 0 {
			runErr = fmt.Errorf("%d of %d writes failed", report.Failed, report.Failed+report.Succeeded)
		}
	}
	run.Finish(status, runErr)

	if err := h.runs.Update(run); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if report == nil || report.Plan == nil {
		return nil
	}

	for _, w := range report.Writes() {
		rec := models.NewWriteRecord(0, run.ID(), w.MediaName, w.Side.String(), w.Kind.String(), w.MediaID, writePayload(w))
		rec.SetStatus(w.Status)
		if w.Err != nil {
			rec.SetErrorMessage(w.Err.Error())
		}
		if err := h.writes.Create(rec); err != nil {
			return fmt.Errorf("failed to record write: %w", err)
		}
	}
	return nil
}

// Record stores a finished reconcile in one call.
func (h *HistoryRecorder) Record(userName string, report *tasks.ReconcileReport, runErr error) (*models.SyncRun, error) {
	dryRun := report != nil && report.DryRun
	run, err := h.Begin(userName, dryRun)
	if err != nil {
		return nil, err
	}
	if report != nil && !report.StartedAt.IsZero() {
		started := report.StartedAt
		run.SetStartedAt(&started)
	}
	if err := h.Finish(run, report, runErr); err != nil {
		return run, err
	}
	return run, nil
}

func writePayload(w *tasks.PlannedWrite) string {
	if w.Kind == tasks.KindUpdateFavorite {
		return w.Method + " " + w.Path + " favorite=" + strconv.FormatBool(w.Favorite)
	}
	return string(w.Body)
}
