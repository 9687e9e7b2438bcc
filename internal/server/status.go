package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/repositories"
)

// RunSource reads recorded sync runs. [repositories.RunRepository] satisfies it.
type RunSource interface {
	List(criteria map[string]any) ([]*models.SyncRun, error)
	Latest(userName string) (*models.SyncRun, error)
}

// WatchSource reports the scheduler's state.
type WatchSource interface {
	Next() time.Time
	Status() (runs int, lastAt time.Time, lastErr error)
}

// RunJSON is the wire form of a [models.SyncRun].
type RunJSON struct {
	ID          string     `json:"id"`
	Sequence    int        `json:"sequence"`
	User        string     `json:"user"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase,omitempty"`
	DryRun      bool       `json:"dry_run"`
	Records     int        `json:"records"`
	Equal       int        `json:"equal"`
	NoPair      int        `json:"no_pair"`
	PushedLHS   int        `json:"pushed_lhs"`
	PushedRHS   int        `json:"pushed_rhs"`
	Unresolved  int        `json:"unresolved"`
	Errors      int        `json:"errors"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRunJSON converts run for output.
func NewRunJSON(run *models.SyncRun) RunJSON {
	return RunJSON{
		ID:          run.ID(),
		Sequence:    run.Sequence(),
		User:        run.UserName(),
		Status:      run.Status(),
		Phase:       run.Phase(),
		DryRun:      run.DryRun(),
		Records:     run.MediaTotal(),
		Equal:       run.EqualCount(),
		NoPair:      run.NoPairCount(),
		PushedLHS:   run.PushedLHS(),
		PushedRHS:   run.PushedRHS(),
		Unresolved:  run.UnresolvedCount(),
		Errors:      run.ErrorCount(),
		Error:       run.ErrorMessage(),
		StartedAt:   run.StartedAt(),
		CompletedAt: run.CompletedAt(),
	}
}

type statusJSON struct {
	Status    string     `json:"status"`
	Passes    int        `json:"passes"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// StatusHandler serves health, scheduler state and run history as JSON.
type StatusHandler struct {
	runs   RunSource
	watch  WatchSource
	logger *log.Logger
}

// NewStatusHandler creates a handler; watch may be nil when no scheduler runs.
func NewStatusHandler(runs RunSource, watch WatchSource, logger *log.Logger) *StatusHandler {
	return &StatusHandler{runs: runs, watch: watch, logger: logger}
}

// Routes implements [Handler].
func (h *StatusHandler) Routes() []string {
	return []string{"/healthz", "/status", "/runs", "/runs/latest"}
}

// ServeHTTP implements [http.Handler].
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case "/status":
		h.status(w)
	case "/runs":
		h.list(w, r)
	case "/runs/latest":
		h.latest(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *StatusHandler) status(w http.ResponseWriter) {
	out := statusJSON{Status: "idle"}
	if h.watch != nil {
		out.Status = "watching"
		passes, lastAt, lastErr := h.watch.Status()
		out.Passes = passes
		if !lastAt.IsZero() {
			out.LastRunAt = &lastAt
		}
		if lastErr != nil {
			out.LastError = lastErr.Error()
		}
		if next := h.watch.Next(); !next.IsZero() {
			out.NextRunAt = &next
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *StatusHandler) list(w http.ResponseWriter, r *http.Request) {
	criteria := map[string]any{"limit": 50}
	query := r.URL.Query()
	if user := query.Get("user"); user != "" {
		criteria["user_name"] = user
	}
	if status := query.Get("status"); status != "" {
		criteria["status"] = status
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		criteria["limit"] = limit
	}

	runs, err := h.runs.List(criteria)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	out := make([]RunJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, NewRunJSON(run))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *StatusHandler) latest(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Latest(r.URL.Query().Get("user"))
	switch {
	case errors.Is(err, repositories.ErrRunNotFound):
		h.writeError(w, http.StatusNotFound, "no runs recorded")
		return
	case err != nil:
		h.logger.Error("failed to load latest run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	h.writeJSON(w, http.StatusOK, NewRunJSON(run))
}

func (h *StatusHandler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}
