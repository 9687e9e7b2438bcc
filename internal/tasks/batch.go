package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
)

// BatchOpts contains configuration for syncing many users.
type BatchOpts struct {
	NumWorkers int          // Concurrent users (default: 2, max: 8)
	RateLimit  float64      // User starts per second (default: 1)
	DryRun     bool         // Plan only
	Source     *models.Side // Forced authoritative side
	Engine     EngineOpts   // Options for each per-user engine; Progress is ignored

	// OnUserFinished is called from the collecting goroutine after each user, in completion order.
	OnUserFinished func(res UserSyncResult)
}

// UserSyncResult is the outcome for one user in a batch.
type UserSyncResult struct {
	User    *models.UserRecord
	Report  *ReconcileReport
	Success bool
	Error   error
}

// BatchResult summarizes a batch sync.
type BatchResult struct {
	TotalUsers int
	Succeeded  int
	Failed     int
	Cancelled  bool
	Results    []UserSyncResult
}

// BatchSync syncs every user concurrently, one [Engine] per user.
//
// Users are started at most opts.RateLimit per second; a failure for one user does not
// stop the others.
func BatchSync(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	lhs, rhs services.MediaServer,
	users []*models.UserRecord,
	opts BatchOpts,
) (*BatchResult, error) {
	if lhs == nil || rhs == nil {
		return nil, fmt.Errorf("%w: both servers are required", shared.ErrServiceUnavailable)
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 2
	}
	if opts.NumWorkers > 8 {
		opts.NumWorkers = 8
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 1.0
	}
	opts.Engine.Progress = nil

	result := &BatchResult{
		TotalUsers: len(users),
		Results:    make([]UserSyncResult, 0, len(users)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan *models.UserRecord, len(users))
	results := make(chan UserSyncResult, len(users))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go syncWorker(ctx, &wg, lhs, rhs, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for _, user := range users {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			jobs <- user
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
		sendProgress(prog, userFinishedUpdate(completed, len(users), res))

		if opts.OnUserFinished != nil {
			opts.OnUserFinished(res)
		}
	}

	result.Cancelled = ctx.Err() != nil
	if result.Cancelled {
		return result, shared.ErrCancelled
	}
	return result, nil
}

func syncWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	lhs, rhs services.MediaServer,
	jobs <-chan *models.UserRecord,
	results chan<- UserSyncResult,
	opts BatchOpts,
) {
	defer wg.Done()

	for user := range jobs {
		if ctx.Err() != nil {
			return
		}
		results <- syncUser(ctx, NewEngine(lhs, rhs, opts.Engine), user, opts)
	}
}

// syncUser loads and reconciles one user on a dedicated engine.
func syncUser(ctx context.Context, eng *Engine, user *models.UserRecord, opts BatchOpts) UserSyncResult {
	res := UserSyncResult{User: user}

	if !user.CanBeSynced() {
		res.Error = fmt.Errorf("%w: %s", shared.ErrUserNotSynced, user.Name)
		return res
	}

	if _, err := eng.LoadUserMedia(ctx, user); err != nil {
		res.Error = fmt.Errorf("failed to load media for %s: %w", user.Name, err)
		return res
	}

	report, err := eng.Reconcile(ctx, ReconcileOpts{Source: opts.Source, DryRun: opts.DryRun})
	res.Report = report
	if err != nil {
		res.Error = err
		return res
	}
	if report.Failed > 0 {
		res.Error = fmt.Errorf("%w: %d writes failed for %s", shared.ErrServerResponse, report.Failed, user.Name)
		return res
	}

	res.Success = true
	return res
}

func userFinishedUpdate(step, total int, res UserSyncResult) ProgressUpdate {
	msg := fmt.Sprintf("Synced '%s'", res.User.Name)
	if !res.Success {
		msg = fmt.Sprintf("Failed to sync '%s': %v", res.User.Name, res.Error)
		if errors.Is(res.Error, shared.ErrCancelled) {
			msg = fmt.Sprintf("Cancelled sync of '%s'", res.User.Name)
		}
	}
	return ProgressUpdate{
		Phase:   Reconciling,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    res,
	}
}

// sendProgress sends update without blocking; it is dropped when the channel is full.
func sendProgress(ch chan<- ProgressUpdate, update ProgressUpdate) {
	if ch == nil {
		return
	}
	select {
	case ch <- update:
	default:
	}
}
