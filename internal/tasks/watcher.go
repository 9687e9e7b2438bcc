package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/desertthunder/embysync/internal/shared"
)

// Job is one scheduled sync pass.
type Job func(ctx context.Context) error

// Watcher runs a [Job] on a cron schedule. A pass that is still running when the
// next one is due is skipped.
type Watcher struct {
	cron     *cron.Cron
	schedule cron.Schedule
	entry    cron.EntryID
	logger   *log.Logger

	mu      sync.Mutex
	runs    int
	lastAt  time.Time
	lastErr error
}

// cronLogger adapts a charm logger to [cron.Logger].
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

// ParseSchedule accepts five or six field cron expressions and descriptors such as
// "@every 1h" or "@daily".
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", shared.ErrInvalidConfig, spec, err)
	}
	return schedule, nil
}

// NewWatcher creates a watcher that runs job on spec. ctx is passed to every pass.
func NewWatcher(ctx context.Context, spec string, logger *log.Logger, job Job) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}

	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	cl := cronLogger{l: logger}
	w := &Watcher{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		schedule: schedule,
		logger:   logger,
	}

	w.entry = w.cron.Schedule(schedule, cron.FuncJob(func() {
		w.runOnce(ctx, job)
	}))
	return w, nil
}

func (w *Watcher) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	w.logger.Info("Starting scheduled sync")

	err := job(ctx)

	w.mu.Lock()
	w.runs++
	w.lastAt = start
	w.lastErr = err
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Scheduled sync failed", "error", err, "elapsed", time.Since(start))
		return
	}
	w.logger.Info("Scheduled sync finished", "elapsed", time.Since(start), "next", w.Next())
}

// Run starts the schedule and blocks until ctx is done, then waits for a running pass.
func (w *Watcher) Run(ctx context.Context) {
	w.cron.Start()
	w.logger.Info("Watching", "next", w.Next())

	<-ctx.Done()
	<-w.cron.Stop().Done()
	w.logger.Info("Watcher stopped")
}

// Next returns the next scheduled start.
func (w *Watcher) Next() time.Time {
	if entry := w.cron.Entry(w.entry); entry.Valid() && !entry.Next.IsZero() {
		return entry.Next
	}
	return w.schedule.Next(time.Now())
}

// Status returns the number of finished passes and the most recent outcome.
func (w *Watcher) Status() (runs int, lastAt time.Time, lastErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs, w.lastAt, w.lastErr
}
