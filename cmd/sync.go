package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/repositories"
	"github.com/desertthunder/embysync/internal/shared"
	"github.com/desertthunder/embysync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// describer is implemented by servers that can render a request for display.
type describer interface {
	Describe(method, path string, body []byte) shared.CurlRequest
}

// loadUser resolves name on eng and loads everything the user has played.
func (r *Runner) loadUser(ctx context.Context, eng *tasks.Engine, name string) (*models.UserRecord, error) {
	if _, err := eng.LoadUsers(ctx); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	user, err := eng.SelectUser(name)
	if err != nil {
		return nil, err
	}
	if !user.CanBeSynced() {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotSynced, user.Name)
	}
	if !r.allowed(user) {
		return nil, fmt.Errorf("%w: %s is excluded by sync.users", shared.ErrInvalidArgument, user.Name)
	}

	if _, err := eng.LoadUserMedia(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to load media for %s: %w", user.Name, err)
	}
	return user, nil
}

// Diff shows what a sync for one user would change without writing anything.
func (r *Runner) Diff(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	source, err := parseSource(cmd)
	if err != nil {
		return err
	}

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := r.printProgress(progressCh)

	eng, err := r.newEngine(tasks.NewChannelSink(progressCh))
	if err != nil {
		close(progressCh)
		return err
	}

	var report *tasks.ReconcileReport
	if _, err = r.loadUser(ctx, eng, cmd.String("user")); err == nil {
		report, err = eng.Reconcile(ctx, tasks.ReconcileOpts{Source: source, DryRun: true})
	}
	close(progressCh)
	<-done

	if err != nil {
		return err
	}

	if cmd.Bool("curl") {
		return r.writeCurl(eng, report, !cmd.Bool("show-key"))
	}

	format := cmd.String("format")
	if path := cmd.String("output"); path != "" || cmd.Bool("export") {
		written, err := r.formatter.WriteExport(report, format, path)
		if err != nil {
			return err
		}
		r.logger.Info("exported plan", "path", written)
		return r.writePlain("✓ Plan written to %s\n", written)
	}

	out, err := r.formatter.RenderPlan(report, format)
	if err != nil {
		return err
	}
	return r.writeBytes(out)
}

// writeCurl prints every planned write as a curl command.
func (r *Runner) writeCurl(eng *tasks.Engine, report *tasks.ReconcileReport, redact bool) error {
	writes := report.Writes()
	if len(writes) == 0 {
		return r.writePlain("# Nothing to sync.\n")
	}

	for _, w := range writes {
		d, ok := eng.Server(w.Side).(describer)
		if !ok {
			return fmt.Errorf("%w: %s server cannot describe requests", shared.ErrNotImplemented, w.Side)
		}
		req := d.Describe(w.Method, w.Path, w.Body)
		r.writePlain("# %s: %s on %s\n%s\n", w.MediaName, w.Kind, w.Side, shared.FormatCurl(req, redact))
	}
	return nil
}

// syncOptions are the flags shared by sync and watch.
type syncOptions struct {
	dryRun  bool
	source  *models.Side
	workers int
}

func syncOptionsFrom(cmd *cli.Command) (syncOptions, error) {
	source, err := parseSource(cmd)
	if err != nil {
		return syncOptions{}, err
	}
	return syncOptions{dryRun: cmd.Bool("dry-run"), source: source, workers: int(cmd.Int("workers"))}, nil
}

// Sync reconciles one user, or with --all every allowed user, and records the run.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	opts, err := syncOptionsFrom(cmd)
	if err != nil {
		return err
	}

	name := cmd.String("user")
	if name == "" && !cmd.Bool("all") {
		return fmt.Errorf("%w: --user or --all", shared.ErrMissingArgument)
	}

	var history *repositories.HistoryRecorder
	if !cmd.Bool("no-history") {
		rec, closeDB, err := r.openHistory()
		if err != nil {
			return err
		}
		defer closeDB()
		history = rec
	}

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := r.printProgress(progressCh)

	if name == "" {
		result, err := r.syncAll(ctx, progressCh, opts, history)
		close(progressCh)
		<-done

		if result != nil {
			r.writePlainln("Users: %d synced, %d failed (of %d)", result.Succeeded, result.Failed, result.TotalUsers)
		}
		return err
	}

	report, err := r.syncOne(ctx, tasks.NewChannelSink(progressCh), name, opts)
	close(progressCh)
	<-done

	if report != nil {
		if text, ferr := r.formatter.ReportToText(report); ferr == nil {
			r.writePlainln("%s", text)
		}
	}
	if history != nil {
		if report != nil {
			name = report.Plan.User
		}
		if run := r.record(history, name, report, err); run != nil {
			r.writePlain("Recorded as run #%d\n", run.Sequence())
		}
	}
	return err
}

func (r *Runner) syncOne(ctx context.Context, progress tasks.ProgressSink, name string, opts syncOptions) (*tasks.ReconcileReport, error) {
	eng, err := r.newEngine(progress)
	if err != nil {
		return nil, err
	}

	user, err := r.loadUser(ctx, eng, name)
	if err != nil {
		return nil, err
	}

	logger := shared.WithLogger(r.logger, "user", user.Name)
	logger.Info("reconciling", "dry_run", opts.dryRun, "records", eng.Catalog().Len())

	report, err := eng.Reconcile(ctx, tasks.ReconcileOpts{Source: opts.source, DryRun: opts.dryRun})
	if err == nil && report.Failed > 0 {
		err = fmt.Errorf("%w: %d writes failed for %s", shared.ErrServerResponse, report.Failed, user.Name)
	}
	return report, err
}

// syncAll reconciles every syncable user allowed by sync.users. history may be nil.
func (r *Runner) syncAll(
	ctx context.Context,
	prog chan<- tasks.ProgressUpdate,
	opts syncOptions,
	history *repositories.HistoryRecorder,
) (*tasks.BatchResult, error) {
	eng, err := r.newEngine(nil)
	if err != nil {
		return nil, err
	}

	users, err := eng.LoadUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	var selected []*models.UserRecord
	for _, u := range users.Syncable() {
		if r.allowed(u) {
			selected = append(selected, u)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no user on both servers matches sync.users", shared.ErrUserNotFound)
	}

	r.logger.Info("syncing users", "count", len(selected), "dry_run", opts.dryRun)

	lhs, rhs, _ := r.mediaServers()
	result, err := tasks.BatchSync(ctx, prog, lhs, rhs, selected, tasks.BatchOpts{
		NumWorkers: opts.workers,
		DryRun:     opts.dryRun,
		Source:     opts.source,
		Engine:     r.engineOpts(),
		OnUserFinished: func(res tasks.UserSyncResult) {
			if history != nil {
				r.record(history, res.User.Name, res.Report, res.Error)
			}
		},
	})
	if err != nil {
		return result, err
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("%w: %d of %d users failed", shared.ErrServerResponse, result.Failed, result.TotalUsers)
	}
	return result, nil
}

// record stores a finished reconcile. Failures are logged and yield nil.
func (r *Runner) record(history *repositories.HistoryRecorder, name string, report *tasks.ReconcileReport, runErr error) *models.SyncRun {
	run, err := history.Record(name, report, runErr)
	if err != nil {
		r.logger.Warn("failed to record sync run", "user", name, "error", err)
		return nil
	}

	if errors.Is(runErr, shared.ErrCancelled) {
		r.logger.Warn("sync cancelled", "user", name, "run", run.Sequence())
	}
	r.logger.Debug("recorded sync run", "user", name, "run", run.Sequence(), "status", run.Status())
	return run
}
