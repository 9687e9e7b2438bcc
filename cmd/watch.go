package main

import (
	"context"

	"github.com/desertthunder/embysync/internal/server"
	"github.com/desertthunder/embysync/internal/shared"
	"github.com/desertthunder/embysync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Watch syncs every allowed user on the configured schedule until interrupted.
//
// Unless --no-server is given, run history and scheduler state are served over HTTP
// at server.host:server.port.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	opts, err := syncOptionsFrom(cmd)
	if err != nil {
		return err
	}

	schedule := r.config.Watch.Schedule
	if cmd.IsSet("schedule") {
		schedule = cmd.String("schedule")
	}

	// fail before scheduling anything when the servers are misconfigured
	if _, _, err := r.mediaServers(); err != nil {
		return err
	}

	history, closeDB, err := r.openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := shared.WithLogger(r.logger, "component", "watch")
	job := func(ctx context.Context) error {
		_, err := r.syncAll(ctx, nil, opts, history)
		return err
	}

	watcher, err := tasks.NewWatcher(ctx, schedule, logger, job)
	if err != nil {
		return err
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watcher.Run(ctx)
	}()

	if cmd.Bool("no-server") {
		<-watchDone
		return nil
	}

	router := server.NewBasicRouter()
	router.Use(server.Recoverer(logger), server.RequestLogger(logger))
	router.Handler(server.NewStatusHandler(history.Runs(), watcher, logger))

	addr := r.config.Server.Addr()
	if cmd.IsSet("addr") {
		addr = cmd.String("addr")
	}

	err = server.Serve(ctx, addr, router, logger)
	cancel()
	<-watchDone
	return err
}
