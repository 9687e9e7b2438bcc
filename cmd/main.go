package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/embysync/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{
		ConfigPath: DefaultConfigPath,
		Logger:     logger,
	})

	app := &cli.Command{
		Name:     "embysync",
		Usage:    "Sync watch state between two Emby servers",
		Version:  "0.1.0",
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		switch {
		case errors.Is(err, shared.ErrNotImplemented):
			logger.Warn("not implemented")
			os.Exit(0)
		case errors.Is(err, shared.ErrCancelled), errors.Is(err, context.Canceled):
			logger.Warn("cancelled")
			os.Exit(130)
		default:
			stop()
			logger.Fatalf("application error: %v", err)
		}
	}
}
