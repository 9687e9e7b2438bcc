package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/embysync/internal/shared"
	"github.com/desertthunder/embysync/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive terminal UI for reviewing and applying syncs.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	source, err := parseSource(cmd)
	if err != nil {
		return err
	}

	lhs, rhs, err := r.mediaServers()
	if err != nil {
		return err
	}

	// stderr output would corrupt the alt screen
	logger, logFile, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger.SetLevel(r.logger.GetLevel())
	r.SetLogger(logger)

	var recorder ui.Recorder
	if !cmd.Bool("no-history") {
		history, closeDB, err := r.openHistory()
		if err != nil {
			return err
		}
		defer closeDB()
		recorder = history
	}

	model := ui.NewModel(ctx, lhs, rhs, ui.Options{
		Engine:    r.engineOpts(),
		Allow:     r.config.Sync.UserAllowed,
		Formatter: r.formatter,
		Recorder:  recorder,
		DryRun:    cmd.Bool("dry-run"),
		Source:    source,
	})
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
