package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/repositories"
	"github.com/desertthunder/embysync/internal/server"
	"github.com/urfave/cli/v3"
)

type writeRow struct {
	Sequence  int    `json:"sequence"`
	MediaName string `json:"media_name"`
	Side      string `json:"side"`
	Kind      string `json:"kind"`
	MediaID   string `json:"media_id"`
	Payload   string `json:"payload"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// History lists recorded sync runs, or with --run the writes one run issued.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	history, closeDB, err := r.openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	if id := cmd.String("run"); id != "" {
		return r.historyWrites(history, id, cmd.Bool("json"), cmd.Bool("pretty"))
	}

	runs, err := history.Runs().List(map[string]any{
		"user_name": cmd.String("user"),
		"status":    cmd.String("status"),
		"limit":     int(cmd.Int("limit")),
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		out := make([]server.RunJSON, 0, len(runs))
		for _, run := range runs {
			out = append(out, server.NewRunJSON(run))
		}
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	return r.writeBytes(r.formatter.RunsToText(runs))
}

// findRun accepts a run ID or its sequence number, optionally prefixed with '#'.
func findRun(runs *repositories.RunRepository, ref string) (*models.SyncRun, error) {
	seq, err := strconv.Atoi(strings.TrimPrefix(ref, "#"))
	if err != nil {
		return runs.Get(ref)
	}

	all, err := runs.List(nil)
	if err != nil {
		return nil, err
	}
	for _, run := range all {
		if run.Sequence() == seq {
			return run, nil
		}
	}
	return nil, repositories.ErrRunNotFound
}

func (r *Runner) historyWrites(history *repositories.HistoryRecorder, ref string, asJSON, pretty bool) error {
	run, err := findRun(history.Runs(), ref)
	if errors.Is(err, repositories.ErrRunNotFound) {
		return fmt.Errorf("%w: %s", err, ref)
	}
	if err != nil {
		return err
	}

	writes, err := history.Writes().ListByRun(run.ID())
	if err != nil {
		return err
	}

	if asJSON {
		out := make([]writeRow, 0, len(writes))
		for _, w := range writes {
			out = append(out, writeRow{
				Sequence:  w.Sequence(),
				MediaName: w.MediaName(),
				Side:      w.Side(),
				Kind:      w.Kind(),
				MediaID:   w.MediaID(),
				Payload:   w.Payload(),
				Status:    w.Status(),
				Error:     w.ErrorMessage(),
			})
		}
		return r.writeJSON(out, pretty)
	}

	r.writePlain("Run #%d for %s (%s)\n", run.Sequence(), run.UserName(), run.Status())
	if len(writes) == 0 {
		return r.writePlain("No writes recorded.\n")
	}
	return r.writeBytes(r.formatter.WritesToText(writes))
}
