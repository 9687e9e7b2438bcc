// package formatter renders sync plans, reports and run history as CSV, Markdown, plain text or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/tasks"
)

// DurationFunc renders a playback position or elapsed time for display.
type DurationFunc func(time.Duration) string

// FormatPosition renders d as "d:hh:mm:ss.zzz", dropping leading zero day and hour fields.
func FormatPosition(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	days := ms / (24 * 3600 * 1000)
	ms -= days * 24 * 3600 * 1000
	hours := ms / (3600 * 1000)
	ms -= hours * 3600 * 1000
	mins := ms / (60 * 1000)
	ms -= mins * 60 * 1000
	secs := ms / 1000
	ms -= secs * 1000

	switch {
	case days > 0:
		return fmt.Sprintf("%d:%02d:%02d:%02d.%03d", days, hours, mins, secs, ms)
	case hours > 0:
		return fmt.Sprintf("%d:%02d:%02d.%03d", hours, mins, secs, ms)
	default:
		return fmt.Sprintf("%d:%02d.%03d", mins, secs, ms)
	}
}

// FormatElapsed renders d rounded to the millisecond, as time.Duration does.
func FormatElapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// Formatter renders engine output with an injected duration strategy.
type Formatter struct {
	Duration DurationFunc
}

// New returns a Formatter; a nil fn selects [FormatPosition].
func New(fn DurationFunc) *Formatter {
	if fn == nil {
		fn = FormatPosition
	}
	return &Formatter{Duration: fn}
}

func (f *Formatter) position(s *models.ServerState) string {
	if !s.Valid() {
		return ""
	}
	return f.Duration(time.Duration(s.PlaybackPositionMSecs()) * time.Millisecond)
}

func lastPlayed(s *models.ServerState) string {
	if !s.Valid() || s.LastPlayed.IsZero() {
		return ""
	}
	return s.LastPlayed.UTC().Format(time.RFC3339)
}

func played(s *models.ServerState) string {
	if !s.Valid() {
		return ""
	}
	return strconv.FormatBool(s.Played)
}

func mediaID(s *models.ServerState) string {
	if !s.Valid() {
		return ""
	}
	return s.MediaID
}

// PlanToCSV renders every plan entry with both sides' state.
func (f *Formatter) PlanToCSV(plan *tasks.Plan) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{
		"Name", "Type", "Direction", "Providers",
		"LHS ID", "LHS Played", "LHS Favorite", "LHS Position", "LHS Last Played",
		"RHS ID", "RHS Played", "RHS Favorite", "RHS Position", "RHS Last Played",
		"Writes",
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, entry := range plan.Entries {
		rec := entry.Record
		row := []string{rec.Name, rec.Type, entry.Direction.String(), rec.ProviderList()}
		for _, side := range models.Sides {
			s := rec.State[side]
			favorite := ""
			if s.Valid() {
				favorite = strconv.FormatBool(s.IsFavorite)
			}
			row = append(row, mediaID(s), played(s), favorite, f.position(s), lastPlayed(s))
		}
		row = append(row, strconv.Itoa(len(entry.Writes)))

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func directionLabel(d models.Direction) string {
	switch d {
	case models.NeedsPushToLHS:
		return "RHS -> LHS"
	case models.NeedsPushToRHS:
		return "LHS -> RHS"
	case models.Equal:
		return "in sync"
	default:
		return "unpaired"
	}
}

func writeCounts(buf *bytes.Buffer, counts map[models.Direction]int, bullet string) {
	for _, d := range []models.Direction{models.Equal, models.NeedsPushToRHS, models.NeedsPushToLHS, models.NoPair} {
		buf.WriteString(fmt.Sprintf("%s%s: %d\n", bullet, directionLabel(d), counts[d]))
	}
}

// PlanToMarkdown renders the plan summary and a table of the records that need writes.
func (f *Formatter) PlanToMarkdown(plan *tasks.Plan) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# Sync plan: %s\n\n", plan.User))
	buf.WriteString(fmt.Sprintf("**Records**: %d\n", len(plan.Entries)))
	buf.WriteString(fmt.Sprintf("**Writes**: %d\n\n", plan.WriteCount()))
	writeCounts(&buf, plan.Counts, "- ")

	changes := plan.Changes()
	if len(changes) == 0 {
		buf.WriteString("\nNothing to sync.\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("\n## Changes\n\n")
	buf.WriteString("| # | Name | Direction | Played | Position | Last Played |\n")
	buf.WriteString("|---|------|-----------|--------|----------|-------------|\n")
	for i, entry := range changes {
		target, _ := entry.Direction.Target()
		src := entry.Record.State[target.Other()]
		buf.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s |\n",
			i+1,
			strings.ReplaceAll(entry.Record.Name, "|", "\\|"),
			directionLabel(entry.Direction),
			played(src),
			f.position(src),
			lastPlayed(src),
		))
	}

	return buf.Bytes(), nil
}

// PlanToText renders the plan as a plain text list of changes.
func (f *Formatter) PlanToText(plan *tasks.Plan) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("User: %s\n", plan.User))
	buf.WriteString(fmt.Sprintf("Records: %d\n", len(plan.Entries)))
	writeCounts(&buf, plan.Counts, "  ")
	buf.WriteString("\n")

	for i, entry := range plan.Changes() {
		target, _ := entry.Direction.Target()
		src := entry.Record.State[target.Other()]
		buf.WriteString(fmt.Sprintf("%d. [%s] %s (played=%s, position=%s)\n",
			i+1, directionLabel(entry.Direction), entry.Record.Name, played(src), f.position(src)))
	}

	return buf.Bytes(), nil
}

type writeJSON struct {
	Media   string `json:"media"`
	Side    string `json:"side"`
	Kind    string `json:"kind"`
	Method  string `json:"method"`
	Path    string `json:"path"`
	Body    string `json:"body,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	MediaID string `json:"media_id"`
}

type reportJSON struct {
	User       string         `json:"user"`
	DryRun     bool           `json:"dry_run"`
	Cancelled  bool           `json:"cancelled"`
	Records    int            `json:"records"`
	Counts     map[string]int `json:"counts"`
	Unresolved int            `json:"unresolved"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Elapsed    string         `json:"elapsed"`
	Writes     []writeJSON    `json:"writes"`
}

// ReportToJSON renders a reconcile report with every planned write.
func (f *Formatter) ReportToJSON(report *tasks.ReconcileReport) ([]byte, error) {
	out := reportJSON{
		User:       report.Plan.User,
		DryRun:     report.DryRun,
		Cancelled:  report.Cancelled,
		Records:    len(report.Plan.Entries),
		Counts:     map[string]int{},
		Unresolved: report.Unresolved,
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Elapsed:    FormatElapsed(report.FinishedAt.Sub(report.StartedAt)),
		Writes:     []writeJSON{},
	}
	for d, n := range report.Plan.Counts {
		out.Counts[d.String()] = n
	}

	for _, w := range report.Writes() {
		item := writeJSON{
			Media:   w.MediaName,
			Side:    w.Side.String(),
			Kind:    w.Kind.String(),
			Method:  w.Method,
			Path:    w.Path,
			Body:    string(w.Body),
			Status:  w.Status,
			MediaID: w.MediaID,
		}
		if w.Err != nil {
			item.Error = w.Err.Error()
		}
		out.Writes = append(out.Writes, item)
	}

	return json.MarshalIndent(out, "", "  ")
}

// ReportToText renders a short reconcile summary followed by any failures.
func (f *Formatter) ReportToText(report *tasks.ReconcileReport) ([]byte, error) {
	var buf bytes.Buffer

	mode := "Synced"
	if report.DryRun {
		mode = "Planned (dry run)"
	}
	if report.Cancelled {
		mode = "Cancelled"
	}

	buf.WriteString(fmt.Sprintf("%s: %s\n", mode, report.Plan.User))
	buf.WriteString(fmt.Sprintf("Records: %d\n", len(report.Plan.Entries)))
	writeCounts(&buf, report.Plan.Counts, "  ")
	buf.WriteString(fmt.Sprintf("Unresolved: %d\n", report.Unresolved))

	if !report.DryRun {
		buf.WriteString(fmt.Sprintf("Writes: %d succeeded, %d failed\n", report.Succeeded, report.Failed))
	} else {
		buf.WriteString(fmt.Sprintf("Writes planned: %d\n", report.Plan.WriteCount()))
	}
	if !report.StartedAt.IsZero() && !report.FinishedAt.IsZero() {
		buf.WriteString(fmt.Sprintf("Elapsed: %s\n", FormatElapsed(report.FinishedAt.Sub(report.StartedAt))))
	}

	for _, err := range report.Errors {
		buf.WriteString(fmt.Sprintf("  ! %v\n", err))
	}

	return buf.Bytes(), nil
}

// RunsToText renders run history one line per run, newest first as given.
func (f *Formatter) RunsToText(runs []*models.SyncRun) []byte {
	var buf bytes.Buffer

	if len(runs) == 0 {
		buf.WriteString("No sync runs recorded.\n")
		return buf.Bytes()
	}

	for _, run := range runs {
		started := "-"
		if t := run.StartedAt(); t != nil {
			started = t.Local().Format("2006-01-02 15:04:05")
		}
		elapsed := ""
		if run.StartedAt() != nil && run.CompletedAt() != nil {
			elapsed = " in " + FormatElapsed(run.CompletedAt().Sub(*run.StartedAt()))
		}
		dry := ""
		if run.DryRun() {
			dry = " (dry run)"
		}

		buf.WriteString(fmt.Sprintf("#%d %s %s %s%s%s: equal=%d push_lhs=%d push_rhs=%d unpaired=%d unresolved=%d errors=%d\n",
			run.Sequence(), started, run.UserName(), run.Status(), dry, elapsed,
			run.EqualCount(), run.PushedLHS(), run.PushedRHS(), run.NoPairCount(), run.UnresolvedCount(), run.ErrorCount()))
		if msg := run.ErrorMessage(); msg != "" {
			buf.WriteString(fmt.Sprintf("    %s\n", msg))
		}
	}

	return buf.Bytes()
}

// WritesToText renders the writes recorded for a run.
func (f *Formatter) WritesToText(writes []*models.WriteRecord) []byte {
	var buf bytes.Buffer
	for i, w := range writes {
		buf.WriteString(fmt.Sprintf("%d. %s %s %s (%s) %s", i+1, w.Status(), strings.ToUpper(w.Side()), w.Kind(), w.MediaID(), w.MediaName()))
		if msg := w.ErrorMessage(); msg != "" {
			buf.WriteString(": " + msg)
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// Formats lists the names accepted by [Formatter.RenderPlan].
var Formats = []string{"csv", "json", "md", "text"}

// RenderPlan renders a report's plan in the named format. JSON includes write outcomes.
func (f *Formatter) RenderPlan(report *tasks.ReconcileReport, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "csv":
		return f.PlanToCSV(report.Plan)
	case "json":
		return f.ReportToJSON(report)
	case "md", "markdown":
		return f.PlanToMarkdown(report.Plan)
	case "", "text", "txt":
		return f.PlanToText(report.Plan)
	}

	known := append([]string(nil), Formats...)
	sort.Strings(known)
	return nil, fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(known, ", "))
}

// WriteExport renders the report in format and writes it to path.
//
// Defaults to {user}_plan.{format} as the filename.
func (f *Formatter) WriteExport(report *tasks.ReconcileReport, format, path string) (string, error) {
	data, err := f.RenderPlan(report, format)
	if err != nil {
		return "", err
	}

	if path == "" {
		ext := strings.ToLower(format)
		if ext == "" || ext == "text" {
			ext = "txt"
		}
		path = fmt.Sprintf("%s_plan.%s", report.Plan.User, ext)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}
