package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/tasks"
	th "github.com/desertthunder/embysync/internal/testing"
)

func testRecord(name string, lhs, rhs *models.ServerState) *models.MediaRecord {
	rec := models.NewMediaRecord(name, "Movie")
	rec.AddProvider("Imdb", "tt1")
	rec.State[models.LHS] = lhs
	rec.State[models.RHS] = rhs
	return rec
}

func testReport() *tasks.ReconcileReport {
	watched := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pushed := testRecord("Movie X",
		&models.ServerState{MediaID: "a1", UserState: models.UserState{Played: true, PlaybackPositionTicks: 754_000_000, LastPlayed: watched}},
		&models.ServerState{MediaID: "b1"},
	)
	same := testRecord("Movie | Y",
		&models.ServerState{MediaID: "a2", UserState: models.UserState{Played: true}},
		&models.ServerState{MediaID: "b2", UserState: models.UserState{Played: true}},
	)
	lonely := testRecord("Movie Z", &models.ServerState{MediaID: "a3"}, nil)

	plan := &tasks.Plan{
		User: "alice",
		Entries: []tasks.PlanEntry{
			{ID: 0, Record: pushed, Direction: models.NeedsPushToRHS, Writes: []tasks.PlannedWrite{{
				MediaName: "Movie X",
				Side:      models.RHS,
				Kind:      tasks.KindUpdateData,
				Method:    "POST",
				Path:      "/Users/u2/Items/b1/UserData",
				MediaID:   "b1",
				Body:      []byte(`{"Played":true}`),
				Status:    models.WriteFailed,
				Err:       errors.New("server returned 500"),
			}}},
			{ID: 1, Record: same, Direction: models.Equal},
			{ID: 2, Record: lonely, Direction: models.NoPair},
		},
		Counts: map[models.Direction]int{models.NeedsPushToRHS: 1, models.Equal: 1, models.NoPair: 1},
	}

	start := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	return &tasks.ReconcileReport{
		Plan:       plan,
		Failed:     1,
		Errors:     []error{errors.New("Movie X on rhs: server returned 500")},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
}

func TestDurationFuncs(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00.000"},
		{75400 * time.Millisecond, "1:15.400"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2:03:04.000"},
		{26 * time.Hour, "1:02:00:00.000"},
		{-time.Second, "0:00.000"},
	}

	for _, tt := range tests {
		if got := FormatPosition(tt.in); got != tt.want {
			t.Errorf("FormatPosition(%v): expected %q, got %q", tt.in, tt.want, got)
		}
	}

	if got := FormatElapsed(1500*time.Millisecond + 300*time.Microsecond); got != "1.5s" {
		t.Errorf("expected 1.5s, got %q", got)
	}

	f := New(nil)
	if got := f.Duration(time.Second); got != "0:01.000" {
		t.Errorf("expected default position format, got %q", got)
	}

	f = New(func(d time.Duration) string { return "custom" })
	data, _ := f.PlanToText(testReport().Plan)
	if !strings.Contains(string(data), "position=custom") {
		t.Errorf("expected injected duration func to be used, got %s", data)
	}
}

func TestExporters(t *testing.T) {
	f := New(nil)

	t.Run("PlanToCSV", func(t *testing.T) {
		data, err := f.PlanToCSV(testReport().Plan)
		if err != nil {
			t.Fatalf("PlanToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "Name,Type,Direction,Providers,LHS ID") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "Movie X,Movie,push_to_rhs,imdb.tt1,a1,true,false,1:15.400,2024-01-01T00:00:00Z,b1,false,false,0:00.000,,1") {
			t.Errorf("CSV missing pushed row, got: %s", output)
		}
		if !strings.Contains(output, "Movie Z,Movie,no_pair,imdb.tt1,a3,false,false,0:00.000,,,,,,,0") {
			t.Errorf("CSV missing one-sided row, got: %s", output)
		}
	})

	t.Run("PlanToMarkdown", func(t *testing.T) {
		data, err := f.PlanToMarkdown(testReport().Plan)
		if err != nil {
			t.Fatalf("PlanToMarkdown failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "# Sync plan: alice") {
			t.Errorf("Markdown missing title")
		}
		if !strings.Contains(output, "**Writes**: 1") {
			t.Errorf("Markdown missing write count")
		}
		if !strings.Contains(output, "- LHS -> RHS: 1") {
			t.Errorf("Markdown missing direction counts")
		}
		if !strings.Contains(output, "| 1 | Movie X | LHS -> RHS | true | 1:15.400 | 2024-01-01T00:00:00Z |") {
			t.Errorf("Markdown missing change row, got: %s", output)
		}
		if strings.Contains(output, "Movie \\| Y") {
			t.Errorf("Markdown should only list changes")
		}
	})

	t.Run("PlanToMarkdown without changes", func(t *testing.T) {
		data, _ := f.PlanToMarkdown(&tasks.Plan{User: "bob", Counts: map[models.Direction]int{}})
		if !strings.Contains(string(data), "Nothing to sync.") {
			t.Errorf("expected empty plan notice, got %s", data)
		}
	})

	t.Run("PlanToText", func(t *testing.T) {
		data, err := f.PlanToText(testReport().Plan)
		if err != nil {
			t.Fatalf("PlanToText failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "User: alice") || !strings.Contains(output, "Records: 3") {
			t.Errorf("Text missing header, got: %s", output)
		}
		if !strings.Contains(output, "1. [LHS -> RHS] Movie X (played=true, position=1:15.400)") {
			t.Errorf("Text missing change, got: %s", output)
		}
	})

	t.Run("ReportToJSON", func(t *testing.T) {
		data, err := f.ReportToJSON(testReport())
		if err != nil {
			t.Fatalf("ReportToJSON failed: %v", err)
		}

		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if out["user"] != "alice" || out["elapsed"] != "1.5s" {
			t.Errorf("unexpected JSON header %v", out)
		}
		writes, _ := out["writes"].([]any)
		if len(writes) != 1 {
			t.Fatalf("expected 1 write, got %v", out["writes"])
		}
		w := writes[0].(map[string]any)
		if w["kind"] != "update_data" || w["error"] != "server returned 500" {
			t.Errorf("unexpected write %v", w)
		}
	})

	t.Run("ReportToText", func(t *testing.T) {
		data, _ := f.ReportToText(testReport())
		output := string(data)

		if !strings.Contains(output, "Synced: alice") {
			t.Errorf("Text missing mode, got: %s", output)
		}
		if !strings.Contains(output, "Writes: 0 succeeded, 1 failed") {
			t.Errorf("Text missing write counts, got: %s", output)
		}
		if !strings.Contains(output, "! Movie X on rhs: server returned 500") {
			t.Errorf("Text missing error, got: %s", output)
		}

		report := testReport()
		report.DryRun = true
		data, _ = f.ReportToText(report)
		if !strings.Contains(string(data), "Writes planned: 1") {
			t.Errorf("expected dry run summary, got %s", data)
		}
	})

	t.Run("RunsToText", func(t *testing.T) {
		if got := string(f.RunsToText(nil)); got != "No sync runs recorded.\n" {
			t.Errorf("unexpected empty history %q", got)
		}

		run := models.NewSyncRun(3, "alice", "", "")
		run.Start()
		run.SetCounts(4, 1, 0, 2)
		run.Finish(models.RunFailed, errors.New("1 of 2 writes failed"))

		output := string(f.RunsToText([]*models.SyncRun{run}))
		if !strings.Contains(output, "#3 ") || !strings.Contains(output, "alice failed") {
			t.Errorf("unexpected run line %q", output)
		}
		if !strings.Contains(output, "equal=4 push_lhs=0 push_rhs=2 unpaired=1") {
			t.Errorf("missing counts in %q", output)
		}
		if !strings.Contains(output, "    1 of 2 writes failed") {
			t.Errorf("missing error line in %q", output)
		}
	})

	t.Run("WritesToText", func(t *testing.T) {
		w := models.NewWriteRecord(1, "run", "Movie X", "rhs", "update_data", "b1", "")
		w.SetStatus(models.WriteFailed)
		w.SetErrorMessage("boom")

		got := string(f.WritesToText([]*models.WriteRecord{w}))
		if got != "1. failed RHS update_data (b1) Movie X: boom\n" {
			t.Errorf("unexpected write line %q", got)
		}
	})
}

func TestRenderPlan(t *testing.T) {
	f := New(nil)
	report := testReport()

	for _, format := range []string{"csv", "json", "md", "markdown", "text", "txt", ""} {
		if _, err := f.RenderPlan(report, format); err != nil {
			t.Errorf("format %q: expected no error, got %v", format, err)
		}
	}

	if _, err := f.RenderPlan(report, "xml"); err == nil || !strings.Contains(err.Error(), "csv, json, md, text") {
		t.Errorf("expected unknown format error, got %v", err)
	}
}

func TestWriteExport(t *testing.T) {
	f := New(nil)

	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plan.csv")

		got, err := f.WriteExport(testReport(), "csv", path)
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if got != path {
			t.Errorf("expected %s, got %s", path, got)
		}

		th.AssertFileExists(t, path)
		if content := th.MustReadFile(t, path); !strings.Contains(content, "Movie X") {
			t.Errorf("export missing content: %s", content)
		}
	})

	t.Run("default path", func(t *testing.T) {
		t.Chdir(t.TempDir())

		got, err := f.WriteExport(testReport(), "text", "")
		if err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if got != "alice_plan.txt" {
			t.Errorf("expected alice_plan.txt, got %s", got)
		}
		th.AssertFileExists(t, got)
	})

	t.Run("unwritable path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "plan.md")
		if _, err := f.WriteExport(testReport(), "md", path); err == nil {
			t.Error("expected error writing into a missing directory")
		}
	})
}
