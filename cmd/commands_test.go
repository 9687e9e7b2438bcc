package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
	tu "github.com/desertthunder/embysync/internal/testing"
	"github.com/urfave/cli/v3"
	"github.com/zalando/go-keyring"
)

type fixture struct {
	runner *Runner
	output *bytes.Buffer
	lhs    *tu.MockServer
	rhs    *tu.MockServer
}

// newFixture has alice on both servers and bob on LHS only. Alice watched Movie X on LHS.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	lhs := tu.NewMockServer("left").AddUser("u1", "alice", "").AddUser("u3", "bob", "")
	rhs := tu.NewMockServer("right").AddUser("u2", "alice", "")

	lhs.AddItem(services.Item{ID: "a1", Name: "Movie X", Type: "Movie", ProviderIDs: map[string]string{"Tvdb": "42"}}).
		SetUserData("u1", "a1", services.UserData{Played: true, PlayCount: 1, LastPlayedDate: "2024-01-01T00:00:00Z"})
	rhs.AddItem(services.Item{ID: "b1", Name: "Movie X", Type: "Movie", ProviderIDs: map[string]string{"Tvdb": "42"}})

	config := shared.DefaultConfig()
	config.Sync.SettleMS = 1
	config.Database.Path = filepath.Join(t.TempDir(), "history.db")

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:  config,
		Servers: [2]services.MediaServer{lhs, rhs},
		Logger:  shared.NewLogger(io.Discard),
		Output:  output,
	})

	return &fixture{runner: runner, output: output, lhs: lhs, rhs: rhs}
}

func (f *fixture) run(args ...string) error {
	app := &cli.Command{Name: "embysync", Commands: f.runner.register()}
	return app.Run(context.Background(), append([]string{"embysync"}, args...))
}

// describingServer adds request rendering to a mock server.
type describingServer struct {
	*tu.MockServer
	client *services.EmbyClient
}

func (d describingServer) Describe(method, path string, body []byte) shared.CurlRequest {
	return d.client.Describe(method, path, body)
}

func TestTestServerCommand(t *testing.T) {
	t.Run("reports both servers", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("test-server"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		out := f.output.String()
		if !strings.Contains(out, "✓ lhs (left): ok") || !strings.Contains(out, "✓ rhs (right): ok") {
			t.Errorf("expected both servers ok, got %q", out)
		}
	})

	t.Run("fails when a server fails", func(t *testing.T) {
		f := newFixture(t)
		f.rhs.Fail(tu.OpTest, shared.ErrServerResponse)

		err := f.run("test-server")
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
		if !strings.Contains(f.output.String(), "✗ rhs (right)") {
			t.Errorf("expected rhs failure line, got %q", f.output.String())
		}
	})

	t.Run("missing explicit config", func(t *testing.T) {
		f := newFixture(t)

		err := f.run("test-server", "--config", filepath.Join(t.TempDir(), "nope.toml"))
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("rejects an unknown log level", func(t *testing.T) {
		f := newFixture(t)

		err := f.run("test-server", "--log-level", "chatty")
		if !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}

func TestUsersCommand(t *testing.T) {
	t.Run("lists users as JSON", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("users", "--json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var rows []userJSON
		if err := json.Unmarshal(f.output.Bytes(), &rows); err != nil {
			t.Fatalf("invalid JSON %q: %v", f.output.String(), err)
		}

		byName := map[string]userJSON{}
		for _, row := range rows {
			byName[row.Name] = row
		}
		if alice := byName["alice"]; !alice.Syncable || alice.LHSID != "u1" || alice.RHSID != "u2" {
			t.Errorf("expected alice on both sides, got %+v", alice)
		}
		if bob := byName["bob"]; bob.Syncable || bob.RHSID != "" {
			t.Errorf("expected bob on lhs only, got %+v", bob)
		}
	})

	t.Run("lists users as a table", func(t *testing.T) {
		f := newFixture(t)
		f.runner.config.Sync.Users = []string{"bob"}

		if err := f.run("users"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		out := f.output.String()
		if !strings.Contains(out, "excluded by sync.users") {
			t.Errorf("expected alice to be excluded, got %q", out)
		}
		if !strings.Contains(out, "missing on one server") {
			t.Errorf("expected bob to be unsyncable, got %q", out)
		}
	})
}

func TestDiffCommand(t *testing.T) {
	t.Run("prints the plan", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("diff", "--user", "alice"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(f.output.String(), "Movie X") {
			t.Errorf("expected Movie X in plan, got %q", f.output.String())
		}
		if len(f.rhs.Writes()) != 0 {
			t.Errorf("expected no writes, got %+v", f.rhs.Writes())
		}
	})

	t.Run("exports to a file", func(t *testing.T) {
		f := newFixture(t)
		path := filepath.Join(t.TempDir(), "plan.csv")

		if err := f.run("diff", "--user", "alice", "--format", "csv", "--output", path); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		tu.AssertFileExists(t, path)
		if content := tu.MustReadFile(t, path); !strings.Contains(content, "Movie X") {
			t.Errorf("expected Movie X in export, got %q", content)
		}
		if !strings.Contains(f.output.String(), "Plan written to "+path) {
			t.Errorf("expected export message, got %q", f.output.String())
		}
	})

	t.Run("rejects unknown formats", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("diff", "--user", "alice", "--format", "yaml"); err == nil {
			t.Error("expected error for unknown format")
		}
	})

	t.Run("prints curl commands", func(t *testing.T) {
		f := newFixture(t)
		client := services.NewEmbyClient(services.EmbyOptions{URL: "http://rhs.local:8096", APIKey: "secret"})
		f.runner.servers[models.RHS] = describingServer{MockServer: f.rhs, client: client}

		if err := f.run("diff", "--user", "alice", "--curl"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		out := f.output.String()
		if !strings.Contains(out, "curl -X POST") || !strings.Contains(out, "/Users/u2/Items/b1/UserData") {
			t.Errorf("expected user data curl command, got %q", out)
		}
		if strings.Contains(out, "secret") || !strings.Contains(out, "api_key="+shared.RedactedKey) {
			t.Errorf("expected redacted key, got %q", out)
		}

		f.output.Reset()
		if err := f.run("diff", "--user", "alice", "--curl", "--show-key"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(f.output.String(), "api_key=secret") {
			t.Errorf("expected key in output, got %q", f.output.String())
		}
	})

	t.Run("rejects users missing on one server", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("diff", "--user", "bob"); !errors.Is(err, shared.ErrUserNotSynced) {
			t.Errorf("expected ErrUserNotSynced, got %v", err)
		}
	})

	t.Run("rejects a bad source", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("diff", "--user", "alice", "--source", "middle"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}

func TestSyncAndHistoryCommands(t *testing.T) {
	t.Run("syncs one user and records the run", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("sync", "--user", "alice"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		writes := f.rhs.Writes()
		if len(writes) != 1 || writes[0].Op != tu.OpUpdate || writes[0].ItemID != "b1" {
			t.Fatalf("expected one user data write to b1, got %+v", writes)
		}
		if !strings.Contains(f.output.String(), "Recorded as run #1") {
			t.Errorf("expected run number, got %q", f.output.String())
		}

		f.output.Reset()
		if err := f.run("history"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "#1") || !strings.Contains(out, "alice completed") {
			t.Errorf("expected completed run for alice, got %q", out)
		}

		f.output.Reset()
		if err := f.run("history", "--run", "#1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "succeeded RHS update_data (b1) Movie X") {
			t.Errorf("expected recorded write, got %q", out)
		}
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("sync", "--user", "alice", "--dry-run", "--no-history"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(f.rhs.Writes()) != 0 {
			t.Errorf("expected no writes, got %+v", f.rhs.Writes())
		}
		if strings.Contains(f.output.String(), "Recorded as run") {
			t.Error("expected no history with --no-history")
		}
	})

	t.Run("failed writes fail the command and the run", func(t *testing.T) {
		f := newFixture(t)
		f.rhs.Fail(tu.OpUpdate, shared.ErrServerResponse)

		if err := f.run("sync", "--user", "alice"); !errors.Is(err, shared.ErrServerResponse) {
			t.Fatalf("expected ErrServerResponse, got %v", err)
		}

		f.output.Reset()
		if err := f.run("history", "--json", "--status", "failed"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var runs []map[string]any
		if err := json.Unmarshal(f.output.Bytes(), &runs); err != nil {
			t.Fatalf("invalid JSON %q: %v", f.output.String(), err)
		}
		if len(runs) != 1 || runs[0]["user"] != "alice" || runs[0]["errors"] != float64(1) {
			t.Errorf("expected one failed run for alice, got %v", runs)
		}
	})

	t.Run("syncs every allowed user", func(t *testing.T) {
		f := newFixture(t)
		f.rhs.AddUser("u4", "bob", "")
		f.runner.config.Sync.Users = []string{"alice"}

		if err := f.run("sync", "--all", "--workers", "1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(f.output.String(), "Users: 1 synced, 0 failed (of 1)") {
			t.Errorf("expected one synced user, got %q", f.output.String())
		}
		if len(f.rhs.Writes()) != 1 {
			t.Errorf("expected alice's write only, got %+v", f.rhs.Writes())
		}
	})

	t.Run("requires a user or --all", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("sync"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("empty history", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("history"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if f.output.String() != "No sync runs recorded.\n" {
			t.Errorf("expected empty history message, got %q", f.output.String())
		}
	})
}

func TestCollectionCommand(t *testing.T) {
	f := newFixture(t)

	if err := f.run("collection", "create", "--side", "rhs", "--name", "Favs", "--id", "b1", "--id", "b2"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if ids := f.rhs.Collection("col-1"); len(ids) != 2 || ids[0] != "b1" || ids[1] != "b2" {
		t.Errorf("expected collection with b1 and b2, got %v", ids)
	}
	if !strings.Contains(f.output.String(), `Created collection "Favs" on rhs (id col-1)`) {
		t.Errorf("expected confirmation, got %q", f.output.String())
	}

	if err := f.run("collection", "create", "--side", "up", "--name", "Favs", "--id", "b1"); !errors.Is(err, shared.ErrInvalidFlag) {
		t.Errorf("expected ErrInvalidFlag, got %v", err)
	}
}

func TestKeysCommand(t *testing.T) {
	keyring.MockInit()

	t.Run("stores a key from a flag", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("keys", "set", "--key", "abc", "lhs"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if key, err := shared.ResolveAPIKey("lhs", ""); err != nil || key != "abc" {
			t.Errorf("expected abc, got %q (%v)", key, err)
		}
	})

	t.Run("stores a key from stdin and deletes it", func(t *testing.T) {
		f := newFixture(t)
		f.runner.input = strings.NewReader("xyz\n")

		if err := f.run("keys", "set", "rhs"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if key, _ := shared.ResolveAPIKey("rhs", ""); key != "xyz" {
			t.Errorf("expected xyz, got %q", key)
		}

		if err := f.run("keys", "delete", "rhs"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, err := shared.ResolveAPIKey("rhs", ""); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected key to be gone, got %v", err)
		}
	})

	t.Run("requires a side", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run("keys", "delete"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestInitCommand(t *testing.T) {
	t.Run("creates config and database", func(t *testing.T) {
		t.Chdir(t.TempDir())
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard), Output: &bytes.Buffer{}})
		output := runner.output.(*bytes.Buffer)
		app := &cli.Command{Name: "embysync", Commands: runner.register()}

		if err := app.Run(context.Background(), []string{"embysync", "init"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		tu.AssertFileExists(t, "config.toml")
		tu.AssertFileExists(t, "embysync.db")
		if !strings.Contains(output.String(), "Created config.toml") {
			t.Errorf("expected creation message, got %q", output.String())
		}

		output.Reset()
		app = &cli.Command{Name: "embysync", Commands: runner.register()}
		if err := app.Run(context.Background(), []string{"embysync", "init"}); err != nil {
			t.Fatalf("expected second init to succeed, got %v", err)
		}
		if strings.Contains(output.String(), "Created config.toml") {
			t.Error("expected existing config to be kept")
		}
	})

	t.Run("imports JSON settings", func(t *testing.T) {
		t.Chdir(t.TempDir())
		settings := `{
			"lhs": {"url": "http://left:8096", "api_key": "k1"},
			"rhs": {"url": "right:8096", "api_key": "k2"},
			"SyncUserList": ["alice"],
			"SyncAudio": false
		}`
		if err := os.WriteFile("settings.json", []byte(settings), 0600); err != nil {
			t.Fatalf("failed to write settings: %v", err)
		}

		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(io.Discard), Output: &bytes.Buffer{}})
		app := &cli.Command{Name: "embysync", Commands: runner.register()}
		if err := app.Run(context.Background(), []string{"embysync", "init", "--config", "imported.toml", "--from-json", "settings.json"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		config, err := shared.LoadConfig("imported.toml")
		if err != nil {
			t.Fatalf("failed to load imported config: %v", err)
		}
		if config.LHS.URL != "http://left:8096" || config.RHS.APIKey != "k2" {
			t.Errorf("expected servers to be imported, got %+v %+v", config.LHS, config.RHS)
		}
		if len(config.Sync.Users) != 1 || config.Sync.Users[0] != "alice" || config.Sync.Audio {
			t.Errorf("expected sync settings to be imported, got %+v", config.Sync)
		}
	})
}
