package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
	tu "github.com/desertthunder/embysync/internal/testing"
)

// newDivergentServers lists the same movie on both sides; RHS was watched later and
// marked as favorite.
func newDivergentServers() (*tu.MockServer, *tu.MockServer) {
	lhs, rhs := newServers()
	lhs.AddItem(movie("a1", "Movie Z", map[string]string{"Imdb": "tt7"})).
		SetUserData("u1", "a1", services.UserData{Played: true, PlayCount: 1, LastPlayedDate: "2024-01-01T00:00:00Z"})
	rhs.AddItem(movie("b1", "Movie Z", map[string]string{"Imdb": "tt7"})).
		SetUserData("u2", "b1", services.UserData{
			Played:                true,
			IsFavorite:            true,
			PlayCount:             3,
			PlaybackPositionTicks: 120000,
			LastPlayedDate:        "2024-03-01T10:00:00Z",
		})
	return lhs, rhs
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes missing media state to the other server", func(t *testing.T) {
		lhs, rhs := newServers()
		lhs.AddItem(movie("a1", "Movie X", map[string]string{"Tvdb": "42"})).
			SetUserData("u1", "a1", services.UserData{Played: true, LastPlayedDate: "2024-01-01T00:00:00Z"})
		rhs.AddItem(movie("b1", "Movie X", map[string]string{"Tvdb": "42"}))

		eng := newTestEngine(lhs, rhs, &recordingSink{})
		loadAlice(t, eng)

		report, err := eng.Reconcile(ctx, ReconcileOpts{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.Plan.Counts[models.NeedsPushToRHS] != 1 {
			t.Errorf("expected 1 push to rhs, got %v", report.Plan.Counts)
		}

		writes := rhs.Writes()
		if len(writes) != 1 || writes[0].Op != tu.OpUpdate || writes[0].ItemID != "b1" || writes[0].UserID != "u2" {
			t.Fatalf("expected one user data write to b1, got %+v", writes)
		}
		if len(lhs.Writes()) != 0 {
			t.Errorf("expected no lhs writes, got %+v", lhs.Writes())
		}

		var body map[string]any
		if err := json.Unmarshal(writes[0].Body, &body); err != nil {
			t.Fatalf("invalid body: %v", err)
		}
		if body["Played"] != true || body["LastPlayedDate"] != "2024-01-01T00:00:00.000Z" {
			t.Errorf("expected lhs state in body, got %v", body)
		}
		if report.Succeeded != 1 || report.Failed != 0 {
			t.Errorf("expected 1 success, got %d/%d", report.Succeeded, report.Failed)
		}
	})

	t.Run("equal state without dates writes nothing", func(t *testing.T) {
		lhs, rhs := newServers()
		data := services.UserData{Played: true, PlaybackPositionTicks: 50000}
		lhs.AddItem(movie("a1", "Same", map[string]string{"Imdb": "tt2"})).SetUserData("u1", "a1", data)
		rhs.AddItem(movie("b1", "Same", map[string]string{"Imdb": "tt2"})).SetUserData("u2", "b1", data)

		eng := newTestEngine(lhs, rhs, &recordingSink{})
		loadAlice(t, eng)

		report, err := eng.Reconcile(ctx, ReconcileOpts{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.Plan.Counts[models.Equal] != 1 || report.Plan.WriteCount() != 0 {
			t.Errorf("expected 1 equal record and no writes, got %v", report.Plan.Counts)
		}
		if len(lhs.Writes())+len(rhs.Writes()) != 0 {
			t.Error("expected no writes")
		}
	})

	t.Run("later side wins and favorite follows", func(t *testing.T) {
		lhs, rhs := newDivergentServers()
		eng := newTestEngine(lhs, rhs, &recordingSink{})
		loadAlice(t, eng)

		var finished *ReconcileReport
		eng.opts.Callbacks.ReconcileFinished = func(r *ReconcileReport) { finished = r }

		report, err := eng.Reconcile(ctx, ReconcileOpts{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if finished != report {
			t.Error("expected ReconcileFinished callback")
		}
		if report.Pushed(models.LHS) != 1 {
			t.Errorf("expected 1 push to lhs, got %d", report.Pushed(models.LHS))
		}

		writes := lhs.Writes()
		if len(writes) != 2 {
			t.Fatalf("expected user data and favorite writes, got %+v", writes)
		}
		if len(rhs.Writes()) != 0 {
			t.Errorf("expected no rhs writes, got %+v", rhs.Writes())
		}

		data, _ := lhs.UserData("u1", "a1")
		if !data.IsFavorite || data.PlayCount != 3 || data.PlaybackPositionTicks != 120000 {
			t.Errorf("expected rhs state on lhs, got %+v", data)
		}

		rec := eng.Catalog().Records()[0]
		if rec.Direction() != models.Equal {
			t.Errorf("expected equal after reload, got %s", rec.Direction())
		}
	})

	t.Run("forced source", func(t *testing.T) {
		lhs, rhs := newDivergentServers()
		eng := newTestEngine(lhs, rhs, &recordingSink{})
		loadAlice(t, eng)

		source := models.LHS
		report, err := eng.Reconcile(ctx, ReconcileOpts{Source: &source})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.Pushed(models.RHS) != 1 {
			t.Errorf("expected push to rhs, got %v", report.Plan.Counts)
		}

		writes := rhs.Writes()
		if len(writes) != 2 {
			t.Fatalf("expected 2 rhs writes, got %+v", writes)
		}
		if data, _ := rhs.UserData("u2", "b1"); data.IsFavorite {
			t.Error("expected rhs favorite to be cleared")
		}
	})

	t.Run("dry run only plans", func(t *testing.T) {
		lhs, rhs := newDivergentServers()
		eng := newTestEngine(lhs, rhs, &recordingSink{})
		loadAlice(t, eng)

		report, err := eng.Reconcile(ctx, ReconcileOpts{DryRun: true})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !report.DryRun || report.Plan.WriteCount() != 2 {
			t.Errorf("expected 2 planned writes, got %d", report.Plan.WriteCount())
		}
		for _, w := range report.Writes() {
			if w.Status != models.WritePlanned {
				t.Errorf("expected planned status, got %s", w.Status)
			}
		}
		if len(lhs.Writes())+len(rhs.Writes()) != 0 {
			t.Error("expected no writes in dry run")
		}
	})

	t.Run("failed writes are reported", func(t *testing.T) {
		lhs, rhs := newDivergentServers()
		lhs.Fail(tu.OpUpdate, shared.ErrServerResponse)
		sink := &recordingSink{}
		eng := newTestEngine(lhs, rhs, sink)
		loadAlice(t, eng)

		report, err := eng.Reconcile(ctx, ReconcileOpts{})
		if err != nil {
			t.Fatalf("expected report without error, got %v", err)
		}
		if report.Failed != 1 || report.Succeeded != 1 {
			t.Errorf("expected 1 failed and 1 succeeded, got %d/%d", report.Failed, report.Succeeded)
		}
		if len(report.Errors) != 1 || !errors.Is(report.Errors[0], shared.ErrServerResponse) {
			t.Errorf("expected wrapped server error, got %v", report.Errors)
		}
		if len(sink.messages) != 1 {
			t.Errorf("expected one message, got %+v", sink.messages)
		}
	})

	t.Run("requires a loaded user", func(t *testing.T) {
		lhs, rhs := newServers()
		eng := newTestEngine(lhs, rhs, &recordingSink{})
		if _, err := eng.Reconcile(ctx, ReconcileOpts{}); !errors.Is(err, shared.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestBuildPlan(t *testing.T) {
	user := &models.UserRecord{Name: "alice"}
	user.Info[models.LHS] = &models.UserInfo{ID: "u1", Name: "alice"}
	user.Info[models.RHS] = &models.UserInfo{ID: "u2", Name: "alice"}

	c := NewCatalog()
	id := addRecord(c, models.LHS, "l1", map[string]string{"imdb": "tt1"}, models.UserState{Played: true, IsFavorite: true})
	c.Record(id).EnsureState(models.RHS).MediaID = "r1"
	c.Attach(models.RHS, "r1", id)
	addRecord(c, models.LHS, "l2", nil, models.UserState{Played: true})

	plan, err := BuildPlan(c, user, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if plan.Counts[models.NoPair] != 1 || plan.Counts[models.NeedsPushToLHS] != 1 {
		t.Errorf("unexpected counts %v", plan.Counts)
	}

	changes := plan.Changes()
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}

	writes := changes[0].Writes
	if len(writes) != 2 || writes[0].Side != models.LHS || writes[0].Path != "/Users/u1/Items/l1/UserData" {
		t.Fatalf("expected lhs user data and favorite writes, got %+v", writes)
	}
	if writes[1].Method != "DELETE" || writes[1].Path != "/Users/u1/FavoriteItems/l1" {
		t.Errorf("expected favorite to be cleared, got %s %s", writes[1].Method, writes[1].Path)
	}

	source := models.LHS
	plan, err = BuildPlan(c, user, &source)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	writes = plan.Changes()[0].Writes
	if len(writes) != 2 || writes[1].Kind != KindUpdateFavorite || writes[1].Method != "POST" {
		t.Errorf("expected user data and favorite writes to rhs, got %+v", writes)
	}

	if _, err := BuildPlan(c, nil, nil); !errors.Is(err, shared.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
