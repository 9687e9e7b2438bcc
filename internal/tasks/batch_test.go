package tasks

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
	tu "github.com/desertthunder/embysync/internal/testing"
)

func pairedUser(name, lhsID, rhsID string) *models.UserRecord {
	u := &models.UserRecord{Name: name}
	if lhsID != "" {
		u.Info[models.LHS] = &models.UserInfo{ID: lhsID, Name: name}
	}
	if rhsID != "" {
		u.Info[models.RHS] = &models.UserInfo{ID: rhsID, Name: name}
	}
	return u
}

func TestBatchSync(t *testing.T) {
	engineOpts := EngineOpts{SettleDelay: 5 * time.Millisecond, Logger: log.New(io.Discard)}

	t.Run("syncs every user", func(t *testing.T) {
		lhs := tu.NewMockServer("left")
		rhs := tu.NewMockServer("right")
		lhs.AddItem(movie("a1", "Movie", map[string]string{"Imdb": "tt1"}))
		rhs.AddItem(movie("b1", "Movie", map[string]string{"Imdb": "tt1"}))
		lhs.SetUserData("u1", "a1", services.UserData{Played: true, LastPlayedDate: "2024-05-01T00:00:00Z"})
		rhs.SetUserData("v1", "b1", services.UserData{Played: true, LastPlayedDate: "2023-01-01T00:00:00Z"})
		lhs.SetUserData("u2", "a1", services.UserData{Played: true})
		rhs.SetUserData("v2", "b1", services.UserData{Played: true})

		users := []*models.UserRecord{pairedUser("alice", "u1", "v1"), pairedUser("bob", "u2", "v2")}

		var finished []string
		prog := make(chan ProgressUpdate, 10)
		result, err := BatchSync(context.Background(), prog, lhs, rhs, users, BatchOpts{
			RateLimit: 100,
			Engine:    engineOpts,
			OnUserFinished: func(res UserSyncResult) {
				finished = append(finished, res.User.Name)
			},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Succeeded != 2 || result.Failed != 0 {
			t.Errorf("expected 2 successes, got %d/%d", result.Succeeded, result.Failed)
		}
		if len(finished) != 2 {
			t.Errorf("expected 2 callbacks, got %v", finished)
		}
		if len(prog) != 2 {
			t.Errorf("expected 2 progress updates, got %d", len(prog))
		}

		// alice's lhs play is newer; bob has no dates on either side and is equal
		writes := rhs.Writes()
		if len(writes) != 1 || writes[0].UserID != "v1" {
			t.Errorf("expected one write for alice on rhs, got %+v", writes)
		}
		if len(lhs.Writes()) != 0 {
			t.Errorf("expected no lhs writes, got %+v", lhs.Writes())
		}
	})

	t.Run("unpaired users fail without stopping others", func(t *testing.T) {
		lhs := tu.NewMockServer("left")
		rhs := tu.NewMockServer("right")
		users := []*models.UserRecord{pairedUser("alice", "u1", "v1"), pairedUser("carol", "u3", "")}

		result, err := BatchSync(context.Background(), nil, lhs, rhs, users, BatchOpts{RateLimit: 100, Engine: engineOpts})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Succeeded != 1 || result.Failed != 1 {
			t.Errorf("expected 1 success and 1 failure, got %d/%d", result.Succeeded, result.Failed)
		}
		for _, res := range result.Results {
			if res.User.Name == "carol" && !errors.Is(res.Error, shared.ErrUserNotSynced) {
				t.Errorf("expected ErrUserNotSynced for carol, got %v", res.Error)
			}
		}
	})

	t.Run("requires both servers", func(t *testing.T) {
		_, err := BatchSync(context.Background(), nil, tu.NewMockServer("left"), nil, nil, BatchOpts{})
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		users := []*models.UserRecord{pairedUser("alice", "u1", "v1")}
		result, err := BatchSync(ctx, nil, tu.NewMockServer("left"), tu.NewMockServer("right"), users, BatchOpts{Engine: engineOpts})
		if !errors.Is(err, shared.ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
		if result == nil || !result.Cancelled {
			t.Error("expected cancelled result")
		}
	})
}
