package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/shared"
	"github.com/urfave/cli/v3"
)

// TestServer checks that both servers answer with the configured API keys.
func (r *Runner) TestServer(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	eng, err := r.newEngine(nil)
	if err != nil {
		return err
	}

	results := eng.TestServers(ctx)

	failed := 0
	for _, side := range models.Sides {
		name := eng.Server(side).Name()
		if err := results[side]; err != nil {
			failed++
			r.writePlain("✗ %s (%s): %v\n", side, name, err)
			continue
		}
		r.writePlain("✓ %s (%s): ok\n", side, name)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d servers failed", shared.ErrServiceUnavailable, failed, len(models.Sides))
	}
	return nil
}

type userJSON struct {
	Name      string `json:"name"`
	ConnectID string `json:"connect_id,omitempty"`
	LHSID     string `json:"lhs_id,omitempty"`
	RHSID     string `json:"rhs_id,omitempty"`
	Admin     bool   `json:"admin"`
	Syncable  bool   `json:"syncable"`
	Allowed   bool   `json:"allowed"`
}

// Users lists users from both servers and whether each can be synced.
func (r *Runner) Users(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	eng, err := r.newEngine(nil)
	if err != nil {
		return err
	}

	users, err := eng.LoadUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	rows := make([]userJSON, 0, users.Len())
	for _, u := range users.All() {
		rows = append(rows, userJSON{
			Name:      u.Name,
			ConnectID: u.ConnectID,
			LHSID:     u.UserID(models.LHS),
			RHSID:     u.UserID(models.RHS),
			Admin:     u.IsAdmin(),
			Syncable:  u.CanBeSynced(),
			Allowed:   r.allowed(u),
		})
	}

	if cmd.Bool("json") {
		return r.writeJSON(rows, cmd.Bool("pretty"))
	}

	if len(rows) == 0 {
		return r.writePlain("No users found.\n")
	}

	r.writePlain("%-24s %-5s %-5s %-5s %s\n", "NAME", "LHS", "RHS", "ADMIN", "SYNC")
	for _, row := range rows {
		r.writePlain("%-24s %-5s %-5s %-5s %s\n", row.Name,
			yesNo(row.LHSID != ""), yesNo(row.RHSID != ""), yesNo(row.Admin), syncLabel(row))
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func syncLabel(u userJSON) string {
	switch {
	case !u.Syncable:
		return "no (missing on one server)"
	case !u.Allowed:
		return "no (excluded by sync.users)"
	default:
		return "yes"
	}
}

// CollectionCreate creates a collection on one server from a list of media IDs.
func (r *Runner) CollectionCreate(ctx context.Context, cmd *cli.Command) error {
	if err := r.load(cmd); err != nil {
		return err
	}

	side, err := models.ParseSide(cmd.String("side"))
	if err != nil {
		return fmt.Errorf("%w: --side: %v", shared.ErrInvalidFlag, err)
	}

	eng, err := r.newEngine(nil)
	if err != nil {
		return err
	}

	name := cmd.String("name")
	ids := cmd.StringSlice("id")

	r.logger.Info("creating collection", "side", side, "name", name, "items", len(ids))
	id, err := eng.CreateCollection(ctx, side, name, ids)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if id == "" {
		return r.writePlain("✓ Created collection %q on %s\n", name, side)
	}
	return r.writePlain("✓ Created collection %q on %s (id %s)\n", name, side, id)
}
