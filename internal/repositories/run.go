package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/shared"
)

// ErrRunNotFound is returned when no live run matches.
var ErrRunNotFound = errors.New("sync run not found")

const runColumns = `id, sequence, user_name, lhs_url, rhs_url, status, phase, dry_run, media_total,
	equal_count, no_pair_count, pushed_lhs, pushed_rhs, unresolved_count, error_count, error_message,
	started_at, completed_at, created_at, updated_at, deleted_at`

// RunRepository implements models.Repository[*models.SyncRun] for sync history.
//
// Handles run CRUD operations with soft delete support and per-user queries.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// Create inserts a new run with generated ID and sequence
func (r *RunRepository) Create(run *models.SyncRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, RunsTable)
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	query := `
		INSERT INTO sync_runs (
			id, sequence, user_name, lhs_url, rhs_url, status, phase, dry_run, media_total,
			equal_count, no_pair_count, pushed_lhs, pushed_rhs, unresolved_count, error_count,
			error_message, started_at, completed_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id,
		sequence,
		run.UserName(),
		run.LHSURL(),
		run.RHSURL(),
		run.Status(),
		run.Phase(),
		run.DryRun(),
		run.MediaTotal(),
		run.EqualCount(),
		run.NoPairCount(),
		run.PushedLHS(),
		run.PushedRHS(),
		run.UnresolvedCount(),
		run.ErrorCount(),
		run.ErrorMessage(),
		nullableTime(run.StartedAt()),
		nullableTime(run.CompletedAt()),
		run.CreatedAt(),
		run.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	run.SetID(id)
	run.SetSequence(sequence)
	return nil
}

// Get retrieves a run by ID, excluding soft-deleted runs
func (r *RunRepository) Get(id string) (*models.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE id = ? AND deleted_at IS NULL`
	return scanRun(r.db.QueryRow(query, id))
}

// Latest retrieves the most recent run, optionally restricted to userName
func (r *RunRepository) Latest(userName string) (*models.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE deleted_at IS NULL`
	args := []any{}
	if userName != "" {
		query += " AND user_name = ?"
		args = append(args, userName)
	}
	query += " ORDER BY sequence DESC LIMIT 1"

	return scanRun(r.db.QueryRow(query, args...))
}

// Update stores the run's mutable fields
func (r *RunRepository) Update(run *models.SyncRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	run.SetUpdatedAt(now)

	query := `
		UPDATE sync_runs
		SET status = ?, phase = ?, dry_run = ?, media_total = ?, equal_count = ?, no_pair_count = ?,
			pushed_lhs = ?, pushed_rhs = ?, unresolved_count = ?, error_count = ?, error_message = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		run.Status(),
		run.Phase(),
		run.DryRun(),
		run.MediaTotal(),
		run.EqualCount(),
		run.NoPairCount(),
		run.PushedLHS(),
		run.PushedRHS(),
		run.UnresolvedCount(),
		run.ErrorCount(),
		run.ErrorMessage(),
		nullableTime(run.StartedAt()),
		nullableTime(run.CompletedAt()),
		now,
		run.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}

	return expectOneRow(result, run.ID())
}

// Delete soft-deletes a run by ID
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE sync_runs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete sync run: %w", err)
	}
	return expectOneRow(result, id)
}

// List retrieves runs matching the given criteria, newest first.
//
// Supported criteria: "user_name" and "status" (string), "limit" (int).
func (r *RunRepository) List(criteria map[string]any) ([]*models.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE deleted_at IS NULL`
	args := []any{}

	if userName, ok := criteria["user_name"].(string); ok && userName != "" {
		query += " AND user_name = ?"
		args = append(args, userName)
	}

	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.SyncRun, error) {
	var (
		id, userName, lhsURL, rhsURL, status, phase, errorMessage string
		sequence, mediaTotal, equal, noPair, pushedLHS, pushedRHS int
		unresolved, errorCount                                    int
		dryRun                                                    bool
		startedAt, completedAt, deletedAt                         sql.NullTime
		createdAt, updatedAt                                      time.Time
	)

	err := row.Scan(&id, &sequence, &userName, &lhsURL, &rhsURL, &status, &phase, &dryRun, &mediaTotal,
		&equal, &noPair, &pushedLHS, &pushedRHS, &unresolved, &errorCount, &errorMessage,
		&startedAt, &completedAt, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}

	run := models.NewSyncRun(sequence, userName, lhsURL, rhsURL)
	run.SetID(id)
	run.SetStatus(status)
	run.SetPhase(phase)
	run.SetDryRun(dryRun)
	run.SetMediaTotal(mediaTotal)
	run.SetCounts(equal, noPair, pushedLHS, pushedRHS)
	run.SetUnresolvedCount(unresolved)
	run.SetErrorCount(errorCount)
	run.SetErrorMessage(errorMessage)
	run.SetCreatedAt(createdAt)
	run.SetUpdatedAt(updatedAt)
	if startedAt.Valid {
		run.SetStartedAt(&startedAt.Time)
	}
	if completedAt.Valid {
		run.SetCompletedAt(&completedAt.Time)
	}
	if deletedAt.Valid {
		run.SetDeletedAt(&deletedAt.Time)
	}

	return run, nil
}

func expectOneRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("record not found or already deleted: %s", id)
	}
	return nil
}
