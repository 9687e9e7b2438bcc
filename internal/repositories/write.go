package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/shared"
)

// ErrWriteNotFound is returned when no live write record matches.
var ErrWriteNotFound = errors.New("write record not found")

const writeColumns = `id, sequence, run_id, media_name, side, kind, media_id, payload, status,
	error_message, created_at, updated_at, deleted_at`

// WriteRepository implements models.Repository[*models.WriteRecord]
type WriteRepository struct {
	db *sql.DB
}

// NewWriteRepository creates a new WriteRepository with the given database connection
func NewWriteRepository(db *sql.DB) *WriteRepository {
	return &WriteRepository{db: db}
}

// Create inserts a write record with generated ID and sequence
func (r *WriteRepository) Create(w *models.WriteRecord) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, WritesTable)
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()

	query := `
		INSERT INTO sync_writes (
			id, sequence, run_id, media_name, side, kind, media_id, payload, status,
			error_message, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id,
		sequence,
		w.RunID(),
		w.MediaName(),
		w.Side(),
		w.Kind(),
		w.MediaID(),
		w.Payload(),
		w.Status(),
		w.ErrorMessage(),
		w.CreatedAt(),
		w.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert write record: %w", err)
	}

	w.SetID(id)
	w.SetSequence(sequence)
	return nil
}

// Get retrieves a write record by ID
func (r *WriteRepository) Get(id string) (*models.WriteRecord, error) {
	query := `SELECT ` + writeColumns + ` FROM sync_writes WHERE id = ? AND deleted_at IS NULL`
	return scanWrite(r.db.QueryRow(query, id))
}

// Update stores the write's status and error message
func (r *WriteRepository) Update(w *models.WriteRecord) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	w.SetUpdatedAt(now)

	result, err := r.db.Exec(
		`UPDATE sync_writes SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		w.Status(), w.ErrorMessage(), now, w.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update write record: %w", err)
	}

	return expectOneRow(result, w.ID())
}

// Delete soft-deletes a write record by ID
func (r *WriteRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE sync_writes SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete write record: %w", err)
	}
	return expectOneRow(result, id)
}

// List retrieves write records in issue order.
//
// Supported criteria: "run_id", "side" and "status" (string).
func (r *WriteRepository) List(criteria map[string]any) ([]*models.WriteRecord, error) {
	query := `SELECT ` + writeColumns + ` FROM sync_writes WHERE deleted_at IS NULL`
	args := []any{}

	for _, key := range []string{"run_id", "side", "status"} {
		if v, ok := criteria[key].(string); ok && v != "" {
			query += " AND " + key + " = ?"
			args = append(args, v)
		}
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query write records: %w", err)
	}
	defer rows.Close()

	var writes []*models.WriteRecord
	for rows.Next() {
		w, err := scanWrite(rows)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return writes, nil
}

// ListByRun retrieves every write issued by a run
func (r *WriteRepository) ListByRun(runID string) ([]*models.WriteRecord, error) {
	return r.List(map[string]any{"run_id": runID})
}

func scanWrite(row scanner) (*models.WriteRecord, error) {
	var (
		id, runID, mediaName, side, kind, mediaID string
		payload, status, errorMessage             string
		sequence                                  int
		createdAt, updatedAt                      time.Time
		deletedAt                                 sql.NullTime
	)

	err := row.Scan(&id, &sequence, &runID, &mediaName, &side, &kind, &mediaID, &payload, &status,
		&errorMessage, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWriteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan write record: %w", err)
	}

	w := models.NewWriteRecord(sequence, runID, mediaName, side, kind, mediaID, payload)
	w.SetID(id)
	w.SetStatus(status)
	w.SetErrorMessage(errorMessage)
	w.SetCreatedAt(createdAt)
	w.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		w.SetDeletedAt(&deletedAt.Time)
	}

	return w, nil
}
