package repositories

import (
	"database/sql"
	"fmt"
)

// Tables with a companion {table}_sequence counter row.
const (
	RunsTable   = "sync_runs"
	WritesTable = "sync_writes"
)

var sequenced = map[string]bool{RunsTable: true, WritesTable: true}

// NextSequence bumps the counter for table and returns the new value.
//
// Runs are numbered #1, #2, ... across all users so `history --run #N`
// can address them; writes get their own counter.
func NextSequence(db *sql.DB, table string) (int, error) {
	if !sequenced[table] {
		return 0, fmt.Errorf("no sequence for table %q", table)
	}

	var sequence int
	query := fmt.Sprintf("UPDATE %s_sequence SET value = value + 1 WHERE id = 1 RETURNING value", table)
	if err := db.QueryRow(query).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to increment %s sequence: %w", table, err)
	}
	return sequence, nil
}
