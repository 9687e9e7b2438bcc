// Package repositories implements SQLite persistence for sync history.
//
// Each repository handles CRUD operations with atomic sequence generation for human-readable ordering.
// All repositories support soft deletes via deleted_at timestamps and exclude deleted records from queries by default.
//
// Key Implementations:
//   - [RunRepository] : One row per reconcile run with per-direction counts
//   - [WriteRepository] : Every write a run issued, with its outcome
//   - [HistoryRecorder] : Stores a finished reconcile report as a run and its writes
//
// [NextSequence] hands out the #N numbers shown by the history command.
package repositories
