package models

import (
	"fmt"
	"time"
)

// Run statuses
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Write statuses
const (
	WritePlanned   = "planned"
	WritePending   = "pending"
	WriteSucceeded = "succeeded"
	WriteFailed    = "failed"
)

// SyncRun records one reconciliation run for a user.
type SyncRun struct {
	id              string
	sequence        int
	userName        string
	lhsURL          string
	rhsURL          string
	status          string
	phase           string
	dryRun          bool
	mediaTotal      int
	equalCount      int
	noPairCount     int
	pushedLHS       int
	pushedRHS       int
	unresolvedCount int
	errorCount      int
	errorMessage    string
	startedAt       *time.Time
	completedAt     *time.Time
	createdAt       time.Time
	updatedAt       time.Time
	deletedAt       *time.Time
}

// NewSyncRun creates a pending run for userName between the two server URLs.
func NewSyncRun(sequence int, userName, lhsURL, rhsURL string) *SyncRun {
	now := time.Now()
	return &SyncRun{
		sequence:  sequence,
		userName:  userName,
		lhsURL:    lhsURL,
		rhsURL:    rhsURL,
		status:    RunPending,
		createdAt: now,
		updatedAt: now,
	}
}

func (r *SyncRun) ID() string              { return r.id }
func (r *SyncRun) Sequence() int           { return r.sequence }
func (r *SyncRun) UserName() string        { return r.userName }
func (r *SyncRun) LHSURL() string          { return r.lhsURL }
func (r *SyncRun) RHSURL() string          { return r.rhsURL }
func (r *SyncRun) Status() string          { return r.status }
func (r *SyncRun) Phase() string           { return r.phase }
func (r *SyncRun) DryRun() bool            { return r.dryRun }
func (r *SyncRun) MediaTotal() int         { return r.mediaTotal }
func (r *SyncRun) EqualCount() int         { return r.equalCount }
func (r *SyncRun) NoPairCount() int        { return r.noPairCount }
func (r *SyncRun) PushedLHS() int          { return r.pushedLHS }
func (r *SyncRun) PushedRHS() int          { return r.pushedRHS }
func (r *SyncRun) UnresolvedCount() int    { return r.unresolvedCount }
func (r *SyncRun) ErrorCount() int         { return r.errorCount }
func (r *SyncRun) ErrorMessage() string    { return r.errorMessage }
func (r *SyncRun) StartedAt() *time.Time   { return r.startedAt }
func (r *SyncRun) CompletedAt() *time.Time { return r.completedAt }
func (r *SyncRun) CreatedAt() time.Time    { return r.createdAt }
func (r *SyncRun) UpdatedAt() time.Time    { return r.updatedAt }
func (r *SyncRun) DeletedAt() *time.Time   { return r.deletedAt }

func (r *SyncRun) SetID(id string)             { r.id = id }
func (r *SyncRun) SetSequence(n int)           { r.sequence = n }
func (r *SyncRun) SetStatus(status string)     { r.status = status }
func (r *SyncRun) SetPhase(phase string)       { r.phase = phase }
func (r *SyncRun) SetDryRun(v bool)            { r.dryRun = v }
func (r *SyncRun) SetErrorMessage(msg string)  { r.errorMessage = msg }
func (r *SyncRun) SetStartedAt(t *time.Time)   { r.startedAt = t }
func (r *SyncRun) SetCompletedAt(t *time.Time) { r.completedAt = t }
func (r *SyncRun) SetCreatedAt(t time.Time)    { r.createdAt = t }
func (r *SyncRun) SetUpdatedAt(t time.Time)    { r.updatedAt = t }
func (r *SyncRun) SetDeletedAt(t *time.Time)   { r.deletedAt = t }
func (r *SyncRun) SetUnresolvedCount(n int)    { r.unresolvedCount = n }
func (r *SyncRun) SetErrorCount(n int)         { r.errorCount = n }
func (r *SyncRun) SetMediaTotal(n int)         { r.mediaTotal = n }

// SetCounts stores the per-direction outcome of a run.
func (r *SyncRun) SetCounts(equal, noPair, pushedLHS, pushedRHS int) {
	r.equalCount = equal
	r.noPairCount = noPair
	r.pushedLHS = pushedLHS
	r.pushedRHS = pushedRHS
}

// Start marks the run as running now.
func (r *SyncRun) Start() {
	now := time.Now()
	r.status = RunRunning
	r.startedAt = &now
}

// Finish marks the run with a terminal status and stamps completion time.
func (r *SyncRun) Finish(status string, err error) {
	now := time.Now()
	r.status = status
	r.completedAt = &now
	if err != nil {
		r.errorMessage = err.Error()
	}
}

// Validate checks required fields and the status value.
func (r *SyncRun) Validate() error {
	if r.userName == "" {
		return fmt.Errorf("user name is required")
	}
	switch r.status {
	case RunPending, RunRunning, RunCompleted, RunFailed, RunCancelled:
	default:
		return fmt.Errorf("invalid run status: %s", r.status)
	}
	return nil
}

// WriteRecord is one write issued to a server while reconciling.
type WriteRecord struct {
	id           string
	sequence     int
	runID        string
	mediaName    string
	side         string
	kind         string
	mediaID      string
	payload      string
	status       string
	errorMessage string
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewWriteRecord creates a pending write for a run.
func NewWriteRecord(sequence int, runID, mediaName, side, kind, mediaID, payload string) *WriteRecord {
	now := time.Now()
	return &WriteRecord{
		sequence:  sequence,
		runID:     runID,
		mediaName: mediaName,
		side:      side,
		kind:      kind,
		mediaID:   mediaID,
		payload:   payload,
		status:    WritePending,
		createdAt: now,
		updatedAt: now,
	}
}

func (w *WriteRecord) ID() string            { return w.id }
func (w *WriteRecord) Sequence() int         { return w.sequence }
func (w *WriteRecord) RunID() string         { return w.runID }
func (w *WriteRecord) MediaName() string     { return w.mediaName }
func (w *WriteRecord) Side() string          { return w.side }
func (w *WriteRecord) Kind() string          { return w.kind }
func (w *WriteRecord) MediaID() string       { return w.mediaID }
func (w *WriteRecord) Payload() string       { return w.payload }
func (w *WriteRecord) Status() string        { return w.status }
func (w *WriteRecord) ErrorMessage() string  { return w.errorMessage }
func (w *WriteRecord) CreatedAt() time.Time  { return w.createdAt }
func (w *WriteRecord) UpdatedAt() time.Time  { return w.updatedAt }
func (w *WriteRecord) DeletedAt() *time.Time { return w.deletedAt }

func (w *WriteRecord) SetID(id string)            { w.id = id }
func (w *WriteRecord) SetSequence(n int)          { w.sequence = n }
func (w *WriteRecord) SetStatus(status string)    { w.status = status }
func (w *WriteRecord) SetErrorMessage(msg string) { w.errorMessage = msg }
func (w *WriteRecord) SetCreatedAt(t time.Time)   { w.createdAt = t }
func (w *WriteRecord) SetUpdatedAt(t time.Time)   { w.updatedAt = t }
func (w *WriteRecord) SetDeletedAt(t *time.Time)  { w.deletedAt = t }

// Validate checks required fields and the status value.
func (w *WriteRecord) Validate() error {
	if w.runID == "" {
		return fmt.Errorf("run ID is required")
	}
	if w.mediaID == "" {
		return fmt.Errorf("media ID is required")
	}
	if _, err := ParseSide(w.side); err != nil {
		return err
	}
	switch w.status {
	case WritePlanned, WritePending, WriteSucceeded, WriteFailed:
	default:
		return fmt.Errorf("invalid write status: %s", w.status)
	}
	return nil
}
