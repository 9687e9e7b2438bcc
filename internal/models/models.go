package models

import "time"

// Record is a row of sync history: a [SyncRun] or one of its [WriteRecord]s.
//
// Records are soft deleted; a non-nil DeletedAt hides them from List.
type Record interface {
	ID() string
	Sequence() int
	CreatedAt() time.Time
	UpdatedAt() time.Time
	DeletedAt() *time.Time
	Validate() error
}

// Repository stores one kind of [Record].
//
// Create assigns the ID, sequence and timestamps. List accepts column
// filters plus "limit"; unknown keys are ignored.
type Repository[T Record] interface {
	Create(record T) error
	Get(id string) (T, error)
	Update(record T) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}
