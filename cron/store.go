package cron

import (
	"context"
	"time"

	"github.com/MickLesk/syncspace-sub002/id"
)

// Store defines the persistence contract for recurrence definitions.
type Store interface {
	// SaveRecurrence persists a new definition. Returns
	// jobs.ErrDuplicateRecurrence if the name is taken.
	SaveRecurrence(ctx context.Context, d *Definition) error

	// UpdateRecurrence replaces the mutable fields of an existing
	// definition: job type, payload, schedule, priority, max attempts,
	// enabled flag and source.
	UpdateRecurrence(ctx context.Context, d *Definition) error

	// GetRecurrence retrieves a definition by ID.
	GetRecurrence(ctx context.Context, recID id.RecurrenceID) (*Definition, error)

	// GetRecurrenceByName retrieves a definition by its unique name.
	GetRecurrenceByName(ctx context.Context, name string) (*Definition, error)

	// ListRecurrences returns all definitions ordered by ID.
	ListRecurrences(ctx context.Context) ([]*Definition, error)

	// MarkRecurrenceEnqueued records the time of the latest enqueue.
	MarkRecurrenceEnqueued(ctx context.Context, recID id.RecurrenceID, at time.Time) error

	// DeleteRecurrence removes a definition. Jobs it spawned are kept.
	DeleteRecurrence(ctx context.Context, recID id.RecurrenceID) error

	// AcquireSchedulerLock takes or renews the deployment-wide scheduler
	// lock for holder. Returns false while another holder owns it.
	AcquireSchedulerLock(ctx context.Context, holder string, ttl time.Duration) (bool, error)
}
