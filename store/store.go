package store

import (
	"context"

	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/job"
)

// Store is what a backend must provide to run the engine: the job queue
// table, the recurrence table with its scheduler lock, and a lifecycle.
// Every backend under store/ satisfies it and passes storetest.Run.
type Store interface {
	job.Store
	cron.Store

	// Migrate creates or upgrades the schema. It is idempotent.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
