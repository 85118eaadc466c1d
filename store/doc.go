// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, cron) defines its own store interface. The composite
// [Store] composes them. A single backend need only implement Store to
// satisfy the engine's persistence contract: the jobs table and the
// recurrence definitions table.
//
// The composite interface:
//
//	type Store interface {
//	    job.Store
//	    cron.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// Every job mutation is one atomic step in the backend (a transaction, a
// conditional update or a Lua script), so two concurrent leases never
// return the same job and an outcome is never recorded against a lease
// the job no longer holds.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/sqlite: SQLite backend (modernc.org/sqlite, no cgo)
//   - store/postgres: PostgreSQL backend using pgx/v5
//   - store/redis: Redis backend using go-redis/v9
//   - store/mongo: MongoDB backend using mongo-driver/v2
//
// [Open] selects a backend from a [jobs.StoreConfig].
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
