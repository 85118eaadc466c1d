// Package sqlite implements the store on modernc.org/sqlite through
// database/sql. It suits embedded deployments, CLI tools and tests.
//
// SQLite allows one writer at a time, so the store pins the pool to a
// single connection. Every transition runs inside that connection, which
// makes lease and outcome updates serializable without row locks.
//
//	s, err := sqlite.New("jobs.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
//
// Timestamps are stored as UTC Unix nanoseconds.
package sqlite
