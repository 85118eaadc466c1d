// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED lease, row-locked outcome transitions, a
// single-row scheduler lock, embedded SQL migrations.
package postgres
