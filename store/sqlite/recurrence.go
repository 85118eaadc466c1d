package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/cron"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

const recurrenceColumns = `
	id, name, job_type, payload, schedule, priority, max_attempts,
	enabled, last_enqueued_at, created_at, updated_at, source`

// SaveRecurrence persists a new definition.
func (s *Store) SaveRecurrence(ctx context.Context, d *cron.Definition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recurrence_definitions (`+recurrenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.Name, d.JobType, d.Payload, d.Schedule, int(d.Priority),
		d.MaxAttempts, d.Enabled, nullNanos(d.LastEnqueuedAt), nanos(d.CreatedAt), nanos(d.UpdatedAt),
		d.Source,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrDuplicateRecurrence
		}
		return fmt.Errorf("jobs/sqlite: save recurrence: %w", err)
	}
	return nil
}

// UpdateRecurrence replaces the mutable fields of a definition.
func (s *Store) UpdateRecurrence(ctx context.Context, d *cron.Definition) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recurrence_definitions SET
			job_type = ?, payload = ?, schedule = ?, priority = ?,
			max_attempts = ?, enabled = ?, updated_at = ?, source = ?
		WHERE id = ?`,
		d.JobType, d.Payload, d.Schedule, int(d.Priority),
		d.MaxAttempts, d.Enabled, nanos(d.UpdatedAt), d.Source, d.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobs/sqlite: update recurrence: %w", err)
	}
	return expectOne(res, jobs.ErrRecurrenceNotFound)
}

// GetRecurrence retrieves a definition by ID.
func (s *Store) GetRecurrence(ctx context.Context, recID id.RecurrenceID) (*cron.Definition, error) {
	return s.getRecurrence(ctx, "id", recID.String())
}

// GetRecurrenceByName retrieves a definition by name.
func (s *Store) GetRecurrenceByName(ctx context.Context, name string) (*cron.Definition, error) {
	return s.getRecurrence(ctx, "name", name)
}

func (s *Store) getRecurrence(ctx context.Context, column, value string) (*cron.Definition, error) {
	d, err := scanRecurrence(s.db.QueryRowContext(ctx,
		`SELECT `+recurrenceColumns+` FROM recurrence_definitions WHERE `+column+` = ?`,
		value,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrRecurrenceNotFound
		}
		return nil, fmt.Errorf("jobs/sqlite: get recurrence: %w", err)
	}
	return d, nil
}

// ListRecurrences returns all definitions ordered by ID.
func (s *Store) ListRecurrences(ctx context.Context) ([]*cron.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recurrenceColumns+` FROM recurrence_definitions ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlite: list recurrences: %w", err)
	}
	defer rows.Close()

	var result []*cron.Definition
	for rows.Next() {
		d, err := scanRecurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs/sqlite: scan recurrence: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/sqlite: iterate recurrences: %w", err)
	}
	return result, nil
}

// MarkRecurrenceEnqueued records the latest enqueue time.
func (s *Store) MarkRecurrenceEnqueued(ctx context.Context, recID id.RecurrenceID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recurrence_definitions
		SET last_enqueued_at = ?, updated_at = ?
		WHERE id = ?`,
		nanos(at), nanos(at), recID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobs/sqlite: mark recurrence enqueued: %w", err)
	}
	return expectOne(res, jobs.ErrRecurrenceNotFound)
}

// DeleteRecurrence removes a definition.
func (s *Store) DeleteRecurrence(ctx context.Context, recID id.RecurrenceID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recurrence_definitions WHERE id = ?`, recID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobs/sqlite: delete recurrence: %w", err)
	}
	return expectOne(res, jobs.ErrRecurrenceNotFound)
}

// AcquireSchedulerLock takes the lock when it is free or expired, and
// renews it when holder already owns it.
func (s *Store) AcquireSchedulerLock(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_locks (name, holder, locked_until)
		VALUES ('scheduler', ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET holder = excluded.holder, locked_until = excluded.locked_until
		WHERE scheduler_locks.holder = excluded.holder
		   OR scheduler_locks.locked_until < ?`,
		holder, nanos(now.Add(ttl)), nanos(now),
	)
	if err != nil {
		return false, fmt.Errorf("jobs/sqlite: acquire scheduler lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("jobs/sqlite: acquire scheduler lock: %w", err)
	}
	return n == 1, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobs/sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func scanRecurrence(row scanner) (*cron.Definition, error) {
	var (
		d                    cron.Definition
		idStr                string
		priority             int
		lastEnqueued         sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&idStr, &d.Name, &d.JobType, &d.Payload, &d.Schedule, &priority,
		&d.MaxAttempts, &d.Enabled, &lastEnqueued, &createdAt, &updatedAt, &d.Source,
	)
	if err != nil {
		return nil, err
	}
	if d.ID, err = id.ParseRecurrenceID(idStr); err != nil {
		return nil, fmt.Errorf("jobs/sqlite: parse recurrence id %q: %w", idStr, err)
	}
	d.Priority = job.Priority(priority)
	d.LastEnqueuedAt = fromNullNanos(lastEnqueued)
	d.CreatedAt = fromNanos(createdAt)
	d.UpdatedAt = fromNanos(updatedAt)
	return &d, nil
}
