package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recurrence_definitions (`+recurrenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID.String(), d.Name, d.JobType, d.Payload, d.Schedule, int(d.Priority),
		d.MaxAttempts, d.Enabled, d.LastEnqueuedAt, d.CreatedAt, d.UpdatedAt, d.Source,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrDuplicateRecurrence
		}
		return fmt.Errorf("jobs/postgres: save recurrence: %w", err)
	}
	return nil
}

// UpdateRecurrence replaces the mutable fields of a definition.
func (s *Store) UpdateRecurrence(ctx context.Context, d *cron.Definition) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recurrence_definitions SET
			job_type = $2, payload = $3, schedule = $4, priority = $5,
			max_attempts = $6, enabled = $7, updated_at = $8, source = $9
		WHERE id = $1`,
		d.ID.String(), d.JobType, d.Payload, d.Schedule, int(d.Priority),
		d.MaxAttempts, d.Enabled, d.UpdatedAt, d.Source,
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: update recurrence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrRecurrenceNotFound
	}
	return nil
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
	d, err := scanRecurrence(s.pool.QueryRow(ctx,
		`SELECT `+recurrenceColumns+` FROM recurrence_definitions WHERE `+column+` = $1`,
		value,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrRecurrenceNotFound
		}
		return nil, fmt.Errorf("jobs/postgres: get recurrence: %w", err)
	}
	return d, nil
}

// ListRecurrences returns all definitions ordered by ID.
func (s *Store) ListRecurrences(ctx context.Context) ([]*cron.Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recurrenceColumns+` FROM recurrence_definitions ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list recurrences: %w", err)
	}
	defer rows.Close()

	var result []*cron.Definition
	for rows.Next() {
		d, err := scanRecurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan recurrence: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: iterate recurrences: %w", err)
	}
	return result, nil
}

// MarkRecurrenceEnqueued records the latest enqueue time.
func (s *Store) MarkRecurrenceEnqueued(ctx context.Context, recID id.RecurrenceID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recurrence_definitions
		SET last_enqueued_at = $2, updated_at = $2
		WHERE id = $1`,
		recID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: mark recurrence enqueued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrRecurrenceNotFound
	}
	return nil
}

// DeleteRecurrence removes a definition.
func (s *Store) DeleteRecurrence(ctx context.Context, recID id.RecurrenceID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM recurrence_definitions WHERE id = $1`, recID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobs/postgres: delete recurrence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrRecurrenceNotFound
	}
	return nil
}

// AcquireSchedulerLock takes the lock when it is free or expired, and
// renews it when holder already owns it.
func (s *Store) AcquireSchedulerLock(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scheduler_locks (name, holder, locked_until)
		VALUES ('scheduler', $1, $2)
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder, locked_until = EXCLUDED.locked_until
		WHERE scheduler_locks.holder = EXCLUDED.holder
		   OR scheduler_locks.locked_until < $3`,
		holder, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("jobs/postgres: acquire scheduler lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanRecurrence(row pgx.Row) (*cron.Definition, error) {
	var (
		d        cron.Definition
		idStr    string
		priority int
	)
	err := row.Scan(
		&idStr, &d.Name, &d.JobType, &d.Payload, &d.Schedule, &priority,
		&d.MaxAttempts, &d.Enabled, &d.LastEnqueuedAt, &d.CreatedAt, &d.UpdatedAt, &d.Source,
	)
	if err != nil {
		return nil, err
	}
	if d.ID, err = id.ParseRecurrenceID(idStr); err != nil {
		return nil, fmt.Errorf("jobs/postgres: parse recurrence id %q: %w", idStr, err)
	}
	d.Priority = job.Priority(priority)
	d.LastEnqueuedAt = utcPtr(d.LastEnqueuedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
