package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

const jobColumns = `
	id, job_type, payload, priority, status, attempts, max_attempts,
	scheduled_at, started_at, completed_at, last_error, result,
	recurrence_id, worker_id, lease_id, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Type, j.Payload, int(j.Priority), string(j.Status),
		j.Attempts, j.MaxAttempts,
		nanos(j.ScheduledAt), nullNanos(j.StartedAt), nullNanos(j.CompletedAt), j.LastError, j.Result,
		nullableID(j.RecurrenceID), nullableID(j.WorkerID), nullableID(j.LeaseID),
		nanos(j.CreatedAt), nanos(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobs/sqlite: enqueue job: %w", err)
	}
	return nil
}

// LeaseJob claims the best eligible job among req.Types in one
// UPDATE ... RETURNING statement.
func (s *Store) LeaseJob(ctx context.Context, req job.LeaseRequest) (*job.Job, error) {
	if len(req.Types) == 0 {
		return nil, nil
	}

	now := nanos(req.Now)
	args := []any{now, req.WorkerID.String(), req.LeaseID.String(), now, now}
	for _, t := range req.Types {
		args = append(args, t)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, started_at = ?,
			worker_id = ?, lease_id = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN ('pending', 'retrying')
			  AND scheduled_at <= ?
			  AND job_type IN (`+placeholders(len(req.Types))+`)
			ORDER BY priority DESC, scheduled_at ASC, created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		args...,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs/sqlite: lease job: %w", err)
	}
	return j, nil
}

// CompleteJob moves a leased job to Completed.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, leaseID id.LeaseID, result []byte, now time.Time) (*job.Job, error) {
	return s.mutate(ctx, jobID, "complete job", func(j *job.Job) error {
		return j.Complete(leaseID, result, now)
	})
}

// FailJob records a failed attempt on a leased job.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, leaseID id.LeaseID, f job.Failure) (*job.Job, error) {
	return s.mutate(ctx, jobID, "fail job", func(j *job.Job) error {
		return j.Fail(leaseID, f)
	})
}

// CancelJob moves a Pending or Retrying job to Cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	return s.mutate(ctx, jobID, "cancel job", func(j *job.Job) error {
		return j.Cancel(now)
	})
}

// mutate reads the job, applies fn and writes the lifecycle columns back
// in one transaction. Errors returned by fn pass through unwrapped.
func (s *Store) mutate(ctx context.Context, jobID id.JobID, op string, fn func(*job.Job) error) (*job.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlite: %s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	j, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobs/sqlite: %s: %w", op, err)
	}

	if err := fn(j); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, attempts = ?, scheduled_at = ?, started_at = ?,
			completed_at = ?, last_error = ?, result = ?,
			worker_id = ?, lease_id = ?, updated_at = ?
		WHERE id = ?`,
		string(j.Status), j.Attempts, nanos(j.ScheduledAt), nullNanos(j.StartedAt),
		nullNanos(j.CompletedAt), j.LastError, j.Result,
		nullableID(j.WorkerID), nullableID(j.LeaseID), nanos(j.UpdatedAt),
		j.ID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlite: %s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobs/sqlite: %s: commit: %w", op, err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobs/sqlite: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching the filter ordered by created_at, then id.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(f.Types) > 0 {
		where = append(where, "job_type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if !f.RecurrenceID.IsNil() {
		where = append(where, "recurrence_id = ?")
		args = append(args, f.RecurrenceID.String())
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	// SQLite only accepts OFFSET after LIMIT; -1 means unbounded.
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HasActiveJob reports whether the recurrence has a non-terminal instance.
func (s *Store) HasActiveJob(ctx context.Context, recID id.RecurrenceID) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM jobs
			WHERE recurrence_id = ? AND status IN ('pending', 'running', 'retrying')
		)`,
		recID.String(),
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("jobs/sqlite: has active job: %w", err)
	}
	return active, nil
}

// ListExpiredLeases returns Running jobs started before cutoff, oldest
// first.
func (s *Store) ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'running' AND started_at < ?
		ORDER BY started_at ASC
		LIMIT ?`,
		nanos(cutoff), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/sqlite: list expired leases: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		j                        job.Job
		idStr, status            string
		priority                 int
		scheduledAt, createdAt   int64
		updatedAt                int64
		startedAt, completedAt   sql.NullInt64
		recID, workerID, leaseID sql.NullString
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &priority, &status, &j.Attempts, &j.MaxAttempts,
		&scheduledAt, &startedAt, &completedAt, &j.LastError, &j.Result,
		&recID, &workerID, &leaseID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(idStr); err != nil {
		return nil, fmt.Errorf("jobs/sqlite: parse job id %q: %w", idStr, err)
	}
	if j.RecurrenceID, err = parseNullableID(recID, id.PrefixRecurrence); err != nil {
		return nil, err
	}
	if j.WorkerID, err = parseNullableID(workerID, id.PrefixWorker); err != nil {
		return nil, err
	}
	if j.LeaseID, err = parseNullableID(leaseID, id.PrefixLease); err != nil {
		return nil, err
	}

	j.Priority = job.Priority(priority)
	j.Status = job.Status(status)
	j.ScheduledAt = fromNanos(scheduledAt)
	j.StartedAt = fromNullNanos(startedAt)
	j.CompletedAt = fromNullNanos(completedAt)
	j.CreatedAt = fromNanos(createdAt)
	j.UpdatedAt = fromNanos(updatedAt)
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	var result []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs/sqlite: scan job: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/sqlite: iterate jobs: %w", err)
	}
	return result, nil
}
