package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		j.ID.String(), j.Type, j.Payload, int(j.Priority), string(j.Status),
		j.Attempts, j.MaxAttempts,
		j.ScheduledAt, j.StartedAt, j.CompletedAt, j.LastError, j.Result,
		nullableID(j.RecurrenceID), nullableID(j.WorkerID), nullableID(j.LeaseID),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobs/postgres: enqueue job: %w", err)
	}
	return nil
}

// LeaseJob atomically claims the best eligible job among req.Types. Uses
// SELECT FOR UPDATE SKIP LOCKED so concurrent callers never block on or
// return the same row.
func (s *Store) LeaseJob(ctx context.Context, req job.LeaseRequest) (*job.Job, error) {
	if len(req.Types) == 0 {
		return nil, nil
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, started_at = $3,
			worker_id = $1, lease_id = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN ('pending', 'retrying')
			  AND job_type = ANY($4)
			  AND scheduled_at <= $3
			ORDER BY priority DESC, scheduled_at ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		req.WorkerID.String(), req.LeaseID.String(), req.Now, req.Types,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs/postgres: lease job: %w", err)
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

// mutate locks the job row, applies fn and writes the lifecycle columns
// back in one transaction. Errors returned by fn pass through unwrapped
// and roll the transaction back.
func (s *Store) mutate(ctx context.Context, jobID id.JobID, op string, fn func(*job.Job) error) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: %s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`,
		jobID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobs/postgres: %s: %w", op, err)
	}

	if err := fn(j); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET
			status = $2, attempts = $3, scheduled_at = $4, started_at = $5,
			completed_at = $6, last_error = $7, result = $8,
			worker_id = $9, lease_id = $10, updated_at = $11
		WHERE id = $1`,
		j.ID.String(), string(j.Status), j.Attempts, j.ScheduledAt, j.StartedAt,
		j.CompletedAt, j.LastError, j.Result,
		nullableID(j.WorkerID), nullableID(j.LeaseID), j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: %s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("jobs/postgres: %s: commit: %w", op, err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`,
		jobID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobs/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching the filter ordered by created_at, then id.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(job.StatusStrings(f.Statuses))+")")
	}
	if len(f.Types) > 0 {
		where = append(where, "job_type = ANY("+arg(f.Types)+")")
	}
	if !f.RecurrenceID.IsNil() {
		where = append(where, "recurrence_id = "+arg(f.RecurrenceID.String()))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HasActiveJob reports whether the recurrence has a non-terminal instance.
func (s *Store) HasActiveJob(ctx context.Context, recID id.RecurrenceID) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM jobs
			WHERE recurrence_id = $1 AND status IN ('pending', 'running', 'retrying')
		)`,
		recID.String(),
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("jobs/postgres: has active job: %w", err)
	}
	return active, nil
}

// ListExpiredLeases returns Running jobs started before cutoff, oldest
// first.
func (s *Store) ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs/postgres: list expired leases: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                        job.Job
		idStr, status            string
		priority                 int
		recID, workerID, leaseID *string
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &priority, &status, &j.Attempts, &j.MaxAttempts,
		&j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &j.LastError, &j.Result,
		&recID, &workerID, &leaseID, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(idStr); err != nil {
		return nil, fmt.Errorf("jobs/postgres: parse job id %q: %w", idStr, err)
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
	j.ScheduledAt = j.ScheduledAt.UTC()
	j.StartedAt = utcPtr(j.StartedAt)
	j.CompletedAt = utcPtr(j.CompletedAt)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

// collectJobs scans all rows into a slice.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var result []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs/postgres: scan job: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs/postgres: iterate jobs: %w", err)
	}
	return result, nil
}
