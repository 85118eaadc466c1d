package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/job"
)

// Timeout puts the per-type budget on the handler context. A handler that
// fails after its deadline passed is reported as a *jobs.TimeoutError.
// budget returns zero for types without a limit.
//
// Timeout is cooperative. The executor separately abandons handlers that
// ignore their context.
func Timeout(logger *slog.Logger, budget func(jobType string) time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		d := budget(j.Type)
		if d <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		result, err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !jobs.IsFatal(err) {
			logger.Debug("job handler exceeded its budget",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.Duration("timeout", d),
			)
			return nil, &jobs.TimeoutError{JobType: j.Type, Timeout: d}
		}
		return result, err
	}
}
