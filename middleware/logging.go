package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/MickLesk/syncspace-sub002/job"
)

// Logging logs each execution at Debug when it begins and once more with
// its outcome: Info on success, Warn when another attempt may follow and
// Error on the job's final attempt or a fatal failure.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		log := logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", j.Attempts),
			slog.Int("max_attempts", j.MaxAttempts),
		)
		log.DebugContext(ctx, "job executing")

		began := time.Now()
		result, err := next(ctx)
		elapsed := slog.Duration("elapsed", time.Since(began))

		outcome := Outcome(err)
		switch {
		case err == nil:
			log.InfoContext(ctx, "job succeeded", elapsed, slog.Int("result_bytes", len(result)))
		case outcome == OutcomeFatal || j.Attempts >= j.MaxAttempts:
			log.ErrorContext(ctx, "job attempt failed", elapsed,
				slog.String("outcome", outcome), slog.String("error", err.Error()))
		default:
			log.WarnContext(ctx, "job attempt failed", elapsed,
				slog.String("outcome", outcome), slog.String("error", err.Error()))
		}
		return result, err
	}
}
