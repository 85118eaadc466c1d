package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/job"
)

// Recover converts a handler panic into a *jobs.HandlerFatalError so the
// job fails without retry and the slot keeps running.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (result []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("job_type", j.Type),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				result = nil
				retErr = jobs.Fatal(fmt.Errorf("panic in %s handler: %v", j.Type, r))
			}
		}()
		return next(ctx)
	}
}
