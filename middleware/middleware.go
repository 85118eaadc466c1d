package middleware

import (
	"context"

	"github.com/MickLesk/syncspace-sub002/job"
)

// Handler is the terminal step of a chain: the registered job handler
// bound to the job's payload.
type Handler func(ctx context.Context) ([]byte, error)

// Middleware wraps a Handler. It must call next unless it deliberately
// short-circuits.
type Middleware func(ctx context.Context, j *job.Job, next Handler) ([]byte, error)

// Chain composes middleware. The first middleware is the outermost:
//
//	Chain(logging, recover)  // logging → recover → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) ([]byte, error) {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}
