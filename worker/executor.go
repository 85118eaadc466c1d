// Package worker runs leased jobs. An Executor invokes the registered
// handler through middleware under a hard timeout and persists the
// outcome; a Pool runs a fixed number of slots that lease jobs and hand
// them to the Executor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/middleware"
	"github.com/MickLesk/syncspace-sub002/queue"
)

// DefaultAbandonGrace is how long the executor waits past a handler's
// deadline before it abandons the handler goroutine.
const DefaultAbandonGrace = 100 * time.Millisecond

// Executor runs a single leased job through middleware and the
// registered handler, then records the outcome through the queue.
type Executor struct {
	queue        *queue.Queue
	registry     *job.Registry
	mw           middleware.Middleware
	abandonGrace time.Duration
	logger       *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMiddleware appends middleware to the chain. The first one is the
// outermost.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithAbandonGrace overrides DefaultAbandonGrace.
func WithAbandonGrace(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.abandonGrace = d }
}

// NewExecutor creates an Executor for the queue's registry.
func NewExecutor(q *queue.Queue, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		queue:        q,
		registry:     q.Registry(),
		mw:           middleware.Chain(),
		abandonGrace: DefaultAbandonGrace,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type outcome struct {
	result []byte
	err    error
}

// Execute runs j and records its outcome. The returned error is the
// handler failure (nil on success) or the store error that prevented the
// outcome from being recorded.
//
// Cancelling ctx signals the handler. A handler that neither returns
// within its timeout plus the abandon grace, nor within the grace after
// ctx is cancelled, is abandoned and the attempt is recorded as failed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	h, ok := e.registry.Get(j.Type)
	if !ok {
		cause := jobs.Fatal(fmt.Errorf("%w: %q", jobs.ErrUnknownJobType, j.Type))
		e.logger.Error("leased job has no handler",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
		return e.record(ctx, j, nil, cause)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			// Recover is usually in the chain; this guards chains without it.
			if r := recover(); r != nil {
				done <- outcome{err: jobs.Fatal(fmt.Errorf("panic in %s handler: %v", j.Type, r))}
			}
		}()
		result, err := e.mw(runCtx, j, func(ctx context.Context) ([]byte, error) {
			return h.Func(ctx, j.Payload)
		})
		done <- outcome{result: result, err: err}
	}()

	hard := time.NewTimer(h.Timeout + e.abandonGrace)
	defer hard.Stop()

	abandonTimedOut := func() outcome {
		e.logger.Warn("abandoning job handler after timeout",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Duration("timeout", h.Timeout),
		)
		return outcome{err: &jobs.TimeoutError{JobType: j.Type, Timeout: h.Timeout}}
	}

	var out outcome
	select {
	case out = <-done:
	case <-hard.C:
		out = abandonTimedOut()
	case <-ctx.Done():
		if interrupted(ctx) {
			// An interrupted handler keeps its budget to wind down.
			select {
			case out = <-done:
			case <-hard.C:
				out = abandonTimedOut()
			}
			break
		}
		select {
		case out = <-done:
		case <-time.After(e.abandonGrace):
			e.logger.Warn("abandoning job handler after cancellation",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
			)
			out = outcome{err: fmt.Errorf("handler abandoned: %w", ctx.Err())}
		}
	}

	if out.err != nil && interrupted(ctx) {
		out.err = jobs.Fatal(fmt.Errorf("%w: %w", jobs.ErrInterrupted, out.err))
	}
	return e.record(ctx, j, out.result, classify(j.Type, out.err))
}

func interrupted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), jobs.ErrInterrupted)
}

// record persists the outcome. It detaches from ctx so a pool shutdown
// does not drop an outcome that is already known.
func (e *Executor) record(ctx context.Context, j *job.Job, result []byte, cause error) error {
	persistCtx := context.WithoutCancel(ctx)
	if cause == nil {
		if _, err := e.queue.Complete(persistCtx, j, result); err != nil {
			return err
		}
		return nil
	}

	if _, err := e.queue.Fail(persistCtx, j, cause); err != nil {
		return err
	}
	return cause
}

// classify maps a handler error onto the error taxonomy. Fatal and
// timeout errors pass through; anything else becomes a *jobs.HandlerError.
func classify(jobType string, err error) error {
	if err == nil {
		return nil
	}
	var (
		handlerErr *jobs.HandlerError
		timeoutErr *jobs.TimeoutError
	)
	if jobs.IsFatal(err) || errors.As(err, &timeoutErr) || errors.As(err, &handlerErr) {
		return err
	}
	return &jobs.HandlerError{JobType: jobType, Err: err}
}
