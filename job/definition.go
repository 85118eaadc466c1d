package job

import "context"

// Definition is a typed job definition. T is the payload type and R the
// result type; both must be JSON-serializable.
type Definition[T, R any] struct {
	// Type is the job_type this definition handles.
	Type string

	// Handler processes the decoded payload. The context is cancelled when
	// the handler's timeout elapses or the pool shuts down.
	Handler func(ctx context.Context, payload T) (R, error)

	// Opts holds the handler timeout and enqueue defaults.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T, R any](jobType string, handler func(ctx context.Context, payload T) (R, error), opts ...Option) *Definition[T, R] {
	def := &Definition[T, R]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// NewTask creates a definition for handlers that produce no result.
func NewTask[T any](jobType string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T, struct{}] {
	return NewDefinition(jobType, func(ctx context.Context, payload T) (struct{}, error) {
		return struct{}{}, handler(ctx, payload)
	}, opts...)
}
