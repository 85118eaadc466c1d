package event

import (
	"context"
	"errors"
	"log/slog"
)

// Sink receives job events. Implementations must tolerate duplicates.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Publish calls f(ctx, e).
func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// MultiSink publishes to every sink in order. All sinks are attempted;
// their errors are joined.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each event to a structured logger at Info level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(ctx context.Context, e Event) error {
	attrs := []slog.Attr{
		slog.String("job_id", e.JobID),
		slog.String("job_type", e.JobType),
		slog.String("status", string(e.Status)),
		slog.Int("attempts", e.Attempts),
		slog.Time("timestamp", e.Timestamp),
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "job event", attrs...)
	return nil
}
