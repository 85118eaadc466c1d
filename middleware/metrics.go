package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/job"
)

// meterName is the instrumentation scope of execution metrics.
const meterName = "github.com/MickLesk/syncspace-sub002"

// Outcome labels attached to execution metrics and spans.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeFatal   = "fatal"
	OutcomeTimeout = "timeout"
)

// Outcome classifies the result of one handler execution.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, jobs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case jobs.IsFatal(err):
		return OutcomeFatal
	default:
		return OutcomeError
	}
}

// Metrics records per-execution metrics on the global MeterProvider. With
// no provider configured the instruments are noops.
//
// Instruments:
//   - jobs.job.duration (Float64Histogram, seconds)
//   - jobs.job.executions (Int64Counter)
//
// Both carry job_type, priority and outcome (see Outcome).
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The API hands back noop instruments on error.
	duration, _ := meter.Float64Histogram(
		"jobs.job.duration",
		metric.WithDescription("Handler execution time"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"jobs.job.executions",
		metric.WithDescription("Handler executions by outcome"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		began := time.Now()
		result, err := next(ctx)

		set := metric.WithAttributeSet(attribute.NewSet(
			attribute.String("job_type", j.Type),
			attribute.String("priority", j.Priority.String()),
			attribute.String("outcome", Outcome(err)),
		))
		duration.Record(ctx, time.Since(began).Seconds(), set)
		executions.Add(ctx, 1, set)
		return result, err
	}
}
