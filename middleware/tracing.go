package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MickLesk/syncspace-sub002/job"
)

// tracerName is the instrumentation scope of execution spans.
const tracerName = "github.com/MickLesk/syncspace-sub002"

// Tracing wraps each execution in a "jobs.job.execute" span from the
// global TracerProvider. Spans carry the job's identity and attempt
// counters, the recurrence for scheduled instances and, once the handler
// returns, jobs.job.outcome. The last attempt of a job is marked with
// jobs.job.final_attempt so failures that end in Failed are easy to find.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		attrs := []attribute.KeyValue{
			attribute.String("jobs.job.id", j.ID.String()),
			attribute.String("jobs.job.type", j.Type),
			attribute.String("jobs.job.priority", j.Priority.String()),
			attribute.Int("jobs.job.attempt", j.Attempts),
			attribute.Int("jobs.job.max_attempts", j.MaxAttempts),
			attribute.Bool("jobs.job.final_attempt", j.Attempts >= j.MaxAttempts),
		}
		if !j.RecurrenceID.IsNil() {
			attrs = append(attrs, attribute.String("jobs.recurrence.id", j.RecurrenceID.String()))
		}

		ctx, span := tracer.Start(ctx, "jobs.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		result, err := next(ctx)
		span.SetAttributes(attribute.String("jobs.job.outcome", Outcome(err)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}
		span.SetStatus(codes.Ok, "")
		return result, nil
	}
}
