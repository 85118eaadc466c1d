package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobStarted      = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobCancelled    = (*MetricsExtension)(nil)
	_ ext.JobRecovered    = (*MetricsExtension)(nil)
	_ ext.RecurrenceFired = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope of the lifecycle counters.
const meterName = "github.com/MickLesk/syncspace-sub002/observability"

// MetricsExtension counts job transitions. Register it on the engine's
// extension registry.
type MetricsExtension struct {
	JobEnqueued     metric.Int64Counter
	JobStarted      metric.Int64Counter
	JobCompleted    metric.Int64Counter
	JobFailed       metric.Int64Counter
	JobRetried      metric.Int64Counter
	JobCancelled    metric.Int64Counter
	JobRecovered    metric.Int64Counter
	RecurrenceFired metric.Int64Counter

	// JobLatency is the time from leasing to completion, in seconds.
	JobLatency metric.Float64Histogram
}

// NewMetricsExtension uses the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter uses the given meter. Instrument creation
// errors fall back to noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	latency, _ := meter.Float64Histogram("jobs.job.latency",
		metric.WithDescription("Time from lease to successful completion"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		JobEnqueued:     counter("jobs.job.enqueued", "Jobs persisted in pending state"),
		JobStarted:      counter("jobs.job.started", "Leases granted"),
		JobCompleted:    counter("jobs.job.completed", "Jobs that completed"),
		JobFailed:       counter("jobs.job.failed", "Jobs that failed permanently"),
		JobRetried:      counter("jobs.job.retried", "Failed attempts scheduled for retry"),
		JobCancelled:    counter("jobs.job.cancelled", "Jobs cancelled before running"),
		JobRecovered:    counter("jobs.job.recovered", "Expired leases reclaimed by the sweep"),
		RecurrenceFired: counter("jobs.recurrence.fired", "Jobs enqueued by the recurrence scheduler"),
		JobLatency:      latency,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", j.Type))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobStarted.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1, typeAttr(j))
	m.JobLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("job_type", j.Type)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobRecovered implements ext.JobRecovered.
func (m *MetricsExtension) OnJobRecovered(ctx context.Context, j *job.Job, _ error) error {
	m.JobRecovered.Add(ctx, 1, typeAttr(j))
	return nil
}

// ── Recurrence hooks ────────────────────────────────

// OnRecurrenceFired implements ext.RecurrenceFired.
func (m *MetricsExtension) OnRecurrenceFired(ctx context.Context, _ id.RecurrenceID, _ id.JobID) error {
	m.RecurrenceFired.Add(ctx, 1)
	return nil
}
