package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MickLesk/syncspace-sub002/ext"
	"github.com/MickLesk/syncspace-sub002/id"
	"github.com/MickLesk/syncspace-sub002/job"
	"github.com/MickLesk/syncspace-sub002/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:   id.NewJobID(),
		Type: "send-email",
	}
}

// counterValue sums the data points of a counter with the given job_type
// (any job_type when jobType is empty).
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, jobType string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				if jobType != "" {
					v, ok := dp.Attributes.Value(attribute.Key("job_type"))
					if !ok || v.AsString() != jobType {
						continue
					}
				}
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Transitions(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	j := newTestJob()

	steps := []struct {
		name string
		fire func() error
	}{
		{"jobs.job.enqueued", func() error { return e.OnJobEnqueued(ctx, j) }},
		{"jobs.job.started", func() error { return e.OnJobStarted(ctx, j) }},
		{"jobs.job.retried", func() error { return e.OnJobRetrying(ctx, j, 1, time.Now()) }},
		{"jobs.job.completed", func() error { return e.OnJobCompleted(ctx, j, 50*time.Millisecond) }},
		{"jobs.job.failed", func() error { return e.OnJobFailed(ctx, j, errors.New("boom")) }},
		{"jobs.job.cancelled", func() error { return e.OnJobCancelled(ctx, j) }},
		{"jobs.job.recovered", func() error { return e.OnJobRecovered(ctx, j, errors.New("lease expired")) }},
	}

	for _, step := range steps {
		if err := step.fire(); err != nil {
			t.Fatalf("%s: unexpected error: %v", step.name, err)
		}
		if got := counterValue(t, reader, step.name, "send-email"); got != 1 {
			t.Errorf("%s = %d, want 1", step.name, got)
		}
	}
}

func TestMetricsExtension_LabelsByType(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnJobEnqueued(ctx, &job.Job{ID: id.NewJobID(), Type: "backup"})
	_ = e.OnJobEnqueued(ctx, &job.Job{ID: id.NewJobID(), Type: "backup"})
	_ = e.OnJobEnqueued(ctx, &job.Job{ID: id.NewJobID(), Type: "report"})

	if got := counterValue(t, reader, "jobs.job.enqueued", "backup"); got != 2 {
		t.Errorf("backup enqueued = %d, want 2", got)
	}
	if got := counterValue(t, reader, "jobs.job.enqueued", "report"); got != 1 {
		t.Errorf("report enqueued = %d, want 1", got)
	}
	if got := counterValue(t, reader, "jobs.job.enqueued", ""); got != 3 {
		t.Errorf("total enqueued = %d, want 3", got)
	}
}

func TestMetricsExtension_RecurrenceFired(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnRecurrenceFired(context.Background(), id.NewRecurrenceID(), id.NewJobID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "jobs.recurrence.fired", ""); got != 1 {
		t.Errorf("recurrence fired = %d, want 1", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()
	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, time.Second)

	for _, name := range []string{"jobs.job.enqueued", "jobs.job.started", "jobs.job.completed"} {
		if got := counterValue(t, reader, name, "send-email"); got != 1 {
			t.Errorf("%s = %d, want 1", name, got)
		}
	}
}

func TestMetricsExtension_GlobalMeter(t *testing.T) {
	e := observability.NewMetricsExtension()
	if e.JobEnqueued == nil || e.JobLatency == nil {
		t.Fatal("instruments should never be nil")
	}
	// The global provider is a noop by default; recording must not panic.
	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
