package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/middleware"
)

// executions collects the jobs.job.executions counter keyed by outcome.
func executions(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "jobs.job.executions" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				out[outcome.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		middleware.OutcomeOK:      nil,
		middleware.OutcomeError:   errors.New("smtp 451"),
		middleware.OutcomeFatal:   jobs.Fatal(errors.New("bad recipient")),
		middleware.OutcomeTimeout: &jobs.TimeoutError{JobType: "send-email", Timeout: time.Second},
	}
	for want, err := range cases {
		if got := middleware.Outcome(err); got != want {
			t.Errorf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestMetrics_CountsByOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := middleware.MetricsWithMeter(mp.Meter("test"))
	j := newTestJob()

	results := []error{nil, nil, errors.New("smtp 451"), jobs.Fatal(errors.New("bad recipient"))}
	for _, want := range results {
		_, err := m(context.Background(), j, func(context.Context) ([]byte, error) { return nil, want })
		if !errors.Is(err, want) {
			t.Fatalf("middleware changed the error: %v", err)
		}
	}

	got := executions(t, reader)
	if got[middleware.OutcomeOK] != 2 || got[middleware.OutcomeError] != 1 || got[middleware.OutcomeFatal] != 1 {
		t.Errorf("executions by outcome = %v", got)
	}
}

func TestMetrics_DurationCarriesJobLabels(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := middleware.MetricsWithMeter(mp.Meter("test"))

	_, _ = m(context.Background(), newTestJob(), func(context.Context) ([]byte, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var hist *metricdata.Histogram[float64]
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if h, ok := m.Data.(metricdata.Histogram[float64]); ok && m.Name == "jobs.job.duration" {
				hist = &h
			}
		}
	}
	if hist == nil || len(hist.DataPoints) != 1 {
		t.Fatalf("jobs.job.duration not recorded: %+v", hist)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 || dp.Sum < 0.005 {
		t.Errorf("count %d sum %f", dp.Count, dp.Sum)
	}
	for key, want := range map[string]string{"job_type": "send-email", "priority": "high", "outcome": "ok"} {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); !ok || v.AsString() != want {
			t.Errorf("attribute %s = %q, want %q", key, v.AsString(), want)
		}
	}
}

func TestMetrics_GlobalProviderIsNoop(t *testing.T) {
	out, err := middleware.Metrics()(context.Background(), newTestJob(), func(context.Context) ([]byte, error) {
		return []byte(`{"message_id":"m-1"}`), nil
	})
	if err != nil || string(out) != `{"message_id":"m-1"}` {
		t.Fatalf("got %s, %v", out, err)
	}
}
