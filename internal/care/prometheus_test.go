package care

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}

	ctx := context.Background()
	rec.Observe(ctx, "create_event", true, 12*time.Millisecond)
	rec.Observe(ctx, "create_event", true, 7*time.Millisecond)
	rec.Observe(ctx, "create_event", false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	success := rec.results.WithLabelValues("create_event", "success")
	if got := testutil.ToFloat64(success); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	failure := rec.results.WithLabelValues("create_event", "error")
	if got := testutil.ToFloat64(failure); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}

	if err := reg.Register(rec.results); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestPrometheusMetricsRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetricsRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected error registering collectors twice")
	}
}
