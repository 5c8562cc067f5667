package gatewaymetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yumosx/gatewaypool/internal/servicemgr"
)

// A single Exporter is shared across the subtests below: promauto
// registers its metric families against the default Prometheus registry,
// and a second NewExporter call in the same test binary would panic on
// duplicate registration.
func TestExporter(t *testing.T) {
	e := NewExporter()

	t.Run("RecordRequest updates counters and gauges", func(t *testing.T) {
		e.RecordRequest("svc-a", true, 42.5, 0.9)
		if got := testutil.ToFloat64(e.requestsTotal.WithLabelValues("svc-a")); got != 1 {
			t.Errorf("requests_total = %v, want 1", got)
		}
		if got := testutil.ToFloat64(e.successesTotal.WithLabelValues("svc-a")); got != 1 {
			t.Errorf("successes_total = %v, want 1", got)
		}
		if got := testutil.ToFloat64(e.failuresTotal.WithLabelValues("svc-a")); got != 0 {
			t.Errorf("failures_total = %v, want 0", got)
		}
		if got := testutil.ToFloat64(e.avgResponseMs.WithLabelValues("svc-a")); got != 42.5 {
			t.Errorf("avg_response_time_ms = %v, want 42.5", got)
		}
	})

	t.Run("RecordRequest failure increments the failure counter", func(t *testing.T) {
		e.RecordRequest("svc-b", false, 10, 0.0)
		if got := testutil.ToFloat64(e.failuresTotal.WithLabelValues("svc-b")); got != 1 {
			t.Errorf("failures_total = %v, want 1", got)
		}
	})

	t.Run("RecordHealthCheck maps status to a success-rate gauge", func(t *testing.T) {
		e.RecordHealthCheck("svc-c", servicemgr.Healthy)
		if got := testutil.ToFloat64(e.successRate.WithLabelValues("svc-c")); got != 1 {
			t.Errorf("success_rate after Healthy = %v, want 1", got)
		}
		e.RecordHealthCheck("svc-c", servicemgr.HealthDegraded)
		if got := testutil.ToFloat64(e.successRate.WithLabelValues("svc-c")); got != 0.5 {
			t.Errorf("success_rate after Degraded = %v, want 0.5", got)
		}
		e.RecordHealthCheck("svc-c", servicemgr.HealthUnhealthy)
		if got := testutil.ToFloat64(e.successRate.WithLabelValues("svc-c")); got != 0 {
			t.Errorf("success_rate after Unhealthy = %v, want 0", got)
		}
	})
}
