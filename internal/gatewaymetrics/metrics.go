// Package gatewaymetrics exposes the daemon's Prometheus metrics (spec
// §6 get_prometheus_metrics), grounded on slimsag-http-server-stabilizer's
// promauto/promhttp wiring.
package gatewaymetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yumosx/gatewaypool/internal/servicemgr"
)

// Exporter collects service-tagged counters and gauges and serves them
// via an HTTP handler.
type Exporter struct {
	requestsTotal  *prometheus.CounterVec
	successesTotal *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	avgResponseMs  *prometheus.GaugeVec
	successRate    *prometheus.GaugeVec
}

// NewExporter registers the metric families against the default Prometheus
// registry (via promauto) and returns the exporter. A second call in the
// same process panics on duplicate registration.
func NewExporter() *Exporter {
	return &Exporter{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "service_requests_total",
			Help: "Total requests forwarded per service.",
		}, []string{"service"}),
		successesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "service_successes_total",
			Help: "Total successful requests per service.",
		}, []string{"service"}),
		failuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "service_failures_total",
			Help: "Total failed requests per service.",
		}, []string{"service"}),
		avgResponseMs: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_avg_response_time_ms",
			Help: "Average response latency per service, in milliseconds.",
		}, []string{"service"}),
		successRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_success_rate",
			Help: "Fraction of recent requests that succeeded, per service.",
		}, []string{"service"}),
	}
}

// Handler returns the promhttp handler serving the registered metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest folds one forwarded request's outcome into the
// per-service counters and gauges.
func (e *Exporter) RecordRequest(service string, success bool, latencyMs float64, successRate float64) {
	e.requestsTotal.WithLabelValues(service).Inc()
	if success {
		e.successesTotal.WithLabelValues(service).Inc()
	} else {
		e.failuresTotal.WithLabelValues(service).Inc()
	}
	e.avgResponseMs.WithLabelValues(service).Set(latencyMs)
	e.successRate.WithLabelValues(service).Set(successRate)
}

// RecordHealthCheck implements servicemgr.MetricsCollector: a health
// check's outcome doesn't directly map to the request counters, but a
// Degraded/Unhealthy result nudges the success-rate gauge toward zero so
// dashboards reflect the service-level picture between request bursts.
func (e *Exporter) RecordHealthCheck(serviceName string, status servicemgr.HealthStatus) {
	switch status {
	case servicemgr.Healthy:
		e.successRate.WithLabelValues(serviceName).Set(1)
	case servicemgr.HealthDegraded:
		e.successRate.WithLabelValues(serviceName).Set(0.5)
	default:
		e.successRate.WithLabelValues(serviceName).Set(0)
	}
}

// RecordStateChange implements servicemgr.MetricsCollector. State
// transitions are already captured via the EventBus for operator
// tooling; the exporter only needs the health-check signal for its
// gauges, so this is a deliberate no-op satisfying the interface.
func (e *Exporter) RecordStateChange(serviceName string, from, to servicemgr.ServiceState) {}

var _ servicemgr.MetricsCollector = (*Exporter)(nil)
