package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/yumosx/gatewaypool/internal/breaker"
)

// StatusView is the per-worker snapshot returned by
// get_gateway_pool_status (SPEC_FULL.md §6).
type StatusView struct {
	ID                  int
	Port                int
	Status              string
	ActiveRequests      int
	TotalRequests       uint64
	TotalErrors         uint64
	ConsecutiveFailures int
	CircuitBreakerOpen  bool
}

// Status returns the current status snapshot for this worker.
func (w *Worker) Status() StatusView {
	return StatusView{
		ID:                  w.ID,
		Port:                w.Port(),
		Status:              w.State().String(),
		ActiveRequests:      w.Metrics.ActiveRequests(),
		TotalRequests:       w.Metrics.TotalRequests(),
		TotalErrors:         w.Metrics.TotalErrors(),
		ConsecutiveFailures: w.Metrics.ConsecutiveFailures(),
		CircuitBreakerOpen:  w.Breaker.IsOpen(),
	}
}

// Diagnose renders the multi-line human report described by
// SPEC_FULL.md §11 (diagnose_worker detail), grounded on the Rust
// original's diagnose_worker: port, pid, uptime, breaker state, restart
// count, and the last stderr lines buffered for this worker.
func (w *Worker) Diagnose() string {
	var b strings.Builder
	snap := w.Metrics.Snapshot()

	fmt.Fprintf(&b, "worker %d\n", w.ID)
	fmt.Fprintf(&b, "  state:            %s\n", w.State())
	fmt.Fprintf(&b, "  port:             %d\n", w.Port())
	fmt.Fprintf(&b, "  pid:              %d\n", w.PID())
	if started := w.StartedAt(); !started.IsZero() {
		fmt.Fprintf(&b, "  uptime:           %s\n", time.Since(started).Round(time.Second))
	}
	fmt.Fprintf(&b, "  port_bound:       %t\n", w.PortBound())
	fmt.Fprintf(&b, "  model_ready:      %t\n", w.ModelReady())
	fmt.Fprintf(&b, "  active_requests:  %d\n", snap.ActiveRequests)
	fmt.Fprintf(&b, "  total_requests:   %d\n", w.Metrics.TotalRequests())
	fmt.Fprintf(&b, "  total_errors:     %d\n", w.Metrics.TotalErrors())
	fmt.Fprintf(&b, "  consec_failures:  %d\n", snap.ConsecutiveFailures)
	fmt.Fprintf(&b, "  consec_timeouts:  %d\n", snap.ConsecutiveTimeouts)
	fmt.Fprintf(&b, "  recent_fail_rate: %.2f\n", snap.RecentFailRate)
	fmt.Fprintf(&b, "  degrade_score:    %.2f\n", snap.DegradeScore)
	fmt.Fprintf(&b, "  avg_latency_ms:   %.1f\n", snap.AvgLatencyMs)
	fmt.Fprintf(&b, "  panic_detected:   %t\n", snap.PanicDetected)
	fmt.Fprintf(&b, "  breaker:          %s\n", breakerStateName(w.Breaker.State()))
	fmt.Fprintf(&b, "  restart_failures: %d\n", w.restartFailures.Load())

	lines := w.RecentStderr()
	if len(lines) > 0 {
		fmt.Fprintf(&b, "  recent stderr:\n")
		for _, l := range lines {
			fmt.Fprintf(&b, "    %s\n", l)
		}
	}

	return b.String()
}

func breakerStateName(s breaker.State) string { return s.String() }

// IsDegraded reports whether the worker is currently in the Degraded
// state, used by the dispatcher's scoring penalty.
func (w *Worker) IsDegraded() bool { return w.State() == Degraded }

// IsHalfOpen reports whether the worker's breaker is currently
// half-open.
func (w *Worker) IsHalfOpen() bool { return w.Breaker.State() == breaker.HalfOpen }

// DiagnosticSnapshot is a structured, serializable counterpart of
// Diagnose, used by the msgpack-encoded offline-tooling dump
// (SPEC_FULL.md §10).
type DiagnosticSnapshot struct {
	ID                  int      `msgpack:"id"`
	State               string   `msgpack:"state"`
	Port                int      `msgpack:"port"`
	PID                 int      `msgpack:"pid"`
	ActiveRequests      int      `msgpack:"active_requests"`
	TotalRequests       uint64   `msgpack:"total_requests"`
	TotalErrors         uint64   `msgpack:"total_errors"`
	ConsecutiveFailures int      `msgpack:"consecutive_failures"`
	ConsecutiveTimeouts int      `msgpack:"consecutive_timeouts"`
	RecentFailRate      float64  `msgpack:"recent_fail_rate"`
	DegradeScore        float64  `msgpack:"degrade_score"`
	AvgLatencyMs        float64  `msgpack:"avg_latency_ms"`
	BreakerState        string   `msgpack:"breaker_state"`
	RestartFailures      int32    `msgpack:"restart_failures"`
	RecentStderr        []string `msgpack:"recent_stderr"`
}

// DiagnosticSnapshot builds the structured snapshot for this worker.
func (w *Worker) DiagnosticSnapshot() DiagnosticSnapshot {
	snap := w.Metrics.Snapshot()
	return DiagnosticSnapshot{
		ID:                  w.ID,
		State:               w.State().String(),
		Port:                w.Port(),
		PID:                 w.PID(),
		ActiveRequests:      snap.ActiveRequests,
		TotalRequests:       w.Metrics.TotalRequests(),
		TotalErrors:         w.Metrics.TotalErrors(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		ConsecutiveTimeouts: snap.ConsecutiveTimeouts,
		RecentFailRate:      snap.RecentFailRate,
		DegradeScore:        snap.DegradeScore,
		AvgLatencyMs:        snap.AvgLatencyMs,
		BreakerState:        w.Breaker.State().String(),
		RestartFailures:     w.restartFailures.Load(),
		RecentStderr:        w.RecentStderr(),
	}
}
