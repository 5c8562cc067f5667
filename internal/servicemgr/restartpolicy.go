package servicemgr

import (
	"math"
	"sync"
	"time"
)

// RestartPolicy governs the service-level restart budget (spec §4.5),
// distinct from (and slower-cadence than) the per-worker RestartBudget
// in internal/worker: the service-manager tracks whether the service as
// a whole is still worth recovering, not worker-level correctness.
type RestartPolicy struct {
	MaxRestarts    int
	Window         time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	GracePeriod    time.Duration
	DegradedToDead time.Duration
}

// restartHistory is one service's sliding window of restart timestamps,
// guarded by its own mutex so CanRestart's check-and-record step is
// atomic from the caller's point of view.
type restartHistory struct {
	mu         sync.Mutex
	policy     RestartPolicy
	timestamps []time.Time
}

func newRestartHistory(policy RestartPolicy) *restartHistory {
	return &restartHistory{policy: policy}
}

// CanRestart prunes the history to the policy window and reports whether
// the service may restart again. When it may, the attempt is recorded and
// the returned duration is the backoff (base × 2^attempt capped at
// max_backoff) the caller should wait before actually restarting.
func (h *restartHistory) CanRestart(now time.Time) (bool, time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pruneLocked(now)
	if len(h.timestamps) >= h.policy.MaxRestarts {
		return false, 0
	}

	attempt := len(h.timestamps)
	h.timestamps = append(h.timestamps, now)

	backoff := time.Duration(float64(h.policy.BaseBackoff) * math.Pow(2, float64(attempt)))
	if h.policy.MaxBackoff > 0 && backoff > h.policy.MaxBackoff {
		backoff = h.policy.MaxBackoff
	}
	return true, backoff
}

func (h *restartHistory) pruneLocked(now time.Time) {
	cutoff := now.Add(-h.policy.Window)
	i := 0
	for i < len(h.timestamps) && h.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		h.timestamps = append(h.timestamps[:0], h.timestamps[i:]...)
	}
}

func (h *restartHistory) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timestamps = nil
}
