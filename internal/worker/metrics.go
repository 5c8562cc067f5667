package worker

import (
	"sync"
	"time"
)

const recentRequestsCap = 10

// Metrics is the guarded aggregate of a worker's runtime counters
// (SPEC_FULL.md §3 WorkerMetrics). All fields are protected by mu; reads
// taken for dispatch scoring take the lock once and copy out a consistent
// snapshot.
type Metrics struct {
	mu sync.Mutex

	activeRequests int
	totalRequests  uint64
	totalErrors    uint64

	lastHeartbeatAt time.Time
	lastTokenAt     time.Time

	consecutiveFailures int
	consecutiveTimeouts int
	lastTimeoutAt       time.Time

	recentRequests []bool // bounded FIFO, true = success

	avgLatencyMs float64
	degradeScore float64

	panicDetected bool
}

// Snapshot is a consistent point-in-time read of the fields the dispatcher
// scores on.
type Snapshot struct {
	ActiveRequests      int
	ConsecutiveFailures int
	ConsecutiveTimeouts int
	RecentFailRate      float64
	DegradeScore        float64
	AvgLatencyMs        float64
	PanicDetected       bool
	LastHeartbeatAt     time.Time
	LastTokenAt         time.Time
}

func newMetrics() *Metrics {
	return &Metrics{recentRequests: make([]bool, 0, recentRequestsCap)}
}

// Snapshot takes the lock once and returns a consistent copy.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		ActiveRequests:      m.activeRequests,
		ConsecutiveFailures: m.consecutiveFailures,
		ConsecutiveTimeouts: m.consecutiveTimeouts,
		RecentFailRate:      m.recentFailRateLocked(),
		DegradeScore:        m.degradeScore,
		AvgLatencyMs:        m.avgLatencyMs,
		PanicDetected:       m.panicDetected,
		LastHeartbeatAt:     m.lastHeartbeatAt,
		LastTokenAt:         m.lastTokenAt,
	}
}

func (m *Metrics) recentFailRateLocked() float64 {
	if len(m.recentRequests) == 0 {
		return 0
	}
	fails := 0
	for _, ok := range m.recentRequests {
		if !ok {
			fails++
		}
	}
	return float64(fails) / float64(len(m.recentRequests))
}

// RecordHeartbeat stamps last_heartbeat_at to now, used by successful
// health probes and on promotion to Idle; RecordSuccess stamps the same
// field for successful requests.
func (m *Metrics) RecordHeartbeat() {
	m.mu.Lock()
	m.lastHeartbeatAt = time.Now()
	m.mu.Unlock()
}

// RecordToken stamps last_token_at, used while a streaming response is
// producing tokens normally.
func (m *Metrics) RecordToken() {
	m.mu.Lock()
	m.lastTokenAt = time.Now()
	m.mu.Unlock()
}

// RecordSuccess folds a successful outcome into the aggregate: resets
// consecutive failure/timeout counters, pushes a success into the recent
// window, nudges degrade score down, and updates the latency EWMA.
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.consecutiveFailures = 0
	m.consecutiveTimeouts = 0
	m.lastHeartbeatAt = time.Now()
	m.pushRecentLocked(true)
	m.degradeScore -= 0.1
	if m.degradeScore < 0 {
		m.degradeScore = 0
	}
	m.updateLatencyLocked(latency)
}

// RecordFailure folds a failed outcome into the aggregate. isTimeout
// additionally bumps the consecutive-timeout counter, first resetting it
// if the prior timeout is stale (>120s).
func (m *Metrics) RecordFailure(isTimeout bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.totalErrors++
	m.consecutiveFailures++
	m.pushRecentLocked(false)
	m.degradeScore += 0.2
	if m.degradeScore > 1 {
		m.degradeScore = 1
	}

	if isTimeout {
		now := time.Now()
		if !m.lastTimeoutAt.IsZero() && now.Sub(m.lastTimeoutAt) > 120*time.Second {
			m.consecutiveTimeouts = 0
		}
		m.consecutiveTimeouts++
		m.lastTimeoutAt = now
	}
}

func (m *Metrics) pushRecentLocked(ok bool) {
	if len(m.recentRequests) >= recentRequestsCap {
		m.recentRequests = append(m.recentRequests[:0], m.recentRequests[1:]...)
	}
	m.recentRequests = append(m.recentRequests, ok)
}

func (m *Metrics) updateLatencyLocked(latency time.Duration) {
	ms := float64(latency.Milliseconds())
	if m.avgLatencyMs == 0 {
		m.avgLatencyMs = ms
		return
	}
	// EWMA with weight 0.9 on history, per SPEC_FULL.md §3.
	m.avgLatencyMs = 0.9*m.avgLatencyMs + 0.1*ms
}

// IncActive / DecActive track in-flight request count.
func (m *Metrics) IncActive() {
	m.mu.Lock()
	m.activeRequests++
	m.mu.Unlock()
}

func (m *Metrics) DecActive() {
	m.mu.Lock()
	if m.activeRequests > 0 {
		m.activeRequests--
	}
	m.mu.Unlock()
}

func (m *Metrics) ActiveRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRequests
}

// SetPanicDetected marks (or clears, on reset) the stderr-reader's panic
// flag.
func (m *Metrics) SetPanicDetected(v bool) {
	m.mu.Lock()
	m.panicDetected = v
	m.mu.Unlock()
}

func (m *Metrics) PanicDetected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panicDetected
}

// TotalRequests / TotalErrors are cumulative, lifetime-of-process
// counters surfaced in get_gateway_pool_status.
func (m *Metrics) TotalRequests() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalRequests
}

func (m *Metrics) TotalErrors() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalErrors
}

// ConsecutiveFailures / ConsecutiveTimeouts are read directly by the
// supervisor loop's threshold checks.
func (m *Metrics) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

func (m *Metrics) ConsecutiveTimeouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveTimeouts
}

// RecentFailRate reports the failure fraction of the last (up to 10)
// recorded outcomes.
func (m *Metrics) RecentFailRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentFailRateLocked()
}

// DegradeScore reports the current degrade score, clamped to [0, 1].
func (m *Metrics) DegradeScore() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degradeScore
}

// LastHeartbeatAt / LastTokenAt are used by staleness checks.
func (m *Metrics) LastHeartbeatAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeatAt
}

func (m *Metrics) LastTokenAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTokenAt
}

// Reset zeroes the aggregate, used when a worker is torn down (spec §4.3
// stop_worker: "metrics are zeroed").
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeRequests = 0
	m.lastHeartbeatAt = time.Time{}
	m.lastTokenAt = time.Time{}
	m.consecutiveFailures = 0
	m.consecutiveTimeouts = 0
	m.lastTimeoutAt = time.Time{}
	m.recentRequests = m.recentRequests[:0]
	m.avgLatencyMs = 0
	m.degradeScore = 0
	m.panicDetected = false
}
