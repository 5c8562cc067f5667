// Package breaker implements the circuit breaker and token-bucket rate
// limiter shared by the worker pool and the service manager.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the three circuit breaker states.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a CircuitBreaker. Zero values are replaced with the defaults
// noted per field.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed that
	// trips the breaker to Open. Default 5.
	FailureThreshold int
	// SuccessThreshold is the number of successes in HalfOpen needed to
	// close the breaker again. Default 1.
	SuccessThreshold int
	// Timeout is how long the breaker stays Open before admitting a single
	// probe request (transitioning to HalfOpen). Default 30s.
	Timeout time.Duration
	// Window is the rolling window used for failure-rate statistics.
	// Default 60s.
	Window time.Duration
	// MinSamples is the minimum sample count before failure-rate statistics
	// are considered meaningful. Default 10.
	MinSamples int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	return c
}

// CircuitBreaker guards a resource (a worker or a service) against repeated
// failures. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	state State32

	mu                sync.Mutex
	consecutiveFails  int
	halfOpenSuccesses int
	openedAt          time.Time

	samplesMu sync.Mutex
	samples   []sample
}

// State32 is a lock-free atomic wrapper around State, exported so callers
// can read it without touching the breaker's mutex.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State       { return State(s.v.Load()) }
func (s *State32) Store(st State)    { s.v.Store(int32(st)) }
func (s *State32) cas(old, new_ State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new_))
}

type sample struct {
	at      time.Time
	success bool
}

// New creates a CircuitBreaker starting in the Closed state.
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults()}
}

// CanExecute reports whether a request should be admitted. In Closed it
// always returns true. In Open it returns true (and atomically transitions
// to HalfOpen) only once Timeout has elapsed since the breaker opened. In
// HalfOpen it returns true — the caller is responsible for only sending the
// probe requests it intends to (see worker.halfOpenTesting).
func (b *CircuitBreaker) CanExecute() bool {
	switch b.state.Load() {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		b.mu.Lock()
		elapsed := time.Since(b.openedAt)
		b.mu.Unlock()
		if elapsed < b.cfg.Timeout {
			return false
		}
		if b.state.cas(Open, HalfOpen) {
			b.mu.Lock()
			b.halfOpenSuccesses = 0
			b.mu.Unlock()
		}
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.recordSample(true)

	switch b.state.Load() {
	case Closed:
		b.mu.Lock()
		b.consecutiveFails = 0
		b.mu.Unlock()
	case HalfOpen:
		b.mu.Lock()
		b.halfOpenSuccesses++
		reachedThreshold := b.halfOpenSuccesses >= b.cfg.SuccessThreshold
		b.mu.Unlock()
		if reachedThreshold {
			b.close()
		}
	}
}

// RecordFailure reports a failed call.
func (b *CircuitBreaker) RecordFailure() {
	b.recordSample(false)

	switch b.state.Load() {
	case Closed:
		b.mu.Lock()
		b.consecutiveFails++
		trip := b.consecutiveFails >= b.cfg.FailureThreshold
		b.mu.Unlock()
		if trip {
			b.open()
		}
	case HalfOpen:
		// Any failure while probing re-opens immediately.
		b.open()
	}
}

// ForceOpen is the administrative move used by terminal worker/service
// transitions (Disabled, paused services) — it bypasses the failure
// threshold entirely.
func (b *CircuitBreaker) ForceOpen() {
	b.open()
}

// Reset returns the breaker to Closed with all counters cleared. Used when
// a worker or service is fully respawned.
func (b *CircuitBreaker) Reset() {
	b.state.Store(Closed)
	b.mu.Lock()
	b.consecutiveFails = 0
	b.halfOpenSuccesses = 0
	b.openedAt = time.Time{}
	b.mu.Unlock()
	b.samplesMu.Lock()
	b.samples = b.samples[:0]
	b.samplesMu.Unlock()
}

func (b *CircuitBreaker) open() {
	b.state.Store(Open)
	b.mu.Lock()
	b.openedAt = time.Now()
	b.mu.Unlock()
}

func (b *CircuitBreaker) close() {
	b.state.Store(Closed)
	b.mu.Lock()
	b.consecutiveFails = 0
	b.halfOpenSuccesses = 0
	b.openedAt = time.Time{}
	b.mu.Unlock()
}

func (b *CircuitBreaker) recordSample(success bool) {
	b.samplesMu.Lock()
	defer b.samplesMu.Unlock()

	now := time.Now()
	b.samples = append(b.samples, sample{at: now, success: success})

	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}

// FailureRate returns the fraction of failed samples inside the
// configured rolling window. Returns 0 if fewer than MinSamples samples
// have been recorded.
func (b *CircuitBreaker) FailureRate() float64 {
	b.samplesMu.Lock()
	defer b.samplesMu.Unlock()

	if len(b.samples) < b.cfg.MinSamples {
		return 0
	}
	fails := 0
	for _, s := range b.samples {
		if !s.success {
			fails++
		}
	}
	return float64(fails) / float64(len(b.samples))
}

// IsOpen reports whether the breaker is currently in the Open state, for
// status reporting. Unlike CanExecute it never transitions the breaker —
// inspecting status must not itself flip Open into HalfOpen.
func (b *CircuitBreaker) IsOpen() bool {
	return b.state.Load() == Open
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() State {
	return b.state.Load()
}
