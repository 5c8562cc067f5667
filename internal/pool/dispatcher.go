package pool

import (
	"fmt"
	"time"

	"github.com/yumosx/gatewaypool/internal/worker"
)

// SelectWorker implements select_worker (spec §4.4): with a stickiness
// key it prefers a deterministic worker; otherwise it scores every
// eligible worker least-loaded-first, with a soft penalty for Degraded
// and a hard exclusion for worker 0 once it is unhealthy/permanent/
// disabled.
func (p *Pool) SelectWorker(clientID string) *worker.Worker {
	if clientID != "" {
		if w := p.stickyCandidate(clientID); w != nil {
			return w
		}
	}
	return p.leastLoaded()
}

func (p *Pool) stickyCandidate(clientID string) *worker.Worker {
	n := len(p.workers)
	if n == 0 {
		return nil
	}
	idx := len(clientID) % n
	w := p.workers[idx]

	if w.ID == 0 && w.IsUnhealthyForDispatch() {
		return nil
	}
	if !w.CanAcceptRequest() || w.IsUnhealthyForDispatch() {
		return nil
	}
	if w.Metrics.RecentFailRate() >= p.cfg.Dispatcher.StickyFailRateCutoff {
		return nil
	}

	if w.IsHalfOpen() {
		if w.Metrics.ActiveRequests() > 0 || !w.TryClaimHalfOpenProbe() {
			return nil
		}
	}
	return w
}

// leastLoaded scans every worker and picks the minimum of
// (1+active_requests) * (1+degrade_score), multiplying Degraded workers
// by an additional 5x penalty. Id 0 is always skipped once it is
// unhealthy/permanent/disabled, even outside stickiness.
func (p *Pool) leastLoaded() *worker.Worker {
	var best *worker.Worker
	bestScore := -1.0

	for _, w := range p.workers {
		if w.ID == 0 && w.IsUnhealthyForDispatch() {
			continue
		}
		if !w.CanAcceptRequest() || w.IsUnhealthyForDispatch() {
			continue
		}
		snap := w.Metrics.Snapshot()
		if snap.RecentFailRate > p.cfg.Dispatcher.StickyFailRateCutoff {
			continue
		}
		if w.IsHalfOpen() {
			if snap.ActiveRequests > 0 || !w.TryClaimHalfOpenProbe() {
				continue
			}
		}

		score := float64(1+snap.ActiveRequests) * (1 + snap.DegradeScore)
		if w.IsDegraded() {
			score *= 5
		}

		if best == nil || score < bestScore {
			best = w
			bestScore = score
		}
	}
	return best
}

// SelectWorkerWithQueue implements select_worker_with_queue: polls every
// queuePollInterval until a worker is found or maxWait elapses.
func (p *Pool) SelectWorkerWithQueue(clientID string, maxWait time.Duration) *worker.Worker {
	if w := p.SelectWorker(clientID); w != nil {
		return w
	}

	interval := p.cfg.Dispatcher.QueuePollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		<-ticker.C
		if w := p.SelectWorker(clientID); w != nil {
			return w
		}
	}
	return nil
}

// ErrAllRetriesFailed wraps the last underlying forwarding error after
// every attempt in ForwardRequest is exhausted.
type ErrAllRetriesFailed struct {
	Attempts int
	Last     error
}

func (e *ErrAllRetriesFailed) Error() string {
	return fmt.Sprintf("all %d retries failed: %v", e.Attempts, e.Last)
}

func (e *ErrAllRetriesFailed) Unwrap() error { return e.Last }

// ErrNoWorkerAvailable is returned when no worker could be selected
// within the retry budget; callers surface this as HTTP 429/503.
var ErrNoWorkerAvailable = fmt.Errorf("pool: no worker available")
