package worker

import "time"

// CanAcceptRequest reports whether this worker should be considered by
// the dispatcher's selection step at all (SPEC_FULL.md §4.4).
func (w *Worker) CanAcceptRequest() bool {
	switch w.State() {
	case Idle, BusyStreaming, Degraded:
		return true
	default:
		return false
	}
}

// IsUnhealthyForDispatch reports whether the worker must never be picked,
// regardless of stickiness.
func (w *Worker) IsUnhealthyForDispatch() bool {
	switch w.State() {
	case Unhealthy, FailedPermanent, Disabled:
		return true
	default:
		return false
	}
}

// MarkBusyStreaming transitions Idle into BusyStreaming and increments the
// active-request counter, called at the start of a forwarded request. A
// Degraded worker stays Degraded (the table has no Degraded →
// BusyStreaming edge) but its counter and token stamp are still updated.
func (w *Worker) MarkBusyStreaming() {
	w.setState(BusyStreaming)
	w.Metrics.IncActive()
	w.Metrics.RecordToken()
}

// CompleteRequest folds a request's outcome into the worker: records the
// outcome on both metrics and breaker (in that order, per SPEC_FULL.md
// §4.2's information-preservation rule), decrements active requests, and
// moves the worker back to Idle on success or Degraded once failures
// accumulate.
func (w *Worker) CompleteRequest(success bool, isTimeout bool, elapsed time.Duration, requestTimeout time.Duration) {
	defer w.Metrics.DecActive()

	if success {
		w.Metrics.RecordSuccess(elapsed)
		w.Breaker.RecordSuccess()
		w.stampLastSuccess()
		if w.State() == BusyStreaming || w.State() == BusyBlocked {
			w.setState(Idle)
		}
		return
	}

	w.Metrics.RecordFailure(isTimeout)
	w.Breaker.RecordFailure()

	if w.Metrics.ConsecutiveTimeouts() >= 5 {
		if err := w.ScheduleRestart(ReasonRequestTimeout); err != nil {
			w.logger.Warn("could not schedule restart after repeated timeouts", "error", err)
		}
	}

	if w.shouldDegrade() {
		w.setState(Degraded)
	} else if w.State() == BusyStreaming || w.State() == BusyBlocked {
		w.setState(Idle)
	}
}

func (w *Worker) shouldDegrade() bool {
	snap := w.Metrics.Snapshot()
	return snap.RecentFailRate >= 0.30 || snap.DegradeScore >= 0.6
}

// CheckBlocked promotes BusyStreaming to BusyBlocked once last_token_at is
// stale beyond tokenTimeout, per the BusyStreaming → BusyBlocked edge.
func (w *Worker) CheckBlocked(tokenTimeout time.Duration) bool {
	if w.State() != BusyStreaming {
		return false
	}
	last := w.Metrics.LastTokenAt()
	if last.IsZero() || time.Since(last) < tokenTimeout {
		return false
	}
	w.setState(BusyBlocked)
	return true
}

// HeartbeatStale reports whether last_heartbeat_at is older than
// staleAfter (default 60s, SPEC_FULL.md §4.2).
func (w *Worker) HeartbeatStale(staleAfter time.Duration) bool {
	hb := w.Metrics.LastHeartbeatAt()
	if hb.IsZero() {
		return false
	}
	return time.Since(hb) > staleAfter
}

// RecordHealthProbeOutcome folds the supervisor loop's periodic /health
// probe result into the worker: success refreshes the heartbeat and
// records success on the breaker; failure records a failure and applies
// the degrade-at-5 / restart-at-8 thresholds from SPEC_FULL.md §4.2.
func (w *Worker) RecordHealthProbeOutcome(success bool) {
	w.stampLastHealthCheck()

	if success {
		w.Metrics.RecordHeartbeat()
		w.Breaker.RecordSuccess()
		// Degraded -> Idle is the only legal direct recovery edge; an
		// Unhealthy worker only comes back by way of Restarting, so a
		// recovered probe there is left for the restart scheduler instead
		// of attempted here.
		if w.State() == Degraded {
			w.setState(Idle)
		}
		return
	}

	w.Metrics.RecordFailure(false)
	w.Breaker.RecordFailure()

	fails := w.Metrics.ConsecutiveFailures()
	switch {
	case fails >= 8:
		if w.State() != Restarting {
			w.setState(Unhealthy)
			if err := w.ScheduleRestart(ReasonHealthFailed); err != nil {
				w.logger.Warn("could not schedule restart after repeated health failures", "error", err)
			}
		}
	case fails >= 5:
		if w.State() == Idle || w.State() == BusyStreaming || w.State() == BusyBlocked {
			w.setState(Degraded)
		}
	}
}

// RecordPanicRestart is called by the supervisor loop when it observes
// Metrics.PanicDetected() set by the stderr reader; it schedules a
// restart with PanicDetected as the reason.
func (w *Worker) RecordPanicRestart() error {
	return w.ScheduleRestart(ReasonPanicDetected)
}
