package worker

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// ScheduleRestart implements schedule_restart_for_worker (SPEC_FULL.md
// §4.3): validates the request, consults the restart budget, computes a
// backoff delay, and arms a detached goroutine to carry out the restart
// once the deadline passes.
func (w *Worker) ScheduleRestart(reason RestartReason) error {
	cur := w.State()
	if cur.IsTerminal() {
		return fmt.Errorf("worker %d: terminal state %s refuses restart", w.ID, cur)
	}

	w.pendingMu.Lock()
	if cur == Restarting && time.Now().Before(w.nextRestartAt) {
		w.pendingMu.Unlock()
		return fmt.Errorf("worker %d: restart already pending", w.ID)
	}
	w.pendingMu.Unlock()

	if (cur == Init || cur == Ready) && reason != ReasonProcessExit && reason != ReasonPanicDetected {
		return fmt.Errorf("worker %d: state %s only restarts on process exit or panic", w.ID, cur)
	}

	now := time.Now()
	if !w.restartBudget.AllowRestart(now) {
		w.setStateUnchecked(Disabled)
		w.Breaker.ForceOpen()
		w.pendingMu.Lock()
		w.pendingRestart = ""
		w.pendingMu.Unlock()
		return fmt.Errorf("worker %d: restart budget exhausted, disabled", w.ID)
	}

	attempt := w.restartBudget.RestartCount(now)
	delay := w.backoffForAttempt(attempt) + w.remainingCooldown(now)

	w.pendingMu.Lock()
	w.pendingRestart = reason
	w.nextRestartAt = now.Add(delay)
	deadline := w.nextRestartAt
	w.pendingMu.Unlock()

	w.setStateUnchecked(Restarting)

	go func() {
		sleep := time.Until(deadline)
		if sleep > 0 {
			time.Sleep(sleep)
		}
		w.restartWorkerGuard()
	}()

	return nil
}

// backoffForAttempt implements the 1st/2nd/3rd+ backoff ceilings from
// SPEC_FULL.md §4.3, plus jitter.
func (w *Worker) backoffForAttempt(attempt int) time.Duration {
	var base time.Duration
	switch {
	case attempt <= 1:
		base = w.cfg.RestartInitialBackoff
		if base > 10*time.Second {
			base = 10 * time.Second
		}
	case attempt == 2:
		base = 30 * time.Second
	default:
		base = w.cfg.RestartMaxBackoff
		if base > 120*time.Second {
			base = 120 * time.Second
		}
	}
	return base + w.jitter()
}

func (w *Worker) jitter() time.Duration {
	if w.cfg.RestartJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(w.cfg.RestartJitter)))
}

func (w *Worker) remainingCooldown(now time.Time) time.Duration {
	w.lastRestartFailureMu.Lock()
	defer w.lastRestartFailureMu.Unlock()
	if w.lastRestartFailureAt.IsZero() {
		return 0
	}
	cooldown := w.cfg.RestartMaxBackoff
	elapsed := now.Sub(w.lastRestartFailureAt)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}

func (w *Worker) insideCooldown(now time.Time) bool {
	w.lastRestartFailureMu.Lock()
	defer w.lastRestartFailureMu.Unlock()
	if w.lastRestartFailureAt.IsZero() {
		return false
	}
	return now.Sub(w.lastRestartFailureAt) < w.cfg.RestartMaxBackoff
}

// restartWorkerGuard is the detached goroutine's only job: tear the old
// process down and respawn it, obeying the design-note contract that it
// must re-check pendingRestart/Restarting before acting, since a faster
// signal (or a manual Stop) may have moved the worker on already.
func (w *Worker) restartWorkerGuard() {
	w.pendingMu.Lock()
	reason := w.pendingRestart
	stillRestarting := w.State() == Restarting
	w.pendingMu.Unlock()

	if reason == "" || !stillRestarting {
		return
	}

	_ = w.Stop()
	if w.State().IsTerminal() {
		return // Stop's termination-timeout path already sank us to Disabled
	}

	err := w.Start(context.Background())
	if err == nil {
		w.pendingMu.Lock()
		w.pendingRestart = ""
		w.pendingMu.Unlock()
		w.restartFailures.Store(0)
		return
	}

	w.logger.Error("restart attempt failed", "error", err)
	now := time.Now()
	w.lastRestartFailureMu.Lock()
	w.lastRestartFailureAt = now
	w.lastRestartFailureMu.Unlock()
	failures := w.restartFailures.Add(1)

	if int(failures) >= w.cfg.RestartMaxRetries && w.insideCooldown(now) {
		w.setStateUnchecked(Disabled)
		w.Breaker.ForceOpen()
		w.pendingMu.Lock()
		w.pendingRestart = ""
		w.pendingMu.Unlock()
		return
	}

	w.Breaker.ForceOpen()
	w.setState(Unhealthy)

	w.pendingMu.Lock()
	stillPending := w.pendingRestart != ""
	pendingReason := w.pendingRestart
	w.pendingMu.Unlock()
	if stillPending {
		if scheduleErr := w.ScheduleRestart(pendingReason); scheduleErr != nil {
			w.logger.Error("failed to re-arm restart after guard failure", "error", scheduleErr)
		}
	}
}
