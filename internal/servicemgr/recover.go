package servicemgr

import "time"

// pollService implements one poll-cycle iteration of spec §4.5's
// recovery algorithm for a single service: run health_check, emit
// HealthCheck, then fold the result into the service's RecoveryState.
func (m *ServiceManager) pollService(svc Service) {
	if svc.State() == Stopped {
		return
	}

	status := svc.HealthCheck()
	m.events.Emit(Event{Kind: EventHealthCheck, ServiceID: svc.ID(), Message: string(status)})
	if m.metrics != nil {
		m.metrics.RecordHealthCheck(svc.Name(), status)
	}

	m.mu.Lock()
	rs := m.recovery[svc.ID()]
	m.mu.Unlock()
	if rs == nil {
		return
	}

	switch status {
	case Healthy:
		m.onHealthy(svc, rs)
	default:
		m.onUnhealthy(svc, rs, status)
	}

	if rs.deadSinceSet() {
		m.maybeRestart(svc, rs)
	}
}

func (rs *recoveryState) deadSinceSet() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return !rs.deadSince.IsZero()
}

// onHealthy clears recovery bookkeeping and, if the service had been
// anywhere in the recovery path, moves it back to Idle.
func (m *ServiceManager) onHealthy(svc Service, rs *recoveryState) {
	rs.mu.Lock()
	rs.degradedSince = time.Time{}
	rs.deadSince = time.Time{}
	rs.startingSince = time.Time{}
	prior := rs.state
	needsTransition := prior == Starting || prior == Degraded || prior == Unhealthy || prior == Restarting
	if needsTransition {
		rs.state = Idle
	}
	rs.mu.Unlock()

	if needsTransition {
		m.events.Emit(Event{Kind: EventStateChanged, ServiceID: svc.ID(), From: prior, To: Idle})
		if m.metrics != nil {
			m.metrics.RecordStateChange(svc.Name(), prior, Idle)
		}
	}
}

// onUnhealthy folds a degraded/unhealthy health_check result in: during
// the grace period after a start it merely logs, otherwise it moves the
// service to Degraded and, once degraded has persisted past
// degraded_to_dead, escalates to Unhealthy and stamps dead_since.
func (m *ServiceManager) onUnhealthy(svc Service, rs *recoveryState, status HealthStatus) {
	now := time.Now()

	rs.mu.Lock()
	inGrace := !rs.startingSince.IsZero() && rs.state == Starting && now.Sub(rs.startingSince) < m.policy.GracePeriod
	rs.mu.Unlock()
	if inGrace {
		m.logger.Debug("service unhealthy inside startup grace period, deferring", "service_id", svc.ID())
		return
	}

	rs.mu.Lock()
	prior := rs.state
	if rs.degradedSince.IsZero() {
		rs.degradedSince = now
	}
	rs.state = Degraded
	degradedFor := now.Sub(rs.degradedSince)
	escalate := degradedFor >= m.policy.DegradedToDead && rs.deadSince.IsZero()
	if escalate {
		rs.state = Unhealthy
		rs.deadSince = now
	}
	next := rs.state
	rs.mu.Unlock()

	if prior != next {
		m.events.Emit(Event{Kind: EventStateChanged, ServiceID: svc.ID(), From: prior, To: next})
		if m.metrics != nil {
			m.metrics.RecordStateChange(svc.Name(), prior, next)
		}
	}
}

// maybeRestart consults the RestartPolicy once dead_since is set. If the
// restart budget is exhausted the service is paused (stopped, an Error
// event emitted); otherwise it is moved to Restarting with a
// backoff_until deadline, and a detached task is armed to carry out the
// actual stop/start once the deadline passes.
func (m *ServiceManager) maybeRestart(svc Service, rs *recoveryState) {
	now := time.Now()

	rs.mu.Lock()
	if rs.state == Restarting && now.Before(rs.backoffUntil) {
		rs.mu.Unlock()
		return
	}
	rs.mu.Unlock()

	allowed, backoff := rs.restarts.CanRestart(now)
	if !allowed {
		m.pauseService(svc, rs)
		return
	}

	rs.mu.Lock()
	prior := rs.state
	rs.state = Restarting
	rs.backoffUntil = now.Add(backoff)
	deadline := rs.backoffUntil
	rs.mu.Unlock()

	m.events.Emit(Event{Kind: EventStateChanged, ServiceID: svc.ID(), From: prior, To: Restarting})

	go func() {
		sleep := time.Until(deadline)
		if sleep > 0 {
			time.Sleep(sleep)
		}
		m.runDetachedRestart(svc, rs)
	}()
}

// runDetachedRestart has no parent: its only job is to flip the service
// through Restarting → Starting (spec §9 "detached restart tasks").
func (m *ServiceManager) runDetachedRestart(svc Service, rs *recoveryState) {
	rs.mu.Lock()
	stillRestarting := rs.state == Restarting && !rs.deadSince.IsZero()
	rs.mu.Unlock()
	if !stillRestarting {
		return
	}

	_ = svc.Stop()
	time.Sleep(1 * time.Second)
	err := svc.Start()

	if err != nil {
		m.logger.Error("detached service restart failed", "service_id", svc.ID(), "error", err)
		m.events.Emit(Event{Kind: EventError, ServiceID: svc.ID(), Message: err.Error()})
		return
	}

	rs.mu.Lock()
	rs.deadSince = time.Time{}
	rs.degradedSince = time.Time{}
	rs.state = Starting
	rs.startingSince = time.Now()
	rs.mu.Unlock()

	m.events.Emit(Event{Kind: EventRestarted, ServiceID: svc.ID()})
}

// pauseService stops a service whose restart budget is exhausted,
// leaving it Stopped rather than cycling forever.
func (m *ServiceManager) pauseService(svc Service, rs *recoveryState) {
	rs.mu.Lock()
	prior := rs.state
	rs.state = Stopped
	rs.mu.Unlock()

	_ = svc.Stop()
	m.events.Emit(Event{Kind: EventError, ServiceID: svc.ID(), Message: "restart budget exhausted, service paused"})
	m.events.Emit(Event{Kind: EventStateChanged, ServiceID: svc.ID(), From: prior, To: Stopped})
	if m.metrics != nil {
		m.metrics.RecordStateChange(svc.Name(), prior, Stopped)
	}
}
