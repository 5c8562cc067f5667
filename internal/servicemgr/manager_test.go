package servicemgr

import (
	"sync"
	"testing"
	"time"

	"github.com/yumosx/gatewaypool/internal/gwlog"
)

// fakeService is a minimal in-memory Service used to drive the manager's
// recovery loop without a real worker pool.
type fakeService struct {
	mu          sync.Mutex
	id, name    string
	state       ServiceState
	health      HealthStatus
	startCalls  int
	stopCalls   int
	startErr    error
}

func (f *fakeService) ID() string   { return f.id }
func (f *fakeService) Name() string { return f.name }

func (f *fakeService) State() ServiceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeService) setState(s ServiceState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeService) setHealth(h HealthStatus) {
	f.mu.Lock()
	f.health = h
	f.mu.Unlock()
}

func (f *fakeService) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = Idle
	return nil
}

func (f *fakeService) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.state = Stopped
	return nil
}

func (f *fakeService) HealthCheck() HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func testMgrLogger() *gwlog.Logger {
	return gwlog.New(gwlog.Config{Level: "error", Format: "text"})
}

func newTestManager(policy RestartPolicy) *ServiceManager {
	return NewServiceManager(policy, testMgrLogger(), nil)
}

func TestPollService_HealthyFromDegradedTransitionsToIdleAndEmits(t *testing.T) {
	m := newTestManager(RestartPolicy{MaxRestarts: 3, Window: time.Minute, GracePeriod: time.Second, DegradedToDead: time.Minute})
	svc := &fakeService{id: "svc-1", name: "svc-1", state: Degraded, health: Healthy}
	m.Register(svc)
	m.recovery["svc-1"].state = Degraded

	sub := m.Events().Subscribe()
	m.pollService(svc)

	if m.recovery["svc-1"].state != Idle {
		t.Fatalf("expected recovery state Idle, got %s", m.recovery["svc-1"].state)
	}
	select {
	case ev := <-sub:
		if ev.Kind != EventHealthCheck {
			t.Fatalf("expected first event to be HealthCheck, got %s", ev.Kind)
		}
	default:
		t.Fatal("expected a HealthCheck event")
	}
	select {
	case ev := <-sub:
		if ev.Kind != EventStateChanged || ev.From != Degraded || ev.To != Idle {
			t.Fatalf("expected StateChanged Degraded->Idle, got %+v", ev)
		}
	default:
		t.Fatal("expected a StateChanged event")
	}
}

func TestPollService_GracePeriodSuppressesUnhealthyRightAfterStart(t *testing.T) {
	m := newTestManager(RestartPolicy{MaxRestarts: 3, Window: time.Minute, GracePeriod: time.Hour, DegradedToDead: time.Minute})
	svc := &fakeService{id: "svc-2", name: "svc-2", state: Starting, health: HealthUnhealthy}
	m.Register(svc)
	rs := m.recovery["svc-2"]
	rs.state = Starting
	rs.startingSince = time.Now()

	m.pollService(svc)

	if rs.state != Starting {
		t.Fatalf("expected state to stay Starting during the grace period, got %s", rs.state)
	}
	if !rs.deadSince.IsZero() {
		t.Fatal("expected dead_since to remain unset during the grace period")
	}
}

func TestPollService_DegradedEscalatesToUnhealthyPastDegradedToDead(t *testing.T) {
	m := newTestManager(RestartPolicy{MaxRestarts: 3, Window: time.Minute, GracePeriod: time.Millisecond, DegradedToDead: 20 * time.Millisecond})
	svc := &fakeService{id: "svc-3", name: "svc-3", state: Idle, health: HealthDegraded}
	m.Register(svc)
	rs := m.recovery["svc-3"]
	rs.state = Idle

	m.pollService(svc) // first: becomes Degraded, degradedSince stamped
	if rs.state != Degraded {
		t.Fatalf("expected Degraded after first unhealthy poll, got %s", rs.state)
	}

	time.Sleep(30 * time.Millisecond)
	m.pollService(svc) // second: degraded_for exceeds DegradedToDead
	if rs.state != Restarting && rs.state != Unhealthy {
		t.Fatalf("expected escalation past Unhealthy (possibly straight into Restarting), got %s", rs.state)
	}
	if rs.deadSince.IsZero() {
		t.Fatal("expected dead_since to be stamped once escalated")
	}
}

func TestMaybeRestart_ExhaustedBudgetPausesService(t *testing.T) {
	m := newTestManager(RestartPolicy{MaxRestarts: 0, Window: time.Minute})
	svc := &fakeService{id: "svc-4", name: "svc-4", state: Unhealthy, health: HealthUnhealthy}
	m.Register(svc)
	rs := m.recovery["svc-4"]
	rs.state = Unhealthy
	rs.deadSince = time.Now()

	m.maybeRestart(svc, rs)

	if rs.state != Stopped {
		t.Fatalf("expected paused service to end in Stopped, got %s", rs.state)
	}
	if svc.stopCalls != 1 {
		t.Fatalf("expected Stop to be called exactly once, got %d", svc.stopCalls)
	}
}

func TestMaybeRestart_ArmsDetachedRestartThatStartsTheService(t *testing.T) {
	m := newTestManager(RestartPolicy{MaxRestarts: 3, Window: time.Minute, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond})
	svc := &fakeService{id: "svc-5", name: "svc-5", state: Unhealthy, health: HealthUnhealthy}
	m.Register(svc)
	rs := m.recovery["svc-5"]
	rs.state = Unhealthy
	rs.deadSince = time.Now()

	m.maybeRestart(svc, rs)

	// runDetachedRestart sleeps a fixed second between Stop and Start, so
	// give the poll loop enough headroom to observe both calls.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.Lock()
		calls := svc.startCalls
		svc.mu.Unlock()
		if calls > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.startCalls != 1 {
		t.Fatalf("expected the detached restart to call Start exactly once, got %d", svc.startCalls)
	}
	if svc.stopCalls != 1 {
		t.Fatalf("expected the detached restart to call Stop exactly once first, got %d", svc.stopCalls)
	}
}

func TestRunDetachedRestart_SkipsIfNoLongerRestarting(t *testing.T) {
	m := newTestManager(RestartPolicy{MaxRestarts: 3, Window: time.Minute})
	svc := &fakeService{id: "svc-6", name: "svc-6", state: Stopped, health: Healthy}
	m.Register(svc)
	rs := m.recovery["svc-6"]
	rs.state = Stopped // a concurrent onHealthy already moved it on
	rs.deadSince = time.Now()

	m.runDetachedRestart(svc, rs)

	if svc.startCalls != 0 || svc.stopCalls != 0 {
		t.Fatalf("expected no Start/Stop calls once the service is no longer Restarting, got start=%d stop=%d",
			svc.startCalls, svc.stopCalls)
	}
}
