package servicemgr

import (
	"sync"
	"time"

	"github.com/yumosx/gatewaypool/internal/gwlog"
)

// MetricsCollector receives the outcome of each poll-cycle health check,
// so a Prometheus exporter (internal/gatewaymetrics) can be wired in
// without the manager importing it directly.
type MetricsCollector interface {
	RecordHealthCheck(serviceName string, status HealthStatus)
	RecordStateChange(serviceName string, from, to ServiceState)
}

// recoveryState is the per-service bookkeeping the manager's poll loop
// maintains (spec §4.5's RecoveryState).
type recoveryState struct {
	mu            sync.Mutex
	state         ServiceState
	startingSince time.Time
	degradedSince time.Time
	deadSince     time.Time
	backoffUntil  time.Time
	restarts      *restartHistory
}

// ServiceManager supervises a set of Services on a slow, whole-service
// cadence (spec §4.5, §9: "the service manager's slow scheduler (10s,
// whole-pool) ... tracks whether the service-as-a-whole is still
// useful"). This is deliberately a separate loop from the pool's own
// per-worker 10s supervisor; collapsing the two would conflate worker
// correctness with service usefulness.
type ServiceManager struct {
	logger  *gwlog.Logger
	policy  RestartPolicy
	events  *EventBus
	metrics MetricsCollector

	mu       sync.Mutex
	services map[string]Service
	recovery map[string]*recoveryState

	cancel chan struct{}
	done   chan struct{}
}

// NewServiceManager creates an empty manager. Services are registered
// with Register before Run is started.
func NewServiceManager(policy RestartPolicy, logger *gwlog.Logger, metrics MetricsCollector) *ServiceManager {
	return &ServiceManager{
		logger:   logger,
		policy:   policy,
		events:   NewEventBus(),
		metrics:  metrics,
		services: make(map[string]Service),
		recovery: make(map[string]*recoveryState),
	}
}

// Events exposes the manager's event bus for external subscribers.
func (m *ServiceManager) Events() *EventBus { return m.events }

// Register adds a service under management. Must be called before Run.
func (m *ServiceManager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.ID()] = svc
	m.recovery[svc.ID()] = &recoveryState{
		state:    svc.State(),
		restarts: newRestartHistory(m.policy),
	}
}

// Service returns the registered service by id, if any.
func (m *ServiceManager) Service(id string) (Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	return svc, ok
}

// All returns every registered service.
func (m *ServiceManager) All() []Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Service, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc)
	}
	return out
}

// StartService starts one service and stamps its starting_since for the
// grace-period calculation.
func (m *ServiceManager) StartService(id string) error {
	svc, ok := m.Service(id)
	if !ok {
		return errNoSuchService(id)
	}

	m.mu.Lock()
	rs := m.recovery[id]
	m.mu.Unlock()

	rs.mu.Lock()
	rs.startingSince = time.Now()
	rs.degradedSince = time.Time{}
	rs.deadSince = time.Time{}
	rs.mu.Unlock()

	return svc.Start()
}

// StopService stops one service.
func (m *ServiceManager) StopService(id string) error {
	svc, ok := m.Service(id)
	if !ok {
		return errNoSuchService(id)
	}
	return svc.Stop()
}

// RestartService stops then starts a service on the caller's goroutine
// (used by the CLI's explicit `restart-service` subcommand — the
// manager's own automatic recovery path uses the detached task in
// recover.go instead).
func (m *ServiceManager) RestartService(id string) error {
	if err := m.StopService(id); err != nil {
		return err
	}
	return m.StartService(id)
}

// Run starts the manager's poll loop on a new goroutine. Call Stop to
// end it.
func (m *ServiceManager) Run(pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	m.cancel = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.cancel:
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

// Stop ends the poll loop and waits for it to exit.
func (m *ServiceManager) Stop() {
	if m.cancel == nil {
		return
	}
	close(m.cancel)
	<-m.done
}

func (m *ServiceManager) tick() {
	for _, svc := range m.All() {
		m.pollService(svc)
	}
}

type noSuchServiceError string

func (e noSuchServiceError) Error() string { return "servicemgr: no such service " + string(e) }

func errNoSuchService(id string) error { return noSuchServiceError(id) }
