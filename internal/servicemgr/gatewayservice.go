package servicemgr

import (
	"context"
	"sync"

	"github.com/yumosx/gatewaypool/internal/pool"
)

// GatewayPoolService wraps a *pool.Pool as a Service (spec §4.5): state()
// is derived from get_gateway_state at query time; start/stop delegate
// to the pool's start-all/stop-all, themselves already one-shot guarded.
type GatewayPoolService struct {
	id   string
	name string
	p    *pool.Pool

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewGatewayPoolService wraps p under the given service id/name.
func NewGatewayPoolService(id, name string, p *pool.Pool) *GatewayPoolService {
	return &GatewayPoolService{id: id, name: name, p: p}
}

func (s *GatewayPoolService) ID() string   { return s.id }
func (s *GatewayPoolService) Name() string { return s.name }

func (s *GatewayPoolService) State() ServiceState {
	s.mu.Lock()
	started, stopped := s.started, s.stopped
	s.mu.Unlock()

	if stopped {
		return Stopped
	}
	if !started {
		return Stopped
	}

	switch s.p.GatewayState() {
	case pool.StateHealthy:
		return Idle
	case pool.StateBusy:
		return Busy
	case pool.StateDegraded:
		return Degraded
	default:
		return Unhealthy
	}
}

func (s *GatewayPoolService) Start() error {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()
	return s.p.StartAll(context.Background())
}

func (s *GatewayPoolService) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return s.p.StopAll()
}

func (s *GatewayPoolService) HealthCheck() HealthStatus {
	switch s.p.GatewayState() {
	case pool.StateHealthy, pool.StateBusy:
		return Healthy
	case pool.StateDegraded:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}
