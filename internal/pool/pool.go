// Package pool owns the fixed-size vector of workers and the dispatcher
// that selects among them, adapted from the teacher's pkg/pyproc.Pool —
// kept: one mutex-free immutable worker vector, a start-all/stop-all
// lifecycle, a background health monitor. Replaced: the teacher's
// round-robin-plus-connection-pool dispatch is replaced by the
// least-loaded-with-stickiness scoring and HTTP forwarding this spec
// requires.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/yumosx/gatewaypool/internal/gatewayconfig"
	"github.com/yumosx/gatewaypool/internal/gwlog"
	"github.com/yumosx/gatewaypool/internal/jsoncodec"
	"github.com/yumosx/gatewaypool/internal/worker"
)

// GatewayState is the aggregate health of the pool, reported by
// get_gateway_state.
type GatewayState string

const (
	StateHealthy     GatewayState = "Healthy"
	StateBusy        GatewayState = "Busy"
	StateDegraded    GatewayState = "Degraded"
	StateUnavailable GatewayState = "Unavailable"
)

// Pool is the fixed-size collection of workers behind the dispatcher
// (SPEC_FULL.md §3, §5: "the pool's workers vector is immutable after
// construction").
type Pool struct {
	cfg    gatewayconfig.Config
	logger *gwlog.Logger

	workers []*worker.Worker // immutable after New

	modelCache *modelListCache
	httpClient *dispatchClient

	initialized sync.Once
	stopOnce    sync.Once
	stopped     bool
	stopMu      sync.Mutex

	supervisorCancel context.CancelFunc
	supervisorDone   chan struct{}
}

// New constructs the pool's worker vector. No child processes are
// spawned yet; call StartAll to do that.
func New(cfg gatewayconfig.Config, logger *gwlog.Logger) *Pool {
	size := cfg.Pool.Size
	if size <= 0 {
		size = 1
	}

	p := &Pool{
		cfg:        cfg,
		logger:     logger,
		workers:    make([]*worker.Worker, size),
		modelCache: newModelListCache(cfg.Dispatcher.ModelCacheTTL, cfg.Dispatcher.ModelCacheMinInterval),
		httpClient: newDispatchClient(cfg.Dispatcher),
	}

	workerCfg := worker.Config{
		Interpreter:   cfg.Python.Executable,
		Script:        cfg.Python.WorkerScript,
		ChildConfig:   cfg.Python.ConfigPath,
		Env:           cfg.Python.Env,
		BasePort:      cfg.Pool.BasePort,
		PortScanRange: cfg.Pool.PortScanRange,
		StartTimeout:  cfg.Pool.StartTimeout,

		RestartWindow:         cfg.Pool.Restart.Window,
		RestartMaxInWindow:    cfg.Pool.Restart.MaxRestarts,
		RestartMaxRetries:     cfg.Pool.Restart.MaxRetries,
		RestartInitialBackoff: cfg.Pool.Restart.InitialBackoff,
		RestartMaxBackoff:     cfg.Pool.Restart.MaxBackoff,
		RestartJitter:         time.Duration(cfg.Pool.Restart.JitterMillis) * time.Millisecond,
	}

	for i := 0; i < size; i++ {
		p.workers[i] = worker.New(i, cfg.Pool.BasePort+i, workerCfg, logger)
	}

	return p
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// Worker returns the worker at the given id, or nil if out of range.
func (p *Pool) Worker(id int) *worker.Worker {
	if id < 0 || id >= len(p.workers) {
		return nil
	}
	return p.workers[id]
}

// StartAll spawns every worker and launches the supervisor loop. One-shot
// guarded by sync.Once so repeated callers converge (spec §4.5:
// "one-shot guarded by an initialized flag").
func (p *Pool) StartAll(ctx context.Context) error {
	var startErr error
	p.initialized.Do(func() {
		var errs []error
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, w := range p.workers {
			wg.Add(1)
			go func(w *worker.Worker) {
				defer wg.Done()
				if err := w.Start(ctx); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("worker %d: %w", w.ID, err))
					mu.Unlock()
				}
			}(w)
		}
		wg.Wait()

		if len(errs) > 0 {
			for _, e := range errs {
				startErr = multierr.Append(startErr, e)
			}
			p.logger.Warn("one or more workers failed to start cleanly", "error", startErr)
		}

		supCtx, cancel := context.WithCancel(context.Background())
		p.supervisorCancel = cancel
		p.supervisorDone = make(chan struct{})
		go p.runSupervisor(supCtx)
	})
	return startErr
}

// StopAll terminates every worker and the supervisor loop. One-shot.
func (p *Pool) StopAll() error {
	var stopErr error
	p.stopOnce.Do(func() {
		p.stopMu.Lock()
		p.stopped = true
		p.stopMu.Unlock()

		if p.supervisorCancel != nil {
			p.supervisorCancel()
			<-p.supervisorDone
		}

		for _, w := range p.workers {
			if err := w.Stop(); err != nil {
				stopErr = multierr.Append(stopErr, fmt.Errorf("worker %d: %w", w.ID, err))
			}
		}
	})
	return stopErr
}

// IsStopped reports whether StopAll has completed.
func (p *Pool) IsStopped() bool {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()
	return p.stopped
}

// GatewayState computes the aggregate health truth table from spec §4.4:
// idle≥1 → Healthy; else busy≥1 → Busy; else available≥1 → Degraded; else
// Unavailable.
func (p *Pool) GatewayState() GatewayState {
	idle, busy, available := 0, 0, 0
	for _, w := range p.workers {
		switch w.State() {
		case worker.Idle:
			idle++
			available++
		case worker.BusyStreaming, worker.BusyBlocked:
			busy++
		case worker.Degraded:
			if !w.Breaker.IsOpen() {
				available++
			}
		}
	}
	switch {
	case idle >= 1:
		return StateHealthy
	case busy >= 1:
		return StateBusy
	case available >= 1:
		return StateDegraded
	default:
		return StateUnavailable
	}
}

// StatusAll returns the per-worker status snapshots for
// get_gateway_pool_status.
func (p *Pool) StatusAll() []worker.StatusView {
	out := make([]worker.StatusView, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Status()
	}
	return out
}

// Diagnose renders the multi-line human report for one worker
// (SPEC_FULL.md §11).
func (p *Pool) Diagnose(id int) (string, error) {
	w := p.Worker(id)
	if w == nil {
		return "", fmt.Errorf("pool: no worker with id %d", id)
	}
	return w.Diagnose(), nil
}

// DiagnosticSnapshot returns the structured, msgpack-serializable
// counterpart of Diagnose for one worker.
func (p *Pool) DiagnosticSnapshot(id int) (worker.DiagnosticSnapshot, error) {
	w := p.Worker(id)
	if w == nil {
		return worker.DiagnosticSnapshot{}, fmt.Errorf("pool: no worker with id %d", id)
	}
	return w.DiagnosticSnapshot(), nil
}

// DiagnoseEncoded renders one worker's structured diagnostic snapshot
// through the requested codec — the msgpack-encoded offline-tooling dump
// promised by SPEC_FULL.md §10/§11, alongside a plain JSON form for
// callers that don't want to pull in a msgpack decoder. format is a
// jsoncodec.Type ("json" or "msgpack"); empty defaults to JSON.
func (p *Pool) DiagnoseEncoded(id int, format string) ([]byte, error) {
	snap, err := p.DiagnosticSnapshot(id)
	if err != nil {
		return nil, err
	}
	codec, err := jsoncodec.New(jsoncodec.Type(format))
	if err != nil {
		return nil, err
	}
	return codec.Marshal(snap)
}

// HealthCheckLayered performs a diagnostic-only health check at the given
// level, distinct from the supervisor's own cadence (SPEC_FULL.md §11):
// level 0 is a bare TCP dial, level 1 adds a /health GET.
func (p *Pool) HealthCheckLayered(id int, level int) (bool, error) {
	w := p.Worker(id)
	if w == nil {
		return false, fmt.Errorf("pool: no worker with id %d", id)
	}
	return p.httpClient.healthCheckLayered(w, level)
}
