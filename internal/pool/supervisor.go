package pool

import (
	"context"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/yumosx/gatewaypool/internal/worker"
)

// runSupervisor is the pool's fast scheduler (spec §4.2, §5, §9
// "two-layer supervision"): every HealthInterval (default 10s) it fans
// out one liveness/heartbeat/HTTP-health check per worker, grounded on
// the teacher's pool.go healthMonitor loop but replacing its
// single-shot TCP dial with the richer signal pipeline this spec
// requires. Fan-out uses sourcegraph/conc's error-collecting pool
// instead of a hand-rolled sync.WaitGroup, per SPEC_FULL.md §10.
func (p *Pool) runSupervisor(ctx context.Context) {
	defer close(p.supervisorDone)

	interval := p.cfg.Pool.HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.superviseTick(ctx)
		}
	}
}

func (p *Pool) superviseTick(ctx context.Context) {
	wp := pool.New().WithMaxGoroutines(len(p.workers)).WithErrors()
	for _, w := range p.workers {
		w := w
		wp.Go(func() error {
			p.superviseWorker(ctx, w)
			return nil
		})
	}
	if err := wp.Wait(); err != nil {
		p.logger.Warn("supervisor tick reported errors", "error", err)
	}
}

// superviseWorker evaluates one worker's health signals for this tick.
// Init/Ready (still starting up, not yet serving) and Busy* states (an
// in-flight request holding the worker) all suppress the synthetic
// /health probe, per spec §4.2 item 3 — a worker still coming up or mid
// stream must never be mistaken for an unresponsive child.
func (p *Pool) superviseWorker(ctx context.Context, w *worker.Worker) {
	switch w.State() {
	case worker.Dead, worker.FailedPermanent, worker.Disabled, worker.Restarting:
		return
	case worker.Init, worker.Ready:
		return
	}

	if w.HeartbeatStale(60 * time.Second) {
		w.RecordHealthProbeOutcome(false)
		return
	}

	if w.CheckBlocked(p.cfg.Dispatcher.RequestTimeout) {
		return
	}

	if w.State() == worker.BusyStreaming || w.State() == worker.BusyBlocked {
		return
	}

	if w.Metrics.PanicDetected() {
		if err := w.RecordPanicRestart(); err != nil {
			p.logger.Warn("could not schedule restart after panic marker", "worker_id", w.ID, "error", err)
		}
		return
	}

	ok, err := p.httpProbe(ctx, w)
	if err != nil {
		p.logger.Debug("health probe error", "worker_id", w.ID, "error", err)
	}
	w.RecordHealthProbeOutcome(ok)
}

func (p *Pool) httpProbe(ctx context.Context, w *worker.Worker) (bool, error) {
	status, _, err := p.httpClient.do(ctx, w, http.MethodGet, "/health", nil, nil, p.cfg.Dispatcher.HealthTimeout)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}
