package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/yumosx/gatewaypool/internal/gatewayconfig"
	"github.com/yumosx/gatewaypool/internal/gatewaymetrics"
	"github.com/yumosx/gatewaypool/internal/gwlog"
	"github.com/yumosx/gatewaypool/internal/pool"
	"github.com/yumosx/gatewaypool/internal/servicemgr"
)

// daemon wires the pool, the service-manager recovery layer, the
// Prometheus exporter, and the HTTP front door together — the
// composition root `serve` runs.
type daemon struct {
	cfg     *gatewayconfig.Config
	logger  *gwlog.Logger
	p       *pool.Pool
	mgr     *servicemgr.ServiceManager
	metrics *gatewaymetrics.Exporter
	server  *httpServer
}

func newDaemon(cfg *gatewayconfig.Config, logger *gwlog.Logger, p *pool.Pool) (*daemon, error) {
	var exporter *gatewaymetrics.Exporter
	var collector servicemgr.MetricsCollector
	if cfg.Metrics.Enabled {
		exporter = gatewaymetrics.NewExporter()
		collector = exporter
	}

	mgr := servicemgr.NewServiceManager(servicePolicyFromConfig(cfg), logger, collector)
	mgr.Register(servicemgr.NewGatewayPoolService("gateway-pool", "gateway-pool", p))

	srv := newHTTPServer(cfg, logger, p, exporter)

	return &daemon{cfg: cfg, logger: logger, p: p, mgr: mgr, metrics: exporter, server: srv}, nil
}

// Run starts the pool, the service manager's recovery loop, and the HTTP
// front door, then blocks until SIGINT/SIGTERM, tearing everything down
// in reverse order.
func (d *daemon) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.p.StartAll(ctx); err != nil {
		d.logger.Warn("pool start reported errors", "error", err)
	}
	d.mgr.Run(d.cfg.ServiceManager.PollInterval)

	serverErr := make(chan error, 1)
	go func() { serverErr <- d.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			d.logger.Error("http server exited", "error", err)
		}
	}

	d.mgr.Stop()
	if err := d.server.Shutdown(); err != nil {
		d.logger.Warn("http server shutdown error", "error", err)
	}
	if err := d.p.StopAll(); err != nil {
		d.logger.Warn("pool shutdown reported errors", "error", err)
		return err
	}
	return nil
}
