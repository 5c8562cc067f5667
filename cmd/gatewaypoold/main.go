// Command gatewaypoold runs the gateway pool supervisor daemon: a fixed
// pool of OpenAI-compatible HTTP child processes behind a dispatcher, a
// service-manager recovery loop above it, and a Prometheus metrics
// endpoint. Replaces the teacher's project-scaffolding CLI
// (cmd/pyproc: init/scaffold) with the operation subcommands an operator
// actually runs against a running supervisor.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yumosx/gatewaypool/internal/gatewayconfig"
	"github.com/yumosx/gatewaypool/internal/gwlog"
	"github.com/yumosx/gatewaypool/internal/pool"
	"github.com/yumosx/gatewaypool/internal/servicemgr"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "gatewaypoold",
	Short:   "gatewaypoold supervises a pool of OpenAI-compatible HTTP worker processes",
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a gatewaypool.yaml config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(restartServiceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadDaemon() (*gatewayconfig.Config, *gwlog.Logger, *pool.Pool, error) {
	cfg, err := gatewayconfig.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := gwlog.New(cfg.Logging)
	p := pool.New(*cfg, logger)
	return cfg, logger, p, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the gateway pool daemon and block until signaled",
	RunE:  runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the pool's current per-worker status and aggregate state",
	RunE:  runStatus,
}

var diagnoseFormat string

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <worker-id>",
	Short: "print a detailed diagnostic report for one worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagnose,
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagnoseFormat, "format", "text",
		"report format: text, json, or msgpack (msgpack is an offline-tooling-friendly encoded dump)")
}

var restartServiceCmd = &cobra.Command{
	Use:   "restart-service <name>",
	Short: "stop then start a registered service",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestartService,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, p, err := loadDaemon()
	if err != nil {
		return err
	}

	daemon, err := newDaemon(cfg, logger, p)
	if err != nil {
		return err
	}
	return daemon.Run()
}

// runStatus and runDiagnose operate against a fresh, unstarted pool
// purely to render its static configuration when no daemon is running
// against this config; a real deployment queries a running serve
// process's HTTP status endpoint instead (see httpserver.go).
func runStatus(cmd *cobra.Command, args []string) error {
	_, _, p, err := loadDaemon()
	if err != nil {
		return err
	}
	for _, st := range p.StatusAll() {
		fmt.Printf("worker %d: port=%d status=%s active=%d total=%d errors=%d breaker_open=%t\n",
			st.ID, st.Port, st.Status, st.ActiveRequests, st.TotalRequests, st.TotalErrors, st.CircuitBreakerOpen)
	}
	fmt.Printf("gateway_state=%s\n", p.GatewayState())
	return nil
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid worker id %q: %w", args[0], err)
	}
	_, _, p, err := loadDaemon()
	if err != nil {
		return err
	}

	if diagnoseFormat == "" || diagnoseFormat == "text" {
		report, err := p.Diagnose(id)
		if err != nil {
			return err
		}
		fmt.Print(report)
		return nil
	}

	encoded, err := p.DiagnoseEncoded(id, diagnoseFormat)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(encoded)
	return err
}

func runRestartService(cmd *cobra.Command, args []string) error {
	cfg, logger, p, err := loadDaemon()
	if err != nil {
		return err
	}
	svc := servicemgr.NewGatewayPoolService("gateway-pool", "gateway-pool", p)
	mgr := servicemgr.NewServiceManager(servicePolicyFromConfig(cfg), logger, nil)
	mgr.Register(svc)

	name := args[0]
	target, ok := mgr.Service(name)
	if !ok {
		return fmt.Errorf("no such service %q", name)
	}
	return mgr.RestartService(target.ID())
}

func servicePolicyFromConfig(cfg *gatewayconfig.Config) servicemgr.RestartPolicy {
	return servicemgr.RestartPolicy{
		MaxRestarts:    cfg.ServiceManager.MaxRestarts,
		Window:         cfg.ServiceManager.Window,
		BaseBackoff:    cfg.ServiceManager.BaseBackoff,
		MaxBackoff:     cfg.ServiceManager.MaxBackoff,
		GracePeriod:    cfg.ServiceManager.GracePeriod,
		DegradedToDead: cfg.ServiceManager.DegradedToDead,
	}
}
