// Package worker implements the per-worker state machine: a supervised
// child process exposing an OpenAI-compatible HTTP API on a local TCP
// port, driven by the health signal pipeline (stderr markers, TCP
// reachability, supervisor heartbeat, per-request outcomes).
package worker

import (
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yumosx/gatewaypool/internal/breaker"
	"github.com/yumosx/gatewaypool/internal/gwlog"
)

// RestartReason names which signal asked for a restart (SPEC_FULL.md §4.3,
// §7's failure taxonomy).
type RestartReason string

const (
	ReasonProcessExit    RestartReason = "ProcessExit"
	ReasonPanicDetected  RestartReason = "PanicDetected"
	ReasonHeartbeatStale RestartReason = "HeartbeatStale"
	ReasonHealthFailed   RestartReason = "HealthFailed"
	ReasonRequestTimeout RestartReason = "RequestTimeout"
)

// Config is the static configuration of one worker — the child command
// line, restart policy and timeouts it needs to run its own lifecycle and
// restart scheduler without reaching back into the pool.
type Config struct {
	Interpreter string
	Script      string
	ChildConfig string // optional --config path, empty to omit
	Env         map[string]string

	BasePort      int
	PortScanRange int

	StartTimeout       time.Duration
	StopConfirmTimeout time.Duration
	TCPProbeTimeout    time.Duration
	TCPProbeInterval   time.Duration
	TCPProbeDeadline   time.Duration

	RestartWindow         time.Duration
	RestartMaxInWindow    int
	RestartMaxRetries     int
	RestartInitialBackoff time.Duration
	RestartMaxBackoff     time.Duration
	RestartJitter         time.Duration

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = 1500 * time.Millisecond
	}
	if c.StopConfirmTimeout <= 0 {
		c.StopConfirmTimeout = 3 * time.Second
	}
	if c.TCPProbeTimeout <= 0 {
		c.TCPProbeTimeout = 200 * time.Millisecond
	}
	if c.TCPProbeInterval <= 0 {
		c.TCPProbeInterval = 200 * time.Millisecond
	}
	if c.TCPProbeDeadline <= 0 {
		c.TCPProbeDeadline = 5 * time.Second
	}
	if c.PortScanRange <= 0 {
		c.PortScanRange = 50
	}
	if c.RestartWindow <= 0 {
		c.RestartWindow = 5 * time.Minute
	}
	if c.RestartMaxInWindow <= 0 {
		c.RestartMaxInWindow = 2
	}
	if c.RestartMaxRetries <= 0 {
		c.RestartMaxRetries = 3
	}
	if c.RestartInitialBackoff <= 0 {
		c.RestartInitialBackoff = 10 * time.Second
	}
	if c.RestartMaxBackoff <= 0 {
		c.RestartMaxBackoff = 120 * time.Second
	}
	if c.RestartJitter <= 0 {
		c.RestartJitter = 1 * time.Second
	}
	if c.BreakerFailureThreshold <= 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerSuccessThreshold <= 0 {
		c.BreakerSuccessThreshold = 1
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Worker is one supervised child-process instance (SPEC_FULL.md §3).
type Worker struct {
	ID     int
	cfg    Config
	logger *gwlog.Logger

	port atomic.Int32

	state      atomic.Int32
	portBound  atomic.Bool
	modelReady atomic.Bool

	halfOpenTesting atomic.Bool

	Metrics *Metrics
	Breaker *breaker.CircuitBreaker

	restartBudget        *RestartBudget
	restartFailures      atomic.Int32
	lastRestartFailureMu sync.Mutex
	lastRestartFailureAt time.Time

	timeMu            sync.Mutex
	startedAt         time.Time
	lastHealthCheckAt time.Time
	lastSuccessAt     time.Time

	pendingMu      sync.Mutex
	pendingRestart RestartReason
	nextRestartAt  time.Time

	procMu     sync.Mutex
	cmd        *exec.Cmd
	waitOnce   sync.Once
	waitErr    error
	running    atomic.Bool
	stopSignal chan struct{}
	stderrDone chan struct{}

	stderrMu  sync.Mutex
	stderrBuf []string // bounded ring of the last N stderr lines, for diagnose
}

// New creates a Worker in the Dead state (nothing spawned yet).
func New(id int, port int, cfg Config, logger *gwlog.Logger) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		ID:             id,
		cfg:            cfg,
		logger:         logger.WithWorker(id),
		Metrics:        newMetrics(),
		restartBudget:  NewRestartBudget(cfg.RestartWindow, cfg.RestartMaxInWindow),
	}
	w.port.Store(int32(port))
	w.state.Store(int32(Dead))
	w.Breaker = breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
	})
	return w
}

// State returns the current state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Port returns the current (possibly rebound) TCP port.
func (w *Worker) Port() int { return int(w.port.Load()) }

// PortBound / ModelReady report the two readiness flags. Both must be
// true to admit the worker to Idle.
func (w *Worker) PortBound() bool  { return w.portBound.Load() }
func (w *Worker) ModelReady() bool { return w.modelReady.Load() }

// HalfOpenTesting reports whether a half-open breaker probe is already
// assigned to this worker.
func (w *Worker) HalfOpenTesting() bool { return w.halfOpenTesting.Load() }

// TryClaimHalfOpenProbe atomically claims the single in-flight half-open
// probe slot, returning false if one is already claimed.
func (w *Worker) TryClaimHalfOpenProbe() bool {
	return w.halfOpenTesting.CompareAndSwap(false, true)
}

// ReleaseHalfOpenProbe clears the half-open probe slot once the probe
// request completes.
func (w *Worker) ReleaseHalfOpenProbe() {
	w.halfOpenTesting.Store(false)
}

// StartedAt / LastHealthCheckAt / LastSuccessAt expose the worker's
// timestamps for status reporting.
func (w *Worker) StartedAt() time.Time {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	return w.startedAt
}

func (w *Worker) LastHealthCheckAt() time.Time {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	return w.lastHealthCheckAt
}

func (w *Worker) LastSuccessAt() time.Time {
	w.timeMu.Lock()
	defer w.timeMu.Unlock()
	return w.lastSuccessAt
}

func (w *Worker) stampLastHealthCheck() {
	w.timeMu.Lock()
	w.lastHealthCheckAt = time.Now()
	w.timeMu.Unlock()
}

func (w *Worker) stampLastSuccess() {
	w.timeMu.Lock()
	w.lastSuccessAt = time.Now()
	w.timeMu.Unlock()
}

// setState performs a checked transition: if illegal, it is logged but the
// prior state is kept (SPEC_FULL.md §3: "any other is an error, loggable
// but non-fatal; fallback keeps the prior state"). unchecked transitions
// (terminal sinks, poison recovery) bypass the check.
func (w *Worker) setState(to State) {
	from := State(w.state.Load())
	if !CanTransition(from, to) {
		w.logger.Warn("rejected illegal worker state transition",
			"from", from.String(), "to", to.String())
		return
	}
	w.state.Store(int32(to))
}

// setStateUnchecked forces a transition regardless of the legality table —
// used for terminal sinks and poisoned-state recovery.
func (w *Worker) setStateUnchecked(to State) {
	w.state.Store(int32(to))
}

// maybePromoteToIdle moves Init/Ready to Idle once both readiness flags
// are set — called by the TCP prober on its first successful connect. The
// stderr reader applies the same rule inline when it sees [READY].
func (w *Worker) maybePromoteToIdle() {
	if !w.portBound.Load() || !w.modelReady.Load() {
		return
	}
	cur := State(w.state.Load())
	if cur == Init || cur == Ready {
		w.setState(Idle)
		w.Metrics.RecordHeartbeat()
	}
}

func (w *Worker) appendStderrLine(line string) {
	const cap = 20
	w.stderrMu.Lock()
	defer w.stderrMu.Unlock()
	w.stderrBuf = append(w.stderrBuf, line)
	if len(w.stderrBuf) > cap {
		w.stderrBuf = w.stderrBuf[len(w.stderrBuf)-cap:]
	}
}

// RecentStderr returns a copy of the last (up to 20) stderr lines, used by
// Diagnose.
func (w *Worker) RecentStderr() []string {
	w.stderrMu.Lock()
	defer w.stderrMu.Unlock()
	out := make([]string, len(w.stderrBuf))
	copy(out, w.stderrBuf)
	return out
}

// PID returns the child process's OS pid, or 0 if not running.
func (w *Worker) PID() int {
	w.procMu.Lock()
	defer w.procMu.Unlock()
	if w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// processRunning reports whether the monitor goroutine still believes the
// child process is alive.
func (w *Worker) processRunning() bool {
	return w.running.Load()
}

// wait wraps cmd.Wait() to ensure it's called only once per spawned
// process, grounded on the teacher's own wait() wrapper
// (pkg/pyproc/worker.go). monitorProcess and terminate both need to
// observe the child's exit, and os/exec requires Wait be called exactly
// once, so both funnel through this instead of racing two Waits on the
// same *exec.Cmd.
func (w *Worker) wait(cmd *exec.Cmd) error {
	w.waitOnce.Do(func() {
		w.waitErr = cmd.Wait()
	})
	return w.waitErr
}
