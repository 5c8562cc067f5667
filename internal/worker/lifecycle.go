package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/phayes/freeport"

	"github.com/yumosx/gatewaypool/internal/stderrscan"
)

// ErrPortRangeExhausted is returned when neither the declared port nor any
// of the scanned neighbors are free and the freeport fallback in
// findFreePort also fails to produce a port. A fully bound scan range alone
// does not return it.
type ErrPortRangeExhausted struct {
	BasePort int
	ScanTo   int
}

func (e *ErrPortRangeExhausted) Error() string {
	return fmt.Sprintf("worker: no free port in [%d, %d]", e.BasePort, e.ScanTo)
}

// Start spawns the child process, grounded on the teacher's worker.Start:
// idempotent if already live, finds a free port (rebinding on collision),
// launches the interpreter, starts the TCP prober, and waits up to
// StartTimeout polling for readiness.
func (w *Worker) Start(ctx context.Context) error {
	if w.processRunning() && w.State() != Dead {
		return nil // already started or starting, idempotent
	}

	port, err := w.findFreePort()
	if err != nil {
		w.setStateUnchecked(FailedPermanent)
		w.Breaker.ForceOpen()
		return err
	}
	w.port.Store(int32(port))

	w.timeMu.Lock()
	w.startedAt = time.Now()
	w.timeMu.Unlock()
	w.portBound.Store(false)
	w.modelReady.Store(false)
	w.setStateUnchecked(Init)

	args := []string{"--port", strconv.Itoa(port)}
	if w.cfg.ChildConfig != "" {
		args = append(args, "--config", w.cfg.ChildConfig)
	}

	cmd := exec.CommandContext(ctx, w.cfg.Interpreter, append([]string{w.cfg.Script}, args...)...)
	cmd.Env = os.Environ()
	for k, v := range w.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stdout = io.Discard
	setProcessGroup(cmd)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("worker %d: stderr pipe: %w", w.ID, err)
	}

	if err := cmd.Start(); err != nil {
		w.setStateUnchecked(Dead)
		return fmt.Errorf("worker %d: spawn: %w", w.ID, err)
	}

	w.procMu.Lock()
	w.cmd = cmd
	w.waitOnce = sync.Once{}
	w.waitErr = nil
	w.stopSignal = make(chan struct{})
	w.stderrDone = make(chan struct{})
	stopSignal := w.stopSignal
	stderrDone := w.stderrDone
	w.procMu.Unlock()
	w.running.Store(true)

	w.Metrics.SetPanicDetected(false)
	w.restartFailures.Store(0)
	w.Breaker.Reset()

	go w.readStderr(stderrPipe, stderrDone)
	go w.probeTCP(port)
	go w.monitorProcess(cmd, stopSignal)

	return w.awaitReadiness(cmd)
}

// findFreePort probes the declared port with a throwaway bind; on
// collision it scans the next PortScanRange ports for the first free one,
// so restarts keep landing near the operator's configured base port. If
// the whole scanned range is taken, it falls back to an arbitrary free
// port rather than refusing to start, grounded on
// slimsag-http-server-stabilizer's use of freeport.GetFreePort() for
// per-worker dynamic ports.
func (w *Worker) findFreePort() (int, error) {
	base := int(w.port.Load())
	if base == 0 {
		base = w.cfg.BasePort
	}
	for p := base; p <= base+w.cfg.PortScanRange; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err == nil {
			_ = ln.Close()
			return p, nil
		}
	}
	if p, err := freeport.GetFreePort(); err == nil {
		return p, nil
	}
	return 0, &ErrPortRangeExhausted{BasePort: base, ScanTo: base + w.cfg.PortScanRange}
}

// awaitReadiness polls the worker's state for up to StartTimeout. If the
// worker reaches Idle, it returns early with success. If the timeout
// elapses while still Init, it forces the worker to Ready so the
// supervisor loop can begin probing it. If the child exits during the
// wait, the worker moves to Dead and an error is returned.
func (w *Worker) awaitReadiness(cmd *exec.Cmd) error {
	deadline := time.Now().Add(w.cfg.StartTimeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		switch w.State() {
		case Idle:
			return nil
		case Dead, FailedPermanent:
			return fmt.Errorf("worker %d: exited during startup", w.ID)
		}
		if time.Now().After(deadline) {
			if w.State() == Init {
				w.setState(Ready)
			}
			return nil
		}
		<-ticker.C
	}
}

// readStderr parses each stderr line for the markers in SPEC_FULL.md §6.
// Any read error (including the pipe closing because the process exited)
// terminates the goroutine silently. A panic in this goroutine's body is
// caught and converts to marking the worker Unhealthy rather than
// crashing the process.
func (w *Worker) readStderr(r io.Reader, done chan struct{}) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("stderr reader panicked, isolating", "panic", rec)
			w.setState(Unhealthy)
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		w.appendStderrLine(line)

		switch stderrscan.Classify(line) {
		case stderrscan.MarkerReady:
			w.modelReady.Store(true)
			if w.portBound.Load() {
				w.setState(Idle)
				w.Metrics.RecordHeartbeat()
			} else {
				w.setState(Ready)
			}
		case stderrscan.MarkerFatal:
			w.Metrics.SetPanicDetected(true)
		case stderrscan.MarkerModelUnavailable:
			// Recorded into the process-global set by stderrscan itself;
			// nothing to do at the worker level beyond logging.
			w.logger.Info("worker reported a model unavailable", "line", line)
		}
	}
}

// probeTCP repeatedly attempts to connect to the worker's port for up to
// TCPProbeDeadline. The first success sets port_bound and promotes the
// worker to Idle if model_ready is already true.
func (w *Worker) probeTCP(port int) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(w.cfg.TCPProbeDeadline)

	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, w.cfg.TCPProbeTimeout)
		if err == nil {
			_ = conn.Close()
			w.portBound.Store(true)
			w.maybePromoteToIdle()
			return
		}
		time.Sleep(w.cfg.TCPProbeInterval)
	}
}

// monitorProcess waits for the child to exit. If the worker wasn't
// explicitly stopped (stopSignal still open), this is an unexpected exit:
// the worker moves to Dead and a restart is scheduled with ProcessExit.
func (w *Worker) monitorProcess(cmd *exec.Cmd, stopSignal chan struct{}) {
	waitErr := make(chan error, 1)
	go func() { waitErr <- w.wait(cmd) }()

	select {
	case <-stopSignal:
		<-waitErr // drain, process already being torn down by Stop
		return
	case err := <-waitErr:
		w.running.Store(false)
		if w.State().IsTerminal() {
			return
		}
		if err != nil {
			w.logger.Warn("worker process exited unexpectedly", "error", err)
		} else {
			w.logger.Warn("worker process exited unexpectedly with status 0")
		}
		w.setState(Dead)
		if scheduleErr := w.ScheduleRestart(ReasonProcessExit); scheduleErr != nil {
			w.logger.Error("failed to schedule restart after process exit", "error", scheduleErr)
		}
	}
}

// Stop performs best-effort termination: an interrupt signal
// (os.Interrupt), then wait up to
// StopConfirmTimeout, then kill. If termination cannot be confirmed in
// time, the worker moves to Disabled with the breaker forced open (the
// handle is retained to prevent the port from being reused). On
// confirmed termination it ends at Dead (unless already terminal) and
// its metrics are zeroed.
func (w *Worker) Stop() error {
	w.procMu.Lock()
	cmd := w.cmd
	stopSignal := w.stopSignal
	w.procMu.Unlock()

	if cmd == nil || cmd.Process == nil {
		w.setState(Dead)
		return nil
	}

	if stopSignal != nil {
		select {
		case <-stopSignal:
		default:
			close(stopSignal)
		}
	}

	confirmed := w.terminate(cmd)

	w.procMu.Lock()
	if w.stderrDone != nil {
		<-w.stderrDone
	}
	w.procMu.Unlock()

	if !confirmed {
		w.setStateUnchecked(Disabled)
		w.Breaker.ForceOpen()
		return fmt.Errorf("worker %d: could not confirm termination within %s", w.ID, w.cfg.StopConfirmTimeout)
	}

	if !w.State().IsTerminal() {
		w.setState(Dead)
	}
	w.Metrics.Reset()
	w.running.Store(false)
	return nil
}

func (w *Worker) terminate(cmd *exec.Cmd) bool {
	_ = cmd.Process.Signal(os.Interrupt)

	done := make(chan error, 1)
	go func() { done <- w.wait(cmd) }()

	select {
	case <-done:
		return true
	case <-time.After(w.cfg.StopConfirmTimeout):
		if err := killProcessTree(cmd); err != nil {
			w.logger.Warn("failed to force-kill worker process", "error", err)
		}
		select {
		case <-done:
			return true
		case <-time.After(w.cfg.StopConfirmTimeout):
			return false
		}
	}
}
