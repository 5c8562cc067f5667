package pool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/yumosx/gatewaypool/internal/gatewayconfig"
	"github.com/yumosx/gatewaypool/internal/gwlog"
)

// writeFakeChild writes a throwaway Python HTTP server mirroring the one
// in internal/worker's worker_test.go, adapted so /v1/models is reachable
// and /health always answers 200 — enough to drive real workers through
// their readiness and dispatch states without a real model backend.
func writeFakeChild(t *testing.T, dir string) string {
	t.Helper()
	script := filepath.Join(dir, "fake_child.py")
	src := `
import sys, json, argparse
from http.server import BaseHTTPRequestHandler, HTTPServer

parser = argparse.ArgumentParser()
parser.add_argument("--port", type=int, required=True)
parser.add_argument("--config", default=None)
args = parser.parse_args()

class Handler(BaseHTTPRequestHandler):
    def log_message(self, fmt, *a):
        pass

    def do_GET(self):
        if self.path == "/health":
            self.send_response(200)
            self.end_headers()
            return
        if self.path == "/v1/models":
            body = json.dumps({"object": "list", "data": [{"id": "m1", "object": "model", "created": 0, "owned_by": "x"}]}).encode()
            self.send_response(200)
            self.send_header("Content-Type", "application/json")
            self.end_headers()
            self.wfile.write(body)
            return
        self.send_response(404)
        self.end_headers()

    def do_POST(self):
        length = int(self.headers.get("Content-Length", 0))
        self.rfile.read(length)
        body = json.dumps({"ok": True}).encode()
        self.send_response(200)
        self.send_header("Content-Type", "application/json")
        self.end_headers()
        self.wfile.write(body)

print("[READY] fake child listening", file=sys.stderr, flush=True)
HTTPServer(("127.0.0.1", args.port), Handler).serve_forever()
`
	if err := os.WriteFile(script, []byte(src), 0o644); err != nil {
		t.Fatalf("write fake child script: %v", err)
	}
	return script
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func testLogger() *gwlog.Logger {
	return gwlog.New(gwlog.Config{Level: "error", Format: "text"})
}

// newTestPool builds and starts a real pool of n workers running the fake
// child script, waiting until every worker reaches Idle.
func newTestPool(t *testing.T, n int, basePort int) *Pool {
	t.Helper()
	requirePython(t)

	dir := t.TempDir()
	script := writeFakeChild(t, dir)

	cfg := gatewayconfig.Config{}
	cfg.Pool.Size = n
	cfg.Pool.BasePort = basePort
	cfg.Pool.PortScanRange = 20
	cfg.Pool.StartTimeout = 2 * time.Second
	cfg.Pool.HealthInterval = time.Hour // disable the supervisor tick during unit tests
	cfg.Python.Executable = "python3"
	cfg.Python.WorkerScript = script
	cfg.Dispatcher.StickyFailRateCutoff = 0.30
	cfg.Dispatcher.ModelCacheTTL = 300 * time.Second
	cfg.Dispatcher.ModelCacheMinInterval = 30 * time.Second
	cfg.Dispatcher.HealthTimeout = 2 * time.Second
	cfg.Dispatcher.RequestTimeout = 2 * time.Second

	p := New(cfg, testLogger())
	if err := p.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	t.Cleanup(func() { p.StopAll() })

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		allIdle := true
		for i := 0; i < n; i++ {
			if p.Worker(i).State().String() != "Idle" {
				allIdle = false
				break
			}
		}
		if allIdle {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	return p
}

func TestPool_StartAllReachesIdleAndStopAllSinksToDead(t *testing.T) {
	p := newTestPool(t, 2, 19100)

	for i := 0; i < p.Size(); i++ {
		if p.Worker(i).State().String() != "Idle" {
			t.Fatalf("worker %d: expected Idle, got %s", i, p.Worker(i).State())
		}
	}
	if got := p.GatewayState(); got != StateHealthy {
		t.Fatalf("expected Healthy with idle workers, got %s", got)
	}

	if err := p.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if !p.IsStopped() {
		t.Fatal("expected IsStopped true after StopAll")
	}
	for i := 0; i < p.Size(); i++ {
		if p.Worker(i).State().String() != "Dead" {
			t.Fatalf("worker %d: expected Dead after stop, got %s", i, p.Worker(i).State())
		}
	}
}

func TestPool_StatusAllReportsOnePerWorker(t *testing.T) {
	p := newTestPool(t, 3, 19200)
	statuses := p.StatusAll()
	if len(statuses) != 3 {
		t.Fatalf("expected 3 status entries, got %d", len(statuses))
	}
}

func TestPool_DiagnoseUnknownWorkerErrors(t *testing.T) {
	p := newTestPool(t, 1, 19300)
	if _, err := p.Diagnose(99); err == nil {
		t.Fatal("expected an error diagnosing an out-of-range worker id")
	}
}
