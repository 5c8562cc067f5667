package pool

import (
	"testing"
	"time"
)

func TestSelectWorker_StickyKeepsSameWorkerForSameClientID(t *testing.T) {
	p := newTestPool(t, 4, 19400)

	clientID := "same-client-each-time"
	first := p.SelectWorker(clientID)
	if first == nil {
		t.Fatal("expected a worker to be selected")
	}
	for i := 0; i < 5; i++ {
		got := p.SelectWorker(clientID)
		if got == nil || got.ID != first.ID {
			t.Fatalf("expected sticky dispatch to keep returning worker %d, got %v", first.ID, got)
		}
	}
}

func TestSelectWorker_LeastLoadedPrefersFewerActiveRequests(t *testing.T) {
	p := newTestPool(t, 3, 19500)

	// Load up workers 1 and 2 with in-flight requests, leaving 0 the
	// least loaded; SelectWorker with no stickiness key goes straight to
	// leastLoaded.
	p.Worker(1).MarkBusyStreaming()
	p.Worker(2).MarkBusyStreaming()
	p.Worker(2).MarkBusyStreaming()

	got := p.SelectWorker("")
	if got == nil {
		t.Fatal("expected a worker to be selected")
	}
	if got.ID != 0 {
		t.Fatalf("expected worker 0 (idle) to be chosen over busier workers, got %d", got.ID)
	}
}

func TestSelectWorker_ExcludesWorkerZeroOnceUnhealthy(t *testing.T) {
	p := newTestPool(t, 2, 19600)

	// Drive worker 0's breaker open and its state to Unhealthy via the
	// exported request-outcome API, then confirm dispatch never picks it.
	for i := 0; i < 10; i++ {
		p.Worker(0).MarkBusyStreaming()
		p.Worker(0).CompleteRequest(false, false, 10*time.Millisecond, time.Second)
	}
	for i := 0; i < 10; i++ {
		p.Worker(0).RecordHealthProbeOutcome(false)
	}

	for i := 0; i < 10; i++ {
		got := p.SelectWorker("")
		if got != nil && got.ID == 0 {
			t.Fatalf("expected worker 0 to be excluded once unhealthy, got selected")
		}
	}
}

func TestSelectWorkerWithQueue_ReturnsOnceAWorkerFreesUp(t *testing.T) {
	p := newTestPool(t, 1, 19700)
	w := p.Worker(0)

	// Push the only worker's recent-outcome window to an all-failure
	// state, which puts its failure rate above the dispatch cutoff and
	// makes it unselectable even though Degraded still accepts requests.
	w.MarkBusyStreaming()
	for i := 0; i < 10; i++ {
		w.CompleteRequest(false, false, 10*time.Millisecond, time.Second)
	}
	if got := p.SelectWorker(""); got != nil {
		t.Fatal("expected the worker to be unselectable immediately after the failure run")
	}

	// Dilute the failure window back to the cutoff (3 failures in 10 is
	// 0.30, which the strict > check admits) from another
	// goroutine shortly after, proving the poll loop picks up the change
	// rather than failing immediately.
	go func() {
		time.Sleep(80 * time.Millisecond)
		for i := 0; i < 7; i++ {
			w.CompleteRequest(true, false, 10*time.Millisecond, time.Second)
		}
	}()

	got := p.SelectWorkerWithQueue("", 500*time.Millisecond)
	if got == nil {
		t.Fatal("expected SelectWorkerWithQueue to eventually find the recovered worker")
	}
}

func TestSelectWorker_HalfOpenProbeClaimIsExclusive(t *testing.T) {
	p := newTestPool(t, 1, 19800)
	w := p.Worker(0)

	if !w.TryClaimHalfOpenProbe() {
		t.Fatal("expected the first claim to succeed")
	}
	if w.TryClaimHalfOpenProbe() {
		t.Fatal("expected a second concurrent claim to be refused")
	}
	w.ReleaseHalfOpenProbe()
	if !w.TryClaimHalfOpenProbe() {
		t.Fatal("expected a claim to succeed again after release")
	}
}
