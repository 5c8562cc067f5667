package servicemgr

import (
	"testing"
	"time"
)

func TestRestartHistory_DeniesOnceMaxRestartsReached(t *testing.T) {
	h := newRestartHistory(RestartPolicy{MaxRestarts: 2, Window: time.Minute, BaseBackoff: time.Second, MaxBackoff: 10 * time.Second})
	now := time.Now()

	if ok, _ := h.CanRestart(now); !ok {
		t.Fatal("expected first restart to be allowed")
	}
	if ok, _ := h.CanRestart(now.Add(time.Second)); !ok {
		t.Fatal("expected second restart to be allowed")
	}
	if ok, _ := h.CanRestart(now.Add(2 * time.Second)); ok {
		t.Fatal("expected third restart inside the window to be denied")
	}
}

func TestRestartHistory_BackoffDoublesPerAttemptAndCaps(t *testing.T) {
	h := newRestartHistory(RestartPolicy{MaxRestarts: 5, Window: time.Minute, BaseBackoff: time.Second, MaxBackoff: 3 * time.Second})
	now := time.Now()

	_, b0 := h.CanRestart(now)
	if b0 != time.Second {
		t.Fatalf("expected first backoff = base (1s), got %v", b0)
	}
	_, b1 := h.CanRestart(now.Add(time.Millisecond))
	if b1 != 2*time.Second {
		t.Fatalf("expected second backoff = 2x base (2s), got %v", b1)
	}
	_, b2 := h.CanRestart(now.Add(2 * time.Millisecond))
	if b2 != 3*time.Second {
		t.Fatalf("expected third backoff capped at max_backoff (3s), got %v", b2)
	}
}

func TestRestartHistory_PrunesOldAttemptsOutsideWindow(t *testing.T) {
	h := newRestartHistory(RestartPolicy{MaxRestarts: 1, Window: 50 * time.Millisecond, BaseBackoff: time.Millisecond})
	now := time.Now()

	if ok, _ := h.CanRestart(now); !ok {
		t.Fatal("expected first restart to be allowed")
	}
	if ok, _ := h.CanRestart(now.Add(10 * time.Millisecond)); ok {
		t.Fatal("expected a second restart inside the window to be denied")
	}
	if ok, _ := h.CanRestart(now.Add(100 * time.Millisecond)); !ok {
		t.Fatal("expected a restart after the window elapsed to be allowed")
	}
}

func TestRestartHistory_ResetClearsTimestamps(t *testing.T) {
	h := newRestartHistory(RestartPolicy{MaxRestarts: 1, Window: time.Minute, BaseBackoff: time.Millisecond})
	now := time.Now()
	h.CanRestart(now)
	h.Reset()
	if ok, _ := h.CanRestart(now); !ok {
		t.Fatal("expected CanRestart to allow again after Reset")
	}
}
