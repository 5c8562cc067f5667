package worker

import "testing"

func TestCanTransition_LegalEdges(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Dead, Init, true},
		{Init, Idle, true},
		{Init, Unhealthy, false},
		{Idle, BusyStreaming, true},
		{BusyStreaming, BusyBlocked, true},
		{BusyBlocked, Idle, true},
		{Degraded, Restarting, true},
		{Unhealthy, Disabled, true},
		{Restarting, Init, true},
		{FailedPermanent, Init, false},
		{Disabled, Init, false},
		{Idle, Idle, true}, // identity transitions are idempotent
		{Idle, Dead, true}, // process exit observable from anywhere
	}

	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		if got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{FailedPermanent, Disabled} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []State{Init, Ready, Idle, BusyStreaming, BusyBlocked, Degraded, Unhealthy, Restarting, Dead} {
		if s.IsTerminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}
