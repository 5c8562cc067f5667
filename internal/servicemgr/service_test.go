package servicemgr

import "testing"

func TestCanTransitionService(t *testing.T) {
	cases := []struct {
		from, to ServiceState
		want     bool
	}{
		{Stopped, Starting, true},
		{Starting, Warmup, true},
		{Starting, Idle, true},
		{Warmup, Idle, true},
		{Idle, Busy, true},
		{Idle, Degraded, true},
		{Degraded, Idle, true},
		{Degraded, Busy, true},
		{Unhealthy, Restarting, true},
		{Restarting, Starting, true},
		{Stopping, Stopped, true},

		// identity is always legal
		{Idle, Idle, true},
		{Busy, Busy, true},

		// "* -> Stopped" wildcard
		{Busy, Stopped, true},
		{Degraded, Stopped, true},
		{Warmup, Stopped, true},

		// illegal edges
		{Stopped, Idle, false},
		{Idle, Warmup, false},
		{Busy, Starting, false},
		{Restarting, Busy, false},
	}

	for _, c := range cases {
		if got := CanTransitionService(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionService(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
