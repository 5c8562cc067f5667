package worker

import "fmt"

// State is one of the eleven worker states (nine liveness states plus two
// terminal sinks), exactly as enumerated in SPEC_FULL.md §3.
type State int32

const (
	Init State = iota
	Ready
	Idle
	BusyStreaming
	BusyBlocked
	Degraded
	Unhealthy
	Restarting
	Dead
	FailedPermanent
	Disabled
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Ready:
		return "Ready"
	case Idle:
		return "Idle"
	case BusyStreaming:
		return "BusyStreaming"
	case BusyBlocked:
		return "BusyBlocked"
	case Degraded:
		return "Degraded"
	case Unhealthy:
		return "Unhealthy"
	case Restarting:
		return "Restarting"
	case Dead:
		return "Dead"
	case FailedPermanent:
		return "FATAL"
	case Disabled:
		return "DISABLED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// IsTerminal reports whether the scheduler will never automatically revive
// a worker sitting in this state.
func (s State) IsTerminal() bool {
	return s == FailedPermanent || s == Disabled
}

// legalTransitions encodes SPEC_FULL.md §3's transition table. Any edge not
// present here is illegal unless the caller explicitly marks it unchecked
// (terminal sinks, poisoned-state recovery).
var legalTransitions = map[State]map[State]bool{
	Dead:          {Init: true},
	Init:          {Ready: true, Idle: true, FailedPermanent: true, Dead: true},
	Ready:         {Idle: true, Dead: true},
	Idle:          {BusyStreaming: true, Degraded: true, Unhealthy: true, Dead: true},
	BusyStreaming: {Idle: true, BusyBlocked: true, Degraded: true, Unhealthy: true, Dead: true},
	BusyBlocked:   {Idle: true, Degraded: true, Unhealthy: true, Restarting: true, Dead: true},
	Degraded:      {Idle: true, Unhealthy: true, Restarting: true, Dead: true},
	Unhealthy:     {Restarting: true, Dead: true, Disabled: true},
	Restarting:    {Init: true, Dead: true, Disabled: true},
}

// CanTransition reports whether moving from "from" to "to" is one of the
// permitted edges in SPEC_FULL.md §3's transition table. Identity
// transitions, and any non-terminal state moving to Dead, are always legal
// (process exit can be observed from anywhere); a terminal state has no
// legal outgoing edge.
func CanTransition(from, to State) bool {
	if from == to {
		return true // identity transitions are idempotent
	}
	if from.IsTerminal() {
		return false
	}
	if to == Dead {
		return true
	}
	allowed, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}
