// Package servicemgr implements the supervision layer above the worker
// pool (spec §4.5): a Service contract any supervisable subsystem can
// implement, and a ServiceManager that polls a set of services on a
// slower cadence than the pool's own per-worker scheduler, tracking a
// separate recovery budget per service.
package servicemgr

// ServiceState is one of the nine states a Service can report (spec
// §4.5's state table).
type ServiceState string

const (
	Stopped    ServiceState = "Stopped"
	Starting   ServiceState = "Starting"
	Warmup     ServiceState = "Warmup"
	Idle       ServiceState = "Idle"
	Busy       ServiceState = "Busy"
	Degraded   ServiceState = "Degraded"
	Unhealthy  ServiceState = "Unhealthy"
	Restarting ServiceState = "Restarting"
	Stopping   ServiceState = "Stopping"
)

// HealthStatus is the result of a Service's health_check.
type HealthStatus string

const (
	Healthy        HealthStatus = "Healthy"
	HealthDegraded HealthStatus = "Degraded"
	HealthUnhealthy HealthStatus = "Unhealthy"
)

// Service is the uniform lifecycle contract the manager treats as a
// black box (spec glossary: "an opaque supervisable thing").
type Service interface {
	ID() string
	Name() string
	State() ServiceState
	Start() error
	Stop() error
	HealthCheck() HealthStatus
}

// legalServiceTransitions encodes the default table from spec §4.5, read
// through CanTransitionService. The ServiceManager's own recovery loop
// does not consult it: onHealthy, onUnhealthy, maybeRestart,
// runDetachedRestart and pauseService assign their target state directly
// and report no illegal transition.
var legalServiceTransitions = map[ServiceState]map[ServiceState]bool{
	Stopped:    {Starting: true},
	Starting:   {Warmup: true, Idle: true, Unhealthy: true},
	Warmup:     {Idle: true, Unhealthy: true},
	Idle:       {Busy: true, Degraded: true, Unhealthy: true, Stopping: true},
	Busy:       {Idle: true, Degraded: true, Unhealthy: true},
	Degraded:   {Idle: true, Busy: true, Unhealthy: true, Stopping: true},
	Unhealthy:  {Restarting: true, Stopped: true},
	Restarting: {Starting: true, Stopped: true},
	Stopping:   {Stopped: true},
}

// CanTransitionService reports whether "to" is a legal edge from "from"
// per the default table, the implicit "* → Stopped" wildcard, or an
// identity transition.
func CanTransitionService(from, to ServiceState) bool {
	if from == to {
		return true
	}
	if to == Stopped {
		return true
	}
	allowed, ok := legalServiceTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}
