package servicemgr

import "sync"

// EventKind names the manager-level events a service's recovery lifecycle
// emits (spec §4.5: "Emit a HealthCheck event", "emit StateChanged",
// "emit Restarted", "Error event emitted").
type EventKind string

const (
	EventHealthCheck  EventKind = "HealthCheck"
	EventStateChanged EventKind = "StateChanged"
	EventRestarted    EventKind = "Restarted"
	EventError        EventKind = "Error"
)

// Event is one emitted manager event.
type Event struct {
	Kind      EventKind
	ServiceID string
	From      ServiceState
	To        ServiceState
	Message   string
}

// EventBus fans out emitted events to any number of subscribers. Emission
// always happens after the triggering state write has committed (spec §9
// open question: "specify events as emitted AFTER the state write
// commits").
type EventBus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel that receives every event emitted after
// this call. The channel is buffered; a slow subscriber drops events
// rather than blocking the manager loop.
func (b *EventBus) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Emit publishes an event to every current subscriber, non-blockingly.
func (b *EventBus) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
