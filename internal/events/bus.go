// Package events implements the client core's event bus: the notification
// channel between the client-side components (orchestrator, poller,
// liveness supervisor, version checker) and whatever is presenting the UI. Grounded on the teacher's lifecycle.Manager
// OnStateChange callback — generalized from one fixed callback to a
// multi-subscriber fan-out, since SPEC_FULL.md's event set is broader than
// a single state transition.
package events

import "sync"

// Kind names one of the event types the client core emits (§4).
type Kind string

const (
	ConnectionChanged       Kind = "CONNECTION_CHANGED"
	ConfigChanged           Kind = "CONFIG_CHANGED"
	DeadConnectionDropped   Kind = "DEAD_CONNECTION_DROPPED"
	DeadConnectionReconnect Kind = "DEAD_CONNECTION_RECONNECTED"
	InstanceUpdate          Kind = "INSTANCE_UPDATE"
	LocationUpdate          Kind = "LOCATION_UPDATE"
	AppVersionFetch         Kind = "APP_VERSION_FETCH"
)

// Event is one notification carrying an arbitrary, kind-specific payload.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// Bus fans out events to every subscriber. Publish never blocks on a slow
// subscriber — each subscriber gets its own buffered channel, and a full
// channel drops the event rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel plus a
// function to unsubscribe it.
func (b *Bus) Subscribe(bufferSize int) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, bufferSize)
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Publish sends an event to every current subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(kind Kind, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- Event{Kind: kind, Payload: payload}:
		default:
		}
	}
}
