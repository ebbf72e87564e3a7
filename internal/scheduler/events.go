package scheduler

import "sync"

// EventKind names a lifecycle event.
type EventKind string

const (
	// EventInstallationsChanged fires when the registry content or
	// update availability changed.
	EventInstallationsChanged EventKind = "installations-changed"
	// EventSessionExited fires when a running payload exits.
	EventSessionExited EventKind = "comfy-exited"
)

// Event is one lifecycle notification.
type Event struct {
	Kind           EventKind
	InstallationID string
	// Crashed is set on EventSessionExited when the exit was not
	// user-requested.
	Crashed bool
}

// eventBus fans lifecycle events out to subscribers. Slow subscribers
// drop events rather than blocking the scheduler.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
