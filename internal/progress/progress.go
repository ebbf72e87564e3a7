// Package progress carries operation progress from the pipelines to the
// UI. Events are serialized per (installation, phase) and throttled so
// a fast extract loop cannot flood subscribers.
package progress

import (
	"sync"
	"time"

	"github.com/boz/go-throttle"
)

// Phase identifies the stage an event belongs to.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseExtract  Phase = "extract"
	PhaseDelete   Phase = "delete"
	PhaseRestore  Phase = "restore"
	PhaseLaunch   Phase = "launch"
)

// Event is one progress tick.
type Event struct {
	InstallationID string    `json:"installationId"`
	Phase          Phase     `json:"phase"`
	Percent        float64   `json:"percent"` // -1 when unknown
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink receives progress events.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// throttlePeriod caps the delivery rate per (installation, phase).
const throttlePeriod = 100 * time.Millisecond

// Throttler rate-limits events per (installation, phase) key while
// always delivering terminal ticks (100%) immediately so subscribers
// never miss completion.
type Throttler struct {
	sink Sink

	mu      sync.Mutex
	latest  map[string]Event
	gates   map[string]throttle.ThrottleDriver
	closed  bool
}

// NewThrottler wraps sink with per-key throttling.
func NewThrottler(sink Sink) *Throttler {
	return &Throttler{
		sink:   sink,
		latest: make(map[string]Event),
		gates:  make(map[string]throttle.ThrottleDriver),
	}
}

func eventKey(e Event) string {
	return e.InstallationID + "/" + string(e.Phase)
}

// Publish queues an event. Intermediate ticks are coalesced to the most
// recent value per key; terminal ticks bypass the throttle.
func (t *Throttler) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	key := eventKey(e)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.latest[key] = e

	if e.Percent >= 100 {
		// Deliver completion directly and drop the pending tick.
		delete(t.latest, key)
		t.mu.Unlock()
		t.sink.Publish(e)
		return
	}

	gate, ok := t.gates[key]
	if !ok {
		gate = throttle.ThrottleFunc(throttlePeriod, true, func() {
			t.flush(key)
		})
		t.gates[key] = gate
	}
	t.mu.Unlock()

	gate.Trigger()
}

func (t *Throttler) flush(key string) {
	t.mu.Lock()
	e, ok := t.latest[key]
	if ok {
		delete(t.latest, key)
	}
	t.mu.Unlock()
	if ok {
		t.sink.Publish(e)
	}
}

// Close stops all gates. Pending coalesced events are dropped.
func (t *Throttler) Close() {
	t.mu.Lock()
	t.closed = true
	gates := t.gates
	t.gates = make(map[string]throttle.ThrottleDriver)
	t.latest = make(map[string]Event)
	t.mu.Unlock()

	for _, g := range gates {
		g.Stop()
	}
}

// Broadcaster fans events out to multiple subscribers. Slow subscribers
// drop events rather than blocking the publisher.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel function.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers e to every subscriber, dropping on full buffers.
func (b *Broadcaster) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
