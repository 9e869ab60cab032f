// Package tracebus implements the trace facility of spec.md §4.E.4: a
// per-namespace fanout of request/watcher lifecycle events to selector-
// filtered subscribers, plus a short replay ring buffer so a subscriber
// that attaches mid-burst does not miss the events emitted during its
// own stream setup (grounded on original_source's trace_stream_impl.cpp,
// named in SPEC_FULL.md's Supplemented Features).
package tracebus

import (
	"sync"
	"time"

	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

// Kind enumerates the event kinds §4.E.4 names.
type Kind string

const (
	KindReturnedElements Kind = "RETURNED_ELEMENTS"
	KindError            Kind = "ERROR"
	KindAddedWatcher     Kind = "ADDED_WATCHER"
	KindExistingWatcher  Kind = "EXISTING_WATCHER"
	KindRemovedWatcher   Kind = "REMOVED_WATCHER"
)

// Event is one trace line.
type Event struct {
	Kind        Kind
	NamespaceID string
	Version     uint64
	Labels      nsconfig.Labels
	Document    string
	Flavor      string
	Peer        string
	At          time.Time
}

// Selector filters which events a subscription receives. A zero-value
// Selector (every field empty) traces everything in the namespace.
type Selector struct {
	Labels   nsconfig.Labels
	Document string
	Flavor   string
}

// Matches reports whether ev satisfies every set field of s (§4.E.4
// "every set field in the selector must equal/contain the event's
// corresponding field").
func (s Selector) Matches(ev Event) bool {
	if s.Document != "" && s.Document != ev.Document {
		return false
	}
	if s.Flavor != "" && s.Flavor != ev.Flavor {
		return false
	}
	if s.Labels.Len() > 0 && !ev.Labels.Contains(s.Labels) {
		return false
	}
	return true
}

// Sink receives trace events for one subscription.
type Sink interface {
	Send(ev Event) error
}

type subscription struct {
	id       uint64
	selector Selector
	sink     Sink
}

// replayDepth is how many recent events a late subscriber replays.
const replayDepth = 64

// Bus is the per-namespace trace fanout: Emit is called by every request
// path and watcher lifecycle transition; Subscribe attaches a selector-
// filtered Sink that first replays recent matching history.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]subscription
	nextID  uint64
	ring    []Event
	ringPos int
}

// New creates an empty trace bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]subscription), ring: make([]Event, 0, replayDepth)}
}

// Emit records ev in the replay ring and delivers it to every matching
// subscriber. Delivery errors are ignored here; the transport layer is
// responsible for detecting and unsubscribing dead sinks.
func (b *Bus) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	if len(b.ring) < replayDepth {
		b.ring = append(b.ring, ev)
	} else {
		b.ring[b.ringPos] = ev
		b.ringPos = (b.ringPos + 1) % replayDepth
	}
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.selector.Matches(ev) {
			_ = s.sink.Send(ev)
		}
	}
}

// Subscribe registers sink under selector, replays buffered history that
// matches, and returns an unsubscribe token.
func (b *Bus) Subscribe(selector Selector, sink Sink) (token uint64) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{id: id, selector: selector, sink: sink}
	replay := b.orderedRing()
	b.mu.Unlock()

	for _, ev := range replay {
		if selector.Matches(ev) {
			_ = sink.Send(ev)
		}
	}
	return id
}

// orderedRing returns the buffered events oldest-first. Caller holds mu.
func (b *Bus) orderedRing() []Event {
	if len(b.ring) < replayDepth {
		return append([]Event(nil), b.ring...)
	}
	out := make([]Event, 0, replayDepth)
	out = append(out, b.ring[b.ringPos:]...)
	out = append(out, b.ring[:b.ringPos]...)
	return out
}

// Unsubscribe removes a subscription by its token.
func (b *Bus) Unsubscribe(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, token)
}

// SubscriberCount reports the number of active subscriptions, for GC/metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
