// Package watchbus fans out watch-fire notifications to standing
// subscribers without blocking the goroutine that computed the merged
// config (§4.E.2, §4.E.4 replay).
package watchbus

import (
	"context"
	"time"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/merge"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
)

// WatchEvent is one delivery to a registered watcher: either a fresh
// merged-config result, or a trace line, depending on Kind. Sources
// mirrors the Get result shape's sources[] list (§6 Watch: "Event(uid,
// status, ...) mirroring the Get result shape") so a fire carries enough
// to resolve each node's position the same way a Get response does.
type WatchEvent struct {
	Kind       EventKind
	Sequence   int64
	FiredAt    time.Time
	NamespaceID string
	Document    string
	Labels      nsconfig.Labels
	Version     uint64
	Checksum    [32]byte
	Value       element.Element
	Sources     []merge.Source
	TraceLine   string
}

// EventKind distinguishes the two things a watcher can receive.
type EventKind int

const (
	EventKindUpdate EventKind = iota
	EventKindTrace
)

// Subscriber is a standing destination for WatchEvents: the transport
// layer's per-connection writer, or an in-memory stand-in in tests.
type Subscriber interface {
	// ID returns the subscriber's unique identity (the owning Watcher's UID).
	ID() string

	// Send delivers ev. An error signals the subscriber is gone and
	// should be dropped at the next natural boundary.
	Send(ev WatchEvent) error

	// Close releases the subscriber's resources.
	Close() error

	// Context is cancelled when the underlying connection goes away.
	Context() context.Context
}

// watcherSubscriber adapts an nsconfig.Watcher (whose OutputSink is the
// actual wire writer) into a Subscriber the bus can track.
type watcherSubscriber struct {
	watcher *nsconfig.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWatcherSubscriber wraps w for registration on a Bus. cancel should be
// invoked by the caller once the underlying connection closes.
func NewWatcherSubscriber(ctx context.Context, w *nsconfig.Watcher) (Subscriber, context.CancelFunc) {
	c, cancel := context.WithCancel(ctx)
	return &watcherSubscriber{watcher: w, ctx: c, cancel: cancel}, cancel
}

func (s *watcherSubscriber) ID() string { return s.watcher.UID }

func (s *watcherSubscriber) Send(ev WatchEvent) error {
	return s.watcher.Sink.Send(ev)
}

func (s *watcherSubscriber) Close() error {
	s.cancel()
	return nil
}

func (s *watcherSubscriber) Context() context.Context { return s.ctx }
