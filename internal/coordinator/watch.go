package coordinator

import (
	"context"
	"time"

	"github.com/vitaliisemenov/mhconf/internal/apierr"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
	"github.com/vitaliisemenov/mhconf/internal/tracebus"
	"github.com/vitaliisemenov/mhconf/internal/watchbus"
)

// registered bundles a live watcher with the bus-side bookkeeping needed
// to unregister it later.
type registered struct {
	watcher *nsconfig.Watcher
	sub     watchbus.Subscriber
	cancel  context.CancelFunc
}

// RegisterWatcher attaches w to every currently-matching override entry
// and the document's watcher set (§4.E.2), and tracks it on the
// namespace's watch bus for lifecycle/metrics purposes. flavor is the
// flavor w was registered against; fires always resolve against the
// default flavor, since nsconfig.Document does not retain a per-watcher
// flavor once registered (see fireWatcher).
func (c *Coordinator) RegisterWatcher(ctx context.Context, w *nsconfig.Watcher, flavor string) error {
	doc, ok := c.NS.Document(w.Document)
	if !ok {
		return &apierr.InvalidArgument{Field: "document", Reason: "document has never been indexed"}
	}

	c.regMu.Lock()
	if _, exists := c.registered[w.UID]; exists {
		c.regMu.Unlock()
		return &apierr.UIDInUse{UID: w.UID}
	}
	sub, cancel := watchbus.NewWatcherSubscriber(ctx, w)
	c.registered[w.UID] = &registered{watcher: w, sub: sub, cancel: cancel}
	c.regMu.Unlock()

	doc.AddWatcher(w, flavor)
	if err := c.watch.Subscribe(sub); err != nil {
		c.logger.Warn("watch bus subscribe failed", "uid", w.UID, "error", err)
	}
	c.emitTrace(tracebus.KindAddedWatcher, w, c.NS.CurrentVersion(), nil)
	return nil
}

// UnregisterWatcher removes the watcher identified by uid from document,
// the bus, and this coordinator's registry.
func (c *Coordinator) UnregisterWatcher(document, uid string) error {
	c.regMu.Lock()
	r := c.registered[uid]
	delete(c.registered, uid)
	c.regMu.Unlock()
	if r == nil {
		return &apierr.UnknownUID{UID: uid}
	}

	if doc, ok := c.NS.Document(document); ok {
		doc.RemoveWatcher(r.watcher)
	}
	r.cancel()
	_ = c.watch.Unsubscribe(r.sub)
	c.emitTrace(tracebus.KindRemovedWatcher, r.watcher, c.NS.CurrentVersion(), nil)
	return nil
}

// expireDeadWatchers drops every registered watcher whose connection
// context has already been cancelled (§4.E.3 DEAD_POINTERS pass), and
// reports how many were removed.
func (c *Coordinator) expireDeadWatchers() int {
	c.regMu.Lock()
	var dead []*registered
	for uid, r := range c.registered {
		select {
		case <-r.sub.Context().Done():
			dead = append(dead, r)
			delete(c.registered, uid)
		default:
		}
	}
	c.regMu.Unlock()

	for _, r := range dead {
		if doc, ok := c.NS.Document(r.watcher.Document); ok {
			doc.RemoveWatcher(r.watcher)
		}
		_ = c.watch.Unsubscribe(r.sub)
	}
	return len(dead)
}

// fireWatcher resolves w's (document, labels) at version and delivers
// the result through its sink, suppressing delivery if the checksum is
// unchanged since the last firing (§4.E.2).
func (c *Coordinator) fireWatcher(w *nsconfig.Watcher, version uint64) {
	res, err := c.resolveAt(w.Document, w.Labels, "", version)
	if err != nil {
		c.emitTrace(tracebus.KindError, w, version, err)
		return
	}

	sum := res.Value.Checksum()
	if last := w.LastChecksum(); last != nil && *last == sum {
		return
	}
	w.SetLastChecksum(sum)

	ev := watchbus.WatchEvent{
		Kind:        watchbus.EventKindUpdate,
		FiredAt:     time.Now(),
		NamespaceID: c.NS.ID,
		Document:    w.Document,
		Labels:      w.Labels,
		Version:     version,
		Checksum:    sum,
		Value:       res.Value,
		Sources:     res.Sources,
	}
	if err := w.Sink.Send(ev); err != nil {
		c.logger.Warn("watch delivery failed", "uid", w.UID, "document", w.Document, "error", err)
		// Cancelling the registration lets the next DEAD_POINTERS pass drop it.
		c.regMu.Lock()
		if r := c.registered[w.UID]; r != nil && r.watcher == w {
			r.cancel()
		}
		c.regMu.Unlock()
		return
	}
	c.emitTrace(tracebus.KindReturnedElements, w, version, nil)
}

// emitTrace publishes a trace event for a watcher lifecycle/fire
// transition (§4.E.4) if a trace bus is configured.
func (c *Coordinator) emitTrace(kind tracebus.Kind, w *nsconfig.Watcher, version uint64, err error) {
	if c.trace == nil {
		return
	}
	if kind == tracebus.KindError && err == nil {
		return
	}
	ev := tracebus.Event{
		Kind:        kind,
		NamespaceID: c.NS.ID,
		Version:     version,
		Labels:      w.Labels,
		Document:    w.Document,
		Peer:        w.UID,
		At:          time.Now(),
	}
	c.trace.Emit(ev)
}
