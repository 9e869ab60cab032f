package watchbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is the narrow slice of internal/metrics the bus reports
// through; nil-safe so tests can omit it.
type Metrics interface {
	ObserveWatchFanout(listeners int, dur time.Duration)
	IncWatchDropped(reason string)
	SetActiveWatchers(n int)
}

// Bus manages watcher registration and fans WatchEvents out to every
// registered Subscriber without letting a slow subscriber stall the
// publisher (§4.E.2 "delivery must not block the update path").
type Bus interface {
	Subscribe(sub Subscriber) error
	Unsubscribe(sub Subscriber) error
	Publish(ev WatchEvent) error
	ActiveSubscribers() int
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DefaultBus is the standard in-process Bus: a single buffered channel
// feeding a broadcast worker that fans out to subscribers concurrently.
type DefaultBus struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex

	eventChan chan WatchEvent
	sequence  int64

	logger  *slog.Logger
	metrics Metrics

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewBus creates a DefaultBus with the given queue depth (0 uses a
// default of 1000, matching the watch_wait_queue sizing in §3).
func NewBus(logger *slog.Logger, metrics Metrics, queueDepth int) *DefaultBus {
	if queueDepth <= 0 {
		queueDepth = 1000
	}
	return &DefaultBus{
		subscribers: make(map[Subscriber]bool),
		eventChan:   make(chan WatchEvent, queueDepth),
		logger:      logger.With("component", "watchbus"),
		metrics:     metrics,
		stopChan:    make(chan struct{}),
	}
}

func (b *DefaultBus) Subscribe(sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[sub] = true
	b.logger.Info("watcher subscribed", "subscriber_id", sub.ID(), "total", len(b.subscribers))
	if b.metrics != nil {
		b.metrics.SetActiveWatchers(len(b.subscribers))
	}
	return nil
}

func (b *DefaultBus) Unsubscribe(sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		sub.Close()
		b.logger.Info("watcher unsubscribed", "subscriber_id", sub.ID(), "total", len(b.subscribers))
		if b.metrics != nil {
			b.metrics.SetActiveWatchers(len(b.subscribers))
		}
	}
	return nil
}

// Publish queues ev for broadcast. Non-blocking: a full queue drops the
// event and reports ErrEventChannelFull rather than stalling the caller
// (typically the merge-cache build path).
func (b *DefaultBus) Publish(ev WatchEvent) error {
	ev.Sequence = atomic.AddInt64(&b.sequence, 1)
	select {
	case b.eventChan <- ev:
		return nil
	default:
		b.logger.Warn("watch event queue full, dropping", "document", ev.Document, "namespace_id", ev.NamespaceID)
		if b.metrics != nil {
			b.metrics.IncWatchDropped("queue_full")
		}
		return ErrEventChannelFull
	}
}

func (b *DefaultBus) ActiveSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *DefaultBus) Start(ctx context.Context) error {
	b.wg.Add(1)
	go b.broadcastWorker(ctx)
	b.logger.Info("watchbus started")
	return nil
}

func (b *DefaultBus) Stop(ctx context.Context) error {
	b.logger.Info("stopping watchbus")
	close(b.stopChan)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("watchbus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("watchbus stop timeout")
		return ctx.Err()
	}
}

func (b *DefaultBus) broadcastWorker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		case ev := <-b.eventChan:
			b.broadcastEvent(ev)
		}
	}
}

func (b *DefaultBus) broadcastEvent(ev WatchEvent) {
	start := time.Now()

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			select {
			case <-s.Context().Done():
				b.Unsubscribe(s)
				return
			default:
			}
			if err := s.Send(ev); err != nil {
				b.logger.Warn("watch delivery failed, dropping subscriber", "subscriber_id", s.ID(), "error", err)
				b.Unsubscribe(s)
			}
		}(sub)
	}
	wg.Wait()

	if b.metrics != nil {
		b.metrics.ObserveWatchFanout(len(subs), time.Since(start))
	}
}
