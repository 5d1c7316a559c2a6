package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quantfolio/valuation/pkg/metrics"
)

// Handler consumes a delivered event.
type Handler func(Event)

// Backend mirrors published events to an external pub/sub system.
type Backend interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// Bus fans events out to subscribers. Each subscriber drains its own bounded
// queue on a dedicated goroutine; when a queue is saturated the event is
// delivered on the publisher's goroutine instead of being dropped, so a slow
// consumer degrades itself, never the valuation path silently.
type Bus struct {
	logger    *zap.Logger
	queueSize int
	backend   Backend

	mu     sync.RWMutex
	subs   []*subscriber
	closed bool

	wg sync.WaitGroup
}

type subscriber struct {
	name    string
	types   map[Type]struct{}
	queue   chan Event
	handler Handler
}

func (s *subscriber) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// NewBus creates a bus with the given per-subscriber queue size. backend may
// be nil.
func NewBus(logger *zap.Logger, queueSize int, backend Backend) *Bus {
	return &Bus{logger: logger, queueSize: queueSize, backend: backend}
}

// Subscribe registers a handler for the given event types (all types when
// none are given). The handler runs on the subscriber's own goroutine except
// under overflow, when it runs on the publisher's.
func (b *Bus) Subscribe(name string, handler Handler, types ...Type) {
	sub := &subscriber{
		name:    name,
		types:   make(map[Type]struct{}, len(types)),
		queue:   make(chan Event, b.queueSize),
		handler: handler,
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range sub.queue {
			sub.handler(ev)
		}
	}()
}

// Publish delivers the event to every interested subscriber and mirrors it to
// the backend when one is configured. Never blocks on slow consumers. The
// read lock is held through delivery so a concurrent Close cannot close a
// queue mid-send; handlers must not call back into Subscribe or Close.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			// Queue saturated: run on the caller so nothing is dropped.
			metrics.EventOverflows.WithLabelValues(sub.name).Inc()
			b.logger.Debug("subscriber queue full, delivering on caller",
				zap.String("subscriber", sub.name),
				zap.String("type", string(ev.Type)))
			sub.handler(ev)
		}
	}

	if b.backend != nil {
		go func() {
			if err := b.backend.Publish(context.Background(), string(ev.Type), ev); err != nil {
				b.logger.Warn("failed to mirror event to backend",
					zap.String("type", string(ev.Type)), zap.Error(err))
			}
		}()
	}
}

// Close stops accepting events and waits for subscriber queues to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.queue)
	}
	b.wg.Wait()
}
