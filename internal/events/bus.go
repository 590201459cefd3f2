package events

import (
	"context"
	"sync"
	"sync/atomic"

	"wacompose/internal/constants"
	"wacompose/internal/metrics"
	"wacompose/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Sink receives events outside the process
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Subscription is one bounded event queue
type Subscription struct {
	id      uint64
	jid     string
	events  chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Events is closed when the subscription ends
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped counts events lost to a full queue
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Bus fans reconciler events out to subscribers. Publishing never blocks:
// a subscriber whose queue is full misses the event.
type Bus struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a queue for events of chat jid (all chats when empty)
func (b *Bus) Subscribe(jid string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = constants.DefaultEventBuffer
	}
	sub := &Subscription{jid: jid, events: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.events)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	metrics.EventSubscribers.Inc()
	return sub
}

// Unsubscribe removes sub and closes its queue
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if ok {
		metrics.EventSubscribers.Dec()
		sub.once.Do(func() { close(sub.events) })
	}
}

// Publish delivers ev to every matching subscriber
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !ev.Matches(sub.jid) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			sub.dropped.Add(1)
			b.logger.WithFields(logrus.Fields{
				"event_kind":  ev.Kind,
				"message_key": privacy.MaskMessageKey(ev.Key.String()),
				"subscriber":  sub.id,
			}).Warn("Event subscriber queue full, dropping event")
		}
	}
}

// Attach forwards every event to sink until ctx is done or the bus closes
func (b *Bus) Attach(ctx context.Context, name string, sink Sink) {
	sub := b.Subscribe("", 0)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.Unsubscribe(sub)
		log := b.logger.WithField("sink", name)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := sink.Publish(ctx, ev); err != nil {
					log.WithError(err).WithField("event_kind", ev.Kind).Error("Failed to publish event to sink")
				}
			}
		}
	}()
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription and waits for attached sinks to drain
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		metrics.EventSubscribers.Dec()
		sub.once.Do(func() { close(sub.events) })
	}
	b.wg.Wait()
}
