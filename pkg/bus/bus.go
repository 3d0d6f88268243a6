// Package bus publishes message lifecycle events to in-process observers:
// the gateway's status counters and the event logger.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 100

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// EventBus fans events out to buffered subscribers. A subscriber whose
// buffer is full misses the event; publishers never block.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

// PublishEvent stamps event and offers it to every subscriber. It reports
// false when the bus is nil or closed, or ctx is done.
func (eb *EventBus) PublishEvent(ctx context.Context, event Event) bool {
	if eb == nil || ctx.Err() != nil {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return false
	}

	for sub := range eb.subs {
		select {
		case sub.ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
	return true
}

// SubscribeEvents returns a channel of future events and a function that
// ends the subscription. The channel closes on unsubscribe, when ctx ends,
// or when the bus closes.
func (eb *EventBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	eb.subs[sub] = struct{}{}
	eb.mu.Unlock()

	unsubscribe := func() { eb.remove(sub) }
	go func() {
		select {
		case <-ctx.Done():
		case <-eb.done:
		}
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}

// Missed returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (eb *EventBus) Missed() uint64 {
	return eb.dropped.Load()
}

// Close ends every subscription. Later publishes report false.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	close(eb.done)
	subs := eb.subs
	eb.subs = make(map[*subscriber]struct{})
	eb.mu.Unlock()

	for sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (eb *EventBus) remove(sub *subscriber) {
	eb.mu.Lock()
	delete(eb.subs, sub)
	eb.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}
