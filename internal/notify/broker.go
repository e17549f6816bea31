package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"custodyledger/pkg/domain"
)

// Broker is the in-process sink. Subscribers get their own buffered channel;
// a subscriber that falls behind loses events rather than stalling the
// ledger.
type Broker struct {
	mu      sync.RWMutex
	subs    map[uint64]chan domain.Event
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
	closed  bool
}

// NewBroker creates a broker whose subscriptions buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[uint64]chan domain.Event), buffer: buffer}
}

// Name implements Sink.
func (b *Broker) Name() string { return "broker" }

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes the channel.
func (b *Broker) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan domain.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish implements Sink. It never blocks.
func (b *Broker) Publish(_ context.Context, events []domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		for _, e := range events {
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}
	}
	return nil
}

// Dropped returns how many deliveries were discarded for slow subscribers.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
