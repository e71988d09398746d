package events

import (
	"log"
	"sync"
)

// Bus fans lifecycle events out to subscribers. Publish delivers to every
// live subscriber in subscription order and never drops: delivery is
// at-least-once and preserves the order events were published in. A
// subscriber that stops draining will therefore stall publishers; observers
// are expected to read promptly (the event loop does) or unsubscribe.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	nextID int
}

type subscriber struct {
	id   int
	ch   chan Event
	done chan struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new observer. The returned cancel func detaches the
// subscriber and unblocks any publisher waiting on its channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id:   b.nextID,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	b.nextID++
	b.subs = append(b.subs, sub)

	var once sync.Once
	cancel := func() {
		// Closing done before taking the lock unblocks a publisher that is
		// currently parked on this subscriber's channel.
		once.Do(func() { close(sub.done) })
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers ev to all current subscribers. Holding the lock across
// delivery is what guarantees global ordering; per-subscriber buffers keep
// the common case non-blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log.Printf("Bus: publish %s", ev.Kind)
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}
