// Package status provides a small publish/subscribe broker for operation
// progress. Executors publish snapshots of their state; the CLI and tests
// subscribe to watch an operation advance without polling.
package status

import "sync"

// Broker fans updates of type T out to subscribers. Publishing never
// blocks: a subscriber that is not keeping up has its pending update
// replaced by the newer one, so every reader always observes the most
// recent state even if it misses intermediate ones.
type Broker[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	latest T
	seeded bool
}

// NewBroker returns an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[int]chan T)}
}

// Publish records v as the latest state and offers it to every subscriber.
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = v
	b.seeded = true
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// Drop the stale pending update in favour of the new one.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must
// be called to release it; afterwards the channel is closed.
func (b *Broker[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan T, 1)
	if b.seeded {
		ch <- b.latest
	}
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Latest returns the most recently published value and whether anything
// has been published yet.
func (b *Broker[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.seeded
}
