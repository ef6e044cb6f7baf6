// Package broadcast provides a replay-last, in-memory fan-out of values.
//
// A new subscriber immediately receives the most recently published value
// (if any) and then every subsequent one. Subscribers never block the
// publisher: each one has a bounded buffer and, when it is full, the oldest
// pending value is discarded in favour of the newest.
package broadcast

import (
	"errors"
	"sync"
)

// ErrClosed is returned when publishing to a closed broadcaster.
var ErrClosed = errors.New("broadcaster is closed")

// DefaultBuffer is the per-subscriber buffer size.
const DefaultBuffer = 16

// Broadcaster fans values out to every subscriber.
type Broadcaster[T any] struct {
	mu       sync.Mutex
	subs     map[uint64]chan T
	nextID   uint64
	latest   T
	hasValue bool
	closed   bool
	buffer   int
}

// New creates a broadcaster. buffer <= 0 uses DefaultBuffer.
func New[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[T]{
		subs:   make(map[uint64]chan T),
		buffer: buffer,
	}
}

// Publish records v as the latest value and delivers it to every subscriber.
func (b *Broadcaster[T]) Publish(v T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.latest = v
	b.hasValue = true
	for _, ch := range b.subs {
		deliver(ch, v)
	}
	return nil
}

// Subscribe returns a channel that receives the latest value (if one was
// published) followed by every later one, and a cancel func that detaches
// and closes the channel. On a closed broadcaster the channel only replays
// the latest value and is already closed.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.hasValue {
		ch <- b.latest
	}
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

// Latest returns the most recently published value.
func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasValue
}

// Subscribers returns the number of attached subscribers.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches and closes every subscriber channel. Idempotent.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// deliver sends v without blocking, dropping the oldest pending value when
// the buffer is full. Callers hold the broadcaster lock, so no other sender
// races for the freed slot.
func deliver[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
