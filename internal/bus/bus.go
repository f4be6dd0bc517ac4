// Package bus is a direct-dispatch publish/subscribe primitive keyed by event type.
package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies a multi-shot subscription.
type Handle string

// Handler receives payloads published under the subscribed event type.
type Handler[T any] func(T)

type listener[T any] struct {
	handle  Handle
	handler Handler[T]
}

type waiter[T any] struct {
	id uint64
	ch chan T
}

// Bus dispatches payloads synchronously to subscribers. It does no filtering,
// prioritisation or buffering beyond the single slot handed to one-shot waiters.
type Bus[T any] struct {
	mu        sync.Mutex
	listeners map[string][]listener[T]
	types     map[Handle]string
	waiters   map[string][]waiter[T]
	nextWait  uint64
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{
		listeners: make(map[string][]listener[T]),
		types:     make(map[Handle]string),
		waiters:   make(map[string][]waiter[T]),
	}
}

// Subscribe registers a persistent handler and returns its handle.
func (b *Bus[T]) Subscribe(eventType string, handler Handler[T]) Handle {
	h := Handle(uuid.NewString())
	b.mu.Lock()
	b.listeners[eventType] = append(b.listeners[eventType], listener[T]{handle: h, handler: handler})
	b.types[h] = eventType
	b.mu.Unlock()
	return h
}

// Unsubscribe removes a persistent handler. Unknown handles are ignored.
func (b *Bus[T]) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.types[h]
	if !ok {
		return
	}
	delete(b.types, h)

	current := b.listeners[eventType]
	kept := make([]listener[T], 0, len(current))
	for _, l := range current {
		if l.handle != h {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(b.listeners, eventType)
		return
	}
	b.listeners[eventType] = kept
}

// SubscribeOnce returns a channel that receives the next payload published
// under eventType, after which the subscription is gone. cancel withdraws a
// pending waiter; the channel is never closed.
func (b *Bus[T]) SubscribeOnce(eventType string) (<-chan T, func()) {
	ch := make(chan T, 1)

	b.mu.Lock()
	b.nextWait++
	id := b.nextWait
	b.waiters[eventType] = append(b.waiters[eventType], waiter[T]{id: id, ch: ch})
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		current := b.waiters[eventType]
		for i, w := range current {
			if w.id == id {
				b.waiters[eventType] = append(current[:i:i], current[i+1:]...)
				break
			}
		}
		if len(b.waiters[eventType]) == 0 {
			delete(b.waiters, eventType)
		}
	}
	return ch, cancel
}

// Next blocks until a payload is published under eventType or ctx is done.
func (b *Bus[T]) Next(ctx context.Context, eventType string) (T, error) {
	ch, cancel := b.SubscribeOnce(eventType)
	defer cancel()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Publish calls every persistent handler for eventType in registration order,
// then resolves each one-shot waiter that was pending when Publish was called.
// Handlers run on the caller's goroutine and may subscribe or unsubscribe; a
// waiter registered by a handler resolves on the next publish.
func (b *Bus[T]) Publish(eventType string, payload T) {
	b.mu.Lock()
	handlers := make([]Handler[T], 0, len(b.listeners[eventType]))
	for _, l := range b.listeners[eventType] {
		handlers = append(handlers, l.handler)
	}
	pending := b.waiters[eventType]
	delete(b.waiters, eventType)
	b.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}

	for _, w := range pending {
		w.ch <- payload
	}
}

// Len reports the number of persistent handlers for eventType.
func (b *Bus[T]) Len(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[eventType])
}
