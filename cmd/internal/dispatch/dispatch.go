// Package dispatch provides ordered fan-out of events to registered
// callbacks. It carries no decision logic: session changes and realtime
// messages both flow through a Hub owned by their producer.
package dispatch

import (
	"log/slog"
	"sync"
)

// Hub delivers each published item to every subscriber in registration
// order. A panicking subscriber is recovered and logged so it cannot break
// delivery to the others.
//
// Publish calls are serialized, which preserves arrival order end to end.
type Hub[T any] struct {
	log *slog.Logger

	mu   sync.Mutex
	subs []func(T)
}

// NewHub constructs a Hub. A nil logger falls back to slog.Default.
func NewHub[T any](log *slog.Logger) *Hub[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Hub[T]{log: log}
}

// Subscribe registers a callback. Nil callbacks are ignored.
// Subscriptions last for the lifetime of the hub; the hub is recreated per
// process run and never persisted.
func (h *Hub[T]) Subscribe(fn func(T)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

// Publish delivers item to all subscribers in registration order.
func (h *Hub[T]) Publish(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, fn := range h.subs {
		h.deliver(fn, item)
	}
}

// Len returns the number of registered subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub[T]) deliver(fn func(T), item T) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("dispatch.subscriber.panic", "panic", r)
		}
	}()
	fn(item)
}
