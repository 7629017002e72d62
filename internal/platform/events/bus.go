// Package events carries cache invalidations between storefront replicas.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when publishing on a bus that has been shut down.
var ErrClosed = errors.New("events: bus closed")

// Invalidation announces that a resource tag changed upstream.
type Invalidation struct {
	Tag    string              `json:"tag"`
	Scope  string              `json:"scope,omitempty"`
	Params map[string][]string `json:"params,omitempty"`
	Origin string              `json:"origin"`
	At     time.Time           `json:"at"`
}

// Handler receives invalidations published by other replicas.
type Handler func(ctx context.Context, inv Invalidation)

// Bus fans invalidations out to every replica.
type Bus interface {
	Publish(ctx context.Context, inv Invalidation) error
	Subscribe(handler Handler) (unsubscribe func(), err error)
	Close() error
}

// LocalBus is the single-process Bus. Publish is a no-op for remote delivery; handlers only see
// events published with a foreign origin, which in tests lets a second LocalBus share one queue.
type LocalBus struct {
	origin string

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	closed   bool
}

// NewLocalBus constructs a bus whose events carry the given origin.
func NewLocalBus(origin string) *LocalBus {
	return &LocalBus{origin: origin, handlers: make(map[int]Handler)}
}

// Origin returns the instance identifier stamped on published events.
func (b *LocalBus) Origin() string { return b.origin }

// Publish delivers inv to every handler unless it originated here.
func (b *LocalBus) Publish(ctx context.Context, inv Invalidation) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	if inv.Origin == "" {
		inv.Origin = b.origin
	}
	if inv.At.IsZero() {
		inv.At = time.Now().UTC()
	}
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if inv.Origin == b.origin {
		return nil
	}
	for _, h := range handlers {
		h(ctx, inv)
	}
	return nil
}

// Subscribe registers handler until the returned function is called.
func (b *LocalBus) Subscribe(handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.New("events: handler is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}

// Close drops all handlers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = map[int]Handler{}
	b.mu.Unlock()
	return nil
}
