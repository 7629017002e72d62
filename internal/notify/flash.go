package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finitefield.org/wholesale/internal/platform/kv"
	"finitefield.org/wholesale/internal/platform/requestctx"
)

const (
	defaultFlashCapacity = 20
	defaultFlashTTL      = 24 * time.Hour
)

// Flash queues notifications per session until the browser drains them.
type Flash struct {
	store    kv.Store
	capacity int
	ttl      time.Duration

	mu sync.Mutex
}

// FlashOption configures Flash.
type FlashOption func(*Flash)

// WithCapacity caps the queue; the oldest notifications are dropped first.
func WithCapacity(n int) FlashOption {
	return func(f *Flash) {
		if n > 0 {
			f.capacity = n
		}
	}
}

// WithTTL sets how long undrained notifications are kept.
func WithTTL(ttl time.Duration) FlashOption {
	return func(f *Flash) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// NewFlash constructs a session flash queue over store.
func NewFlash(store kv.Store, opts ...FlashOption) (*Flash, error) {
	if store == nil {
		return nil, errors.New("notify: store is required")
	}
	f := &Flash{store: store, capacity: defaultFlashCapacity, ttl: defaultFlashTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Notify appends n to the queue of the session in ctx.
func (f *Flash) Notify(ctx context.Context, n Notification) error {
	sessionID, err := sessionFrom(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	queue, err := f.load(ctx, sessionID)
	if err != nil {
		return err
	}
	queue = append(queue, n)
	if over := len(queue) - f.capacity; over > 0 {
		queue = queue[over:]
	}
	if err := kv.SetJSON(ctx, f.store, flashKey(sessionID), queue, f.ttl); err != nil {
		return fmt.Errorf("notify: save flash: %w", err)
	}
	return nil
}

// Drain returns and clears the pending notifications of sessionID, oldest first.
func (f *Flash) Drain(ctx context.Context, sessionID string) ([]Notification, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	queue, err := f.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(queue) == 0 {
		return []Notification{}, nil
	}
	if err := f.store.Delete(ctx, flashKey(sessionID)); err != nil {
		return nil, fmt.Errorf("notify: clear flash: %w", err)
	}
	return queue, nil
}

// Move hands the pending notifications of one session to another.
func (f *Flash) Move(ctx context.Context, fromSessionID, toSessionID string) error {
	if fromSessionID == "" || toSessionID == "" {
		return ErrNoSession
	}
	queue, err := f.Drain(ctx, fromSessionID)
	if err != nil || len(queue) == 0 {
		return err
	}
	for _, n := range queue {
		if err := f.Notify(requestctx.WithSessionID(ctx, toSessionID), n); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flash) load(ctx context.Context, sessionID string) ([]Notification, error) {
	var queue []Notification
	err := kv.GetJSON(ctx, f.store, flashKey(sessionID), &queue)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("notify: load flash: %w", err)
	}
	return queue, nil
}

func flashKey(sessionID string) string {
	return "session:" + sessionID + ":flash"
}
