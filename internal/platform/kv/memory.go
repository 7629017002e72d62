package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryStore provides an in-process implementation for local development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]record
	now     func() time.Time
}

type record struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]record), now: time.Now}
}

// WithClock swaps the time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.expired(s.now()) {
		delete(s.records, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(rec.value))
	copy(out, rec.value)
	return out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	rec := record{value: stored}
	if ttl > 0 {
		rec.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.records[key] = rec
	s.mu.Unlock()
	return nil
}

// SetNX implements Store.
func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[key]; ok && !rec.expired(now) {
		return false, nil
	}
	rec := record{value: append([]byte(nil), value...)}
	if ttl > 0 {
		rec.expiresAt = now.Add(ttl)
	}
	s.records[key] = rec
	return true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.records, key)
	}
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// CleanupExpired removes expired records and returns how many were dropped.
func (s *MemoryStore) CleanupExpired(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

func (r record) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}
