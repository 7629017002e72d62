package query

import (
	"context"
	"errors"
)

// Subscription delivers snapshots of one key. Updates keeps only the latest undelivered snapshot.
type Subscription struct {
	cache   *Cache
	key     Key
	updates chan Resource
	closed  bool
}

// Subscribe registers interest in key. The current snapshot is delivered immediately and a fetch
// starts when the entry is not fresh and nothing is in flight. Later invalidations of the key
// refetch it while the subscription is open.
func (c *Cache) Subscribe(ctx context.Context, key Key, fetcher Fetcher) (*Subscription, error) {
	if fetcher == nil {
		return nil, errors.New("query: fetcher is required")
	}
	sub := &Subscription{cache: c, key: key, updates: make(chan Resource, 1)}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	e.lastUsed = c.now()
	e.fetcher = fetcher
	e.subs[sub] = struct{}{}
	if !c.freshLocked(e) && e.inflight == nil {
		c.record(ctx, "miss", key)
		c.startLocked(ctx, e, fetcher)
		return sub, nil
	}
	sub.deliverLocked(c.snapshotLocked(e))
	return sub, nil
}

// Key returns the subscribed key.
func (s *Subscription) Key() Key { return s.key }

// Updates returns the channel of snapshots. It is closed by Close.
func (s *Subscription) Updates() <-chan Resource { return s.updates }

// Current returns the entry's snapshot now.
func (s *Subscription) Current() Resource {
	res, _ := s.cache.Peek(s.key)
	return res
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	c := s.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if e, ok := c.entries[s.key]; ok {
		delete(e.subs, s)
		e.lastUsed = c.now()
	}
	close(s.updates)
}

// deliverLocked replaces any pending snapshot with snap. Callers hold the cache lock.
func (s *Subscription) deliverLocked(snap Resource) {
	if s.closed {
		return
	}
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}
