package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/platform/events"
)

const (
	metricNamespace = "finitefield.org/wholesale/internal/query"
	defaultIdleTTL  = 10 * time.Minute
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Fetcher loads the value for one key from upstream.
type Fetcher func(ctx context.Context) (any, error)

// Resource is a point-in-time snapshot of an entry. Data survives a failed refetch; Err holds the
// last failure. Fetching is set while a request for the key is in flight.
type Resource struct {
	Key       Key
	Data      any
	Status    Status
	Err       error
	FetchedAt time.Time
	Stale     bool
	Fetching  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMeter sets the meter used for cache counters.
func WithMeter(m metric.Meter) Option {
	return func(c *Cache) {
		if m != nil {
			c.meter = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStaleAfter also treats entries older than d as stale. Zero disables age-based staleness.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.staleAfter = d
		}
	}
}

// WithIdleTTL sets how long an unused entry without subscribers survives Prune.
func WithIdleTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.idleTTL = d
		}
	}
}

// Cache holds remote resources keyed by Key. It keeps at most one upstream request in flight per
// key; a newer request for the key supersedes the older one, whose result is then discarded.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry

	logger     *zap.Logger
	meter      metric.Meter
	events     metric.Int64Counter
	now        func() time.Time
	staleAfter time.Duration
	idleTTL    time.Duration
}

type entry struct {
	key       Key
	data      any
	status    Status
	err       error
	fetchedAt time.Time
	stale     bool
	lastUsed  time.Time
	fetcher   Fetcher
	inflight  *call
	subs      map[*Subscription]struct{}
}

// call is one upstream request. settled closes when the request completes or is superseded;
// next points at the superseding call so waiters can follow it.
type call struct {
	settled chan struct{}
	closed  bool
	next    *call
	data    any
	err     error
}

func (cl *call) settle() {
	if !cl.closed {
		cl.closed = true
		close(cl.settled)
	}
}

// NewCache constructs an empty cache.
func NewCache(opts ...Option) (*Cache, error) {
	c := &Cache{
		entries: make(map[Key]*entry),
		logger:  zap.NewNop(),
		now:     time.Now,
		idleTTL: defaultIdleTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.Named("query")
	if c.meter == nil {
		c.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	counter, err := c.meter.Int64Counter(
		"query.cache.events",
		metric.WithDescription("Cache lookups and lifecycle events by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("query: register cache metric: %w", err)
	}
	c.events = counter
	return c, nil
}

// Fetch returns the value for key. A fresh entry is served without a request; otherwise the caller
// joins the in-flight request or starts one. The request is detached from ctx: a caller that gives
// up stops waiting but does not cancel the request for other waiters.
func (c *Cache) Fetch(ctx context.Context, key Key, fetcher Fetcher) (any, error) {
	if fetcher == nil {
		return nil, errors.New("query: fetcher is required")
	}

	c.mu.Lock()
	e := c.entryLocked(key)
	e.lastUsed = c.now()
	e.fetcher = fetcher
	if c.freshLocked(e) {
		data := e.data
		c.mu.Unlock()
		c.record(ctx, "hit", key)
		return data, nil
	}
	cl := e.inflight
	if cl != nil {
		c.record(ctx, "join", key)
	} else {
		c.record(ctx, "miss", key)
		cl = c.startLocked(ctx, e, fetcher)
	}
	c.mu.Unlock()

	return c.wait(ctx, cl)
}

// Refresh issues a new request for key even when one is in flight. The older request is
// superseded: its result is discarded and its waiters receive this request's result.
func (c *Cache) Refresh(ctx context.Context, key Key, fetcher Fetcher) (any, error) {
	if fetcher == nil {
		return nil, errors.New("query: fetcher is required")
	}
	c.mu.Lock()
	e := c.entryLocked(key)
	e.lastUsed = c.now()
	e.fetcher = fetcher
	cl := c.startLocked(ctx, e, fetcher)
	c.mu.Unlock()

	return c.wait(ctx, cl)
}

// Peek returns the current snapshot for key without fetching.
func (c *Cache) Peek(key Key) (Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Resource{Key: key, Status: StatusIdle}, false
	}
	return c.snapshotLocked(e), true
}

// Invalidate marks every entry selected by f stale. Entries with subscribers or an in-flight
// request are refetched right away; the others refetch on next use. It returns the number of
// entries marked.
func (c *Cache) Invalidate(ctx context.Context, f Filter) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	marked := 0
	for _, e := range c.entries {
		if !f.Matches(e.key) {
			continue
		}
		marked++
		e.stale = true
		if e.fetcher != nil && (len(e.subs) > 0 || e.inflight != nil) {
			c.startLocked(ctx, e, e.fetcher)
			continue
		}
		c.publishLocked(e)
	}
	if marked > 0 {
		c.logger.Debug("cache invalidated",
			zap.String("tag", f.Tag),
			zap.Bool("scoped", f.Scope != ""),
			zap.Int("entries", marked),
		)
	}
	c.events.Add(ctx, int64(marked), metric.WithAttributes(attribute.String("event", "invalidate"), attribute.String("tag", f.Tag)))
	return marked
}

// HandleInvalidation applies an invalidation received from another replica.
func (c *Cache) HandleInvalidation(ctx context.Context, inv events.Invalidation) {
	c.Invalidate(ctx, Filter{Tag: inv.Tag, Scope: inv.Scope, Params: inv.Params})
}

// Prune drops entries that have no subscribers, no request in flight and have not been used for
// longer than the idle TTL. It returns the number of entries dropped.
func (c *Cache) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if len(e.subs) > 0 || e.inflight != nil {
			continue
		}
		if now.Sub(e.lastUsed) > c.idleTTL {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Run prunes on every tick until ctx ends.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Prune(c.now()); removed > 0 {
				c.logger.Debug("pruned idle cache entries", zap.Int("removed", removed))
			}
		}
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// prime stores a server-returned value for key. Only the coordinator writes values directly.
func (c *Cache) prime(key Key, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	if e.inflight != nil {
		return
	}
	e.data = data
	e.status = StatusSuccess
	e.err = nil
	e.fetchedAt = c.now()
	e.stale = false
	e.lastUsed = e.fetchedAt
	c.publishLocked(e)
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, status: StatusIdle, subs: make(map[*Subscription]struct{}), lastUsed: c.now()}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) freshLocked(e *entry) bool {
	if e.status != StatusSuccess || e.stale {
		return false
	}
	if c.staleAfter > 0 && c.now().Sub(e.fetchedAt) > c.staleAfter {
		return false
	}
	return true
}

func (c *Cache) startLocked(ctx context.Context, e *entry, fetcher Fetcher) *call {
	cl := &call{settled: make(chan struct{})}
	if prev := e.inflight; prev != nil {
		prev.next = cl
		prev.settle()
	}
	e.inflight = cl
	if e.status == StatusIdle {
		e.status = StatusLoading
	}
	c.publishLocked(e)

	go c.run(context.WithoutCancel(ctx), e, cl, fetcher)
	return cl
}

func (c *Cache) run(ctx context.Context, e *entry, cl *call, fetcher Fetcher) {
	data, err := safeFetch(ctx, fetcher)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.inflight != cl {
		c.record(ctx, "discard", e.key)
		return
	}
	e.inflight = nil
	cl.data, cl.err = data, err
	if err != nil {
		e.status = StatusError
		e.err = err
		c.logger.Warn("fetch failed", zap.String("tag", e.key.Tag()), zap.Error(err))
	} else {
		e.data = data
		e.status = StatusSuccess
		e.err = nil
		e.fetchedAt = c.now()
		e.stale = false
	}
	cl.settle()
	c.publishLocked(e)
}

func (c *Cache) wait(ctx context.Context, cl *call) (any, error) {
	for {
		select {
		case <-cl.settled:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
		next := cl.next
		data, err := cl.data, cl.err
		c.mu.Unlock()
		if next == nil {
			return data, err
		}
		cl = next
	}
}

func (c *Cache) snapshotLocked(e *entry) Resource {
	return Resource{
		Key:       e.key,
		Data:      e.data,
		Status:    e.status,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		Stale:     e.stale,
		Fetching:  e.inflight != nil,
	}
}

func (c *Cache) publishLocked(e *entry) {
	if len(e.subs) == 0 {
		return
	}
	snap := c.snapshotLocked(e)
	for sub := range e.subs {
		sub.deliverLocked(snap)
	}
}

func (c *Cache) record(ctx context.Context, event string, key Key) {
	c.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event), attribute.String("tag", key.Tag())))
}

func safeFetch(ctx context.Context, fetcher Fetcher) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("query: fetcher panicked: %v", rec)
		}
	}()
	return fetcher(ctx)
}
