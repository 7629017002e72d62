package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"finitefield.org/wholesale/internal/platform/httpx"
)

// keyedLimiter hands out one token bucket per client key. Buckets idle for longer than the
// window are pruned on the next allocation.
type keyedLimiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	store map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newKeyedLimiter allows burst requests per window per key. It returns nil, which allows
// everything, when either value is not positive.
func newKeyedLimiter(burst int, window time.Duration, clock func() time.Time) *keyedLimiter {
	if burst <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedLimiter{
		limit:  rate.Every(window / time.Duration(burst)),
		burst:  burst,
		window: window,
		clock:  clock,
		store:  make(map[string]*limiterEntry),
	}
}

// Reserve reports whether key may proceed and, when not, how long it should wait.
func (l *keyedLimiter) Reserve(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.store[key]
	if !ok {
		l.pruneLocked(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.store[key] = entry
	}
	entry.lastSeen = now

	res := entry.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *keyedLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.store {
		if now.Sub(entry.lastSeen) > l.window {
			delete(l.store, key)
		}
	}
}

// throttle limits each client address. The address comes from RemoteAddr, which
// middleware.RealIP has already resolved.
func throttle(limiter *keyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.Reserve(clientAddr(r))
			if !ok {
				if wait < time.Second {
					wait = time.Second
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many attempts, try again later", http.StatusTooManyRequests).WithRetryAfter(wait))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
