package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/requestctx"
)

const (
	HeaderName       = "Idempotency-Key"
	ReplayHeaderName = "X-Idempotent-Replay"

	maxKeyLength = 255
)

// Option configures Middleware.
type Option func(*guard)

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithRequired rejects requests without a key instead of passing them through unguarded.
func WithRequired() Option { return func(g *guard) { g.required = true } }

// WithLogger sets the fallback logger for requests whose context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(g *guard) {
		if l != nil {
			g.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *guard) {
		if now != nil {
			g.now = now
		}
	}
}

type guard struct {
	store    Store
	next     http.Handler
	ttl      time.Duration
	required bool
	log      *zap.Logger
	now      func() time.Time
}

// Middleware makes the wrapped handler safe to retry. A key is scoped to the browser session
// and bound to the request it first arrived with; a completed response is replayed verbatim,
// minus cookies. 5xx responses and panics free the key so the client can try again.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		g := &guard{store: store, next: next, ttl: DefaultTTL, log: zap.NewNop(), now: time.Now}
		for _, opt := range opts {
			opt(g)
		}
		return g
	}
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := requestctx.Logger(ctx)
	if log == requestctx.NoopLogger() {
		log = g.log
	}

	key := strings.TrimSpace(r.Header.Get(HeaderName))
	switch {
	case key == "" && g.required:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing Idempotency-Key header", http.StatusBadRequest))
		return
	case key == "":
		g.next.ServeHTTP(w, r)
		return
	case len(key) > maxKeyLength:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "Idempotency-Key is too long", http.StatusBadRequest))
		return
	}

	session := requestctx.SessionID(ctx)
	if session == "" {
		session = "anonymous"
	}
	fp, err := fingerprint(r, session)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
		return
	}
	scoped := session + "|" + key

	res, err := g.store.Reserve(ctx, scoped, fp, g.now().UTC(), g.ttl)
	if errors.Is(err, ErrFingerprintMismatch) {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "Idempotency-Key was already used for a different request", http.StatusConflict))
		return
	}
	if err != nil {
		log.Error("idempotency reserve failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process Idempotency-Key", http.StatusInternalServerError))
		return
	}
	switch res.State {
	case ReservationStateCompleted:
		log.Debug("replaying stored response", zap.Int("status", res.Record.ResponseStatus))
		replay(w, res.Record)
		return
	case ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this Idempotency-Key", http.StatusConflict))
		return
	}

	release := func() {
		if err := g.store.Release(ctx, scoped); err != nil {
			log.Warn("idempotency release failed", zap.Error(err))
		}
	}
	buf := &bufferedResponse{header: http.Header{}}
	func() {
		panicking := true
		defer func() {
			if panicking {
				release()
			}
		}()
		g.next.ServeHTTP(buf, r)
		panicking = false
	}()

	if buf.code() >= http.StatusInternalServerError {
		release()
	} else {
		resp := Response{Status: buf.code(), Headers: buf.header.Clone(), Body: buf.body.Bytes()}
		if err := g.store.SaveResponse(ctx, scoped, fp, resp, g.now().UTC(), g.ttl); err != nil {
			log.Error("idempotency save failed", zap.Error(err))
			release()
		}
	}
	if err := buf.flushTo(w); err != nil {
		log.Debug("write buffered response", zap.Error(err))
	}
}

// fingerprint hashes what makes two requests the same order: method, path, query, content type,
// session and body. The body is restored for the handler.
func fingerprint(r *http.Request, session string) (string, error) {
	h := sha256.New()
	for _, part := range []string{strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type"), session} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return "", err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func replay(w http.ResponseWriter, rec Record) {
	for name, values := range rec.ResponseHeaders {
		w.Header()[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeaderName, "true")
	status := rec.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(rec.ResponseBody)
}

// bufferedResponse holds the handler's response until it has been stored.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *bufferedResponse) code() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) error {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.code())
	_, err := w.Write(b.body.Bytes())
	return err
}
