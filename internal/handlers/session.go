package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/observability"
	"finitefield.org/wholesale/internal/platform/requestctx"
	"finitefield.org/wholesale/internal/platform/session"
	"finitefield.org/wholesale/internal/services"
)

// CSRFHeader carries the double-submit token on unsafe requests. Every response echoes the
// session's token in the same header.
const CSRFHeader = "X-CSRF-Token"

type sessionContextKey struct{}

// SessionOption customises SessionMiddleware.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	onExpired func(ctx context.Context, sessionID string) error
	onRenewed func(ctx context.Context, from, to string) error
}

var errSessionCommitted = errors.New("session cookie already written")

// WithExpiredSessionHook runs fn with the ID of an expired session before a new one replaces it,
// so the state stored under the old ID can be purged.
func WithExpiredSessionHook(fn func(ctx context.Context, sessionID string) error) SessionOption {
	return func(cfg *sessionConfig) { cfg.onExpired = fn }
}

// WithRenewedSessionHook runs fn when sign in replaces a session, so the state stored under the
// old ID can move to the new one.
func WithRenewedSessionHook(fn func(ctx context.Context, from, to string) error) SessionOption {
	return func(cfg *sessionConfig) { cfg.onRenewed = fn }
}

// SessionMiddleware loads the browser session, exposes its ID to services and writes the cookie
// back before the first byte of the response. Unsafe methods must present the CSRF token.
func SessionMiddleware(manager *session.Manager, opts ...SessionOption) func(http.Handler) http.Handler {
	var cfg sessionConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := manager.Load(r)
			switch {
			case errors.Is(err, session.ErrExpired):
				if cfg.onExpired != nil {
					if err := cfg.onExpired(ctx, sess.ID()); err != nil {
						observability.FromContext(ctx).Warn("expired session cleanup failed", zap.Error(err))
					}
				}
				sess = manager.New()
			case err != nil:
				observability.FromContext(ctx).Warn("session load failed", zap.Error(err))
				sess = manager.New()
			}

			token, err := sess.EnsureCSRFToken()
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("session_error", "could not initialise session", http.StatusInternalServerError))
				return
			}

			sw := &sessionWriter{ResponseWriter: w, manager: manager, sess: sess, logger: observability.FromContext(ctx)}
			sw.Header().Set(CSRFHeader, token)

			if !safeMethod(r.Method) {
				presented := r.Header.Get(CSRFHeader)
				if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
					httpx.WriteError(ctx, sw, httpx.NewError("csrf_mismatch", "missing or invalid CSRF token", http.StatusForbidden))
					return
				}
			}

			ctx = withSession(ctx, sess)
			ctx = services.WithSessionRenewal(ctx, func(ctx context.Context) (context.Context, error) {
				return sw.renew(ctx, cfg.onRenewed)
			})
			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.commit()
		})
	}
}

func withSession(ctx context.Context, sess *session.Session) context.Context {
	ctx = requestctx.WithSessionID(ctx, sess.ID())
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

func sessionFrom(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return sess, ok && sess != nil
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// sessionWriter saves the session cookie just before the headers go out. Saving touches the
// session, so the idle timeout restarts on every response.
type sessionWriter struct {
	http.ResponseWriter
	manager   *session.Manager
	sess      *session.Session
	logger    *zap.Logger
	committed bool
}

func (w *sessionWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	if err := w.manager.Save(w.ResponseWriter, w.sess); err != nil {
		w.logger.Warn("session save failed", zap.Error(err))
	}
}

// renew swaps in a new session with a new CSRF token. The old ID is dropped, so an ID planted
// before sign in does not carry over into the signed in session.
func (w *sessionWriter) renew(ctx context.Context, moved func(ctx context.Context, from, to string) error) (context.Context, error) {
	if w.committed {
		return ctx, errSessionCommitted
	}
	fresh := w.manager.New()
	token, err := fresh.EnsureCSRFToken()
	if err != nil {
		return ctx, err
	}
	if moved != nil {
		if err := moved(ctx, w.sess.ID(), fresh.ID()); err != nil {
			return ctx, err
		}
	}
	w.sess = fresh
	w.Header().Set(CSRFHeader, token)
	return withSession(ctx, fresh), nil
}

func (w *sessionWriter) WriteHeader(status int) {
	w.commit()
	w.ResponseWriter.WriteHeader(status)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *sessionWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
