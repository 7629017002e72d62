package observability

import (
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/requestctx"
)

const meterName = "finitefield.org/wholesale/internal/platform/observability"

// InjectLoggerMiddleware makes logger the request logger until RequestLoggerMiddleware enriches it.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

type requestLogConfig struct {
	slowAfter time.Duration
	meter     metric.Meter
}

// RequestLogOption customises RequestLoggerMiddleware.
type RequestLogOption func(*requestLogConfig)

// WithSlowRequestThreshold logs successful requests slower than d at warn level.
func WithSlowRequestThreshold(d time.Duration) RequestLogOption {
	return func(cfg *requestLogConfig) {
		if d > 0 {
			cfg.slowAfter = d
		}
	}
}

// WithRequestMeter sets the meter for the request counter and latency histogram.
func WithRequestMeter(m metric.Meter) RequestLogOption {
	return func(cfg *requestLogConfig) {
		if m != nil {
			cfg.meter = m
		}
	}
}

// RequestLoggerMiddleware logs each request's completion and records it in the
// storefront.http.requests counter and storefront.http.duration histogram, keyed by route pattern
// and status. It runs after the session middleware so the session fingerprint is known.
func RequestLoggerMiddleware(opts ...RequestLogOption) func(http.Handler) http.Handler {
	cfg := requestLogConfig{slowAfter: 2 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}
	// Instrument creation only fails on invalid names; a nil instrument is skipped below.
	requests, _ := cfg.meter.Int64Counter("storefront.http.requests",
		metric.WithDescription("Completed browser requests by route and status"))
	latency, _ := cfg.meter.Float64Histogram("storefront.http.duration",
		metric.WithDescription("Browser request latency"), metric.WithUnit("ms"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, _ := requestctx.Trace(ctx)
			logger := requestctx.Logger(ctx).With(
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", clean(r.Method, 10)),
				zap.String("path", SanitizeRoute(r.URL.Path)),
				zap.String("trace_id", info.TraceID),
				zap.String("session", SessionFingerprint(requestctx.SessionID(ctx))),
				zap.String("remote_ip", remoteIP(r)),
			)
			if info.ProjectID != "" && info.TraceID != "" {
				logger = logger.With(zap.String("logging.googleapis.com/trace", "projects/"+info.ProjectID+"/traces/"+info.TraceID))
			}
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			panicked := true
			defer func() {
				elapsed := time.Since(start)
				status := sw.Status()
				if panicked {
					status = http.StatusInternalServerError
				}
				route := SanitizeRoute(routePattern(r))
				attrs := metric.WithAttributes(
					attribute.String("http.route", route),
					attribute.String("http.status_class", strconv.Itoa(status/100)+"xx"),
				)
				if requests != nil {
					requests.Add(ctx, 1, attrs)
				}
				if latency != nil {
					latency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
				}

				fields := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", elapsed),
					zap.Int64("bytes", sw.written),
				}
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", fields...)
				case elapsed > cfg.slowAfter && !sw.streaming:
					logger.Warn("slow request", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(sw, r)
			panicked = false
		})
	}
}

// RecoveryMiddleware turns a handler panic into a logged stack trace and a 500 JSON envelope.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger := requestctx.Logger(r.Context())
				if logger == requestctx.NoopLogger() && fallback != nil {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// routePattern is read after the handler ran, since chi fills it while routing.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return clean(host, 64)
}

// statusWriter records the status and size of a response. Flush marks the response as a stream so
// long-lived event streams are not reported as slow.
type statusWriter struct {
	http.ResponseWriter
	status    int
	written   int64
	streaming bool
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	w.streaming = true
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the connection.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
