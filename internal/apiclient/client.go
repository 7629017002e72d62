// Package apiclient calls the external wholesale REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"finitefield.org/wholesale/internal/platform/observability"
	"finitefield.org/wholesale/internal/platform/requestctx"
)

const (
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 64 << 10
	defaultAgent    = "wholesale-storefront"
	headerRequested = "X-Requested-With"
)

// HTTPClient is the subset of *http.Client the client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRateLimit throttles outbound requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithLogger sets the logger used when no request logger is on the context.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(agent string) Option {
	return func(c *Client) {
		if agent = strings.TrimSpace(agent); agent != "" {
			c.userAgent = agent
		}
	}
}

// Client calls the upstream API. The bearer token travels on the context (see WithToken).
type Client struct {
	base      *url.URL
	http      HTTPClient
	limiter   *rate.Limiter
	logger    *zap.Logger
	userAgent string
}

// New constructs a Client for baseURL, e.g. "https://api.example.com/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("apiclient: base url must be absolute")
	}
	base.Path = strings.TrimRight(base.Path, "/")

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: defaultTimeout},
		logger:    zap.NewNop(),
		userAgent: defaultAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.Named("apiclient")
	return c, nil
}

type tokenKey struct{}

// WithToken attaches the session's bearer token to ctx.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// WithoutToken returns ctx with any bearer token removed, so calls made with it are anonymous.
func WithoutToken(ctx context.Context) context.Context {
	if TokenFrom(ctx) == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, "")
}

// TokenFrom returns the bearer token carried by ctx.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// call performs one request. body, when non-nil, is sent as JSON; out, when non-nil, receives the
// decoded response.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return transportError(op, err)
		}
	}

	if err := checkPath(path); err != nil {
		return &Error{Op: op, Kind: KindNotFound, Err: err}
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Err: err}
	}

	spanCtx, end := observability.StartClientSpan(ctx, req)
	req = req.WithContext(spanCtx)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		end(0, err)
		c.log(ctx).Warn("upstream request failed",
			zap.String("op", op),
			zap.Bool("cancelled", isContextError(err)),
			zap.Duration("latency", time.Since(started)),
			zap.Error(err),
		)
		return transportError(op, err)
	}
	defer resp.Body.Close()
	end(resp.StatusCode, nil)

	c.log(ctx).Debug("upstream request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(started)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeError(op, resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &Error{Op: op, Status: resp.StatusCode, Kind: KindTransient, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errInvalidPath is returned for paths that would leave the resource they name.
var errInvalidPath = errors.New("invalid resource identifier")

// resource joins path segments, escaping each so a caller supplied identifier stays one segment.
func resource(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// checkPath rejects empty and dot segments and identifiers that decode to a separator. JoinPath
// would otherwise resolve them against the base URL.
func checkPath(path string) error {
	for _, seg := range strings.Split(path, "/") {
		raw, err := url.PathUnescape(seg)
		if err != nil || raw == "" || raw == "." || raw == ".." || strings.ContainsAny(raw, `/\`) {
			return fmt.Errorf("%w: %q", errInvalidPath, path)
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequested, "XMLHttpRequest")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) log(ctx context.Context) *zap.Logger {
	if logger := observability.FromContext(ctx); logger != requestctx.NoopLogger() {
		return logger.Named("apiclient")
	}
	return c.logger
}
