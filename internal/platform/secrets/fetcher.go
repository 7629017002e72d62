// Package secrets resolves secret:// references in configuration against Google Secret Manager,
// falling back to a local file during development.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "finitefield.org/wholesale/internal/platform/secrets"

// Resolution sources, recorded on the duration histogram.
const (
	sourceCache  = "cache"
	sourceRemote = "remote"
	sourceLocal  = "local"
	sourceFailed = "error"
)

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newAccessClient = func(ctx context.Context, opts ...option.ClientOption) (accessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type options struct {
	logger     *zap.Logger
	project    string
	localPath  string
	cacheTTL   time.Duration
	meter      metric.Meter
	client     accessClient
	clientOpts []option.ClientOption
	now        func() time.Time
}

// Option configures a Fetcher.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithProject sets the project used for references that do not name one.
func WithProject(id string) Option { return func(o *options) { o.project = strings.TrimSpace(id) } }

// WithFallbackFile sets the local secrets file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.localPath = strings.TrimSpace(path) }
}

// WithCacheTTL bounds how long a resolved value is reused. Zero keeps values until Invalidate.
func WithCacheTTL(d time.Duration) Option { return func(o *options) { o.cacheTTL = d } }

// WithMeter sets the meter.
func WithMeter(m metric.Meter) Option { return func(o *options) { o.meter = m } }

// WithSecretManagerClient injects the Secret Manager client. The Fetcher does not close it.
func WithSecretManagerClient(c accessClient) Option { return func(o *options) { o.client = c } }

// WithClientOptions is passed to the Secret Manager client the Fetcher creates.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

type cached struct {
	value   string
	expires time.Time
}

// Fetcher resolves and caches secret references.
type Fetcher struct {
	client      accessClient
	closeClient bool
	project     string
	local       *localFile
	ttl         time.Duration
	now         func() time.Time
	log         *zap.Logger

	mu    sync.Mutex
	cache map[string]cached

	duration metric.Float64Histogram
}

// NewFetcher builds a Fetcher. When a project is configured but the Secret Manager client cannot
// be created, the Fetcher logs a warning and serves only the local file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := options{localPath: ".secrets.local", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(meterName)
	}
	duration, err := o.meter.Float64Histogram("secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution time by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}

	f := &Fetcher{
		client:   o.client,
		project:  o.project,
		local:    &localFile{path: o.localPath},
		ttl:      o.cacheTTL,
		now:      o.now,
		log:      o.logger,
		cache:    map[string]cached{},
		duration: duration,
	}
	if f.client == nil && f.project != "" {
		client, err := newAccessClient(ctx, o.clientOpts...)
		if err != nil {
			f.log.Warn("secret manager unavailable, using local secrets only", zap.Error(err))
		} else {
			f.client, f.closeClient = client, true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client if the Fetcher created it.
func (f *Fetcher) Close() error {
	if f.closeClient {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value of ref from the cache, Secret Manager or the local file, in that order.
// Secret Manager errors other than missing access or availability are returned as is.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (value string, err error) {
	start := time.Now()
	source := sourceFailed
	defer func() {
		ms := float64(time.Since(start)) / float64(time.Millisecond)
		f.duration.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
	}()

	ref, err := ParseRef(raw)
	if err != nil {
		return "", err
	}
	if v, ok := f.cached(ref); ok {
		source = sourceCache
		return v, nil
	}

	if name, ok := ref.resource(f.project); ok && f.client != nil {
		v, err := f.access(ctx, name)
		if err == nil {
			source = sourceRemote
			f.remember(ref, v)
			return v, nil
		}
		if !localFallbackAllowed(err) {
			return "", fmt.Errorf("secrets: access %s: %w", ref, err)
		}
		f.log.Debug("secret manager miss, trying local file", zap.String("secret", fingerprint(ref)), zap.Error(err))
	}

	v, ok, err := f.local.lookup(ref)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("secrets: %s not found", ref)
	}
	source = sourceLocal
	f.remember(ref, v)
	return v, nil
}

// Invalidate forgets every cached version of ref.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseRef(raw)
	if err != nil {
		return
	}
	prefix := ref.String() + "@"
	f.mu.Lock()
	for k := range f.cache {
		if strings.HasPrefix(k, prefix) {
			delete(f.cache, k)
		}
	}
	f.mu.Unlock()
}

func (f *Fetcher) cached(ref Ref) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cache[ref.cacheKey()]
	if !ok {
		return "", false
	}
	if !c.expires.IsZero() && !f.now().Before(c.expires) {
		delete(f.cache, ref.cacheKey())
		return "", false
	}
	return c.value, true
}

func (f *Fetcher) remember(ref Ref, value string) {
	c := cached{value: value}
	if f.ttl > 0 {
		c.expires = f.now().Add(f.ttl)
	}
	f.mu.Lock()
	f.cache[ref.cacheKey()] = c
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	payload := resp.GetPayload()
	if payload == nil {
		return "", status.Errorf(codes.NotFound, "empty payload for %s", name)
	}
	return string(payload.GetData()), nil
}

func localFallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// fingerprint identifies a secret in logs without naming it.
func fingerprint(ref Ref) string {
	sum := sha256.Sum256([]byte(ref.String()))
	return hex.EncodeToString(sum[:6])
}
