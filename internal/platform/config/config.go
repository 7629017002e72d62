// Package config loads storefront settings from the environment, an optional dotenv file and
// secret references.
package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the full storefront configuration.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Session   SessionConfig
	Store     StoreConfig
	Client    ClientStateConfig
	Query     QueryConfig
	Events    EventsConfig
	Settings  SettingsConfig
	Pricing   PricingConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// SlowRequestThreshold is the latency above which completed requests are logged as slow.
	SlowRequestThreshold time.Duration
}

// UpstreamConfig points at the wholesale REST API.
type UpstreamConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// SessionConfig controls the browser session cookie. The previous keys keep cookies issued before
// a key rotation readable.
type SessionConfig struct {
	CookieName       string
	HashKey          string
	BlockKey         string
	PreviousHashKey  string
	PreviousBlockKey string
	CookieSecure     bool
	Lifetime         time.Duration
	IdleTimeout      time.Duration
}

// StoreConfig selects the key-value backend for per-session state: "memory" or "redis".
type StoreConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

type ClientStateConfig struct {
	TokenTTL     time.Duration
	GuestCartTTL time.Duration
	FlashLimit   int
	// IdempotencyTTL is how long order placements are replayed for a repeated Idempotency-Key.
	IdempotencyTTL time.Duration
}

// QueryConfig tunes the remote resource cache. A zero StaleAfter disables age-based staleness.
type QueryConfig struct {
	StaleAfter      time.Duration
	IdleTTL         time.Duration
	JanitorInterval time.Duration
}

// EventsConfig enables cross-replica cache invalidation when NATSURL is set.
type EventsConfig struct {
	NATSURL string
	Subject string
}

type SettingsConfig struct {
	DefaultsFile string
}

type PricingConfig struct {
	Currency string
	Locale   string
}

type TelemetryConfig struct {
	ProjectID string
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the settings that are missing, malformed or out of range. Entries are
// field paths such as "Session.HashKey", or the variable name for values that failed to parse.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid settings: " + strings.Join(e.fields, ", ")
}

// Fields returns the offending settings.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError is returned when a secret reference cannot be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %s: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

type loadOptions struct {
	envFile  string
	envMap   map[string]string
	noSystem bool
	resolver SecretResolver
}

// Option configures Load and EnvironmentValues.
type Option func(*loadOptions)

// WithEnvFile sets the dotenv file; empty disables it. Defaults to ".env".
func WithEnvFile(path string) Option { return func(o *loadOptions) { o.envFile = path } }

// WithEnvMap supplies values that win over both the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option { return func(o *loadOptions) { o.envMap = values } }

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option { return func(o *loadOptions) { o.noSystem = true } }

// WithSecretResolver sets the resolver for secret-bearing settings.
func WithSecretResolver(r SecretResolver) Option { return func(o *loadOptions) { o.resolver = r } }

func newSource(opts []Option) (source, loadOptions, error) {
	o := loadOptions{envFile: ".env"}
	for _, opt := range opts {
		opt(&o)
	}
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return source{}, o, err
	}
	return source{explicit: o.envMap, system: !o.noSystem, dotenv: dotenv}, o, nil
}

// EnvironmentValues returns every variable visible to Load, with the same precedence. The secret
// resolver is built from it before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, _, err := newSource(opts)
	if err != nil {
		return nil, err
	}
	return src.all(), nil
}

// Load reads, resolves and validates the configuration.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	src, o, err := newSource(opts)
	if err != nil {
		return Config{}, err
	}
	r := &reader{src: src, ctx: ctx, resolver: o.resolver}
	project := r.str("GOOGLE_CLOUD_PROJECT", "")

	cfg := Config{
		Server: ServerConfig{
			Port:                 r.str("STOREFRONT_SERVER_PORT", r.str("PORT", "8080")),
			ReadTimeout:          r.duration("STOREFRONT_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:         r.duration("STOREFRONT_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:          r.duration("STOREFRONT_SERVER_IDLE_TIMEOUT", 2*time.Minute),
			ShutdownTimeout:      r.duration("STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			SlowRequestThreshold: r.duration("STOREFRONT_SLOW_REQUEST_THRESHOLD", 2*time.Second),
		},
		Upstream: UpstreamConfig{
			BaseURL:           r.str("STOREFRONT_API_BASE_URL", ""),
			Timeout:           r.duration("STOREFRONT_API_TIMEOUT", 10*time.Second),
			RequestsPerSecond: r.float("STOREFRONT_API_RPS", 20),
			Burst:             r.integer("STOREFRONT_API_BURST", 40),
		},
		Session: SessionConfig{
			CookieName:       r.str("STOREFRONT_SESSION_COOKIE", "wholesale_session"),
			HashKey:          r.secret("STOREFRONT_SESSION_HASH_KEY"),
			BlockKey:         r.secret("STOREFRONT_SESSION_BLOCK_KEY"),
			PreviousHashKey:  r.secret("STOREFRONT_SESSION_PREVIOUS_HASH_KEY"),
			PreviousBlockKey: r.secret("STOREFRONT_SESSION_PREVIOUS_BLOCK_KEY"),
			CookieSecure:     r.flag("STOREFRONT_SESSION_SECURE", true),
			Lifetime:         r.duration("STOREFRONT_SESSION_LIFETIME", 30*24*time.Hour),
			IdleTimeout:      r.duration("STOREFRONT_SESSION_IDLE_TIMEOUT", 7*24*time.Hour),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(r.str("STOREFRONT_STORE_DRIVER", "memory")),
			RedisAddr:     r.str("STOREFRONT_REDIS_ADDR", ""),
			RedisPassword: r.secret("STOREFRONT_REDIS_PASSWORD"),
			RedisDB:       r.integer("STOREFRONT_REDIS_DB", 0),
			KeyPrefix:     r.str("STOREFRONT_REDIS_KEY_PREFIX", "storefront:"),
		},
		Client: ClientStateConfig{
			TokenTTL:       r.duration("STOREFRONT_TOKEN_TTL", 24*time.Hour),
			GuestCartTTL:   r.duration("STOREFRONT_GUEST_CART_TTL", 30*24*time.Hour),
			FlashLimit:     r.integer("STOREFRONT_FLASH_LIMIT", 20),
			IdempotencyTTL: r.duration("STOREFRONT_IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Query: QueryConfig{
			StaleAfter:      r.duration("STOREFRONT_QUERY_STALE_AFTER", 0),
			IdleTTL:         r.duration("STOREFRONT_QUERY_IDLE_TTL", 10*time.Minute),
			JanitorInterval: r.duration("STOREFRONT_QUERY_JANITOR_INTERVAL", time.Minute),
		},
		Events: EventsConfig{
			NATSURL: r.str("STOREFRONT_NATS_URL", ""),
			Subject: r.str("STOREFRONT_EVENTS_SUBJECT", "storefront.cache.invalidate"),
		},
		Settings: SettingsConfig{
			DefaultsFile: r.str("STOREFRONT_SETTINGS_FILE", ""),
		},
		Pricing: PricingConfig{
			Currency: strings.ToUpper(r.str("STOREFRONT_CURRENCY", "BDT")),
			Locale:   r.str("STOREFRONT_LOCALE", "en-BD"),
		},
		Telemetry: TelemetryConfig{
			ProjectID: r.str("STOREFRONT_TRACE_PROJECT_ID", project),
		},
	}
	if r.secretErr != nil {
		return Config{}, r.secretErr
	}
	if bad := append(r.malformed, cfg.problems()...); len(bad) > 0 {
		return Config{}, &ValidationError{fields: bad}
	}
	return cfg, nil
}

func (c Config) problems() []string {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}
	blockLen := func(key string) bool {
		switch len(key) {
		case 0, 16, 24, 32:
			return true
		}
		return false
	}

	check(c.Server.Port != "", "Server.Port")
	base, err := url.Parse(c.Upstream.BaseURL)
	check(err == nil && base.Scheme != "" && base.Host != "", "Upstream.BaseURL")
	check(c.Upstream.RequestsPerSecond > 0, "Upstream.RequestsPerSecond")
	check(c.Upstream.Burst > 0, "Upstream.Burst")
	check(len(c.Session.HashKey) >= 32, "Session.HashKey")
	check(blockLen(c.Session.BlockKey), "Session.BlockKey")
	check(c.Session.PreviousHashKey == "" || len(c.Session.PreviousHashKey) >= 32, "Session.PreviousHashKey")
	check(blockLen(c.Session.PreviousBlockKey), "Session.PreviousBlockKey")
	switch c.Store.Driver {
	case "memory":
	case "redis":
		check(c.Store.RedisAddr != "", "Store.RedisAddr")
	default:
		check(false, "Store.Driver")
	}
	check(c.Client.TokenTTL > 0, "Client.TokenTTL")
	check(c.Client.GuestCartTTL > 0, "Client.GuestCartTTL")
	check(c.Client.IdempotencyTTL > 0, "Client.IdempotencyTTL")
	check(c.Query.StaleAfter >= 0, "Query.StaleAfter")
	check(c.Query.JanitorInterval > 0, "Query.JanitorInterval")
	check(len(c.Pricing.Currency) == 3, "Pricing.Currency")
	return bad
}
