// Package clientstate keeps the per-session state a browser would otherwise hold in local
// storage: the bearer token and the guest cart.
package clientstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"finitefield.org/wholesale/internal/platform/kv"
)

// ErrTokenExpired is returned when storing a JWT whose exp claim has already passed.
var ErrTokenExpired = errors.New("clientstate: token already expired")

// Tokens stores the upstream bearer token per session.
type Tokens struct {
	store      kv.Store
	defaultTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewTokens constructs a token store. defaultTTL applies to opaque tokens.
func NewTokens(store kv.Store, defaultTTL time.Duration) (*Tokens, error) {
	if store == nil {
		return nil, errors.New("clientstate: store is required")
	}
	if defaultTTL <= 0 {
		return nil, errors.New("clientstate: token ttl must be positive")
	}
	return &Tokens{store: store, defaultTTL: defaultTTL, now: time.Now, parser: jwt.NewParser()}, nil
}

// WithClock overrides the time source.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	if now != nil {
		t.now = now
	}
	return t
}

// Get returns the session's token; ok is false when none is stored.
func (t *Tokens) Get(ctx context.Context, sessionID string) (token string, ok bool, err error) {
	raw, err := t.store.Get(ctx, tokenKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("clientstate: load token: %w", err)
	}
	return string(raw), len(raw) > 0, nil
}

// Set stores token for the session. JWTs expire with their exp claim, other tokens after the
// default TTL.
func (t *Tokens) Set(ctx context.Context, sessionID, token string) error {
	token = strings.TrimSpace(token)
	if sessionID == "" || token == "" {
		return errors.New("clientstate: session and token are required")
	}
	ttl, err := t.ttl(token)
	if err != nil {
		return err
	}
	if err := t.store.Set(ctx, tokenKey(sessionID), []byte(token), ttl); err != nil {
		return fmt.Errorf("clientstate: save token: %w", err)
	}
	return nil
}

// Clear forgets the session's token.
func (t *Tokens) Clear(ctx context.Context, sessionID string) error {
	if err := t.store.Delete(ctx, tokenKey(sessionID)); err != nil {
		return fmt.Errorf("clientstate: clear token: %w", err)
	}
	return nil
}

func (t *Tokens) ttl(token string) (time.Duration, error) {
	if strings.Count(token, ".") != 2 {
		return t.defaultTTL, nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := t.parser.ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return t.defaultTTL, nil
	}
	remaining := claims.ExpiresAt.Time.Sub(t.now())
	if remaining <= 0 {
		return 0, ErrTokenExpired
	}
	return remaining, nil
}

func tokenKey(sessionID string) string {
	return "session:" + sessionID + ":token"
}
