package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/apiclient"
	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/observability"
	"finitefield.org/wholesale/internal/platform/requestctx"
	"finitefield.org/wholesale/internal/query"
)

// AuthorizerDeps wires the token store and the profile lookup used for role checks.
type AuthorizerDeps struct {
	Tokens TokenStore
	API    AuthAPI
	Cache  *query.Cache
	Logger *zap.Logger
}

// Authorizer attaches the session's bearer token to outgoing calls and tears the token down when
// upstream answers 401.
type Authorizer struct {
	tokens TokenStore
	api    AuthAPI
	cache  *query.Cache
	logger *zap.Logger
}

// NewAuthorizer validates deps.
func NewAuthorizer(deps AuthorizerDeps) (*Authorizer, error) {
	if deps.Tokens == nil {
		return nil, errors.New("authorizer: token store is required")
	}
	if deps.API == nil {
		return nil, errors.New("authorizer: auth api is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("authorizer: cache is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{tokens: deps.Tokens, api: deps.API, cache: deps.Cache, logger: logger.Named("auth")}, nil
}

// Session returns the session ID carried by ctx.
func (a *Authorizer) Session(ctx context.Context) (string, error) {
	sid := requestctx.SessionID(ctx)
	if sid == "" {
		return "", ErrNoSession
	}
	return sid, nil
}

// SessionRenewal replaces the browser session and returns ctx bound to the new session ID.
type SessionRenewal func(ctx context.Context) (context.Context, error)

type sessionRenewalKey struct{}

// WithSessionRenewal lets a sign in on ctx replace the session it started in.
func WithSessionRenewal(ctx context.Context, renew SessionRenewal) context.Context {
	if renew == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionRenewalKey{}, renew)
}

// RenewSession moves ctx to a new session. Without a renewal on ctx the session is kept.
func RenewSession(ctx context.Context) (context.Context, error) {
	renew, ok := ctx.Value(sessionRenewalKey{}).(SessionRenewal)
	if !ok {
		return ctx, nil
	}
	renewed, err := renew(ctx)
	if err != nil {
		return ctx, fmt.Errorf("renew session: %w", err)
	}
	if requestctx.SessionID(renewed) == "" {
		return ctx, fmt.Errorf("renew session: %w", ErrNoSession)
	}
	return renewed, nil
}

// Optional returns ctx carrying the session's token when it has one.
func (a *Authorizer) Optional(ctx context.Context) (context.Context, string, bool, error) {
	sid, err := a.Session(ctx)
	if err != nil {
		return ctx, "", false, err
	}
	token, ok, err := a.tokens.Get(ctx, sid)
	if err != nil {
		return ctx, sid, false, err
	}
	if !ok {
		return ctx, sid, false, nil
	}
	return apiclient.WithToken(ctx, token), sid, true, nil
}

// Authenticate returns ctx carrying the session's token, or ErrUnauthenticated.
func (a *Authorizer) Authenticate(ctx context.Context) (context.Context, string, error) {
	authed, sid, ok, err := a.Optional(ctx)
	if err != nil {
		return ctx, sid, err
	}
	if !ok {
		return ctx, sid, ErrUnauthenticated
	}
	return authed, sid, nil
}

// User returns the session's profile. It is cached per session until a profile change or logout.
func (a *Authorizer) User(ctx context.Context) (domain.User, error) {
	authed, sid, err := a.Authenticate(ctx)
	if err != nil {
		return domain.User{}, err
	}
	user, err := query.Get(authed, a.cache, profileKey(sid), bound(authed, a.api.Profile))
	if err != nil {
		return domain.User{}, a.Observe(ctx, sid, err)
	}
	return user, nil
}

// RequireAdmin returns ctx carrying the token of an admin session.
func (a *Authorizer) RequireAdmin(ctx context.Context) (context.Context, error) {
	user, err := a.User(ctx)
	if err != nil {
		return ctx, err
	}
	if user.Role != domain.RoleAdmin {
		return ctx, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	authed, _, err := a.Authenticate(ctx)
	return authed, err
}

// Observe inspects an upstream failure. A 401 discards the session's token and its cached
// user data. err is returned unchanged.
func (a *Authorizer) Observe(ctx context.Context, sid string, err error) error {
	if err == nil || sid == "" || !apiclient.IsUnauthorized(err) {
		return err
	}
	observability.FromContext(ctx).Info("upstream rejected token; clearing session credentials",
		zap.String("session", observability.SessionFingerprint(sid)))
	a.signOut(ctx, sid)
	return err
}

// signOut clears the token and forgets every entry scoped to the session.
func (a *Authorizer) signOut(ctx context.Context, sid string) {
	if err := a.tokens.Clear(ctx, sid); err != nil {
		a.logger.Warn("clear token failed", zap.Error(err))
	}
	a.cache.Invalidate(ctx, query.Filter{Scope: sid})
}

func (a *Authorizer) signIn(ctx context.Context, sid, token string) error {
	if err := a.tokens.Set(ctx, sid, token); err != nil {
		return err
	}
	a.cache.Invalidate(ctx, query.Filter{Scope: sid})
	return nil
}

// bound pins the token carried by authed onto fetch. A refetch started by an invalidation runs
// under the invalidating request's context, which may belong to another session or to none.
func bound[T any](authed context.Context, fetch func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	token := apiclient.TokenFrom(authed)
	return func(ctx context.Context) (T, error) {
		return fetch(apiclient.WithToken(apiclient.WithoutToken(ctx), token))
	}
}

// anonymous strips the bearer token before fetch runs. Shared entries are refetched under whichever
// context invalidates them, which may belong to another session.
func anonymous[T any](fetch func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return fetch(apiclient.WithoutToken(ctx))
	}
}
