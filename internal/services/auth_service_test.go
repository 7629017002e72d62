package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"finitefield.org/wholesale/internal/apiclient"
	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/requestctx"
)

func newAuthService(t *testing.T, h *harness, cart CartSyncer) AuthService {
	t.Helper()
	svc, err := NewAuthService(AuthServiceDeps{
		API:         h.authAPI,
		Authorizer:  h.auth,
		Coordinator: h.co,
		Cart:        cart,
		Notifier:    h.notes,
	})
	require.NoError(t, err)
	return svc
}

func TestLoginStoresTokenAndMergesGuestCart(t *testing.T) {
	h := newHarness(t)
	ctx := h.session("sess_login")
	_, err := h.guests.Add(ctx, "sess_login", domain.GuestCartItem{ProductID: "p_1", Quantity: 3, UnitPriceAtAdd: decimal.NewFromInt(10)})
	require.NoError(t, err)

	cartAPI := &fakeCartAPI{cart: domain.Cart{ID: "c_1"}}
	auth := newAuthService(t, h, h.cartService(t, cartAPI, staticProducts()))

	outcome, err := auth.Login(ctx, domain.Credentials{Email: " buyer@example.com ", Password: "secret"})
	require.NoError(t, err)
	require.Equal(t, "u_1", outcome.User.ID)
	require.NotNil(t, outcome.Cart)
	require.Equal(t, 3, outcome.Cart.ItemCount)

	token, ok := h.token(t, "sess_login")
	require.True(t, ok)
	require.Equal(t, "tok-login", token)

	require.Len(t, cartAPI.synced, 1)
	require.Equal(t, "p_1", cartAPI.synced[0][0].ProductID)
	require.Equal(t, []string{"tok-login"}, cartAPI.tokens)

	items, err := h.guests.Items(ctx, "sess_login")
	require.NoError(t, err)
	require.Empty(t, items)

	last := h.notes.last()
	require.Equal(t, notify.LevelSuccess, last.Level)
	require.Equal(t, "Welcome back!", last.Title)
	require.Equal(t, "Login successful", last.Message)
}

func TestLoginKeepsGuestCartWhenMergeFails(t *testing.T) {
	h := newHarness(t)
	ctx := h.session("sess_keep")
	_, err := h.guests.Add(ctx, "sess_keep", domain.GuestCartItem{ProductID: "p_1", Quantity: 2})
	require.NoError(t, err)

	cartAPI := &fakeCartAPI{syncErr: errUpstreamDown}
	auth := newAuthService(t, h, h.cartService(t, cartAPI, staticProducts()))

	outcome, err := auth.Login(ctx, domain.Credentials{Email: "buyer@example.com", Password: "secret"})
	require.NoError(t, err)
	require.Nil(t, outcome.Cart)

	_, ok := h.token(t, "sess_keep")
	require.True(t, ok, "sign in must survive a failed merge")

	items, err := h.guests.Items(ctx, "sess_keep")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].Quantity)
}

func TestLoginFailureNotifiesWithServerMessage(t *testing.T) {
	h := newHarness(t)
	h.authAPI.loginErr = &apiclient.Error{Op: "login", Status: 400, Kind: apiclient.KindRejected, Message: "Invalid credentials"}
	auth := newAuthService(t, h, nil)

	_, err := auth.Login(h.session("sess_bad"), domain.Credentials{Email: "buyer@example.com", Password: "wrong"})
	require.Error(t, err)

	_, ok := h.token(t, "sess_bad")
	require.False(t, ok)

	last := h.notes.last()
	require.Equal(t, notify.LevelError, last.Level)
	require.Equal(t, "Login failed", last.Title)
	require.Equal(t, "Invalid credentials", last.Message)
}

func TestLoginValidatesInputBeforeCallingUpstream(t *testing.T) {
	h := newHarness(t)
	h.authAPI.loginErr = errors.New("must not be called")
	auth := newAuthService(t, h, nil)

	_, err := auth.Login(h.session("sess_v"), domain.Credentials{})
	require.ErrorIs(t, err, ErrInvalidInput)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "email", verr.Problems[0].Field)
	require.Equal(t, "password", verr.Problems[1].Field)
	require.Zero(t, h.notes.count())
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	h := newHarness(t)
	auth := newAuthService(t, h, nil)

	_, err := auth.Register(h.session("sess_r"), domain.Registration{Email: "new@example.com", Password: "short"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "Password must be at least 8 characters", verr.UserMessage())
}

func TestLogoutClearsTokenAndSessionEntries(t *testing.T) {
	h := newHarness(t)
	ctx := h.signIn(t, "sess_out", "tok-1")
	auth := newAuthService(t, h, nil)

	_, err := auth.Profile(ctx)
	require.NoError(t, err)

	require.NoError(t, auth.Logout(ctx))
	require.Equal(t, 1, h.authAPI.logouts)

	_, ok := h.token(t, "sess_out")
	require.False(t, ok)

	res, found := h.cache.Peek(profileKey("sess_out"))
	require.True(t, found)
	require.True(t, res.Stale)
	require.Equal(t, "See you next time!", h.notes.last().Message)

	_, err = auth.Profile(ctx)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestProfileIsCachedPerSession(t *testing.T) {
	h := newHarness(t)
	auth := newAuthService(t, h, nil)

	for _, sid := range []string{"sess_a", "sess_a", "sess_b"} {
		ctx := h.signIn(t, sid, "tok-"+sid)
		_, err := auth.Profile(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 2, h.authAPI.profileCalls)
}

func TestUnauthorizedResponseSignsSessionOut(t *testing.T) {
	h := newHarness(t)
	h.authAPI.profileErr = errTokenRevoked
	ctx := h.signIn(t, "sess_401", "tok-stale")

	_, err := h.auth.User(ctx)
	require.True(t, apiclient.IsUnauthorized(err))

	_, ok := h.token(t, "sess_401")
	require.False(t, ok)
}

func TestLoginRenewsSessionBeforeStoringToken(t *testing.T) {
	h := newHarness(t)
	ctx := h.session("sess_before")
	_, err := h.guests.Add(ctx, "sess_before", domain.GuestCartItem{ProductID: "p_1", Quantity: 4})
	require.NoError(t, err)

	ctx = WithSessionRenewal(ctx, func(ctx context.Context) (context.Context, error) {
		if err := h.guests.Move(ctx, "sess_before", "sess_after"); err != nil {
			return ctx, err
		}
		return requestctx.WithSessionID(ctx, "sess_after"), nil
	})
	cartAPI := &fakeCartAPI{cart: domain.Cart{ID: "c_1"}}
	auth := newAuthService(t, h, h.cartService(t, cartAPI, staticProducts()))

	outcome, err := auth.Login(ctx, domain.Credentials{Email: "buyer@example.com", Password: "secret"})
	require.NoError(t, err)
	require.NotNil(t, outcome.Cart)

	_, ok := h.token(t, "sess_before")
	require.False(t, ok, "the pre-login session must stay signed out")
	token, ok := h.token(t, "sess_after")
	require.True(t, ok)
	require.Equal(t, "tok-login", token)
	require.Len(t, cartAPI.synced, 1)
	require.Equal(t, 4, cartAPI.synced[0][0].Quantity)
}

func TestLoginFailsWhenSessionCannotRenew(t *testing.T) {
	h := newHarness(t)
	ctx := WithSessionRenewal(h.session("sess_stuck"), func(ctx context.Context) (context.Context, error) {
		return ctx, errors.New("cookie already written")
	})
	auth := newAuthService(t, h, nil)

	_, err := auth.Login(ctx, domain.Credentials{Email: "buyer@example.com", Password: "secret"})
	require.Error(t, err)
	_, ok := h.token(t, "sess_stuck")
	require.False(t, ok)
}
