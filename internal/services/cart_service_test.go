package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"finitefield.org/wholesale/internal/clientstate"
	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/kv"
)

func TestGuestAddPricesAtMergedQuantity(t *testing.T) {
	h := newHarness(t)
	cart := h.cartService(t, &fakeCartAPI{}, staticProducts(wholesaleProduct()))
	ctx := h.session("sess_guest")

	view, err := cart.Add(ctx, domain.AddToCartInput{ProductID: "p_rice", Quantity: 6})
	require.NoError(t, err)
	require.Equal(t, CartSourceLocal, view.Source)
	require.True(t, view.Items[0].UnitPriceAtAdd.Equal(decimal.NewFromInt(10)))

	view, err = cart.Add(ctx, domain.AddToCartInput{ProductID: "p_rice", Quantity: 6})
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	require.Equal(t, 12, view.Items[0].Quantity)
	require.Equal(t, 12, view.ItemCount)
	require.True(t, view.Items[0].UnitPriceAtAdd.Equal(decimal.NewFromInt(8)))
	require.Equal(t, "Miniket Rice 25kg", view.Items[0].Title)
	require.Equal(t, "Item added successfully", h.notes.last().Message)
}

func TestGuestAddUnknownProductNotifiesFailure(t *testing.T) {
	h := newHarness(t)
	cart := h.cartService(t, &fakeCartAPI{}, staticProducts())

	_, err := cart.Add(h.session("sess_guest"), domain.AddToCartInput{ProductID: "missing", Quantity: 1})
	require.Error(t, err)

	last := h.notes.last()
	require.Equal(t, notify.LevelError, last.Level)
	require.Equal(t, "Failed to add item", last.Title)
	require.Equal(t, "Product not found", last.Message)
}

func TestGuestUpdateAndRemove(t *testing.T) {
	h := newHarness(t)
	cart := h.cartService(t, &fakeCartAPI{}, staticProducts(wholesaleProduct()))
	ctx := h.session("sess_guest")

	_, err := cart.Add(ctx, domain.AddToCartInput{ProductID: "p_rice", Quantity: 2})
	require.NoError(t, err)

	view, err := cart.UpdateItem(ctx, "p_rice", 5)
	require.NoError(t, err)
	require.Equal(t, 5, view.ItemCount)

	_, err = cart.UpdateItem(ctx, "p_other", 1)
	require.ErrorIs(t, err, clientstate.ErrItemNotFound)

	_, err = cart.UpdateItem(ctx, "p_rice", 0)
	require.ErrorIs(t, err, ErrInvalidInput)

	view, err = cart.RemoveItem(ctx, "p_rice")
	require.NoError(t, err)
	require.Empty(t, view.Items)
	require.Zero(t, view.ItemCount)
}

func TestServerCartServedForSignedInSession(t *testing.T) {
	h := newHarness(t)
	api := &fakeCartAPI{cart: domain.Cart{ID: "c_1", ItemCount: 4, Total: decimal.NewFromInt(40)}}
	cart := h.cartService(t, api, staticProducts())
	ctx := h.signIn(t, "sess_srv", "tok-srv")

	view, err := cart.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, CartSourceServer, view.Source)
	require.Equal(t, 4, view.ItemCount)
	require.False(t, view.Degraded)

	_, err = cart.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, api.cartCalls)
	require.Equal(t, []string{"tok-srv"}, api.tokens)
}

func TestServerCartFailureFallsBackToGuestCart(t *testing.T) {
	h := newHarness(t)
	api := &fakeCartAPI{cartErr: errUpstreamDown}
	cart := h.cartService(t, api, staticProducts())
	ctx := h.signIn(t, "sess_deg", "tok-deg")
	_, err := h.guests.Add(ctx, "sess_deg", domain.GuestCartItem{ProductID: "p_rice", Quantity: 3})
	require.NoError(t, err)

	view, err := cart.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, CartSourceLocal, view.Source)
	require.True(t, view.Degraded)
	require.Equal(t, 3, view.ItemCount)

	_, ok := h.token(t, "sess_deg")
	require.True(t, ok, "a transient failure keeps the session signed in")
}

func TestServerCartUnauthorizedSignsOut(t *testing.T) {
	h := newHarness(t)
	api := &fakeCartAPI{cartErr: errTokenRevoked}
	cart := h.cartService(t, api, staticProducts())
	ctx := h.signIn(t, "sess_rev", "tok-rev")

	view, err := cart.Get(ctx)
	require.NoError(t, err)
	require.True(t, view.Degraded)

	_, ok := h.token(t, "sess_rev")
	require.False(t, ok)
}

func TestServerAddRunsThroughCoordinator(t *testing.T) {
	h := newHarness(t)
	api := &fakeCartAPI{cart: domain.Cart{ID: "c_1"}}
	cart := h.cartService(t, api, staticProducts())
	ctx := h.signIn(t, "sess_add", "tok-add")

	view, err := cart.Add(ctx, domain.AddToCartInput{ProductID: "p_rice", Quantity: 10})
	require.NoError(t, err)
	require.Equal(t, CartSourceServer, view.Source)
	require.Equal(t, 10, view.ItemCount)
	require.Equal(t, []string{"tok-add"}, api.tokens)

	last := h.notes.last()
	require.Equal(t, "Added to cart", last.Title)
	require.Equal(t, "Item added successfully", last.Message)

	items, err := h.guests.Items(ctx, "sess_add")
	require.NoError(t, err)
	require.Empty(t, items, "signed-in adds never touch the guest cart")
}

func TestSyncLocalCartWithoutGuestItemsLoadsServerCart(t *testing.T) {
	h := newHarness(t)
	api := &fakeCartAPI{cart: domain.Cart{ID: "c_9", ItemCount: 1}}
	cart := h.cartService(t, api, staticProducts())
	ctx := h.signIn(t, "sess_sync", "tok-sync")

	got, err := cart.SyncLocalCart(ctx)
	require.NoError(t, err)
	require.Equal(t, "c_9", got.ID)
	require.Empty(t, api.synced)
	require.Equal(t, 1, api.cartCalls)
}

func TestSyncLocalCartRequiresSignIn(t *testing.T) {
	h := newHarness(t)
	cart := h.cartService(t, &fakeCartAPI{}, staticProducts())

	_, err := cart.SyncLocalCart(h.session("sess_anon"))
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestApplyCouponRequiresSignIn(t *testing.T) {
	h := newHarness(t)
	cart := h.cartService(t, &fakeCartAPI{}, staticProducts())

	_, err := cart.ApplyCoupon(h.session("sess_anon"), "SAVE10")
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = cart.ApplyCoupon(h.session("sess_anon"), " ")
	require.ErrorIs(t, err, ErrInvalidInput)
}

type flakyDeleteStore struct {
	kv.Store

	mu       sync.Mutex
	failures int
	deletes  int
}

func (s *flakyDeleteStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	s.deletes++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("kv unavailable")
	}
	return s.Store.Delete(ctx, keys...)
}

func flakyCartService(t *testing.T, h *harness, api CartAPI, failures int) (CartService, *clientstate.GuestCarts, *flakyDeleteStore) {
	t.Helper()
	store := &flakyDeleteStore{Store: h.store, failures: failures}
	guests, err := clientstate.NewGuestCarts(store, time.Hour)
	require.NoError(t, err)
	svc, err := NewCartService(CartServiceDeps{
		API:         api,
		GuestCarts:  guests,
		Products:    staticProducts(),
		Authorizer:  h.auth,
		Coordinator: h.co,
		Notifier:    h.notes,
	})
	require.NoError(t, err)
	return svc, guests, store
}

func TestSyncLocalCartReportsGuestCartLeftBehind(t *testing.T) {
	h := newHarness(t)
	api := &fakeCartAPI{cart: domain.Cart{ID: "c_1"}}
	cart, guests, store := flakyCartService(t, h, api, 2)
	ctx := h.signIn(t, "sess_flaky", "tok-flaky")
	_, err := guests.Add(ctx, "sess_flaky", domain.GuestCartItem{ProductID: "p_1", Quantity: 2})
	require.NoError(t, err)

	_, err = cart.SyncLocalCart(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not cleared")
	require.Equal(t, 2, store.deletes)
	require.Len(t, api.synced, 1)
}

func TestSyncLocalCartRetriesGuestCartClear(t *testing.T) {
	h := newHarness(t)
	api := &fakeCartAPI{cart: domain.Cart{ID: "c_1"}}
	cart, guests, _ := flakyCartService(t, h, api, 1)
	ctx := h.signIn(t, "sess_retry", "tok-retry")
	_, err := guests.Add(ctx, "sess_retry", domain.GuestCartItem{ProductID: "p_1", Quantity: 2})
	require.NoError(t, err)

	got, err := cart.SyncLocalCart(ctx)
	require.NoError(t, err)
	require.Equal(t, "c_1", got.ID)
	items, err := guests.Items(ctx, "sess_retry")
	require.NoError(t, err)
	require.Empty(t, items)
}
