package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finitefield.org/wholesale/internal/apiclient"
	"finitefield.org/wholesale/internal/clientstate"
	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/kv"
	"finitefield.org/wholesale/internal/platform/requestctx"
	"finitefield.org/wholesale/internal/query"
)

var (
	errUpstreamDown = &apiclient.Error{Op: "test", Status: 503, Kind: apiclient.KindTransient}
	errTokenRevoked = &apiclient.Error{Op: "test", Status: 401, Kind: apiclient.KindUnauthorized, Message: "Unauthenticated."}
)

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return notify.Notification{}
	}
	return r.got[len(r.got)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type fakeAuthAPI struct {
	AuthAPI

	mu           sync.Mutex
	user         domain.User
	token        string
	loginErr     error
	profileErr   error
	profileCalls int
	logouts      int
}

func (f *fakeAuthAPI) Login(_ context.Context, _ domain.Credentials) (domain.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return domain.AuthResult{}, f.loginErr
	}
	return domain.AuthResult{Status: "success", Token: f.token, User: f.user}, nil
}

func (f *fakeAuthAPI) Register(ctx context.Context, reg domain.Registration) (domain.AuthResult, error) {
	return f.Login(ctx, domain.Credentials{Email: reg.Email, Password: reg.Password})
}

func (f *fakeAuthAPI) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeAuthAPI) Profile(ctx context.Context) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	if f.profileErr != nil {
		return domain.User{}, f.profileErr
	}
	if apiclient.TokenFrom(ctx) == "" {
		return domain.User{}, errTokenRevoked
	}
	return f.user, nil
}

func (f *fakeAuthAPI) setRole(role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user.Role = role
}

type fakeCartAPI struct {
	CartAPI

	mu        sync.Mutex
	cart      domain.Cart
	cartErr   error
	syncErr   error
	cartCalls int
	synced    [][]domain.GuestCartItem
	added     []domain.AddToCartInput
	tokens    []string
}

func (f *fakeCartAPI) Cart(ctx context.Context) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cartCalls++
	f.tokens = append(f.tokens, apiclient.TokenFrom(ctx))
	return f.cart, f.cartErr
}

func (f *fakeCartAPI) AddToCart(ctx context.Context, in domain.AddToCartInput) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, apiclient.TokenFrom(ctx))
	f.added = append(f.added, in)
	f.cart.ItemCount += in.Quantity
	return f.cart, nil
}

func (f *fakeCartAPI) SyncCart(ctx context.Context, items []domain.GuestCartItem) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, apiclient.TokenFrom(ctx))
	if f.syncErr != nil {
		return domain.Cart{}, f.syncErr
	}
	f.synced = append(f.synced, items)
	for _, it := range items {
		f.cart.ItemCount += it.Quantity
	}
	return f.cart, nil
}

type productLookupFunc func(ctx context.Context, idOrSlug string) (ProductDetail, error)

func (f productLookupFunc) Product(ctx context.Context, idOrSlug string) (ProductDetail, error) {
	return f(ctx, idOrSlug)
}

func staticProducts(products ...domain.Product) ProductLookup {
	return productLookupFunc(func(_ context.Context, id string) (ProductDetail, error) {
		for _, p := range products {
			if p.ID == id || p.Slug == id {
				return ProductDetail{Product: p}, nil
			}
		}
		return ProductDetail{}, &apiclient.Error{Op: "product", Status: 404, Kind: apiclient.KindNotFound, Message: "Product not found"}
	})
}

type fakeSettings struct {
	SettingsService
	settings domain.Settings
}

func (f fakeSettings) Get(context.Context) (domain.Settings, error) { return f.settings, nil }

func intPtr(v int) *int { return &v }

// harness wires the real session stores, cache and coordinator around fake upstream APIs.
type harness struct {
	store   *kv.MemoryStore
	tokens  *clientstate.Tokens
	guests  *clientstate.GuestCarts
	cache   *query.Cache
	co      *query.Coordinator
	notes   *recorder
	authAPI *fakeAuthAPI
	auth    *Authorizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := kv.NewMemoryStore()
	tokens, err := clientstate.NewTokens(store, time.Hour)
	require.NoError(t, err)
	guests, err := clientstate.NewGuestCarts(store, time.Hour)
	require.NoError(t, err)
	cache, err := query.NewCache()
	require.NoError(t, err)
	notes := &recorder{}
	co, err := query.NewCoordinator(cache, query.WithNotifier(notes))
	require.NoError(t, err)
	RegisterInvalidationRules(co)

	authAPI := &fakeAuthAPI{
		user:  domain.User{ID: "u_1", Email: "buyer@example.com", Role: domain.RoleCustomer},
		token: "tok-login",
	}
	auth, err := NewAuthorizer(AuthorizerDeps{Tokens: tokens, API: authAPI, Cache: cache})
	require.NoError(t, err)

	return &harness{
		store:   store,
		tokens:  tokens,
		guests:  guests,
		cache:   cache,
		co:      co,
		notes:   notes,
		authAPI: authAPI,
		auth:    auth,
	}
}

func (h *harness) session(sid string) context.Context {
	return requestctx.WithSessionID(context.Background(), sid)
}

func (h *harness) signIn(t *testing.T, sid, token string) context.Context {
	t.Helper()
	ctx := h.session(sid)
	require.NoError(t, h.tokens.Set(ctx, sid, token))
	return ctx
}

func (h *harness) token(t *testing.T, sid string) (string, bool) {
	t.Helper()
	token, ok, err := h.tokens.Get(context.Background(), sid)
	require.NoError(t, err)
	return token, ok
}

func (h *harness) cartService(t *testing.T, api CartAPI, products ProductLookup) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		API:         api,
		GuestCarts:  h.guests,
		Products:    products,
		Authorizer:  h.auth,
		Coordinator: h.co,
		Notifier:    h.notes,
	})
	require.NoError(t, err)
	return svc
}
