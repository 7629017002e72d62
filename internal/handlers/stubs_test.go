package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/session"
	"finitefield.org/wholesale/internal/pricing"
	"finitefield.org/wholesale/internal/query"
	"finitefield.org/wholesale/internal/services"
)

// The stubs embed the service interface so that tests only implement what they exercise; any
// other call panics on the nil embedded value.

type stubCatalogService struct {
	services.CatalogService
	listFn    func(ctx context.Context, filters domain.ProductFilters) (domain.ProductPage, error)
	productFn func(ctx context.Context, idOrSlug string) (services.ProductDetail, error)
	quoteFn   func(ctx context.Context, idOrSlug string, qty int) (pricing.Quote, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filters domain.ProductFilters) (domain.ProductPage, error) {
	return s.listFn(ctx, filters)
}

func (s *stubCatalogService) Product(ctx context.Context, idOrSlug string) (services.ProductDetail, error) {
	return s.productFn(ctx, idOrSlug)
}

func (s *stubCatalogService) Quote(ctx context.Context, idOrSlug string, qty int) (pricing.Quote, error) {
	return s.quoteFn(ctx, idOrSlug, qty)
}

type stubCartService struct {
	services.CartService
	addFn    func(ctx context.Context, in domain.AddToCartInput) (services.CartView, error)
	updateFn func(ctx context.Context, itemID string, qty int) (services.CartView, error)
	getFn    func(ctx context.Context) (services.CartView, error)
}

func (s *stubCartService) Add(ctx context.Context, in domain.AddToCartInput) (services.CartView, error) {
	return s.addFn(ctx, in)
}

func (s *stubCartService) UpdateItem(ctx context.Context, itemID string, qty int) (services.CartView, error) {
	return s.updateFn(ctx, itemID, qty)
}

func (s *stubCartService) Get(ctx context.Context) (services.CartView, error) {
	return s.getFn(ctx)
}

type stubOrderService struct {
	services.OrderService
	listFn   func(ctx context.Context, page, limit int) (domain.OrderPage, error)
	cancelFn func(ctx context.Context, id, reason string) (domain.Order, error)
	createFn func(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error) {
	return s.createFn(ctx, in)
}

func (s *stubOrderService) List(ctx context.Context, page, limit int) (domain.OrderPage, error) {
	return s.listFn(ctx, page, limit)
}

func (s *stubOrderService) Cancel(ctx context.Context, id, reason string) (domain.Order, error) {
	return s.cancelFn(ctx, id, reason)
}

type stubAuthService struct {
	services.AuthService
	loginFn  func(ctx context.Context, creds domain.Credentials) (services.AuthOutcome, error)
	logouts  int
	logoutFn func(ctx context.Context) error
}

func (s *stubAuthService) Login(ctx context.Context, creds domain.Credentials) (services.AuthOutcome, error) {
	return s.loginFn(ctx, creds)
}

func (s *stubAuthService) Logout(ctx context.Context) error {
	s.logouts++
	if s.logoutFn != nil {
		return s.logoutFn(ctx)
	}
	return nil
}

type stubAdminService struct {
	services.AdminService
	ordersFn func(ctx context.Context, filters domain.AdminFilters) (domain.AdminOrderList, error)
	watchFn  func(ctx context.Context, resource services.AdminResource, filters domain.AdminFilters) (*query.Subscription, error)
	deleted  []string
}

func (s *stubAdminService) Orders(ctx context.Context, filters domain.AdminFilters) (domain.AdminOrderList, error) {
	return s.ordersFn(ctx, filters)
}

func (s *stubAdminService) DeleteProduct(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubAdminService) Watch(ctx context.Context, resource services.AdminResource, filters domain.AdminFilters) (*query.Subscription, error) {
	return s.watchFn(ctx, resource, filters)
}

type stubExportService struct {
	exportFn func(ctx context.Context, resource services.AdminResource, filters domain.AdminFilters, w io.Writer) error
}

func (s *stubExportService) Export(ctx context.Context, resource services.AdminResource, filters domain.AdminFilters, w io.Writer) error {
	return s.exportFn(ctx, resource, filters, w)
}

type stubGate struct {
	err error
}

func (g stubGate) RequireAdmin(ctx context.Context) (context.Context, error) {
	return ctx, g.err
}

type stubMaintenance struct {
	on bool
}

func (s *stubMaintenance) MaintenanceMode(context.Context) bool { return s.on }

type stubDrainer struct {
	pending map[string][]notify.Notification
}

func (s *stubDrainer) Drain(_ context.Context, sessionID string) ([]notify.Notification, error) {
	items := s.pending[sessionID]
	delete(s.pending, sessionID)
	return items, nil
}

func newTestSessionManager(t *testing.T) *session.Manager {
	t.Helper()
	mgr, err := session.NewManager(session.Config{
		CookieName:  "test_session",
		HashKey:     []byte("12345678901234567890123456789012"),
		BlockKey:    []byte("abcdefghijklmnopqrstuv0123456789"),
		IdleTimeout: time.Hour,
		Lifetime:    24 * time.Hour,
	})
	require.NoError(t, err)
	return mgr
}

// mountAt serves a registrar under prefix, the way NewRouter mounts it.
func mountAt(prefix string, registrar RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Route(prefix, registrar)
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
