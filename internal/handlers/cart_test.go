package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/idempotency"
	"finitefield.org/wholesale/internal/platform/kv"
	"finitefield.org/wholesale/internal/services"
)

func TestCartHandlers_AddDefaultsQuantity(t *testing.T) {
	var got domain.AddToCartInput
	svc := &stubCartService{
		addFn: func(_ context.Context, in domain.AddToCartInput) (services.CartView, error) {
			got = in
			return services.CartView{
				Source:    services.CartSourceLocal,
				Items:     []domain.GuestCartItem{{ProductID: in.ProductID, Quantity: in.Quantity}},
				ItemCount: in.Quantity,
			}, nil
		},
	}
	router := mountAt("/cart", NewCartHandlers(svc).Routes)

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":"  p1 "}`))
	rr := serve(router, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "p1", got.ProductID)
	require.Equal(t, 1, got.Quantity)

	var view services.CartView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, services.CartSourceLocal, view.Source)
	require.Equal(t, 1, view.ItemCount)
}

func TestCartHandlers_UpdateUsesPathItem(t *testing.T) {
	svc := &stubCartService{
		updateFn: func(_ context.Context, itemID string, qty int) (services.CartView, error) {
			require.Equal(t, "line-9", itemID)
			require.Equal(t, 4, qty)
			return services.CartView{Source: services.CartSourceServer, Cart: &domain.Cart{ItemCount: 4}, ItemCount: 4}, nil
		},
	}
	router := mountAt("/cart", NewCartHandlers(svc).Routes)

	rr := serve(router, httptest.NewRequest(http.MethodPatch, "/cart/items/line-9", strings.NewReader(`{"quantity":4}`)))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestCartHandlers_BadBodies(t *testing.T) {
	router := mountAt("/cart", NewCartHandlers(&stubCartService{}).Routes)

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodPost, "/cart/items", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "request body is required")

	huge := `{"productId":"` + strings.Repeat("x", maxBodySize) + `"}`
	rr = serve(router, httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(huge)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestCartHandlers_GetSignedOutAfterRevocation(t *testing.T) {
	svc := &stubCartService{
		getFn: func(context.Context) (services.CartView, error) {
			return services.CartView{}, services.ErrUnauthenticated
		},
	}
	router := mountAt("/cart", NewCartHandlers(svc).Routes)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/cart", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), `"redirect":"/auth"`)
}

func TestOrderHandlers_ListPaging(t *testing.T) {
	svc := &stubOrderService{
		listFn: func(_ context.Context, page, limit int) (domain.OrderPage, error) {
			require.Equal(t, 3, page)
			require.Equal(t, 50, limit)
			return domain.OrderPage{Orders: []domain.Order{{ID: "o1", OrderNumber: "WS-1"}}, Total: 101}, nil
		},
	}
	router := mountAt("/orders", NewOrderHandlers(svc).Routes)

	rr := serve(router, httptest.NewRequest(http.MethodGet, "/orders?page=3&limit=500", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var page domain.OrderPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Equal(t, 101, page.Total)
}

func TestOrderHandlers_CancelReasonOptional(t *testing.T) {
	var reasons []string
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, id, reason string) (domain.Order, error) {
			require.Equal(t, "o1", id)
			reasons = append(reasons, reason)
			return domain.Order{ID: id, OrderStatus: domain.OrderCancelled}, nil
		},
	}
	router := mountAt("/orders", NewOrderHandlers(svc).Routes)

	rr := serve(router, httptest.NewRequest(http.MethodPost, "/orders/o1/cancel", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	rr = serve(router, httptest.NewRequest(http.MethodPost, "/orders/o1/cancel", strings.NewReader(`{"reason":"ordered twice"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{"", "ordered twice"}, reasons)
}

func TestOrderHandlers_CreateReplaysRepeatedKey(t *testing.T) {
	placed := 0
	svc := &stubOrderService{
		createFn: func(context.Context, domain.CreateOrderInput) (domain.Order, error) {
			placed++
			return domain.Order{ID: "o1"}, nil
		},
	}
	replayStore, err := idempotency.NewKVStore(kv.NewMemoryStore())
	require.NoError(t, err)
	router := mountAt("/orders", NewOrderHandlers(svc, WithReplayGuard(idempotency.Middleware(replayStore))).Routes)

	place := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"paymentMethod":"cod"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(idempotency.HeaderName, "checkout-1")
		return serve(router, req)
	}
	first := place()
	second := place()

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(idempotency.ReplayHeaderName))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, placed)
}
