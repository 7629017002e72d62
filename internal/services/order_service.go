package services

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/query"
)

const defaultOrderPageSize = 10

// OrderServiceDeps wires the order API.
type OrderServiceDeps struct {
	API         OrderAPI
	Authorizer  *Authorizer
	Coordinator *query.Coordinator
	Settings    SettingsService
	Logger      *zap.Logger
}

type orderService struct {
	api      OrderAPI
	auth     *Authorizer
	co       *query.Coordinator
	cache    *query.Cache
	settings SettingsService
	logger   *zap.Logger
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.API == nil {
		return nil, errors.New("order service: api is required")
	}
	if deps.Authorizer == nil || deps.Coordinator == nil {
		return nil, errors.New("order service: authorizer and coordinator are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &orderService{
		api:      deps.API,
		auth:     deps.Authorizer,
		co:       deps.Coordinator,
		cache:    deps.Coordinator.Cache(),
		settings: deps.Settings,
		logger:   logger.Named("orders"),
	}, nil
}

// Create places an order from the server cart. The cart is emptied upstream, so both the order
// list and the session's cart are invalidated.
func (s *orderService) Create(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error) {
	if err := s.validateOrder(ctx, in); err != nil {
		return domain.Order{}, err
	}
	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := query.Perform(authed, s.co, query.MutationSpec{
		Tag:     tagOrders,
		Scope:   sid,
		Kind:    query.KindCreate,
		Subject: "Order",
		Success: "Order placed successfully",
		Failure: "Failed to place order",
		Also:    []query.Filter{{Tag: tagCart, Scope: sid}},
	}, func(ctx context.Context) (domain.Order, error) {
		return s.api.CreateOrder(ctx, in)
	})
	return order, s.auth.Observe(ctx, sid, err)
}

func (s *orderService) validateOrder(ctx context.Context, in domain.CreateOrderInput) error {
	addr := in.ShippingAddress
	var v validator
	v.check(strings.TrimSpace(addr.FullName) != "", "shippingAddress.fullName", "Full name is required")
	v.check(strings.TrimSpace(addr.Phone) != "", "shippingAddress.phone", "Phone is required")
	v.check(strings.TrimSpace(addr.Address) != "", "shippingAddress.address", "Address is required")
	v.check(strings.TrimSpace(addr.City) != "", "shippingAddress.city", "City is required")
	v.check(in.PaymentMethod != "", "paymentMethod", "Payment method is required")
	if in.PaymentMethod != "" && s.settings != nil {
		if settings, err := s.settings.Get(ctx); err == nil {
			v.check(settings.Payments.Enabled(in.PaymentMethod), "paymentMethod", "Payment method is not available")
		}
	}
	return v.err()
}

func (s *orderService) List(ctx context.Context, page, limit int) (domain.OrderPage, error) {
	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return domain.OrderPage{}, err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > maxCatalogLimit {
		limit = defaultOrderPageSize
	}
	params := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}
	key := query.NewKey(tagOrders+"/list", sid, params)
	orders, err := query.Get(authed, s.cache, key, bound(authed, func(ctx context.Context) (domain.OrderPage, error) {
		return s.api.Orders(ctx, page, limit)
	}))
	return orders, s.auth.Observe(ctx, sid, err)
}

func (s *orderService) Get(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, ErrInvalidInput
	}
	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	key := query.NewKey(tagOrders+"/detail", sid, idParams(id))
	order, err := query.Get(authed, s.cache, key, bound(authed, func(ctx context.Context) (domain.Order, error) {
		return s.api.Order(ctx, id)
	}))
	return order, s.auth.Observe(ctx, sid, err)
}

func (s *orderService) Cancel(ctx context.Context, id, reason string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, ErrInvalidInput
	}
	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := query.Perform(authed, s.co, query.MutationSpec{
		Tag:     tagOrders,
		Scope:   sid,
		Kind:    query.KindAction,
		Success: "Order cancelled",
		Failure: "Failed to cancel order",
	}, func(ctx context.Context) (domain.Order, error) {
		return s.api.CancelOrder(ctx, id, strings.TrimSpace(reason))
	})
	return order, s.auth.Observe(ctx, sid, err)
}

// Track looks an order up by its number. Signed-out sessions may track too.
func (s *orderService) Track(ctx context.Context, orderNumber string) (domain.OrderTracking, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.OrderTracking{}, ErrInvalidInput
	}
	authed, sid, _, err := s.auth.Optional(ctx)
	if err != nil {
		return domain.OrderTracking{}, err
	}
	key := query.NewKey(tagOrders+"/tracking", sid, url.Values{"number": {orderNumber}})
	tracking, err := query.Get(authed, s.cache, key, bound(authed, func(ctx context.Context) (domain.OrderTracking, error) {
		return s.api.TrackOrder(ctx, orderNumber)
	}))
	return tracking, s.auth.Observe(ctx, sid, err)
}
