package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/clientstate"
	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/pricing"
	"finitefield.org/wholesale/internal/query"
)

// Cart sources.
const (
	CartSourceServer = "server"
	CartSourceLocal  = "local"
)

// CartView is the cart shown to the session. Server carts carry upstream totals; local carts carry
// the guest lines only, their totals are computed at checkout by the server. Degraded marks a local
// view served because the server cart could not be fetched.
type CartView struct {
	Source    string                 `json:"source"`
	Cart      *domain.Cart           `json:"cart,omitempty"`
	Items     []domain.GuestCartItem `json:"items,omitempty"`
	ItemCount int                    `json:"itemCount"`
	Degraded  bool                   `json:"degraded,omitempty"`
}

// ProductLookup resolves a product for guest cart lines.
type ProductLookup interface {
	Product(ctx context.Context, idOrSlug string) (ProductDetail, error)
}

// CartServiceDeps wires the server cart API, the guest cart store and the coordinator.
type CartServiceDeps struct {
	API         CartAPI
	GuestCarts  GuestCartStore
	Products    ProductLookup
	Authorizer  *Authorizer
	Coordinator *query.Coordinator
	Resolver    *pricing.Resolver
	Notifier    notify.Notifier
	Logger      *zap.Logger
}

type cartService struct {
	api      CartAPI
	guests   GuestCartStore
	products ProductLookup
	auth     *Authorizer
	co       *query.Coordinator
	cache    *query.Cache
	resolver *pricing.Resolver
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.API == nil {
		return nil, errors.New("cart service: api is required")
	}
	if deps.GuestCarts == nil {
		return nil, errors.New("cart service: guest cart store is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product lookup is required")
	}
	if deps.Authorizer == nil || deps.Coordinator == nil {
		return nil, errors.New("cart service: authorizer and coordinator are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := deps.Resolver
	if resolver == nil {
		r, err := pricing.NewResolver(logger, nil)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &cartService{
		api:      deps.API,
		guests:   deps.GuestCarts,
		products: deps.Products,
		auth:     deps.Authorizer,
		co:       deps.Coordinator,
		cache:    deps.Coordinator.Cache(),
		resolver: resolver,
		notifier: notifier,
		logger:   logger.Named("cart"),
	}, nil
}

// Get returns the server cart for signed-in sessions and the guest cart otherwise. A failed server
// fetch is not an error: the guest cart is served instead.
func (s *cartService) Get(ctx context.Context) (CartView, error) {
	authed, sid, ok, err := s.auth.Optional(ctx)
	if err != nil {
		return CartView{}, err
	}
	if !ok {
		return s.local(ctx, sid, false)
	}
	cart, err := query.Get(authed, s.cache, cartKey(sid), bound(authed, s.api.Cart))
	if err != nil {
		_ = s.auth.Observe(ctx, sid, err)
		s.logger.Info("server cart unavailable; serving guest cart", zap.Error(err))
		return s.local(ctx, sid, true)
	}
	return serverView(cart), nil
}

func (s *cartService) Add(ctx context.Context, in domain.AddToCartInput) (CartView, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	var v validator
	v.check(in.ProductID != "", "productId", "Product is required")
	v.check(in.Quantity >= 1, "quantity", "Quantity must be at least 1")
	if err := v.err(); err != nil {
		return CartView{}, err
	}

	authed, sid, ok, err := s.auth.Optional(ctx)
	if err != nil {
		return CartView{}, err
	}
	if ok {
		return s.mutate(authed, sid, query.MutationSpec{
			Kind:         query.KindCreate,
			SuccessTitle: "Added to cart",
			Success:      "Item added successfully",
			FailureTitle: "Failed to add item",
		}, func(ctx context.Context) (domain.Cart, error) {
			return s.api.AddToCart(ctx, in)
		})
	}

	items, err := s.addGuest(ctx, sid, in)
	if err != nil {
		s.notify(ctx, notify.New(notify.LevelError, "Failed to add item", userMessage(err, "Please try again")))
		return CartView{}, err
	}
	s.notify(ctx, notify.New(notify.LevelSuccess, "Added to cart", "Item added successfully"))
	return localView(items, false), nil
}

// addGuest prices the line with the tier matching the quantity the line will hold after the add.
func (s *cartService) addGuest(ctx context.Context, sid string, in domain.AddToCartInput) ([]domain.GuestCartItem, error) {
	detail, err := s.products.Product(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	product := detail.Product

	existing, err := s.guests.Items(ctx, sid)
	if err != nil {
		return nil, err
	}
	quantity := in.Quantity
	for _, it := range existing {
		if it.ProductID == product.ID {
			quantity += it.Quantity
		}
	}
	unitPrice, err := s.unitPrice(ctx, product, quantity)
	if err != nil {
		return nil, err
	}

	item := domain.GuestCartItem{
		ProductID:      product.ID,
		Title:          product.Title,
		Quantity:       in.Quantity,
		UnitPriceAtAdd: unitPrice,
	}
	if len(product.Images) > 0 {
		item.Image = product.Images[0]
	}
	return s.guests.Add(ctx, sid, item)
}

func (s *cartService) unitPrice(ctx context.Context, product domain.Product, quantity int) (decimal.Decimal, error) {
	if len(product.PricingTiers) == 0 {
		return product.Price, nil
	}
	res, err := s.resolver.Resolve(ctx, product.ID, quantity, product.PricingTiers)
	if err != nil {
		return decimal.Zero, err
	}
	return res.UnitPrice(), nil
}

// UpdateItem sets a line's quantity. Guest lines are addressed by product ID, server lines by
// cart item ID.
func (s *cartService) UpdateItem(ctx context.Context, itemID string, quantity int) (CartView, error) {
	itemID = strings.TrimSpace(itemID)
	var v validator
	v.check(itemID != "", "itemId", "Item is required")
	v.check(quantity >= 1, "quantity", "Quantity must be at least 1")
	if err := v.err(); err != nil {
		return CartView{}, err
	}

	authed, sid, ok, err := s.auth.Optional(ctx)
	if err != nil {
		return CartView{}, err
	}
	if ok {
		return s.mutate(authed, sid, query.MutationSpec{
			Kind:         query.KindUpdate,
			Quiet:        true,
			FailureTitle: "Failed to update",
		}, func(ctx context.Context) (domain.Cart, error) {
			return s.api.UpdateCartItem(ctx, itemID, quantity)
		})
	}

	items, err := s.guests.Update(ctx, sid, itemID, quantity)
	if err != nil {
		if errors.Is(err, clientstate.ErrItemNotFound) {
			return CartView{}, err
		}
		s.notify(ctx, notify.New(notify.LevelError, "Failed to update", userMessage(err, "Please try again")))
		return CartView{}, err
	}
	return localView(items, false), nil
}

func (s *cartService) RemoveItem(ctx context.Context, itemID string) (CartView, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return CartView{}, ErrInvalidInput
	}
	authed, sid, ok, err := s.auth.Optional(ctx)
	if err != nil {
		return CartView{}, err
	}
	if ok {
		return s.mutate(authed, sid, query.MutationSpec{
			Kind:         query.KindDelete,
			SuccessTitle: "Item removed",
			Success:      "Item removed from cart",
			FailureTitle: "Failed to remove",
		}, func(ctx context.Context) (domain.Cart, error) {
			return s.api.RemoveCartItem(ctx, itemID)
		})
	}

	items, err := s.guests.Remove(ctx, sid, itemID)
	if err != nil {
		s.notify(ctx, notify.New(notify.LevelError, "Failed to remove", userMessage(err, "Please try again")))
		return CartView{}, err
	}
	s.notify(ctx, notify.New(notify.LevelSuccess, "Item removed", "Item removed from cart"))
	return localView(items, false), nil
}

func (s *cartService) Clear(ctx context.Context) (CartView, error) {
	authed, sid, ok, err := s.auth.Optional(ctx)
	if err != nil {
		return CartView{}, err
	}
	if !ok {
		if err := s.guests.Clear(ctx, sid); err != nil {
			s.notify(ctx, notify.New(notify.LevelError, "Failed to clear cart", userMessage(err, "Please try again")))
			return CartView{}, err
		}
		s.notify(ctx, notify.New(notify.LevelSuccess, "Cart cleared", "All items removed"))
		return localView(nil, false), nil
	}

	_, err = query.Perform(authed, s.co, query.MutationSpec{
		Tag:          tagCart,
		Scope:        sid,
		Kind:         query.KindDelete,
		SuccessTitle: "Cart cleared",
		Success:      "All items removed",
		FailureTitle: "Failed to clear cart",
		Failure:      "Please try again",
	}, s.api.ClearCart)
	if err != nil {
		return CartView{}, s.auth.Observe(ctx, sid, err)
	}
	return CartView{Source: CartSourceServer, Cart: &domain.Cart{Items: []domain.CartItem{}}}, nil
}

func (s *cartService) ApplyCoupon(ctx context.Context, code string) (CartView, error) {
	code = strings.TrimSpace(code)
	var v validator
	v.check(code != "", "code", "Coupon code is required")
	if err := v.err(); err != nil {
		return CartView{}, err
	}
	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return CartView{}, err
	}
	return s.mutate(authed, sid, query.MutationSpec{
		Kind:         query.KindAction,
		Success:      "Coupon applied",
		FailureTitle: "Failed to apply coupon",
	}, func(ctx context.Context) (domain.Cart, error) {
		return s.api.ApplyCoupon(ctx, code)
	})
}

func (s *cartService) RemoveCoupon(ctx context.Context) (CartView, error) {
	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return CartView{}, err
	}
	return s.mutate(authed, sid, query.MutationSpec{
		Kind:         query.KindAction,
		Success:      "Coupon removed",
		FailureTitle: "Failed to remove coupon",
	}, s.api.RemoveCoupon)
}

// SyncLocalCart merges the guest cart into the server cart. On success the guest cart is cleared
// and the server cart adopted; on failure the guest cart is left untouched. An empty guest cart
// just loads the server cart.
func (s *cartService) SyncLocalCart(ctx context.Context) (domain.Cart, error) {
	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	items, err := s.guests.Items(ctx, sid)
	if err != nil {
		return domain.Cart{}, err
	}
	if len(items) == 0 {
		cart, err := query.Get(authed, s.cache, cartKey(sid), bound(authed, s.api.Cart))
		return cart, s.auth.Observe(ctx, sid, err)
	}

	cart, err := s.api.SyncCart(authed, items)
	if err != nil {
		return domain.Cart{}, s.auth.Observe(ctx, sid, err)
	}
	s.co.Invalidate(ctx, query.Filter{Tag: tagCart, Scope: sid})
	if err := s.clearMerged(ctx, sid); err != nil {
		s.logger.Error("guest cart merged but not cleared", zap.Error(err))
		return domain.Cart{}, fmt.Errorf("cart service: guest cart merged but not cleared: %w", err)
	}
	s.logger.Debug("guest cart merged", zap.Int("lines", len(items)))
	return cart, nil
}

// clearMerged empties the guest cart after a merge. A cart left behind would be merged a second
// time on the next sign in, so one retry is made before giving up.
func (s *cartService) clearMerged(ctx context.Context, sid string) error {
	err := s.guests.Clear(ctx, sid)
	if err == nil {
		return nil
	}
	s.logger.Warn("clear merged guest cart failed; retrying", zap.Error(err))
	return s.guests.Clear(ctx, sid)
}

// mutate runs a server cart write through the coordinator and primes the session's cart entry
// with the returned cart.
func (s *cartService) mutate(authed context.Context, sid string, spec query.MutationSpec, op func(ctx context.Context) (domain.Cart, error)) (CartView, error) {
	key := cartKey(sid)
	spec.Tag = tagCart
	spec.Scope = sid
	spec.Prime = &key
	if spec.Failure == "" {
		spec.Failure = "Please try again"
	}
	cart, err := query.Perform(authed, s.co, spec, op)
	if err != nil {
		return CartView{}, s.auth.Observe(authed, sid, err)
	}
	return serverView(cart), nil
}

func (s *cartService) local(ctx context.Context, sid string, degraded bool) (CartView, error) {
	items, err := s.guests.Items(ctx, sid)
	if err != nil {
		return CartView{}, err
	}
	return localView(items, degraded), nil
}

func (s *cartService) notify(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification not delivered", zap.Error(err))
	}
}

func serverView(cart domain.Cart) CartView {
	return CartView{Source: CartSourceServer, Cart: &cart, ItemCount: cart.ItemCount}
}

func localView(items []domain.GuestCartItem, degraded bool) CartView {
	if items == nil {
		items = []domain.GuestCartItem{}
	}
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	return CartView{Source: CartSourceLocal, Items: items, ItemCount: count, Degraded: degraded}
}
