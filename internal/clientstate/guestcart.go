package clientstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/kv"
)

var (
	// ErrInvalidItem is returned for guest cart lines without a product or with a quantity below one.
	ErrInvalidItem = errors.New("clientstate: invalid cart item")
	// ErrItemNotFound is returned when updating a product that is not in the guest cart.
	ErrItemNotFound = errors.New("clientstate: item not in cart")
)

// GuestCarts stores the cart of unauthenticated sessions.
type GuestCarts struct {
	store kv.Store
	ttl   time.Duration
	mu    sync.Mutex
}

// NewGuestCarts constructs a guest cart store whose carts expire after ttl of inactivity.
func NewGuestCarts(store kv.Store, ttl time.Duration) (*GuestCarts, error) {
	if store == nil {
		return nil, errors.New("clientstate: store is required")
	}
	return &GuestCarts{store: store, ttl: ttl}, nil
}

// Items returns the guest cart lines in insertion order.
func (g *GuestCarts) Items(ctx context.Context, sessionID string) ([]domain.GuestCartItem, error) {
	var items []domain.GuestCartItem
	err := kv.GetJSON(ctx, g.store, cartKey(sessionID), &items)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return []domain.GuestCartItem{}, nil
	case err != nil:
		return nil, fmt.Errorf("clientstate: load guest cart: %w", err)
	}
	return items, nil
}

// Add puts item in the cart, adding to the quantity of an existing line for the same product.
func (g *GuestCarts) Add(ctx context.Context, sessionID string, item domain.GuestCartItem) ([]domain.GuestCartItem, error) {
	if item.ProductID == "" || item.Quantity < 1 {
		return nil, ErrInvalidItem
	}
	return g.modify(ctx, sessionID, func(items []domain.GuestCartItem) ([]domain.GuestCartItem, error) {
		for i := range items {
			if items[i].ProductID == item.ProductID {
				items[i].Quantity += item.Quantity
				items[i].UnitPriceAtAdd = item.UnitPriceAtAdd
				return items, nil
			}
		}
		return append(items, item), nil
	})
}

// Update sets the quantity of a product's line.
func (g *GuestCarts) Update(ctx context.Context, sessionID, productID string, quantity int) ([]domain.GuestCartItem, error) {
	if productID == "" || quantity < 1 {
		return nil, ErrInvalidItem
	}
	return g.modify(ctx, sessionID, func(items []domain.GuestCartItem) ([]domain.GuestCartItem, error) {
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity = quantity
				return items, nil
			}
		}
		return nil, ErrItemNotFound
	})
}

// Remove drops a product's line. Removing an absent product is not an error.
func (g *GuestCarts) Remove(ctx context.Context, sessionID, productID string) ([]domain.GuestCartItem, error) {
	return g.modify(ctx, sessionID, func(items []domain.GuestCartItem) ([]domain.GuestCartItem, error) {
		out := items[:0]
		for _, it := range items {
			if it.ProductID != productID {
				out = append(out, it)
			}
		}
		return out, nil
	})
}

// Clear empties the guest cart.
func (g *GuestCarts) Clear(ctx context.Context, sessionID string) error {
	if err := g.store.Delete(ctx, cartKey(sessionID)); err != nil {
		return fmt.Errorf("clientstate: clear guest cart: %w", err)
	}
	return nil
}

// Move hands the guest cart of one session to another, replacing any cart the target held.
func (g *GuestCarts) Move(ctx context.Context, fromSessionID, toSessionID string) error {
	if fromSessionID == "" || toSessionID == "" {
		return errors.New("clientstate: session is required")
	}
	if fromSessionID == toSessionID {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	items, err := g.Items(ctx, fromSessionID)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		if err := kv.SetJSON(ctx, g.store, cartKey(toSessionID), items, g.ttl); err != nil {
			return fmt.Errorf("clientstate: move guest cart: %w", err)
		}
	}
	return g.Clear(ctx, fromSessionID)
}

func (g *GuestCarts) modify(ctx context.Context, sessionID string, fn func([]domain.GuestCartItem) ([]domain.GuestCartItem, error)) ([]domain.GuestCartItem, error) {
	if sessionID == "" {
		return nil, errors.New("clientstate: session is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	items, err := g.Items(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items, err = fn(items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []domain.GuestCartItem{}, g.Clear(ctx, sessionID)
	}
	if err := kv.SetJSON(ctx, g.store, cartKey(sessionID), items, g.ttl); err != nil {
		return nil, fmt.Errorf("clientstate: save guest cart: %w", err)
	}
	return items, nil
}

func cartKey(sessionID string) string {
	return "session:" + sessionID + ":guest_cart"
}
