package apiclient

import (
	"context"
	"net/http"

	"finitefield.org/wholesale/internal/domain"
)

type cartEnvelope struct {
	Cart domain.Cart `json:"cart"`
}

func (c *Client) cartCall(ctx context.Context, op, method, path string, body any) (domain.Cart, error) {
	var out cartEnvelope
	err := c.call(ctx, op, method, path, nil, body, &out)
	return out.Cart, err
}

// Cart returns the authenticated user's cart.
func (c *Client) Cart(ctx context.Context) (domain.Cart, error) {
	return c.cartCall(ctx, "get cart", http.MethodGet, "cart", nil)
}

// AddToCart adds a product to the cart.
func (c *Client) AddToCart(ctx context.Context, in domain.AddToCartInput) (domain.Cart, error) {
	return c.cartCall(ctx, "add to cart", http.MethodPost, "cart/add", in)
}

// UpdateCartItem sets a cart line's quantity.
func (c *Client) UpdateCartItem(ctx context.Context, itemID string, quantity int) (domain.Cart, error) {
	return c.cartCall(ctx, "update cart item", http.MethodPut, resource("cart", "item", itemID), map[string]int{"quantity": quantity})
}

// RemoveCartItem drops a cart line.
func (c *Client) RemoveCartItem(ctx context.Context, itemID string) (domain.Cart, error) {
	return c.cartCall(ctx, "remove cart item", http.MethodDelete, resource("cart", "item", itemID), nil)
}

// ClearCart empties the cart and returns the server's message.
func (c *Client) ClearCart(ctx context.Context) (string, error) {
	var out messageEnvelope
	err := c.call(ctx, "clear cart", http.MethodDelete, "cart/clear", nil, nil, &out)
	return out.Message, err
}

// SyncCart merges guest cart lines into the server cart.
func (c *Client) SyncCart(ctx context.Context, items []domain.GuestCartItem) (domain.Cart, error) {
	return c.cartCall(ctx, "sync cart", http.MethodPost, "cart/sync", map[string]any{"items": items})
}

// ApplyCoupon applies a coupon code to the cart.
func (c *Client) ApplyCoupon(ctx context.Context, code string) (domain.Cart, error) {
	return c.cartCall(ctx, "apply coupon", http.MethodPost, "cart/coupon", map[string]string{"code": code})
}

// RemoveCoupon removes the applied coupon.
func (c *Client) RemoveCoupon(ctx context.Context) (domain.Cart, error) {
	return c.cartCall(ctx, "remove coupon", http.MethodDelete, "cart/coupon", nil)
}
