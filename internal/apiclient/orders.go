package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"finitefield.org/wholesale/internal/domain"
)

type orderEnvelope struct {
	Order domain.Order `json:"order"`
}

// CreateOrder places an order from the current cart.
func (c *Client) CreateOrder(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error) {
	var out orderEnvelope
	err := c.call(ctx, "create order", http.MethodPost, "orders", nil, in, &out)
	return out.Order, err
}

// Orders returns one page of the user's orders.
func (c *Client) Orders(ctx context.Context, page, limit int) (domain.OrderPage, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out domain.OrderPage
	err := c.call(ctx, "list orders", http.MethodGet, "orders", query, nil, &out)
	return out, err
}

// Order returns one of the user's orders.
func (c *Client) Order(ctx context.Context, id string) (domain.Order, error) {
	var out orderEnvelope
	err := c.call(ctx, "get order", http.MethodGet, resource("orders", id), nil, nil, &out)
	return out.Order, err
}

// CancelOrder cancels an order with an optional reason.
func (c *Client) CancelOrder(ctx context.Context, id, reason string) (domain.Order, error) {
	var out orderEnvelope
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	err := c.call(ctx, "cancel order", http.MethodPut, resource("orders", id, "cancel"), nil, body, &out)
	return out.Order, err
}

// TrackOrder returns an order's shipment history by order number.
func (c *Client) TrackOrder(ctx context.Context, orderNumber string) (domain.OrderTracking, error) {
	var out domain.OrderTracking
	err := c.call(ctx, "track order", http.MethodGet, resource("orders", "track", orderNumber), nil, nil, &out)
	return out, err
}
