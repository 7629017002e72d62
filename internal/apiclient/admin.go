package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"finitefield.org/wholesale/internal/domain"
)

// Dashboard returns the pre-aggregated admin dashboard.
func (c *Client) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	var out domain.Dashboard
	err := c.call(ctx, "admin dashboard", http.MethodGet, "admin/dashboard", nil, nil, &out)
	return out, err
}

// Analytics returns the analytics report for period.
func (c *Client) Analytics(ctx context.Context, period string) (domain.Analytics, error) {
	query := url.Values{}
	if period != "" {
		query.Set("period", period)
	}
	var out domain.Analytics
	err := c.call(ctx, "admin analytics", http.MethodGet, "admin/analytics", query, nil, &out)
	return out, err
}

// AdminProducts lists products for the back office.
func (c *Client) AdminProducts(ctx context.Context, filters domain.AdminFilters) (domain.AdminProductList, error) {
	var out domain.AdminProductList
	err := c.call(ctx, "admin list products", http.MethodGet, "admin/products", filters.Values(), nil, &out)
	return out, err
}

// AdminProduct returns one product.
func (c *Client) AdminProduct(ctx context.Context, id string) (domain.AdminProduct, error) {
	var out domain.AdminProduct
	err := c.call(ctx, "admin get product", http.MethodGet, resource("admin", "products", id), nil, nil, &out)
	return out, err
}

// CreateProduct creates a product.
func (c *Client) CreateProduct(ctx context.Context, in domain.AdminProductInput) (domain.AdminProduct, error) {
	var out domain.AdminProduct
	err := c.call(ctx, "admin create product", http.MethodPost, "admin/products", nil, in, &out)
	return out, err
}

// UpdateProduct changes the fields set on in.
func (c *Client) UpdateProduct(ctx context.Context, id string, in domain.AdminProductInput) (domain.AdminProduct, error) {
	var out domain.AdminProduct
	err := c.call(ctx, "admin update product", http.MethodPut, resource("admin", "products", id), nil, in, &out)
	return out, err
}

// DeleteProduct deletes a product.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.call(ctx, "admin delete product", http.MethodDelete, resource("admin", "products", id), nil, nil, nil)
}

// BulkDeleteProducts deletes several products at once.
func (c *Client) BulkDeleteProducts(ctx context.Context, ids []string) error {
	return c.call(ctx, "admin bulk delete products", http.MethodPost, "admin/products/bulk-delete", nil, map[string][]string{"ids": ids}, nil)
}

// AdminOrders lists orders for the back office.
func (c *Client) AdminOrders(ctx context.Context, filters domain.AdminFilters) (domain.AdminOrderList, error) {
	var out domain.AdminOrderList
	err := c.call(ctx, "admin list orders", http.MethodGet, "admin/orders", filters.Values(), nil, &out)
	return out, err
}

// AdminOrder returns one order.
func (c *Client) AdminOrder(ctx context.Context, id string) (domain.AdminOrder, error) {
	var out domain.AdminOrder
	err := c.call(ctx, "admin get order", http.MethodGet, resource("admin", "orders", id), nil, nil, &out)
	return out, err
}

// UpdateOrderStatus moves an order to status.
func (c *Client) UpdateOrderStatus(ctx context.Context, id, status string) (domain.AdminOrder, error) {
	var out domain.AdminOrder
	err := c.call(ctx, "admin update order status", http.MethodPatch, resource("admin", "orders", id, "status"), nil, map[string]string{"status": status}, &out)
	return out, err
}

// AdminCancelOrder cancels an order from the back office.
func (c *Client) AdminCancelOrder(ctx context.Context, id string) error {
	return c.call(ctx, "admin cancel order", http.MethodPatch, resource("admin", "orders", id, "cancel"), nil, nil, nil)
}

// AdminCustomers lists customers.
func (c *Client) AdminCustomers(ctx context.Context, filters domain.AdminFilters) (domain.AdminCustomerList, error) {
	var out domain.AdminCustomerList
	err := c.call(ctx, "admin list customers", http.MethodGet, "admin/customers", filters.Values(), nil, &out)
	return out, err
}

// AdminCustomer returns one customer.
func (c *Client) AdminCustomer(ctx context.Context, id string) (domain.AdminCustomer, error) {
	var out domain.AdminCustomer
	err := c.call(ctx, "admin get customer", http.MethodGet, resource("admin", "customers", id), nil, nil, &out)
	return out, err
}

// UpdateCustomerStatus sets a customer's status.
func (c *Client) UpdateCustomerStatus(ctx context.Context, id, status string) (domain.AdminCustomer, error) {
	var out domain.AdminCustomer
	err := c.call(ctx, "admin update customer status", http.MethodPatch, resource("admin", "customers", id, "status"), nil, map[string]string{"status": status}, &out)
	return out, err
}

// BlockCustomer blocks a customer.
func (c *Client) BlockCustomer(ctx context.Context, id string) error {
	return c.call(ctx, "admin block customer", http.MethodPatch, resource("admin", "customers", id, "block"), nil, nil, nil)
}

// UnblockCustomer unblocks a customer.
func (c *Client) UnblockCustomer(ctx context.Context, id string) error {
	return c.call(ctx, "admin unblock customer", http.MethodPatch, resource("admin", "customers", id, "unblock"), nil, nil, nil)
}
