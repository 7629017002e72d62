package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"finitefield.org/wholesale/internal/domain"
)

type productEnvelope struct {
	Product domain.Product `json:"product"`
}

type productsEnvelope struct {
	Products []domain.Product `json:"products"`
}

type categoriesEnvelope struct {
	Categories []domain.Category `json:"categories"`
}

type reviewEnvelope struct {
	Review domain.Review `json:"review"`
}

// ListProducts returns one page of the catalog.
func (c *Client) ListProducts(ctx context.Context, filters domain.ProductFilters) (domain.ProductPage, error) {
	var out domain.ProductPage
	err := c.call(ctx, "list products", http.MethodGet, "products", filters.Values(), nil, &out)
	return out, err
}

// SearchProducts runs a text search with optional filters.
func (c *Client) SearchProducts(ctx context.Context, query string, filters domain.ProductFilters) (domain.ProductPage, error) {
	filters.Search = query
	var out domain.ProductPage
	err := c.call(ctx, "search products", http.MethodGet, "products/search", filters.Values(), nil, &out)
	return out, err
}

// Product returns one product by ID or slug.
func (c *Client) Product(ctx context.Context, idOrSlug string) (domain.Product, error) {
	var out productEnvelope
	err := c.call(ctx, "get product", http.MethodGet, resource("products", idOrSlug), nil, nil, &out)
	return out.Product, err
}

// ProductsByCategory returns up to limit products of a category.
func (c *Client) ProductsByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error) {
	return c.productList(ctx, "products by category", resource("products", "category", category), limit)
}

// FeaturedProducts returns the featured collection.
func (c *Client) FeaturedProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	return c.productList(ctx, "featured products", "products/featured", limit)
}

// NewArrivals returns the newest products.
func (c *Client) NewArrivals(ctx context.Context, limit int) ([]domain.Product, error) {
	return c.productList(ctx, "new arrivals", "products/new-arrivals", limit)
}

// BestSellers returns the best selling products.
func (c *Client) BestSellers(ctx context.Context, limit int) ([]domain.Product, error) {
	return c.productList(ctx, "best sellers", "products/best-sellers", limit)
}

func (c *Client) productList(ctx context.Context, op, path string, limit int) ([]domain.Product, error) {
	var out productsEnvelope
	if err := c.call(ctx, op, http.MethodGet, path, limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// Categories returns the category tree.
func (c *Client) Categories(ctx context.Context) ([]domain.Category, error) {
	var out categoriesEnvelope
	if err := c.call(ctx, "categories", http.MethodGet, "categories", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

// Reviews returns one page of a product's reviews.
func (c *Client) Reviews(ctx context.Context, productID string, page, limit int) (domain.ReviewPage, error) {
	query := limitQuery(limit)
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	var out domain.ReviewPage
	err := c.call(ctx, "reviews", http.MethodGet, resource("products", productID, "reviews"), query, nil, &out)
	return out, err
}

// AddReview posts a review as the authenticated user.
func (c *Client) AddReview(ctx context.Context, productID string, review domain.ReviewInput) (domain.Review, error) {
	var out reviewEnvelope
	err := c.call(ctx, "add review", http.MethodPost, resource("products", productID, "reviews"), nil, review, &out)
	return out.Review, err
}

func limitQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}
