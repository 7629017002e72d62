package services

import (
	"context"
	"io"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/pricing"
	"finitefield.org/wholesale/internal/query"
)

// AuthAPI is the upstream authentication surface.
type AuthAPI interface {
	Login(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error)
	Register(ctx context.Context, reg domain.Registration) (domain.AuthResult, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (domain.User, error)
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, password string) (string, error)
}

// CatalogAPI is the upstream product catalog.
type CatalogAPI interface {
	ListProducts(ctx context.Context, filters domain.ProductFilters) (domain.ProductPage, error)
	SearchProducts(ctx context.Context, query string, filters domain.ProductFilters) (domain.ProductPage, error)
	Product(ctx context.Context, idOrSlug string) (domain.Product, error)
	ProductsByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error)
	FeaturedProducts(ctx context.Context, limit int) ([]domain.Product, error)
	NewArrivals(ctx context.Context, limit int) ([]domain.Product, error)
	BestSellers(ctx context.Context, limit int) ([]domain.Product, error)
	Categories(ctx context.Context) ([]domain.Category, error)
	Reviews(ctx context.Context, productID string, page, limit int) (domain.ReviewPage, error)
	AddReview(ctx context.Context, productID string, review domain.ReviewInput) (domain.Review, error)
}

// CartAPI is the upstream server cart.
type CartAPI interface {
	Cart(ctx context.Context) (domain.Cart, error)
	AddToCart(ctx context.Context, in domain.AddToCartInput) (domain.Cart, error)
	UpdateCartItem(ctx context.Context, itemID string, quantity int) (domain.Cart, error)
	RemoveCartItem(ctx context.Context, itemID string) (domain.Cart, error)
	ClearCart(ctx context.Context) (string, error)
	SyncCart(ctx context.Context, items []domain.GuestCartItem) (domain.Cart, error)
	ApplyCoupon(ctx context.Context, code string) (domain.Cart, error)
	RemoveCoupon(ctx context.Context) (domain.Cart, error)
}

// OrderAPI is the upstream customer order surface.
type OrderAPI interface {
	CreateOrder(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error)
	Orders(ctx context.Context, page, limit int) (domain.OrderPage, error)
	Order(ctx context.Context, id string) (domain.Order, error)
	CancelOrder(ctx context.Context, id, reason string) (domain.Order, error)
	TrackOrder(ctx context.Context, orderNumber string) (domain.OrderTracking, error)
}

// AdminAPI is the upstream back-office surface.
type AdminAPI interface {
	Dashboard(ctx context.Context) (domain.Dashboard, error)
	Analytics(ctx context.Context, period string) (domain.Analytics, error)
	AdminProducts(ctx context.Context, filters domain.AdminFilters) (domain.AdminProductList, error)
	AdminProduct(ctx context.Context, id string) (domain.AdminProduct, error)
	CreateProduct(ctx context.Context, in domain.AdminProductInput) (domain.AdminProduct, error)
	UpdateProduct(ctx context.Context, id string, in domain.AdminProductInput) (domain.AdminProduct, error)
	DeleteProduct(ctx context.Context, id string) error
	BulkDeleteProducts(ctx context.Context, ids []string) error
	AdminOrders(ctx context.Context, filters domain.AdminFilters) (domain.AdminOrderList, error)
	AdminOrder(ctx context.Context, id string) (domain.AdminOrder, error)
	UpdateOrderStatus(ctx context.Context, id, status string) (domain.AdminOrder, error)
	AdminCancelOrder(ctx context.Context, id string) error
	AdminCustomers(ctx context.Context, filters domain.AdminFilters) (domain.AdminCustomerList, error)
	AdminCustomer(ctx context.Context, id string) (domain.AdminCustomer, error)
	UpdateCustomerStatus(ctx context.Context, id, status string) (domain.AdminCustomer, error)
	BlockCustomer(ctx context.Context, id string) error
	UnblockCustomer(ctx context.Context, id string) error
}

// TokenStore persists the bearer token per session.
type TokenStore interface {
	Get(ctx context.Context, sessionID string) (string, bool, error)
	Set(ctx context.Context, sessionID, token string) error
	Clear(ctx context.Context, sessionID string) error
}

// GuestCartStore persists the cart of unauthenticated sessions.
type GuestCartStore interface {
	Items(ctx context.Context, sessionID string) ([]domain.GuestCartItem, error)
	Add(ctx context.Context, sessionID string, item domain.GuestCartItem) ([]domain.GuestCartItem, error)
	Update(ctx context.Context, sessionID, productID string, quantity int) ([]domain.GuestCartItem, error)
	Remove(ctx context.Context, sessionID, productID string) ([]domain.GuestCartItem, error)
	Clear(ctx context.Context, sessionID string) error
}

// AuthService manages the session's upstream identity.
type AuthService interface {
	Login(ctx context.Context, creds domain.Credentials) (AuthOutcome, error)
	Register(ctx context.Context, reg domain.Registration) (AuthOutcome, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (domain.User, error)
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, password string) (string, error)
}

// CatalogService serves the cached storefront catalog.
type CatalogService interface {
	ListProducts(ctx context.Context, filters domain.ProductFilters) (domain.ProductPage, error)
	SearchProducts(ctx context.Context, query string, filters domain.ProductFilters) (domain.ProductPage, error)
	Product(ctx context.Context, idOrSlug string) (ProductDetail, error)
	Quote(ctx context.Context, idOrSlug string, quantity int) (pricing.Quote, error)
	Collection(ctx context.Context, collection Collection, limit int) ([]domain.Product, error)
	ProductsByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error)
	Categories(ctx context.Context) ([]domain.Category, error)
	Reviews(ctx context.Context, productID string, page, limit int) (domain.ReviewPage, error)
	AddReview(ctx context.Context, productID string, review domain.ReviewInput) (domain.Review, error)
}

// CartService operates on the guest cart or the server cart depending on the session.
type CartService interface {
	Get(ctx context.Context) (CartView, error)
	Add(ctx context.Context, in domain.AddToCartInput) (CartView, error)
	UpdateItem(ctx context.Context, itemID string, quantity int) (CartView, error)
	RemoveItem(ctx context.Context, itemID string) (CartView, error)
	Clear(ctx context.Context) (CartView, error)
	ApplyCoupon(ctx context.Context, code string) (CartView, error)
	RemoveCoupon(ctx context.Context) (CartView, error)
	SyncLocalCart(ctx context.Context) (domain.Cart, error)
}

// OrderService manages the customer's orders.
type OrderService interface {
	Create(ctx context.Context, in domain.CreateOrderInput) (domain.Order, error)
	List(ctx context.Context, page, limit int) (domain.OrderPage, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	Cancel(ctx context.Context, id, reason string) (domain.Order, error)
	Track(ctx context.Context, orderNumber string) (domain.OrderTracking, error)
}

// AdminService exposes the back office to admin sessions.
type AdminService interface {
	Dashboard(ctx context.Context) (domain.Dashboard, error)
	Analytics(ctx context.Context, period string) (domain.Analytics, error)
	Products(ctx context.Context, filters domain.AdminFilters) (domain.AdminProductList, error)
	Product(ctx context.Context, id string) (domain.AdminProduct, error)
	CreateProduct(ctx context.Context, in domain.AdminProductInput) (domain.AdminProduct, error)
	UpdateProduct(ctx context.Context, id string, in domain.AdminProductInput) (domain.AdminProduct, error)
	DeleteProduct(ctx context.Context, id string) error
	BulkDeleteProducts(ctx context.Context, ids []string) error
	Orders(ctx context.Context, filters domain.AdminFilters) (domain.AdminOrderList, error)
	Order(ctx context.Context, id string) (domain.AdminOrder, error)
	UpdateOrderStatus(ctx context.Context, id, status string) (domain.AdminOrder, error)
	CancelOrder(ctx context.Context, id string) error
	Customers(ctx context.Context, filters domain.AdminFilters) (domain.AdminCustomerList, error)
	Customer(ctx context.Context, id string) (domain.AdminCustomer, error)
	UpdateCustomerStatus(ctx context.Context, id, status string) (domain.AdminCustomer, error)
	BlockCustomer(ctx context.Context, id string) error
	UnblockCustomer(ctx context.Context, id string) error
	Watch(ctx context.Context, resource AdminResource, filters domain.AdminFilters) (*query.Subscription, error)
}

// SettingsService owns the store settings document.
type SettingsService interface {
	Get(ctx context.Context) (domain.Settings, error)
	Update(ctx context.Context, settings domain.Settings) (domain.Settings, error)
	Reset(ctx context.Context) (domain.Settings, error)
	MaintenanceMode(ctx context.Context) bool
}

// ExportService renders admin listings as spreadsheets.
type ExportService interface {
	Export(ctx context.Context, resource AdminResource, filters domain.AdminFilters, w io.Writer) error
}
