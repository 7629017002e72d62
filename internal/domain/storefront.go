// Package domain holds the storefront and admin resource shapes. The two bounded contexts keep
// separate types even where the upstream resources overlap.
package domain

import (
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// PricingTier maps an inclusive quantity range to a unit price. A nil MaxQty is unbounded.
type PricingTier struct {
	MinQty    int             `json:"minQty"`
	MaxQty    *int            `json:"maxQty"`
	UnitPrice decimal.Decimal `json:"price"`
}

// Unbounded reports whether the tier has no upper quantity limit.
func (t PricingTier) Unbounded() bool { return t.MaxQty == nil }

// Vendor is the seller summary embedded in a product.
type Vendor struct {
	ID     string  `json:"_id"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
}

// Product is the storefront catalog item.
type Product struct {
	ID               string            `json:"_id"`
	Title            string            `json:"title"`
	Slug             string            `json:"slug"`
	Description      string            `json:"description"`
	DescriptionHTML  string            `json:"descriptionHtml,omitempty"`
	ShortDescription string            `json:"shortDescription,omitempty"`
	Price            decimal.Decimal   `json:"price"`
	OriginalPrice    *decimal.Decimal  `json:"originalPrice,omitempty"`
	Discount         *float64          `json:"discount,omitempty"`
	Images           []string          `json:"images"`
	Category         string            `json:"category"`
	Subcategory      string            `json:"subcategory,omitempty"`
	Brand            string            `json:"brand,omitempty"`
	Stock            int               `json:"stock"`
	MinOrder         int               `json:"minOrder"`
	Unit             string            `json:"unit"`
	Rating           float64           `json:"rating"`
	ReviewCount      int               `json:"reviewCount"`
	SoldCount        int               `json:"soldCount"`
	Tags             []string          `json:"tags,omitempty"`
	Specifications   map[string]string `json:"specifications,omitempty"`
	PricingTiers     []PricingTier     `json:"pricingTiers,omitempty"`
	Vendor           *Vendor           `json:"vendor,omitempty"`
	IsActive         bool              `json:"isActive"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// ProductPage is one page of a product listing.
type ProductPage struct {
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	Products []Product `json:"products"`
}

// Product sort keys accepted by the catalog.
const (
	SortPriceAsc   = "price"
	SortPriceDesc  = "-price"
	SortNewest     = "-createdAt"
	SortOldest     = "createdAt"
	SortRating     = "rating"
	SortBestSeller = "soldCount"
)

// ProductSorts lists every accepted sort key.
var ProductSorts = []string{SortPriceAsc, SortPriceDesc, SortOldest, SortNewest, SortRating, SortBestSeller}

// ProductFilters narrows a product listing. Zero values are omitted from the query.
type ProductFilters struct {
	Page        int
	Limit       int
	Category    string
	Subcategory string
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	Brand       string
	Search      string
	Sort        string
	Tags        []string
}

// Category is a catalog category with optional subcategory names.
type Category struct {
	ID            string   `json:"_id"`
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	Icon          string   `json:"icon,omitempty"`
	Subcategories []string `json:"subcategories,omitempty"`
}

// ReviewAuthor identifies who wrote a review.
type ReviewAuthor struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Review is a product review.
type Review struct {
	ID        string       `json:"_id"`
	User      ReviewAuthor `json:"user"`
	Rating    int          `json:"rating"`
	Comment   string       `json:"comment"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ReviewPage is one page of reviews with the aggregate rating.
type ReviewPage struct {
	Reviews       []Review `json:"reviews"`
	Total         int      `json:"total"`
	AverageRating float64  `json:"averageRating"`
}

// ReviewInput is the payload for a new review.
type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CartItem is one line of the server cart. Price is the unit price the server applied.
type CartItem struct {
	ID       string          `json:"_id"`
	Product  Product         `json:"product"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Total    decimal.Decimal `json:"total"`
}

// Cart is the authoritative server cart. Totals are computed upstream and never recomputed here.
type Cart struct {
	ID        string          `json:"_id"`
	User      string          `json:"user,omitempty"`
	Items     []CartItem      `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Tax       decimal.Decimal `json:"tax"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
	Coupon    string          `json:"coupon,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// GuestCartItem is a line of the locally held cart of an unauthenticated session.
type GuestCartItem struct {
	ProductID      string          `json:"productId"`
	Title          string          `json:"title,omitempty"`
	Image          string          `json:"image,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPriceAtAdd decimal.Decimal `json:"unitPriceAtAdd"`
}

// AddToCartInput adds quantity units of a product.
type AddToCartInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Payment methods accepted at checkout.
const (
	PaymentCOD   = "cod"
	PaymentBkash = "bkash"
	PaymentNagad = "nagad"
	PaymentCard  = "card"
	PaymentBank  = "bank"
)

// Order statuses shared by the storefront and admin views.
const (
	OrderPending    = "pending"
	OrderConfirmed  = "confirmed"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

// OrderStatuses lists every order status in lifecycle order.
var OrderStatuses = []string{OrderPending, OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled}

// ShippingAddress is where an order ships.
type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Order is a customer's order as the storefront shows it.
type Order struct {
	ID                string          `json:"_id"`
	OrderNumber       string          `json:"orderNumber"`
	User              string          `json:"user"`
	Items             []CartItem      `json:"items"`
	ShippingAddress   ShippingAddress `json:"shippingAddress"`
	PaymentMethod     string          `json:"paymentMethod"`
	PaymentStatus     string          `json:"paymentStatus"`
	OrderStatus       string          `json:"orderStatus"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Shipping          decimal.Decimal `json:"shipping"`
	Tax               decimal.Decimal `json:"tax"`
	Discount          decimal.Decimal `json:"discount"`
	Total             decimal.Decimal `json:"total"`
	Notes             string          `json:"notes,omitempty"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// OrderPage is one page of the customer's orders.
type OrderPage struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
}

// CreateOrderInput places an order from the current server cart.
type CreateOrderInput struct {
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	Notes           string          `json:"notes,omitempty"`
}

// TrackingEvent is one step of a shipment's history.
type TrackingEvent struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location,omitempty"`
}

// OrderTracking is an order with its shipment history.
type OrderTracking struct {
	Order    Order           `json:"order"`
	Tracking []TrackingEvent `json:"tracking"`
}

// User roles.
const (
	RoleCustomer = "customer"
	RoleVendor   = "vendor"
	RoleAdmin    = "admin"
)

// User is the authenticated account.
type User struct {
	ID        string    `json:"_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Credentials logs a user in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration creates an account.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// ProfileUpdate changes profile fields; nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// AuthResult is the upstream response to login and register.
type AuthResult struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	User   User   `json:"user"`
}

// Values encodes the filters as query params, omitting zero values.
func (f ProductFilters) Values() url.Values {
	v := url.Values{}
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	setIf(v, "category", f.Category)
	setIf(v, "subcategory", f.Subcategory)
	if f.MinPrice != nil {
		v.Set("minPrice", f.MinPrice.String())
	}
	if f.MaxPrice != nil {
		v.Set("maxPrice", f.MaxPrice.String())
	}
	setIf(v, "brand", f.Brand)
	setIf(v, "search", f.Search)
	setIf(v, "sort", f.Sort)
	for _, tag := range f.Tags {
		if tag != "" {
			v.Add("tags", tag)
		}
	}
	return v
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
