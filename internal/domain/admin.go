package domain

import (
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// Admin product statuses.
const (
	ProductActive     = "active"
	ProductLowStock   = "low_stock"
	ProductOutOfStock = "out_of_stock"
	ProductDraft      = "draft"
)

// Admin customer statuses.
const (
	CustomerActive   = "active"
	CustomerInactive = "inactive"
	CustomerVIP      = "vip"
	CustomerBlocked  = "blocked"
)

// AdminProduct is the back-office view of a product.
type AdminProduct struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	Status      string          `json:"status"`
	Image       string          `json:"image"`
	Description string          `json:"description,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// AdminProductInput creates or partially updates an admin product.
type AdminProductInput struct {
	Name        *string          `json:"name,omitempty"`
	SKU         *string          `json:"sku,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Status      *string          `json:"status,omitempty"`
	Image       *string          `json:"image,omitempty"`
	Description *string          `json:"description,omitempty"`
}

// AdminAddress is the shipping summary on an admin order.
type AdminAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// AdminOrder is the back-office view of an order.
type AdminOrder struct {
	ID              string          `json:"id"`
	Customer        string          `json:"customer"`
	Email           string          `json:"email"`
	Items           int             `json:"items"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"paymentStatus"`
	Date            string          `json:"date"`
	ShippingAddress *AdminAddress   `json:"shippingAddress,omitempty"`
}

// AdminCustomer is the back-office view of a customer.
type AdminCustomer struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Phone      string          `json:"phone"`
	Orders     int             `json:"orders"`
	TotalSpent decimal.Decimal `json:"totalSpent"`
	Status     string          `json:"status"`
	JoinedAt   string          `json:"joinedAt"`
}

// PageMeta is the pagination block of admin list responses.
type PageMeta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// AdminFilters narrows admin listings.
type AdminFilters struct {
	Search   string
	Category string
	Status   string
	Page     int
	PerPage  int
}

// Values encodes the filters as query params, omitting zero values.
func (f AdminFilters) Values() url.Values {
	v := url.Values{}
	setIf(v, "search", f.Search)
	setIf(v, "category", f.Category)
	setIf(v, "status", f.Status)
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(f.PerPage))
	}
	return v
}

// AdminProductList is a page of admin products.
type AdminProductList struct {
	Data []AdminProduct `json:"data"`
	Meta PageMeta       `json:"meta"`
}

// OrderStats counts admin orders by status.
type OrderStats struct {
	All        int `json:"all"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Shipped    int `json:"shipped"`
	Delivered  int `json:"delivered"`
	Cancelled  int `json:"cancelled"`
}

// AdminOrderList is a page of admin orders.
type AdminOrderList struct {
	Data  []AdminOrder `json:"data"`
	Meta  PageMeta     `json:"meta"`
	Stats OrderStats   `json:"stats"`
}

// CustomerStats summarises the customer base.
type CustomerStats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	VIP          int `json:"vip"`
	NewThisMonth int `json:"newThisMonth"`
}

// AdminCustomerList is a page of admin customers.
type AdminCustomerList struct {
	Data  []AdminCustomer `json:"data"`
	Meta  PageMeta        `json:"meta"`
	Stats CustomerStats   `json:"stats"`
}

// DashboardStats are the headline figures of the admin dashboard.
type DashboardStats struct {
	TotalRevenue        decimal.Decimal `json:"totalRevenue"`
	RevenueChange       float64         `json:"revenueChange"`
	TotalOrders         int             `json:"totalOrders"`
	OrdersChange        float64         `json:"ordersChange"`
	TotalProducts       int             `json:"totalProducts"`
	NewProductsThisWeek int             `json:"newProductsThisWeek"`
	TotalCustomers      int             `json:"totalCustomers"`
	CustomersChange     float64         `json:"customersChange"`
}

// RevenuePoint is one month of the revenue series.
type RevenuePoint struct {
	Month   string          `json:"month"`
	Revenue decimal.Decimal `json:"revenue"`
	Orders  int             `json:"orders"`
}

// CategoryShare is one slice of the category distribution.
type CategoryShare struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// RecentOrder is a compact order row on the dashboard.
type RecentOrder struct {
	ID       string          `json:"id"`
	Customer string          `json:"customer"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
	Date     string          `json:"date"`
}

// TopProduct is a best-selling product row.
type TopProduct struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Sales   int             `json:"sales"`
	Revenue decimal.Decimal `json:"revenue"`
}

// Dashboard is the pre-aggregated admin dashboard.
type Dashboard struct {
	Stats        DashboardStats  `json:"stats"`
	RevenueData  []RevenuePoint  `json:"revenueData"`
	CategoryData []CategoryShare `json:"categoryData"`
	RecentOrders []RecentOrder   `json:"recentOrders"`
	TopProducts  []TopProduct    `json:"topProducts"`
}

// DailySales is one day of the sales series.
type DailySales struct {
	Date   string          `json:"date"`
	Sales  decimal.Decimal `json:"sales"`
	Orders int             `json:"orders"`
}

// Analytics is the pre-aggregated analytics report for a period.
type Analytics struct {
	Revenue              []RevenuePoint  `json:"revenue"`
	DailySales           []DailySales    `json:"dailySales"`
	CategoryDistribution []CategoryShare `json:"categoryDistribution"`
	TopProducts          []TopProduct    `json:"topProducts"`
}

// AnalyticsPeriods lists the reporting windows the analytics endpoint accepts.
var AnalyticsPeriods = []string{"week", "month", "quarter", "year"}
