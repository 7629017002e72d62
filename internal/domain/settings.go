package domain

import "github.com/shopspring/decimal"

// StoreInfo is the public identity of the store.
type StoreInfo struct {
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email" yaml:"email"`
	Phone    string `json:"phone" yaml:"phone"`
	Address  string `json:"address" yaml:"address"`
	Currency string `json:"currency" yaml:"currency"`
}

// NotificationPrefs toggles admin notifications.
type NotificationPrefs struct {
	NewOrders    bool `json:"newOrders" yaml:"new_orders"`
	LowStock     bool `json:"lowStock" yaml:"low_stock"`
	Reviews      bool `json:"reviews" yaml:"reviews"`
	DailySummary bool `json:"dailySummary" yaml:"daily_summary"`
}

// PaymentMethods toggles the checkout payment options.
type PaymentMethods struct {
	COD   bool `json:"cod" yaml:"cod"`
	Bkash bool `json:"bkash" yaml:"bkash"`
	Nagad bool `json:"nagad" yaml:"nagad"`
	Card  bool `json:"card" yaml:"card"`
	Bank  bool `json:"bank" yaml:"bank"`
}

// Enabled reports whether method is accepted at checkout.
func (p PaymentMethods) Enabled(method string) bool {
	switch method {
	case PaymentCOD:
		return p.COD
	case PaymentBkash:
		return p.Bkash
	case PaymentNagad:
		return p.Nagad
	case PaymentCard:
		return p.Card
	case PaymentBank:
		return p.Bank
	default:
		return false
	}
}

// ShippingRates configures delivery charges.
type ShippingRates struct {
	InsideDhaka         decimal.Decimal `json:"insideDhaka" yaml:"inside_dhaka"`
	OutsideDhaka        decimal.Decimal `json:"outsideDhaka" yaml:"outside_dhaka"`
	FreeShipping        bool            `json:"freeShipping" yaml:"free_shipping"`
	FreeShippingMinimum decimal.Decimal `json:"freeShippingMinimum" yaml:"free_shipping_minimum"`
}

// EmailSettings configures transactional email.
type EmailSettings struct {
	SenderName           string `json:"senderName" yaml:"sender_name"`
	SenderEmail          string `json:"senderEmail" yaml:"sender_email"`
	OrderConfirmation    bool   `json:"orderConfirmation" yaml:"order_confirmation"`
	ShippingNotification bool   `json:"shippingNotification" yaml:"shipping_notification"`
	DeliveryConfirmation bool   `json:"deliveryConfirmation" yaml:"delivery_confirmation"`
}

// SecuritySettings configures admin account security. A zero SessionTimeoutMinutes never times out.
type SecuritySettings struct {
	TwoFactor             bool `json:"twoFactor" yaml:"two_factor"`
	LoginAlerts           bool `json:"loginAlerts" yaml:"login_alerts"`
	SessionTimeoutMinutes int  `json:"sessionTimeoutMinutes" yaml:"session_timeout_minutes"`
}

// Settings is the store configuration document edited from the admin settings page.
type Settings struct {
	Store           StoreInfo         `json:"store" yaml:"store"`
	MaintenanceMode bool              `json:"maintenanceMode" yaml:"maintenance_mode"`
	Notifications   NotificationPrefs `json:"notifications" yaml:"notifications"`
	Payments        PaymentMethods    `json:"payments" yaml:"payments"`
	Shipping        ShippingRates     `json:"shipping" yaml:"shipping"`
	Email           EmailSettings     `json:"email" yaml:"email"`
	Security        SecuritySettings  `json:"security" yaml:"security"`
}
