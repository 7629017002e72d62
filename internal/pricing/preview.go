package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"finitefield.org/wholesale/internal/domain"
)

// TierView is one row of the bulk pricing table shown on a product page.
type TierView struct {
	MinQty          int             `json:"minQty"`
	MaxQty          *int            `json:"maxQty"`
	UnitPrice       decimal.Decimal `json:"price"`
	Label           string          `json:"label"`
	DiscountPercent int             `json:"discountPercent"`
	Active          bool            `json:"active"`
}

// Quote is the pre-add-to-cart preview for a quantity. It is a display aid; the server cart is
// the authority on what is charged.
type Quote struct {
	ProductID       string          `json:"productId"`
	Quantity        int             `json:"quantity"`
	MinOrder        int             `json:"minOrder"`
	MeetsMinimum    bool            `json:"meetsMinimum"`
	BasePrice       decimal.Decimal `json:"basePrice"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
	DiscountPercent int             `json:"discountPercent"`
	Fallback        bool            `json:"fallback"`
	Display         *QuoteDisplay   `json:"display,omitempty"`
	Tiers           []TierView      `json:"tiers"`
}

// QuoteDisplay carries formatted amounts.
type QuoteDisplay struct {
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal"`
}

// Preview prices quantity units of product. Products without tiers are priced at their base price.
// A nil formatter leaves Display empty.
func (r *Resolver) Preview(ctx context.Context, product domain.Product, quantity int, f *Formatter) (Quote, error) {
	if quantity < 1 {
		return Quote{}, ErrInvalidQuantity
	}
	quote := Quote{
		ProductID:    product.ID,
		Quantity:     quantity,
		MinOrder:     product.MinOrder,
		MeetsMinimum: quantity >= product.MinOrder,
		BasePrice:    product.Price,
		UnitPrice:    product.Price,
	}

	activeIndex := -1
	if len(product.PricingTiers) > 0 {
		res, err := r.Resolve(ctx, product.ID, quantity, product.PricingTiers)
		if err != nil {
			return Quote{}, err
		}
		quote.UnitPrice = res.Tier.UnitPrice
		quote.Fallback = res.Fallback
		if !res.Fallback {
			activeIndex = res.Index
		}
	}

	quote.LineTotal = quote.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	quote.DiscountPercent = DiscountPercent(product.Price, quote.UnitPrice)
	quote.Tiers = TierTable(product, activeIndex)
	if f != nil {
		quote.Display = &QuoteDisplay{
			UnitPrice: f.Format(quote.UnitPrice),
			LineTotal: f.Format(quote.LineTotal),
		}
	}
	return quote, nil
}

// TierTable lists the product's tiers in ascending order with labels and savings against the base
// price. The tier at activeIndex is flagged; pass -1 for none.
func TierTable(product domain.Product, activeIndex int) []TierView {
	sorted := SortTiers(product.PricingTiers)
	unit := product.Unit
	if unit == "" {
		unit = "pcs"
	}
	views := make([]TierView, 0, len(sorted))
	for i, tier := range sorted {
		views = append(views, TierView{
			MinQty:          tier.MinQty,
			MaxQty:          tier.MaxQty,
			UnitPrice:       tier.UnitPrice,
			Label:           fmt.Sprintf("%s %s", rangeText(tier), unit),
			DiscountPercent: DiscountPercent(product.Price, tier.UnitPrice),
			Active:          i == activeIndex,
		})
	}
	return views
}
