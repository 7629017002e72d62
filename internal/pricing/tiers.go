// Package pricing resolves quantity tiered unit prices for wholesale products.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/domain"
)

const metricNamespace = "finitefield.org/wholesale/internal/pricing"

var (
	// ErrNoTiers is returned when a product carries an empty tier table.
	ErrNoTiers = errors.New("pricing: no tiers")
	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = errors.New("pricing: quantity must be positive")
)

// Resolution describes which tier priced a quantity. Index refers to the tier order after sorting
// by MinQty. Fallback is set when no tier contained the quantity and the lowest tier was used.
type Resolution struct {
	Tier     domain.PricingTier
	Index    int
	Fallback bool
}

// UnitPrice is the resolved unit price.
func (r Resolution) UnitPrice() decimal.Decimal { return r.Tier.UnitPrice }

// ResolveTierPrice returns the unit price for quantity. Tier bounds are inclusive on both ends.
// When no tier contains the quantity the lowest tier's price is returned; that fallback is a
// default for malformed catalog data, not a pricing rule. Use Resolve to detect it.
func ResolveTierPrice(quantity int, tiers []domain.PricingTier) (decimal.Decimal, error) {
	res, err := Resolve(quantity, tiers)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return res.Tier.UnitPrice, nil
}

// Resolve finds the first tier in ascending MinQty order whose range contains quantity.
// The input slice is never modified.
func Resolve(quantity int, tiers []domain.PricingTier) (Resolution, error) {
	if quantity < 1 {
		return Resolution{}, ErrInvalidQuantity
	}
	if len(tiers) == 0 {
		return Resolution{}, ErrNoTiers
	}

	sorted := SortTiers(tiers)
	for i, tier := range sorted {
		if quantity >= tier.MinQty && (tier.MaxQty == nil || quantity <= *tier.MaxQty) {
			return Resolution{Tier: tier, Index: i}, nil
		}
	}
	return Resolution{Tier: sorted[0], Index: 0, Fallback: true}, nil
}

// SortTiers returns a copy of tiers ordered by MinQty. Equal minimums keep their input order.
func SortTiers(tiers []domain.PricingTier) []domain.PricingTier {
	sorted := make([]domain.PricingTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinQty < sorted[j].MinQty
	})
	return sorted
}

// DiscountPercent is the rounded saving of tier against base, in percent. It is zero when base is
// not positive.
func DiscountPercent(base, tier decimal.Decimal) int {
	if !base.IsPositive() {
		return 0
	}
	return int(base.Sub(tier).Div(base).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// Resolver wraps Resolve with fallback reporting.
type Resolver struct {
	logger    *zap.Logger
	fallbacks metric.Int64Counter
}

// NewResolver constructs a Resolver. A nil meter uses the global provider.
func NewResolver(logger *zap.Logger, meter metric.Meter) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	counter, err := meter.Int64Counter(
		"pricing.tier.fallback",
		metric.WithDescription("Quantities priced by the lowest tier because no tier contained them"),
	)
	if err != nil {
		return nil, fmt.Errorf("pricing: register fallback metric: %w", err)
	}
	return &Resolver{logger: logger.Named("pricing"), fallbacks: counter}, nil
}

// Resolve prices quantity for the given product. Fallbacks are logged and counted, never returned
// as errors.
func (r *Resolver) Resolve(ctx context.Context, productID string, quantity int, tiers []domain.PricingTier) (Resolution, error) {
	res, err := Resolve(quantity, tiers)
	if err != nil {
		return Resolution{}, err
	}
	if res.Fallback {
		r.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("product", productID)))
		r.logger.Warn("quantity matched no pricing tier; using lowest tier",
			zap.String("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Int("lowest_min_qty", res.Tier.MinQty),
		)
	}
	return res, nil
}
