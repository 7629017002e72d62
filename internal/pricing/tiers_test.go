package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"finitefield.org/wholesale/internal/domain"
)

func intPtr(v int) *int { return &v }

func tier(min int, max *int, price string) domain.PricingTier {
	return domain.PricingTier{MinQty: min, MaxQty: max, UnitPrice: decimal.RequireFromString(price)}
}

func bulkTiers() []domain.PricingTier {
	return []domain.PricingTier{
		tier(10, intPtr(49), "45.99"),
		tier(50, intPtr(99), "39.99"),
		tier(100, intPtr(499), "34.99"),
		tier(500, nil, "29.99"),
	}
}

func TestResolveTierPrice(t *testing.T) {
	tiers := bulkTiers()
	cases := []struct {
		qty  int
		want string
	}{
		{10, "45.99"},
		{49, "45.99"},
		{50, "39.99"},
		{99, "39.99"},
		{100, "34.99"},
		{499, "34.99"},
		{500, "29.99"},
		{10000, "29.99"},
	}
	for _, tc := range cases {
		got, err := ResolveTierPrice(tc.qty, tiers)
		if err != nil {
			t.Fatalf("qty %d: unexpected error %v", tc.qty, err)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("qty %d: expected %s, got %s", tc.qty, tc.want, got)
		}
	}
}

func TestResolveTierPriceUnsortedInputIsNotMutated(t *testing.T) {
	tiers := []domain.PricingTier{
		tier(500, nil, "29.99"),
		tier(10, intPtr(49), "45.99"),
		tier(50, intPtr(499), "39.99"),
	}
	got, err := ResolveTierPrice(60, tiers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("39.99")) {
		t.Fatalf("expected 39.99, got %s", got)
	}
	if tiers[0].MinQty != 500 {
		t.Fatalf("input slice must not be reordered")
	}

	again, _ := ResolveTierPrice(60, tiers)
	if !again.Equal(got) {
		t.Fatalf("expected identical result on repeat call")
	}
}

func TestResolveAdjacentBoundariesBelongToDifferentTiers(t *testing.T) {
	tiers := bulkTiers()
	sorted := SortTiers(tiers)
	for i := 0; i < len(sorted)-1; i++ {
		lower, err := Resolve(*sorted[i].MaxQty, tiers)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		upper, err := Resolve(sorted[i+1].MinQty, tiers)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lower.Index == upper.Index {
			t.Fatalf("boundary %d/%d resolved to the same tier %d", *sorted[i].MaxQty, sorted[i+1].MinQty, lower.Index)
		}
	}
}

func TestResolveFallsBackToLowestTier(t *testing.T) {
	tiers := []domain.PricingTier{
		tier(50, intPtr(99), "39.99"),
		tier(10, intPtr(20), "45.99"),
		tier(100, nil, "34.99"),
	}

	below, err := Resolve(5, tiers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !below.Fallback || below.Tier.MinQty != 10 {
		t.Fatalf("expected fallback to lowest tier, got %+v", below)
	}

	gap, err := Resolve(30, tiers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gap.Fallback || !gap.UnitPrice().Equal(decimal.RequireFromString("45.99")) {
		t.Fatalf("expected gap to fall back to 45.99, got %+v", gap)
	}
}

func TestResolveErrors(t *testing.T) {
	if _, err := Resolve(1, nil); !errors.Is(err, ErrNoTiers) {
		t.Fatalf("expected ErrNoTiers, got %v", err)
	}
	if _, err := Resolve(0, bulkTiers()); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestResolverReportsFallback(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	resolver, err := NewResolver(zap.New(core), noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}

	res, err := resolver.Resolve(context.Background(), "prod_1", 3, bulkTiers())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Fallback {
		t.Fatalf("expected fallback resolution")
	}
	entries := logs.FilterField(zap.String("product_id", "prod_1")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one fallback warning, got %d", len(entries))
	}

	if _, err := resolver.Resolve(context.Background(), "prod_1", 60, bulkTiers()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected no warning for a matching tier, got %d entries", logs.Len())
	}
}

func TestDiscountPercent(t *testing.T) {
	base := decimal.RequireFromString("49.99")
	if got := DiscountPercent(base, decimal.RequireFromString("29.99")); got != 40 {
		t.Fatalf("expected 40, got %d", got)
	}
	if got := DiscountPercent(base, base); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := DiscountPercent(decimal.Zero, decimal.RequireFromString("1")); got != 0 {
		t.Fatalf("expected 0 for zero base, got %d", got)
	}
}

func TestValidateTiers(t *testing.T) {
	if problems := ValidateTiers(bulkTiers()); len(problems) != 0 {
		t.Fatalf("expected well formed table, got %v", problems)
	}

	cases := []struct {
		name  string
		tiers []domain.PricingTier
		want  TierProblem
	}{
		{"gap", []domain.PricingTier{tier(10, intPtr(20), "5"), tier(30, nil, "4")}, ProblemGap},
		{"overlap", []domain.PricingTier{tier(10, intPtr(40), "5"), tier(30, nil, "4")}, ProblemOverlap},
		{"missing unbounded", []domain.PricingTier{tier(10, intPtr(20), "5"), tier(21, intPtr(30), "4")}, ProblemMissingUnbounded},
		{"unbounded not last", []domain.PricingTier{tier(10, nil, "5"), tier(30, nil, "4")}, ProblemUnboundedNotLast},
		{"invalid bounds", []domain.PricingTier{tier(10, intPtr(5), "5"), tier(6, nil, "4")}, ProblemInvalidBounds},
		{"negative price", []domain.PricingTier{tier(1, nil, "-1")}, ProblemNegativePrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			problems := ValidateTiers(tc.tiers)
			found := false
			for _, p := range problems {
				if p.Problem == tc.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %s in %v", tc.want, problems)
			}
		})
	}
}
