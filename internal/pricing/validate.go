package pricing

import (
	"fmt"

	"finitefield.org/wholesale/internal/domain"
)

// TierProblem classifies a tier table defect.
type TierProblem string

const (
	ProblemInvalidBounds    TierProblem = "invalid_bounds"
	ProblemNegativePrice    TierProblem = "negative_price"
	ProblemGap              TierProblem = "gap"
	ProblemOverlap          TierProblem = "overlap"
	ProblemMissingUnbounded TierProblem = "missing_unbounded"
	ProblemUnboundedNotLast TierProblem = "unbounded_not_last"
)

// TierError describes one defect of a tier table. Index refers to the tier order after sorting by
// MinQty.
type TierError struct {
	Index   int         `json:"index"`
	Problem TierProblem `json:"problem"`
	Message string      `json:"message"`
}

func (e TierError) Error() string {
	return fmt.Sprintf("tier %d: %s", e.Index, e.Message)
}

// ValidateTiers checks that tiers are contiguous, non-overlapping and end with exactly one
// unbounded tier. An empty result means the table is well formed.
func ValidateTiers(tiers []domain.PricingTier) []TierError {
	if len(tiers) == 0 {
		return nil
	}
	sorted := SortTiers(tiers)

	var problems []TierError
	unbounded := 0
	for i, tier := range sorted {
		if tier.MinQty < 1 || (tier.MaxQty != nil && *tier.MaxQty < tier.MinQty) {
			problems = append(problems, TierError{
				Index:   i,
				Problem: ProblemInvalidBounds,
				Message: fmt.Sprintf("range %s is invalid", rangeText(tier)),
			})
		}
		if tier.UnitPrice.IsNegative() {
			problems = append(problems, TierError{
				Index:   i,
				Problem: ProblemNegativePrice,
				Message: fmt.Sprintf("price %s is negative", tier.UnitPrice.String()),
			})
		}
		if tier.MaxQty == nil {
			unbounded++
			if i != len(sorted)-1 {
				problems = append(problems, TierError{
					Index:   i,
					Problem: ProblemUnboundedNotLast,
					Message: fmt.Sprintf("unbounded tier %s is followed by another tier", rangeText(tier)),
				})
			}
			continue
		}
		if i == len(sorted)-1 {
			continue
		}
		next := sorted[i+1]
		switch want := *tier.MaxQty + 1; {
		case next.MinQty > want:
			problems = append(problems, TierError{
				Index:   i,
				Problem: ProblemGap,
				Message: fmt.Sprintf("quantities %d to %d are not priced", want, next.MinQty-1),
			})
		case next.MinQty < want:
			problems = append(problems, TierError{
				Index:   i,
				Problem: ProblemOverlap,
				Message: fmt.Sprintf("range %s overlaps %s", rangeText(tier), rangeText(next)),
			})
		}
	}
	if unbounded == 0 {
		problems = append(problems, TierError{
			Index:   len(sorted) - 1,
			Problem: ProblemMissingUnbounded,
			Message: "no tier covers quantities above the last maximum",
		})
	}
	return problems
}

func rangeText(t domain.PricingTier) string {
	if t.MaxQty == nil {
		return fmt.Sprintf("%d+", t.MinQty)
	}
	return fmt.Sprintf("%d-%d", t.MinQty, *t.MaxQty)
}
