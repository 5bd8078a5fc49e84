package engine

import (
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the amount p takes off order, in whole currency
// units. The result is never negative and never exceeds the subtotal of the
// part of the order the promotion is scoped to. Free shipping is not a
// monetary discount here; the composer flags it instead.
func ComputeDiscount(p *domain.Promotion, order domain.Order) int64 {
	if p == nil {
		return 0
	}

	switch cfg := p.Config.(type) {
	case domain.Percentage:
		products, categories := scopeIDs(p.Conditions, cfg.ProductIDs, cfg.CategoryIDs)
		base := scopedBase(cfg.AppliesTo, order, products, categories)
		return percentOf(base, cfg.Value, cfg.MaxDiscountAmount)
	case domain.FixedAmount:
		products, categories := scopeIDs(p.Conditions, cfg.ProductIDs, cfg.CategoryIDs)
		base := scopedBase(cfg.AppliesTo, order, products, categories)
		if cfg.Value <= 0 {
			return 0
		}
		return min(cfg.Value, base)
	case domain.BuyXGetY:
		products, categories := scopeIDs(p.Conditions, cfg.ProductIDs, cfg.CategoryIDs)
		return buyXGetY(cfg, order, products, categories)
	case domain.Threshold:
		return threshold(cfg, order.Subtotal())
	case domain.FreeShipping:
		return 0
	default:
		return 0
	}
}

// scopeIDs prefers the ids on the discount config and falls back to the
// promotion's targeting conditions.
func scopeIDs(cs domain.Conditions, products, categories []string) ([]string, []string) {
	if len(products) == 0 && len(categories) == 0 {
		products, _ = cs.ProductTargets()
		categories, _ = cs.CategoryTargets()
	}
	return products, categories
}

func scopedBase(scope domain.Scope, order domain.Order, products, categories []string) int64 {
	switch scope {
	case domain.ScopeTotal:
		return max(order.Subtotal(), 0)
	case domain.ScopeProducts:
		return sumLines(order.Items, func(li domain.LineItem) bool {
			return slices.Contains(products, li.ProductID)
		})
	case domain.ScopeCategory:
		return sumLines(order.Items, func(li domain.LineItem) bool {
			return inCategory(categories, li)
		})
	default:
		// Shipping is handled by the free delivery flag.
		return 0
	}
}

func sumLines(items []domain.LineItem, match func(domain.LineItem) bool) int64 {
	var sum int64
	for _, li := range items {
		if li.Quantity > 0 && li.UnitPrice > 0 && match(li) {
			sum += li.Total()
		}
	}
	return sum
}

// percentOf takes pct percent of base, caps it at maxAmount and rounds half
// away from zero to a whole unit. A cap of zero or less means no cap.
func percentOf(base int64, pct float64, maxAmount *int64) int64 {
	if base <= 0 || pct <= 0 || math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}

	amount := decimal.NewFromInt(base).Mul(decimal.NewFromFloat(pct)).Div(hundred)
	if maxAmount != nil && *maxAmount > 0 {
		amount = decimal.Min(amount, decimal.NewFromInt(*maxAmount))
	}
	return clamp(amount.Round(0).IntPart(), base)
}

// buyXGetY gives away GetQuantity units for every full group of
// BuyQuantity+GetQuantity eligible units, each valued at the cheapest
// eligible unit price.
func buyXGetY(cfg domain.BuyXGetY, order domain.Order, products, categories []string) int64 {
	if cfg.BuyQuantity < 1 || cfg.GetQuantity < 1 {
		return 0
	}

	scoped := len(products) > 0 || len(categories) > 0
	var (
		qty      int
		cheapest int64 = -1
		base     int64
	)
	for _, li := range order.Items {
		if li.Quantity <= 0 || li.UnitPrice < 0 {
			continue
		}
		if scoped && !slices.Contains(products, li.ProductID) && !inCategory(categories, li) {
			continue
		}
		qty += li.Quantity
		base += li.Total()
		if cheapest < 0 || li.UnitPrice < cheapest {
			cheapest = li.UnitPrice
		}
	}
	if cheapest <= 0 {
		return 0
	}

	free := qty / (cfg.BuyQuantity + cfg.GetQuantity) * cfg.GetQuantity
	return clamp(int64(free)*cheapest, base)
}

// threshold applies the tier with the highest minimum the subtotal reaches.
func threshold(cfg domain.Threshold, subtotal int64) int64 {
	var (
		best  *domain.ThresholdTier
		tiers = cfg.Tiers
	)
	for i := range tiers {
		if tiers[i].MinAmount > subtotal {
			continue
		}
		if best == nil || tiers[i].MinAmount > best.MinAmount {
			best = &tiers[i]
		}
	}
	if best == nil {
		return 0
	}
	return percentOf(subtotal, best.Percent, cfg.MaxDiscountAmount)
}

func clamp(amount, ceiling int64) int64 {
	if amount < 0 {
		return 0
	}
	return min(amount, max(ceiling, 0))
}
