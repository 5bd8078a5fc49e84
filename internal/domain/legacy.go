package domain

import (
	"fmt"
	"strings"
	"time"
)

// LegacyPromotion is the older storage shape: a status enum instead of the
// active flag, one object holding every condition, and a separate discount
// object whose meaning depends on Type.
type LegacyPromotion struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Type       string           `json:"type"`
	Status     string           `json:"status"`
	Priority   int              `json:"priority"`
	Conditions LegacyConditions `json:"conditions"`
	Discount   LegacyDiscount   `json:"discount"`
	Visuals    *Visuals         `json:"visuals,omitempty"`
	UsageCount int              `json:"usage_count"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// LegacyConditions is the object-shaped condition block.
type LegacyConditions struct {
	StartDate          *time.Time   `json:"start_date,omitempty"`
	EndDate            *time.Time   `json:"end_date,omitempty"`
	DaysOfWeek         []int        `json:"days_of_week,omitempty"`
	HoursOfDay         *HourRange   `json:"hours_of_day,omitempty"`
	ProductIDs         []string     `json:"product_ids,omitempty"`
	CategoryIDs        []string     `json:"category_ids,omitempty"`
	MinOrderAmount     *float64     `json:"min_order_amount,omitempty"`
	MinItemsCount      *int         `json:"min_items_count,omitempty"`
	PromoCode          string       `json:"promo_code,omitempty"`
	BuyQuantity        int          `json:"buy_quantity,omitempty"`
	GetQuantity        int          `json:"get_quantity,omitempty"`
	ThresholdValues    []LegacyTier `json:"threshold_values,omitempty"`
	MaxUsesTotal       *int         `json:"max_uses_total,omitempty"`
	MaxUsesPerCustomer *int         `json:"max_uses_per_customer,omitempty"`
	FirstOrderOnly     bool         `json:"first_order_only,omitempty"`
}

// LegacyTier is one threshold step.
type LegacyTier struct {
	Amount   float64 `json:"amount"`
	Discount float64 `json:"discount"`
}

// LegacyDiscount is the discount block.
type LegacyDiscount struct {
	Type              string   `json:"type"`
	Value             float64  `json:"value"`
	MaxDiscountAmount *float64 `json:"max_discount_amount,omitempty"`
	AppliesTo         string   `json:"applies_to"`
}

// LegacyStatusActive reports whether a legacy status maps to an active
// promotion. Only "active" does; scheduled, paused and expired rows come in
// inactive.
func LegacyStatusActive(status string) bool {
	return strings.EqualFold(status, "active")
}

// ConvertLegacy maps a legacy promotion to the canonical model. Warnings
// list the parts that have no canonical equivalent and were dropped.
// CreatedAt stands in for a missing start date.
func ConvertLegacy(lp LegacyPromotion) (Promotion, []string, error) {
	var warnings []string
	lc := lp.Conditions

	p := Promotion{
		ID:                 lp.ID,
		Name:               lp.Name,
		Active:             LegacyStatusActive(lp.Status),
		Priority:           lp.Priority,
		UsageCount:         lp.UsageCount,
		UsageLimitTotal:    lc.MaxUsesTotal,
		MaxUsesPerCustomer: lc.MaxUsesPerCustomer,
		PromoCode:          strings.TrimSpace(lc.PromoCode),
		Visuals:            lp.Visuals,
		EndDate:            lc.EndDate,
		CreatedAt:          lp.CreatedAt,
		UpdatedAt:          lp.UpdatedAt,
	}

	switch {
	case lc.StartDate != nil:
		p.StartDate = *lc.StartDate
	case !lp.CreatedAt.IsZero():
		p.StartDate = lp.CreatedAt
	default:
		return Promotion{}, nil, fmt.Errorf("legacy promotion %s: no start date and no creation date", lp.ID)
	}

	if lc.MinOrderAmount != nil {
		p.Conditions = append(p.Conditions, MinOrderAmount{Amount: int64(*lc.MinOrderAmount)})
	}
	if lc.MinItemsCount != nil {
		p.Conditions = append(p.Conditions, MinItemsCount{Count: *lc.MinItemsCount})
	}
	if len(lc.ProductIDs) > 0 {
		p.Conditions = append(p.Conditions, ProductIDs{IDs: lc.ProductIDs})
	}
	if len(lc.CategoryIDs) > 0 {
		p.Conditions = append(p.Conditions, CategoryIDs{IDs: lc.CategoryIDs})
	}

	if len(lc.DaysOfWeek) > 0 || lc.HoursOfDay != nil {
		p.TimeWindow = &TimeWindow{DaysOfWeek: lc.DaysOfWeek, HoursOfDay: lc.HoursOfDay}
	}

	if lc.FirstOrderOnly {
		warnings = append(warnings, "first_order_only is not supported and was dropped")
	}

	cfg, discountWarnings, err := convertLegacyDiscount(lp)
	if err != nil {
		return Promotion{}, nil, err
	}
	p.Config = cfg
	warnings = append(warnings, discountWarnings...)

	return p, warnings, nil
}

func convertLegacyDiscount(lp LegacyPromotion) (DiscountConfig, []string, error) {
	d := lp.Discount
	lc := lp.Conditions

	var maxAmount *int64
	if d.MaxDiscountAmount != nil && *d.MaxDiscountAmount > 0 {
		v := int64(*d.MaxDiscountAmount)
		maxAmount = &v
	}

	switch lp.Type {
	case "buy_x_get_y":
		return BuyXGetY{BuyQuantity: lc.BuyQuantity, GetQuantity: lc.GetQuantity}, nil, nil
	case "free_shipping":
		return FreeShipping{}, nil, nil
	case "threshold":
		var warnings []string
		if len(lc.ThresholdValues) > 0 {
			warnings = append(warnings, "threshold_values discounts are read as percentages")
		}
		tiers := make([]ThresholdTier, 0, len(lc.ThresholdValues))
		for _, t := range lc.ThresholdValues {
			tiers = append(tiers, ThresholdTier{MinAmount: int64(t.Amount), Percent: t.Discount})
		}
		return Threshold{Tiers: tiers, MaxDiscountAmount: maxAmount}, warnings, nil
	}

	scope := Scope(d.AppliesTo)
	if scope == "" {
		scope = ScopeTotal
	}
	if scope == ScopeShipping {
		return FreeShipping{}, nil, nil
	}

	switch d.Type {
	case "percentage":
		return Percentage{Value: d.Value, AppliesTo: scope, MaxDiscountAmount: maxAmount}, nil, nil
	case "fixed_amount":
		return FixedAmount{Value: int64(d.Value), AppliesTo: scope}, nil, nil
	default:
		return nil, nil, fmt.Errorf("legacy promotion %s: unsupported discount type %q", lp.ID, d.Type)
	}
}
