package engine

import (
	"slices"
	"time"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
)

// IsCurrentlyValid reports whether p is active, inside its date range and
// below its total usage cap at now.
func IsCurrentlyValid(p *domain.Promotion, now time.Time) bool {
	if p == nil || !p.Active {
		return false
	}
	if now.Before(p.StartDate) {
		return false
	}
	if p.EndDate != nil && now.After(*p.EndDate) {
		return false
	}
	return !p.AtUsageLimit()
}

// IsValidAtTime checks the promotion's weekly time window. Both ends of the
// hour range are inclusive and only the time of day is compared. A range whose
// end is before its start never matches, nor does one that fails to parse.
func IsValidAtTime(p *domain.Promotion, now time.Time) bool {
	if p == nil {
		return false
	}
	w := p.TimeWindow
	if w == nil {
		return true
	}

	if len(w.DaysOfWeek) > 0 && !slices.Contains(w.DaysOfWeek, int(now.Weekday())) {
		return false
	}

	if w.HoursOfDay == nil {
		return true
	}
	start, okStart := domain.ParseClock(w.HoursOfDay.Start)
	end, okEnd := domain.ParseClock(w.HoursOfDay.End)
	if !okStart || !okEnd || end < start {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute <= end
}

// IsApplicable reports whether p can discount order at now. Checks run
// cheapest first and stop at the first failure. A promotion that is
// misconfigured is simply not applicable.
func IsApplicable(p *domain.Promotion, order domain.Order, now time.Time) bool {
	if p == nil || p.Config == nil {
		return false
	}
	if !IsCurrentlyValid(p, now) || !IsValidAtTime(p, now) {
		return false
	}

	subtotal := order.Subtotal()
	items := order.ItemCount()
	for _, c := range p.Conditions {
		switch c := c.(type) {
		case domain.MinOrderAmount:
			if subtotal < c.Amount {
				return false
			}
		case domain.MinItemsCount:
			if items < c.Count {
				return false
			}
		case domain.UnknownCondition:
			return false
		}
	}

	targeted := false
	for _, c := range p.Conditions {
		switch c := c.(type) {
		case domain.ProductIDs:
			targeted = true
			if !anyLine(order.Items, func(li domain.LineItem) bool { return slices.Contains(c.IDs, li.ProductID) }) {
				return false
			}
		case domain.CategoryIDs:
			targeted = true
			if !anyLine(order.Items, func(li domain.LineItem) bool { return inCategory(c.IDs, li) }) {
				return false
			}
		}
	}

	if !targeted && domain.ScopeOf(p.Config).Targeted() {
		return false
	}
	return true
}

// Targets reports whether p is aimed at the given product, either directly or
// through its category. A promotion without any product or category
// targeting applies storewide and targets every product.
func Targets(p *domain.Promotion, productID, categoryID string) bool {
	products, hasProducts := p.Conditions.ProductTargets()
	categories, hasCategories := p.Conditions.CategoryTargets()
	if !hasProducts && !hasCategories {
		return !domain.ScopeOf(p.Config).Targeted()
	}
	if hasProducts && slices.Contains(products, productID) {
		return true
	}
	return hasCategories && categoryID != "" && slices.Contains(categories, categoryID)
}

func anyLine(items []domain.LineItem, match func(domain.LineItem) bool) bool {
	for _, li := range items {
		if li.Quantity > 0 && match(li) {
			return true
		}
	}
	return false
}

func inCategory(ids []string, li domain.LineItem) bool {
	return li.CategoryID != "" && slices.Contains(ids, li.CategoryID)
}
