package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
)

func ptr[T any](v T) *T { return &v }

// monday is 2024-01-01, a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2024, 1, 1, hour, minute, 0, 0, time.UTC)
}

func basePromotion(id string) domain.Promotion {
	return domain.Promotion{
		ID:        id,
		Name:      "promo " + id,
		Active:    true,
		StartDate: time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		Stackable: true,
		Config:    domain.Percentage{Value: 10, AppliesTo: domain.ScopeTotal},
	}
}

func cart(items ...domain.LineItem) domain.Order {
	return domain.Order{Items: items, DeliveryFee: 2500}
}

func line(product, category string, price int64, qty int) domain.LineItem {
	return domain.LineItem{ProductID: product, CategoryID: category, UnitPrice: price, Quantity: qty}
}

// ============================================================================
// Validity
// ============================================================================

func TestIsCurrentlyValid(t *testing.T) {
	now := monday(12, 0)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(p *domain.Promotion)
		want   bool
	}{
		{"active in range", func(p *domain.Promotion) {}, true},
		{"inactive", func(p *domain.Promotion) { p.Active = false }, false},
		{"not started", func(p *domain.Promotion) { p.StartDate = future }, false},
		{"expired", func(p *domain.Promotion) { p.EndDate = &past }, false},
		{"ends later", func(p *domain.Promotion) { p.EndDate = &future }, true},
		{"ends exactly now", func(p *domain.Promotion) { p.EndDate = &now }, true},
		{"usage cap reached", func(p *domain.Promotion) { p.UsageLimitTotal, p.UsageCount = ptr(1), 1 }, false},
		{"usage cap not reached", func(p *domain.Promotion) { p.UsageLimitTotal, p.UsageCount = ptr(2), 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePromotion("p")
			tt.mutate(&p)
			assert.Equal(t, tt.want, IsCurrentlyValid(&p, now))
		})
	}

	assert.False(t, IsCurrentlyValid(nil, now))
}

func TestIsValidAtTime_WeekdayBusinessHours(t *testing.T) {
	p := basePromotion("p")
	p.TimeWindow = &domain.TimeWindow{
		DaysOfWeek: []int{1, 2, 3, 4, 5},
		HoursOfDay: &domain.HourRange{Start: "09:00", End: "17:00"},
	}

	saturday := time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)
	assert.False(t, IsValidAtTime(&p, saturday))
	assert.True(t, IsValidAtTime(&p, monday(16, 59)))
	assert.True(t, IsValidAtTime(&p, monday(17, 0)))
	assert.True(t, IsValidAtTime(&p, monday(9, 0)))
	assert.False(t, IsValidAtTime(&p, monday(8, 59)))
	assert.False(t, IsValidAtTime(&p, monday(17, 1)))
}

func TestIsValidAtTime_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		window *domain.TimeWindow
		want   bool
	}{
		{"no window", nil, true},
		{"empty days means every day", &domain.TimeWindow{}, true},
		{"day only", &domain.TimeWindow{DaysOfWeek: []int{1}}, true},
		{"other day", &domain.TimeWindow{DaysOfWeek: []int{0, 6}}, false},
		{"crossing midnight never matches", &domain.TimeWindow{HoursOfDay: &domain.HourRange{Start: "22:00", End: "02:00"}}, false},
		{"unparsable range never matches", &domain.TimeWindow{HoursOfDay: &domain.HourRange{Start: "noon", End: "14:00"}}, false},
		{"single minute", &domain.TimeWindow{HoursOfDay: &domain.HourRange{Start: "12:00", End: "12:00"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePromotion("p")
			p.TimeWindow = tt.window
			assert.Equal(t, tt.want, IsValidAtTime(&p, monday(12, 0)))
		})
	}
}

// ============================================================================
// Applicability
// ============================================================================

func TestIsApplicable_Conditions(t *testing.T) {
	now := monday(12, 0)
	order := cart(
		line("burger", "mains", 15000, 2),
		line("fries", "sides", 5000, 1),
	)

	tests := []struct {
		name       string
		conditions domain.Conditions
		config     domain.DiscountConfig
		want       bool
	}{
		{"no conditions", nil, nil, true},
		{"min amount met", domain.Conditions{domain.MinOrderAmount{Amount: 30000}}, nil, true},
		{"min amount exactly", domain.Conditions{domain.MinOrderAmount{Amount: 35000}}, nil, true},
		{"min amount missed", domain.Conditions{domain.MinOrderAmount{Amount: 35001}}, nil, false},
		{"min items met", domain.Conditions{domain.MinItemsCount{Count: 3}}, nil, true},
		{"min items missed", domain.Conditions{domain.MinItemsCount{Count: 4}}, nil, false},
		{"product listed", domain.Conditions{domain.ProductIDs{IDs: []string{"fries", "salad"}}}, nil, true},
		{"product not listed", domain.Conditions{domain.ProductIDs{IDs: []string{"salad"}}}, nil, false},
		{"category listed", domain.Conditions{domain.CategoryIDs{IDs: []string{"mains"}}}, nil, true},
		{"category not listed", domain.Conditions{domain.CategoryIDs{IDs: []string{"drinks"}}}, nil, false},
		{"both targets must hold", domain.Conditions{
			domain.ProductIDs{IDs: []string{"fries"}},
			domain.CategoryIDs{IDs: []string{"drinks"}},
		}, nil, false},
		{"unknown condition", domain.Conditions{domain.UnknownCondition{Kind: "first_order_only"}}, nil, false},
		{"scoped without targeting", nil, domain.Percentage{Value: 10, AppliesTo: domain.ScopeProducts}, false},
		{"category scope without targeting", nil, domain.FixedAmount{Value: 10, AppliesTo: domain.ScopeCategory}, false},
		{"scoped with targeting", domain.Conditions{domain.CategoryIDs{IDs: []string{"sides"}}},
			domain.Percentage{Value: 10, AppliesTo: domain.ScopeCategory}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePromotion("p")
			p.Conditions = tt.conditions
			if tt.config != nil {
				p.Config = tt.config
			}
			assert.Equal(t, tt.want, IsApplicable(&p, order, now))
		})
	}
}

func TestIsApplicable_RejectsInvalidPromotions(t *testing.T) {
	now := monday(12, 0)
	order := cart(line("burger", "mains", 15000, 1))

	assert.False(t, IsApplicable(nil, order, now))

	noConfig := basePromotion("p")
	noConfig.Config = nil
	assert.False(t, IsApplicable(&noConfig, order, now))

	closed := basePromotion("p")
	closed.TimeWindow = &domain.TimeWindow{DaysOfWeek: []int{0}}
	assert.False(t, IsApplicable(&closed, order, now))

	capped := basePromotion("p")
	capped.UsageLimitTotal, capped.UsageCount = ptr(1), 1
	assert.False(t, IsApplicable(&capped, order, now))
}

func TestIsApplicable_IgnoresEmptyLines(t *testing.T) {
	p := basePromotion("p")
	p.Conditions = domain.Conditions{domain.ProductIDs{IDs: []string{"fries"}}}
	order := cart(line("burger", "mains", 15000, 1), line("fries", "sides", 5000, 0))

	assert.False(t, IsApplicable(&p, order, monday(12, 0)))
}

func TestTargets(t *testing.T) {
	storewide := basePromotion("storewide")
	assert.True(t, Targets(&storewide, "burger", "mains"))

	byProduct := basePromotion("product")
	byProduct.Conditions = domain.Conditions{domain.ProductIDs{IDs: []string{"burger"}}}
	assert.True(t, Targets(&byProduct, "burger", ""))
	assert.False(t, Targets(&byProduct, "fries", "sides"))

	byCategory := basePromotion("category")
	byCategory.Conditions = domain.Conditions{domain.CategoryIDs{IDs: []string{"sides"}}}
	assert.True(t, Targets(&byCategory, "fries", "sides"))
	assert.False(t, Targets(&byCategory, "fries", ""))

	misconfigured := basePromotion("scoped")
	misconfigured.Config = domain.Percentage{Value: 10, AppliesTo: domain.ScopeProducts}
	assert.False(t, Targets(&misconfigured, "burger", "mains"))
}

func TestClocks(t *testing.T) {
	at := monday(12, 0)
	assert.Equal(t, at, FixedClock{At: at}.Now())

	paris, err := time.LoadLocation("Europe/Paris")
	if err == nil {
		assert.Equal(t, paris, SystemClock{Location: paris}.Now().Location())
	}
	assert.Equal(t, time.UTC, SystemClock{}.Now().Location())
}
