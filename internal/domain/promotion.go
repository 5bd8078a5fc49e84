package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
)

// Promotion is a discount rule configured by staff.
type Promotion struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`

	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Priority orders evaluation; higher goes first.
	Priority  int  `json:"priority"`
	Stackable bool `json:"stackable"`

	UsageLimitTotal    *int `json:"usage_limit_total,omitempty"`
	UsageCount         int  `json:"usage_count"`
	MaxUsesPerCustomer *int `json:"max_uses_per_customer,omitempty"`

	Conditions Conditions     `json:"conditions"`
	Config     DiscountConfig `json:"-"`
	TimeWindow *TimeWindow    `json:"time_window,omitempty"`

	// PromoCode makes the promotion code-only when set.
	PromoCode string `json:"promo_code,omitempty"`

	Visuals *Visuals `json:"visuals,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeWindow restricts a promotion to days of the week and a daily time range.
type TimeWindow struct {
	// DaysOfWeek uses 0 for Sunday through 6 for Saturday. Empty means every day.
	DaysOfWeek []int      `json:"days_of_week,omitempty"`
	HoursOfDay *HourRange `json:"hours_of_day,omitempty"`
}

// HourRange is an inclusive "HH:MM" range within one day.
type HourRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Visuals are display hints passed through untouched to the storefront.
type Visuals struct {
	BadgeText   string `json:"badge_text,omitempty"`
	BadgeColor  string `json:"badge_color,omitempty"`
	BannerImage string `json:"banner_image,omitempty"`
	BannerText  string `json:"banner_text,omitempty"`
	BannerCTA   string `json:"banner_cta,omitempty"`
}

// IsCodeOnly reports whether the promotion needs a promo code.
func (p *Promotion) IsCodeOnly() bool {
	return strings.TrimSpace(p.PromoCode) != ""
}

// AtUsageLimit reports whether the total usage cap has been reached.
func (p *Promotion) AtUsageLimit() bool {
	return p.UsageLimitTotal != nil && p.UsageCount >= *p.UsageLimitTotal
}

// MarshalJSON implements json.Marshaler.
func (p Promotion) MarshalJSON() ([]byte, error) {
	type alias Promotion
	cfg, err := MarshalDiscountConfig(p.Config)
	if err != nil {
		return nil, err
	}
	if p.Conditions == nil {
		p.Conditions = Conditions{}
	}
	return json.Marshal(struct {
		alias
		Config json.RawMessage `json:"config"`
	}{alias: alias(p), Config: cfg})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Promotion) UnmarshalJSON(data []byte) error {
	type alias Promotion
	aux := struct {
		*alias
		Config json.RawMessage `json:"config"`
	}{alias: (*alias)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cfg, err := UnmarshalDiscountConfig(aux.Config)
	if err != nil {
		return err
	}
	p.Config = cfg
	return nil
}

// Validate checks the promotion before it is stored. Evaluation never calls
// it: promotions that slipped past are simply not applicable.
func (p *Promotion) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.InvalidInput("name is required")
	}
	if p.StartDate.IsZero() {
		return apperrors.InvalidInput("start_date is required")
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return apperrors.InvalidInput("end_date must not be before start_date")
	}
	if p.UsageLimitTotal != nil && *p.UsageLimitTotal < 0 {
		return apperrors.InvalidInput("usage_limit_total must not be negative")
	}
	if p.MaxUsesPerCustomer != nil && *p.MaxUsesPerCustomer < 1 {
		return apperrors.InvalidInput("max_uses_per_customer must be at least 1")
	}
	if err := validateConditions(p.Conditions); err != nil {
		return err
	}
	if err := validateConfig(p.Config, p.Conditions); err != nil {
		return err
	}
	if p.TimeWindow != nil {
		if err := p.TimeWindow.validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateConditions(cs Conditions) error {
	for _, c := range cs {
		switch c := c.(type) {
		case MinOrderAmount:
			if c.Amount < 0 {
				return apperrors.InvalidInput("min_order_amount must not be negative")
			}
		case MinItemsCount:
			if c.Count < 0 {
				return apperrors.InvalidInput("min_items_count must not be negative")
			}
		case ProductIDs:
			if len(c.IDs) == 0 {
				return apperrors.InvalidInput("product_ids condition needs at least one id")
			}
		case CategoryIDs:
			if len(c.IDs) == 0 {
				return apperrors.InvalidInput("category_ids condition needs at least one id")
			}
		case UnknownCondition:
			return apperrors.InvalidInput(fmt.Sprintf("unknown condition type %q", c.Kind))
		}
	}
	return nil
}

func validateConfig(cfg DiscountConfig, cs Conditions) error {
	if cfg == nil {
		return apperrors.InvalidInput("config is required")
	}

	_, hasProducts := cs.ProductTargets()
	_, hasCategories := cs.CategoryTargets()

	switch c := cfg.(type) {
	case Percentage:
		if c.Value <= 0 || c.Value > 100 {
			return apperrors.InvalidInput("percentage value must be in (0, 100]")
		}
		if !c.AppliesTo.Valid() {
			return apperrors.InvalidInput(fmt.Sprintf("unknown applies_to %q", c.AppliesTo))
		}
		if c.MaxDiscountAmount != nil && *c.MaxDiscountAmount < 0 {
			return apperrors.InvalidInput("max_discount_amount must not be negative")
		}
		if c.AppliesTo.Targeted() && !hasProducts && !hasCategories {
			return apperrors.InvalidInput("a product or category scoped discount needs a product_ids or category_ids condition")
		}
	case FixedAmount:
		if c.Value <= 0 {
			return apperrors.InvalidInput("fixed_amount value must be positive")
		}
		if !c.AppliesTo.Valid() {
			return apperrors.InvalidInput(fmt.Sprintf("unknown applies_to %q", c.AppliesTo))
		}
		if c.AppliesTo.Targeted() && !hasProducts && !hasCategories {
			return apperrors.InvalidInput("a product or category scoped discount needs a product_ids or category_ids condition")
		}
	case BuyXGetY:
		if c.BuyQuantity < 1 || c.GetQuantity < 1 {
			return apperrors.InvalidInput("buy_quantity and get_quantity must be at least 1")
		}
	case FreeShipping:
	case Threshold:
		if len(c.Tiers) == 0 {
			return apperrors.InvalidInput("threshold needs at least one tier")
		}
		for _, t := range c.Tiers {
			if t.MinAmount < 0 || t.Percent <= 0 || t.Percent > 100 {
				return apperrors.InvalidInput("threshold tiers need a non-negative min_amount and a percent in (0, 100]")
			}
		}
	}
	return nil
}

func (w *TimeWindow) validate() error {
	for _, d := range w.DaysOfWeek {
		if d < 0 || d > 6 {
			return apperrors.InvalidInput("days_of_week values must be between 0 (Sunday) and 6 (Saturday)")
		}
	}
	if w.HoursOfDay != nil {
		start, okStart := ParseClock(w.HoursOfDay.Start)
		end, okEnd := ParseClock(w.HoursOfDay.End)
		if !okStart || !okEnd {
			return apperrors.InvalidInput("hours_of_day must use HH:MM")
		}
		if end < start {
			return apperrors.InvalidInput("hours_of_day ranges crossing midnight are not supported")
		}
	}
	return nil
}

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
