package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// DiscountKind names a discount calculation.
type DiscountKind string

const (
	DiscountPercentage   DiscountKind = "percentage"
	DiscountFixedAmount  DiscountKind = "fixed_amount"
	DiscountBuyXGetY     DiscountKind = "buy_x_get_y"
	DiscountFreeShipping DiscountKind = "free_shipping"
	DiscountThreshold    DiscountKind = "threshold"
)

// Scope is the part of an order a discount applies to.
type Scope string

const (
	ScopeTotal    Scope = "total"
	ScopeProducts Scope = "products"
	ScopeCategory Scope = "category"
	ScopeShipping Scope = "shipping"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeTotal, ScopeProducts, ScopeCategory, ScopeShipping:
		return true
	}
	return false
}

// Targeted reports whether the scope needs product or category targeting.
func (s Scope) Targeted() bool {
	return s == ScopeProducts || s == ScopeCategory
}

// DiscountConfig describes how a promotion computes its discount. The set of
// implementations is closed: Percentage, FixedAmount, BuyXGetY, FreeShipping
// and Threshold.
type DiscountConfig interface {
	Kind() DiscountKind
	isDiscountConfig()
}

// Percentage takes Value percent (0-100) of the scoped subtotal, optionally
// capped at MaxDiscountAmount.
type Percentage struct {
	Value             float64
	AppliesTo         Scope
	MaxDiscountAmount *int64
	ProductIDs        []string
	CategoryIDs       []string
}

// FixedAmount takes Value off the scoped subtotal.
type FixedAmount struct {
	Value       int64
	AppliesTo   Scope
	ProductIDs  []string
	CategoryIDs []string
}

// BuyXGetY gives GetQuantity units free for every BuyQuantity+GetQuantity
// eligible units, valued at the cheapest eligible unit price.
type BuyXGetY struct {
	BuyQuantity int
	GetQuantity int
	ProductIDs  []string
	CategoryIDs []string
}

// FreeShipping waives the delivery fee.
type FreeShipping struct{}

// ThresholdTier grants Percent of the subtotal once it reaches MinAmount.
type ThresholdTier struct {
	MinAmount int64   `json:"min_amount"`
	Percent   float64 `json:"percent"`
}

// Threshold applies the highest tier reached by the subtotal.
type Threshold struct {
	Tiers             []ThresholdTier
	MaxDiscountAmount *int64
}

func (Percentage) Kind() DiscountKind   { return DiscountPercentage }
func (FixedAmount) Kind() DiscountKind  { return DiscountFixedAmount }
func (BuyXGetY) Kind() DiscountKind     { return DiscountBuyXGetY }
func (FreeShipping) Kind() DiscountKind { return DiscountFreeShipping }
func (Threshold) Kind() DiscountKind    { return DiscountThreshold }

func (Percentage) isDiscountConfig()   {}
func (FixedAmount) isDiscountConfig()  {}
func (BuyXGetY) isDiscountConfig()     {}
func (FreeShipping) isDiscountConfig() {}
func (Threshold) isDiscountConfig()    {}

// ScopeOf returns the scope a config applies to. Buy-x-get-y and threshold
// work on order lines and the subtotal, free shipping on the delivery fee.
func ScopeOf(cfg DiscountConfig) Scope {
	switch c := cfg.(type) {
	case Percentage:
		return c.AppliesTo
	case FixedAmount:
		return c.AppliesTo
	case FreeShipping:
		return ScopeShipping
	default:
		return ScopeTotal
	}
}

// GrantsFreeShipping reports whether cfg waives the delivery fee.
func GrantsFreeShipping(cfg DiscountConfig) bool {
	if cfg == nil {
		return false
	}
	return ScopeOf(cfg) == ScopeShipping
}

// discountJSON is the flat wire and storage form of a DiscountConfig.
type discountJSON struct {
	Kind              DiscountKind    `json:"kind"`
	Value             *float64        `json:"value,omitempty"`
	AppliesTo         Scope           `json:"applies_to,omitempty"`
	MaxDiscountAmount *int64          `json:"max_discount_amount,omitempty"`
	ProductIDs        []string        `json:"product_ids,omitempty"`
	CategoryIDs       []string        `json:"category_ids,omitempty"`
	BuyQuantity       int             `json:"buy_quantity,omitempty"`
	GetQuantity       int             `json:"get_quantity,omitempty"`
	Tiers             []ThresholdTier `json:"tiers,omitempty"`
}

// MarshalDiscountConfig encodes cfg. A nil config encodes as null.
func MarshalDiscountConfig(cfg DiscountConfig) ([]byte, error) {
	if cfg == nil {
		return []byte("null"), nil
	}

	out := discountJSON{Kind: cfg.Kind()}
	switch c := cfg.(type) {
	case Percentage:
		v := c.Value
		out.Value, out.AppliesTo, out.MaxDiscountAmount = &v, c.AppliesTo, c.MaxDiscountAmount
		out.ProductIDs, out.CategoryIDs = c.ProductIDs, c.CategoryIDs
	case FixedAmount:
		v := float64(c.Value)
		out.Value, out.AppliesTo = &v, c.AppliesTo
		out.ProductIDs, out.CategoryIDs = c.ProductIDs, c.CategoryIDs
	case BuyXGetY:
		out.BuyQuantity, out.GetQuantity = c.BuyQuantity, c.GetQuantity
		out.ProductIDs, out.CategoryIDs = c.ProductIDs, c.CategoryIDs
	case FreeShipping:
		out.AppliesTo = ScopeShipping
	case Threshold:
		out.Tiers, out.MaxDiscountAmount = c.Tiers, c.MaxDiscountAmount
	default:
		return nil, fmt.Errorf("marshal discount config: unsupported type %T", cfg)
	}
	return json.Marshal(out)
}

// UnmarshalDiscountConfig decodes a config written by MarshalDiscountConfig.
// null decodes to a nil config.
func UnmarshalDiscountConfig(data []byte) (DiscountConfig, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var in discountJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode discount config: %w", err)
	}

	value := 0.0
	if in.Value != nil {
		value = *in.Value
	}

	switch in.Kind {
	case DiscountPercentage:
		return Percentage{
			Value:             value,
			AppliesTo:         defaultScope(in.AppliesTo),
			MaxDiscountAmount: in.MaxDiscountAmount,
			ProductIDs:        in.ProductIDs,
			CategoryIDs:       in.CategoryIDs,
		}, nil
	case DiscountFixedAmount:
		return FixedAmount{
			Value:       int64(math.Round(value)),
			AppliesTo:   defaultScope(in.AppliesTo),
			ProductIDs:  in.ProductIDs,
			CategoryIDs: in.CategoryIDs,
		}, nil
	case DiscountBuyXGetY:
		return BuyXGetY{
			BuyQuantity: in.BuyQuantity,
			GetQuantity: in.GetQuantity,
			ProductIDs:  in.ProductIDs,
			CategoryIDs: in.CategoryIDs,
		}, nil
	case DiscountFreeShipping:
		return FreeShipping{}, nil
	case DiscountThreshold:
		return Threshold{Tiers: in.Tiers, MaxDiscountAmount: in.MaxDiscountAmount}, nil
	default:
		return nil, fmt.Errorf("decode discount config: unknown kind %q", in.Kind)
	}
}

func defaultScope(s Scope) Scope {
	if s == "" {
		return ScopeTotal
	}
	return s
}
