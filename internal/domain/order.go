package domain

import "time"

// LineItem is one product line of an order draft. Prices are whole currency units.
type LineItem struct {
	ProductID  string `json:"product_id"`
	CategoryID string `json:"category_id,omitempty"`
	Name       string `json:"name,omitempty"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
}

// Total is UnitPrice times Quantity.
func (li LineItem) Total() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Order is the draft being priced at checkout.
type Order struct {
	ID            string     `json:"id,omitempty"`
	Items         []LineItem `json:"items"`
	PromoCode     string     `json:"promo_code,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	DeliveryFee   int64      `json:"delivery_fee"`
	// Sequence is echoed back so callers can discard stale evaluations.
	Sequence int64 `json:"sequence,omitempty"`
}

// Subtotal sums all line totals.
func (o Order) Subtotal() int64 {
	var total int64
	for _, li := range o.Items {
		total += li.Total()
	}
	return total
}

// ItemCount sums all line quantities.
func (o Order) ItemCount() int {
	n := 0
	for _, li := range o.Items {
		n += li.Quantity
	}
	return n
}

// AppliedPromotion records one promotion's contribution to an order.
type AppliedPromotion struct {
	PromotionID    string `json:"promotion_id"`
	Name           string `json:"name"`
	DiscountAmount int64  `json:"discount_amount"`
	FreeShipping   bool   `json:"free_shipping,omitempty"`
}

// PromoCodeReasonInvalid is the reason given for any rejected promo code.
const PromoCodeReasonInvalid = "invalid_code"

// Detail values of a rejected promo code.
const (
	PromoCodeNotFound      = "not_found"
	PromoCodeNotApplicable = "conditions_not_met"
	PromoCodeCustomerLimit = "customer_limit_reached"
	PromoCodeNoDiscount    = "no_discount"
)

// PromoCodeOutcome reports what happened to the code supplied with an order.
type PromoCodeOutcome struct {
	Code   string `json:"code"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// EvaluatedOrder is an order with its discounts and final total.
type EvaluatedOrder struct {
	Subtotal          int64              `json:"subtotal"`
	TotalDiscount     int64              `json:"total_discount"`
	AppliedPromotions []AppliedPromotion `json:"applied_promotions"`
	IsFreeShipping    bool               `json:"is_free_shipping"`
	DeliveryFee       int64              `json:"delivery_fee"`
	Total             int64              `json:"total"`
	PromoCode         *PromoCodeOutcome  `json:"promo_code,omitempty"`
	Sequence          int64              `json:"sequence,omitempty"`
	EvaluatedAt       time.Time          `json:"evaluated_at"`
}

// FinalizedOrder is what the usage tracker needs once an order is persisted.
type FinalizedOrder struct {
	OrderID           string             `json:"order_id"`
	CustomerPhone     string             `json:"customer_phone,omitempty"`
	AppliedPromotions []AppliedPromotion `json:"applied_promotions"`
}

// PromotionUsage is one consumption of a promotion by one order.
type PromotionUsage struct {
	ID             string    `json:"id"`
	PromotionID    string    `json:"promotion_id"`
	OrderID        string    `json:"order_id"`
	CustomerPhone  string    `json:"customer_phone,omitempty"`
	DiscountAmount int64     `json:"discount_amount"`
	AppliedAt      time.Time `json:"applied_at"`
}
