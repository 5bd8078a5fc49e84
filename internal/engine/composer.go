package engine

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
)

// Input is everything Compose needs to price one order. The promotions are
// treated as a read-only snapshot.
type Input struct {
	Order domain.Order

	// CodePromotion is what the repository found for Order.PromoCode, or nil.
	CodePromotion *domain.Promotion

	// Active is the list of currently valid promotions, best priority first.
	Active []domain.Promotion

	// CustomerUsage maps promotion IDs to the number of times the ordering
	// customer has already used them. Nil disables the per-customer cap.
	CustomerUsage map[string]int

	Now time.Time
}

// composition is the accumulator of the fold. Every step returns a new value.
type composition struct {
	applied      []domain.AppliedPromotion
	discount     int64
	freeShipping bool
	closed       bool
}

func (c composition) with(ap domain.AppliedPromotion) composition {
	applied := make([]domain.AppliedPromotion, 0, len(c.applied)+1)
	applied = append(applied, c.applied...)
	applied = append(applied, ap)
	return composition{
		applied:      applied,
		discount:     c.discount + ap.DiscountAmount,
		freeShipping: c.freeShipping || ap.FreeShipping,
		closed:       c.closed,
	}
}

func (c composition) close() composition {
	c.closed = true
	return c
}

// Compose prices an order. The promo code is applied first, then automatic
// promotions in priority order. A non-stackable promotion is skipped once
// anything has been applied, and once one is applied no further automatic
// promotion is considered. Compose has no side effects and returns the same
// result for the same input.
func Compose(in Input) domain.EvaluatedOrder {
	var (
		acc     composition
		outcome *domain.PromoCodeOutcome
	)

	if code := strings.TrimSpace(in.Order.PromoCode); code != "" {
		var ap *domain.AppliedPromotion
		ap, outcome = applyCode(in, code)
		if ap != nil {
			acc = acc.with(*ap)
		}
	}

	for _, p := range byPriority(in.Active) {
		acc = stepAutomatic(acc, p, in)
		if acc.closed {
			break
		}
	}

	return result(in.Order, acc, outcome, in.Now)
}

// Undiscounted prices an order without any promotion. Callers use it when the
// promotion store cannot be reached so checkout can continue.
func Undiscounted(order domain.Order, now time.Time) domain.EvaluatedOrder {
	return result(order, composition{}, nil, now)
}

func applyCode(in Input, code string) (*domain.AppliedPromotion, *domain.PromoCodeOutcome) {
	rejected := func(detail string) *domain.PromoCodeOutcome {
		return &domain.PromoCodeOutcome{Code: code, Reason: domain.PromoCodeReasonInvalid, Detail: detail}
	}

	p := in.CodePromotion
	switch {
	case p == nil:
		return nil, rejected(domain.PromoCodeNotFound)
	case !IsApplicable(p, in.Order, in.Now):
		return nil, rejected(domain.PromoCodeNotApplicable)
	case customerLimitReached(p, in.Order, in.CustomerUsage):
		return nil, rejected(domain.PromoCodeCustomerLimit)
	}

	ap, ok := appliedFor(p, in.Order)
	if !ok {
		return nil, rejected(domain.PromoCodeNoDiscount)
	}
	return &ap, &domain.PromoCodeOutcome{Code: code, OK: true}
}

func stepAutomatic(acc composition, p *domain.Promotion, in Input) composition {
	if p.IsCodeOnly() {
		return acc
	}
	if !p.Stackable && len(acc.applied) > 0 {
		return acc
	}
	if !IsApplicable(p, in.Order, in.Now) || customerLimitReached(p, in.Order, in.CustomerUsage) {
		return acc
	}

	ap, ok := appliedFor(p, in.Order)
	if !ok {
		return acc
	}
	acc = acc.with(ap)
	if !p.Stackable {
		acc = acc.close()
	}
	return acc
}

// appliedFor builds the audit entry for p. A promotion that neither discounts
// nor waives delivery contributes nothing.
func appliedFor(p *domain.Promotion, order domain.Order) (domain.AppliedPromotion, bool) {
	amount := ComputeDiscount(p, order)
	free := domain.GrantsFreeShipping(p.Config)
	if amount <= 0 && !free {
		return domain.AppliedPromotion{}, false
	}
	return domain.AppliedPromotion{
		PromotionID:    p.ID,
		Name:           p.Name,
		DiscountAmount: amount,
		FreeShipping:   free,
	}, true
}

func customerLimitReached(p *domain.Promotion, order domain.Order, usage map[string]int) bool {
	if p.MaxUsesPerCustomer == nil || usage == nil || order.CustomerPhone == "" {
		return false
	}
	return usage[p.ID] >= *p.MaxUsesPerCustomer
}

// byPriority returns pointers into ps sorted by descending priority. Ties keep
// their input order.
func byPriority(ps []domain.Promotion) []*domain.Promotion {
	out := make([]*domain.Promotion, len(ps))
	for i := range ps {
		out[i] = &ps[i]
	}
	slices.SortStableFunc(out, func(a, b *domain.Promotion) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out
}

func result(order domain.Order, acc composition, outcome *domain.PromoCodeOutcome, now time.Time) domain.EvaluatedOrder {
	subtotal := order.Subtotal()
	fee := max(order.DeliveryFee, 0)

	total := max(subtotal-acc.discount, 0)
	if !acc.freeShipping {
		total += fee
	}

	applied := acc.applied
	if applied == nil {
		applied = []domain.AppliedPromotion{}
	}

	return domain.EvaluatedOrder{
		Subtotal:          subtotal,
		TotalDiscount:     acc.discount,
		AppliedPromotions: applied,
		IsFreeShipping:    acc.freeShipping,
		DeliveryFee:       fee,
		Total:             total,
		PromoCode:         outcome,
		Sequence:          order.Sequence,
		EvaluatedAt:       now,
	}
}
