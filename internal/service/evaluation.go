package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
)

// EvaluationService prices orders against the stored promotions. It never
// writes to the store.
type EvaluationService struct {
	repo   repository.PromotionRepository
	clock  engine.Clock
	logger *slog.Logger
}

// NewEvaluationService creates a new evaluation service.
func NewEvaluationService(repo repository.PromotionRepository, clock engine.Clock, logger *slog.Logger) *EvaluationService {
	return &EvaluationService{
		repo:   repo,
		clock:  clock,
		logger: logger,
	}
}

// PromoCodeCheck is the result of checking a promo code against a cart.
type PromoCodeCheck struct {
	Outcome        domain.PromoCodeOutcome `json:"outcome"`
	PromotionID    string                  `json:"promotion_id,omitempty"`
	Name           string                  `json:"name,omitempty"`
	DiscountAmount int64                   `json:"discount_amount"`
	FreeShipping   bool                    `json:"free_shipping,omitempty"`
	Visuals        *domain.Visuals         `json:"visuals,omitempty"`
}

// ProductPromotion is a promotion reaching a product, with what it would take
// off one unit.
type ProductPromotion struct {
	Promotion    domain.Promotion `json:"promotion"`
	UnitDiscount int64            `json:"unit_discount"`
	FreeShipping bool             `json:"free_shipping,omitempty"`
}

// Eligibility answers whether a promotion can still be used, overall and by
// one customer.
type Eligibility struct {
	PromotionID        string `json:"promotion_id"`
	CanBeUsed          bool   `json:"can_be_used"`
	UsageCount         int    `json:"usage_count"`
	UsageLimitTotal    *int   `json:"usage_limit_total,omitempty"`
	CustomerUses       int    `json:"customer_uses"`
	MaxUsesPerCustomer *int   `json:"max_uses_per_customer,omitempty"`
	CustomerCanUse     bool   `json:"customer_can_use"`
	Reason             string `json:"reason,omitempty"`
}

// Reasons given by CanCustomerUse.
const (
	ReasonInactive        = "inactive"
	ReasonUsageLimit      = "usage_limit_reached"
	ReasonCustomerLimit   = "customer_limit_reached"
	ReasonOutsideSchedule = "outside_schedule"
)

// ApplyPromotions prices order: the promo code first, then the automatic
// promotions by priority. Store failures are returned unchanged so callers
// can detect apperrors.ErrServiceUnavail and fall back to an undiscounted
// order.
func (s *EvaluationService) ApplyPromotions(ctx context.Context, order domain.Order) (*domain.EvaluatedOrder, error) {
	start := time.Now()
	defer func() { evaluationDuration.Observe(time.Since(start).Seconds()) }()

	now := s.clock.Now()
	in, err := s.snapshot(ctx, order, now)
	if err != nil {
		evaluationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result := engine.Compose(in)

	if result.TotalDiscount > 0 || result.IsFreeShipping {
		evaluationsTotal.WithLabelValues("discounted").Inc()
		discountGranted.Add(float64(result.TotalDiscount))
	} else {
		evaluationsTotal.WithLabelValues("undiscounted").Inc()
	}
	if result.PromoCode != nil {
		promoCodeChecks.WithLabelValues(codeOutcomeLabel(result.PromoCode)).Inc()
	}

	s.logger.DebugContext(ctx, "order evaluated",
		slog.Int64("subtotal", result.Subtotal),
		slog.Int64("total_discount", result.TotalDiscount),
		slog.Int("applied", len(result.AppliedPromotions)),
		slog.Bool("free_shipping", result.IsFreeShipping),
		slog.Int("active_promotions", len(in.Active)),
	)

	return &result, nil
}

// ValidatePromoCode checks order.PromoCode on its own, ignoring automatic
// promotions.
func (s *EvaluationService) ValidatePromoCode(ctx context.Context, order domain.Order) (*PromoCodeCheck, error) {
	code := strings.TrimSpace(order.PromoCode)
	if code == "" {
		return nil, apperrors.InvalidInput("promo_code is required")
	}

	now := s.clock.Now()
	p, err := s.repo.FindByCode(ctx, code, now)
	if err != nil {
		return nil, fmt.Errorf("find promotion by code: %w", err)
	}
	usage, err := s.customerUsage(ctx, order.CustomerPhone, p, nil)
	if err != nil {
		return nil, err
	}

	result := engine.Compose(engine.Input{Order: order, CodePromotion: p, CustomerUsage: usage, Now: now})
	outcome := result.PromoCode
	promoCodeChecks.WithLabelValues(codeOutcomeLabel(outcome)).Inc()

	check := &PromoCodeCheck{Outcome: *outcome}
	if outcome.OK && len(result.AppliedPromotions) > 0 {
		applied := result.AppliedPromotions[0]
		check.PromotionID = applied.PromotionID
		check.Name = applied.Name
		check.DiscountAmount = applied.DiscountAmount
		check.FreeShipping = applied.FreeShipping
		check.Visuals = p.Visuals
	}
	return check, nil
}

// ListVisible returns the automatic promotions a customer can benefit from
// right now, best priority first. Code-only promotions are hidden.
func (s *EvaluationService) ListVisible(ctx context.Context) ([]domain.Promotion, error) {
	now := s.clock.Now()
	active, err := s.repo.ListActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list active promotions: %w", err)
	}

	visible := make([]domain.Promotion, 0, len(active))
	for i := range active {
		p := &active[i]
		if p.IsCodeOnly() || p.Config == nil || !engine.IsValidAtTime(p, now) {
			continue
		}
		visible = append(visible, *p)
	}
	return visible, nil
}

// ListForProduct returns the visible promotions reaching productID, either
// directly, through categoryID, or store-wide. When unitPrice is positive
// they are ordered by what they take off one unit, largest first; otherwise
// by priority.
func (s *EvaluationService) ListForProduct(ctx context.Context, productID, categoryID string, unitPrice int64) ([]ProductPromotion, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	visible, err := s.ListVisible(ctx)
	if err != nil {
		return nil, err
	}

	probe := domain.Order{Items: []domain.LineItem{{
		ProductID:  productID,
		CategoryID: categoryID,
		UnitPrice:  max(unitPrice, 0),
		Quantity:   1,
	}}}

	out := make([]ProductPromotion, 0, len(visible))
	for i := range visible {
		p := &visible[i]
		if !engine.Targets(p, productID, categoryID) {
			continue
		}
		out = append(out, ProductPromotion{
			Promotion:    *p,
			UnitDiscount: engine.ComputeDiscount(p, probe),
			FreeShipping: domain.GrantsFreeShipping(p.Config),
		})
	}

	slices.SortStableFunc(out, func(a, b ProductPromotion) int {
		if c := cmp.Compare(b.UnitDiscount, a.UnitDiscount); c != 0 {
			return c
		}
		return cmp.Compare(b.Promotion.Priority, a.Promotion.Priority)
	})
	return out, nil
}

// CanCustomerUse reports whether the promotion is still usable and, when
// customerPhone is given, whether that customer is still under the
// per-customer cap.
func (s *EvaluationService) CanCustomerUse(ctx context.Context, promotionID, customerPhone string) (*Eligibility, error) {
	p, err := s.repo.GetByID(ctx, promotionID)
	if err != nil {
		return nil, fmt.Errorf("get promotion for eligibility: %w", err)
	}

	now := s.clock.Now()
	el := &Eligibility{
		PromotionID:        p.ID,
		UsageCount:         p.UsageCount,
		UsageLimitTotal:    p.UsageLimitTotal,
		MaxUsesPerCustomer: p.MaxUsesPerCustomer,
		CanBeUsed:          engine.IsCurrentlyValid(p, now),
	}
	switch {
	case p.AtUsageLimit():
		el.Reason = ReasonUsageLimit
	case !el.CanBeUsed:
		el.Reason = ReasonInactive
	case !engine.IsValidAtTime(p, now):
		el.Reason = ReasonOutsideSchedule
	}

	if customerPhone != "" {
		counts, err := s.repo.CountCustomerUsages(ctx, customerPhone, []string{p.ID})
		if err != nil {
			return nil, fmt.Errorf("count customer usages: %w", err)
		}
		el.CustomerUses = counts[p.ID]
	}

	el.CustomerCanUse = el.CanBeUsed
	if p.MaxUsesPerCustomer != nil && el.CustomerUses >= *p.MaxUsesPerCustomer {
		el.CustomerCanUse = false
		if el.Reason == "" {
			el.Reason = ReasonCustomerLimit
		}
	}
	return el, nil
}

// snapshot loads everything Compose needs for order.
func (s *EvaluationService) snapshot(ctx context.Context, order domain.Order, now time.Time) (engine.Input, error) {
	active, err := s.repo.ListActive(ctx, now)
	if err != nil {
		return engine.Input{}, fmt.Errorf("list active promotions: %w", err)
	}

	in := engine.Input{Order: order, Active: active, Now: now}

	if code := strings.TrimSpace(order.PromoCode); code != "" {
		p, err := s.repo.FindByCode(ctx, code, now)
		if err != nil {
			return engine.Input{}, fmt.Errorf("find promotion by code: %w", err)
		}
		in.CodePromotion = p
	}

	in.CustomerUsage, err = s.customerUsage(ctx, order.CustomerPhone, in.CodePromotion, active)
	if err != nil {
		return engine.Input{}, err
	}
	return in, nil
}

// customerUsage counts past uses by phone of the candidates carrying a
// per-customer cap. It returns nil when there is nothing to check.
func (s *EvaluationService) customerUsage(ctx context.Context, phone string, code *domain.Promotion, active []domain.Promotion) (map[string]int, error) {
	if phone == "" {
		return nil, nil
	}

	var ids []string
	if code != nil && code.MaxUsesPerCustomer != nil {
		ids = append(ids, code.ID)
	}
	for i := range active {
		if active[i].MaxUsesPerCustomer != nil && !active[i].IsCodeOnly() {
			ids = append(ids, active[i].ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	counts, err := s.repo.CountCustomerUsages(ctx, phone, ids)
	if err != nil {
		return nil, fmt.Errorf("count customer usages: %w", err)
	}
	return counts, nil
}

func codeOutcomeLabel(o *domain.PromoCodeOutcome) string {
	if o.OK {
		return "valid"
	}
	return o.Detail
}
