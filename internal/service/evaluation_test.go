package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository/memory"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
)

func newEvaluationService(repo *mockPromotionRepository) *EvaluationService {
	return NewEvaluationService(repo, engine.FixedClock{At: testNow}, newTestLogger())
}

// ============================================================
// ApplyPromotions
// ============================================================

func TestApplyPromotions_CodeThenAutomatic(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	auto := activePromotion("auto10", 1,
		domain.Percentage{Value: 10, AppliesTo: domain.ScopeTotal},
		domain.MinOrderAmount{Amount: 40000},
	)
	code := activePromotion("save5000", 0, domain.FixedAmount{Value: 5000, AppliesTo: domain.ScopeTotal})
	code.PromoCode = "SAVE5000"

	repo.On("ListActive", mock.Anything, testNow).Return([]domain.Promotion{auto}, nil)
	repo.On("FindByCode", mock.Anything, "SAVE5000", testNow).Return(&code, nil)

	order := domain.Order{
		Items:     []domain.LineItem{{ProductID: "menu", UnitPrice: 45000, Quantity: 1}},
		PromoCode: " SAVE5000 ",
		Sequence:  7,
	}

	result, err := svc.ApplyPromotions(context.Background(), order)

	require.NoError(t, err)
	assert.Equal(t, int64(45000), result.Subtotal)
	assert.Equal(t, int64(9500), result.TotalDiscount)
	assert.Equal(t, int64(35500), result.Total)
	require.Len(t, result.AppliedPromotions, 2)
	assert.Equal(t, "save5000", result.AppliedPromotions[0].PromotionID)
	assert.Equal(t, "auto10", result.AppliedPromotions[1].PromotionID)
	require.NotNil(t, result.PromoCode)
	assert.True(t, result.PromoCode.OK)
	assert.Equal(t, int64(7), result.Sequence)
	assert.Equal(t, testNow, result.EvaluatedAt)
	repo.AssertNotCalled(t, "CountCustomerUsages", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestApplyPromotions_StoreUnavailable(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	repo.On("ListActive", mock.Anything, testNow).
		Return(nil, apperrors.ServiceUnavailable("promotion store", errors.New("connection refused")))

	result, err := svc.ApplyPromotions(context.Background(), pizzaOrder())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

func TestApplyPromotions_FindByCodeError(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	repo.On("ListActive", mock.Anything, testNow).Return([]domain.Promotion{}, nil)
	repo.On("FindByCode", mock.Anything, "BROKEN", testNow).Return(nil, errors.New("boom"))

	order := pizzaOrder()
	order.PromoCode = "BROKEN"
	_, err := svc.ApplyPromotions(context.Background(), order)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "find promotion by code")
}

func TestApplyPromotions_CustomerCap(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	capped := activePromotion("welcome", 5, domain.FixedAmount{Value: 2000, AppliesTo: domain.ScopeTotal})
	capped.MaxUsesPerCustomer = intPtr(1)
	uncapped := activePromotion("always", 1, domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeTotal})
	code := activePromotion("code", 0, domain.FixedAmount{Value: 500, AppliesTo: domain.ScopeTotal})
	code.PromoCode = "ONCE"
	code.MaxUsesPerCustomer = intPtr(1)

	repo.On("ListActive", mock.Anything, testNow).Return([]domain.Promotion{capped, uncapped}, nil)
	repo.On("FindByCode", mock.Anything, "ONCE", testNow).Return(&code, nil)
	repo.On("CountCustomerUsages", mock.Anything, "+33611111111", []string{"code", "welcome"}).
		Return(map[string]int{"code": 1, "welcome": 1}, nil)

	order := pizzaOrder()
	order.PromoCode = "ONCE"
	order.CustomerPhone = "+33611111111"

	result, err := svc.ApplyPromotions(context.Background(), order)

	require.NoError(t, err)
	require.NotNil(t, result.PromoCode)
	assert.False(t, result.PromoCode.OK)
	assert.Equal(t, domain.PromoCodeCustomerLimit, result.PromoCode.Detail)
	require.Len(t, result.AppliedPromotions, 1)
	assert.Equal(t, "always", result.AppliedPromotions[0].PromotionID)
	repo.AssertExpectations(t)
}

func TestApplyPromotions_CountUsagesError(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	capped := activePromotion("welcome", 5, domain.FixedAmount{Value: 2000, AppliesTo: domain.ScopeTotal})
	capped.MaxUsesPerCustomer = intPtr(1)

	repo.On("ListActive", mock.Anything, testNow).Return([]domain.Promotion{capped}, nil)
	repo.On("CountCustomerUsages", mock.Anything, "+33611111111", []string{"welcome"}).
		Return(nil, apperrors.ServiceUnavailable("promotion store", errors.New("timeout")))

	order := pizzaOrder()
	order.CustomerPhone = "+33611111111"
	_, err := svc.ApplyPromotions(context.Background(), order)

	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

func TestApplyPromotions_Idempotent(t *testing.T) {
	repo := memory.NewPromotionRepository()
	svc := NewEvaluationService(repo, engine.FixedClock{At: testNow}, newTestLogger())
	ctx := context.Background()

	p := activePromotion("pizza20", 1,
		domain.Percentage{Value: 20, AppliesTo: domain.ScopeCategory},
		domain.CategoryIDs{IDs: []string{"pizza"}},
	)
	p.UsageLimitTotal = intPtr(10)
	require.NoError(t, repo.Create(ctx, &p))

	first, err := svc.ApplyPromotions(ctx, pizzaOrder())
	require.NoError(t, err)
	second, err := svc.ApplyPromotions(ctx, pizzaOrder())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(6000), first.TotalDiscount)
	assert.Equal(t, int64(45000-6000+3000), first.Total)

	stored, err := repo.GetByID(ctx, "pizza20")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UsageCount, "evaluation never records usage")
}

func TestApplyPromotions_UsageLimitReachedIsIgnored(t *testing.T) {
	repo := memory.NewPromotionRepository()
	svc := NewEvaluationService(repo, engine.FixedClock{At: testNow}, newTestLogger())
	ctx := context.Background()

	p := activePromotion("once", 1, domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeTotal})
	p.UsageLimitTotal = intPtr(1)
	require.NoError(t, repo.Create(ctx, &p))
	_, err := repo.RecordUsage(ctx, &domain.PromotionUsage{PromotionID: "once", OrderID: "o-1"})
	require.NoError(t, err)

	result, err := svc.ApplyPromotions(ctx, pizzaOrder())
	require.NoError(t, err)
	assert.Empty(t, result.AppliedPromotions)
	assert.Equal(t, int64(0), result.TotalDiscount)
}

// ============================================================
// ValidatePromoCode
// ============================================================

func TestValidatePromoCode_Required(t *testing.T) {
	svc := newEvaluationService(new(mockPromotionRepository))

	_, err := svc.ValidatePromoCode(context.Background(), pizzaOrder())

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestValidatePromoCode_NotFound(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)
	repo.On("FindByCode", mock.Anything, "NOPE", testNow).Return(nil, nil)

	order := pizzaOrder()
	order.PromoCode = "NOPE"
	check, err := svc.ValidatePromoCode(context.Background(), order)

	require.NoError(t, err)
	assert.False(t, check.Outcome.OK)
	assert.Equal(t, domain.PromoCodeReasonInvalid, check.Outcome.Reason)
	assert.Equal(t, domain.PromoCodeNotFound, check.Outcome.Detail)
	assert.Empty(t, check.PromotionID)
}

func TestValidatePromoCode_ConditionsNotMet(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	code := activePromotion("big", 0, domain.FixedAmount{Value: 5000, AppliesTo: domain.ScopeTotal},
		domain.MinOrderAmount{Amount: 100000},
	)
	code.PromoCode = "BIG"
	repo.On("FindByCode", mock.Anything, "BIG", testNow).Return(&code, nil)

	order := pizzaOrder()
	order.PromoCode = "BIG"
	check, err := svc.ValidatePromoCode(context.Background(), order)

	require.NoError(t, err)
	assert.False(t, check.Outcome.OK)
	assert.Equal(t, domain.PromoCodeNotApplicable, check.Outcome.Detail)
}

func TestValidatePromoCode_Valid(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	code := activePromotion("pizza", 0, domain.Percentage{
		Value:             50,
		AppliesTo:         domain.ScopeProducts,
		MaxDiscountAmount: int64Ptr(10000),
	}, domain.ProductIDs{IDs: []string{"margherita"}})
	code.PromoCode = "HALF"
	code.Visuals = &domain.Visuals{BadgeText: "-50%"}
	code.MaxUsesPerCustomer = intPtr(3)

	repo.On("FindByCode", mock.Anything, "half", testNow).Return(&code, nil)
	repo.On("CountCustomerUsages", mock.Anything, "+33622222222", []string{"pizza"}).
		Return(map[string]int{"pizza": 2}, nil)

	order := pizzaOrder()
	order.PromoCode = "half"
	order.CustomerPhone = "+33622222222"
	check, err := svc.ValidatePromoCode(context.Background(), order)

	require.NoError(t, err)
	assert.True(t, check.Outcome.OK)
	assert.Equal(t, "half", check.Outcome.Code)
	assert.Equal(t, "pizza", check.PromotionID)
	assert.Equal(t, int64(10000), check.DiscountAmount)
	assert.Equal(t, "-50%", check.Visuals.BadgeText)
	repo.AssertExpectations(t)
}

// ============================================================
// ListVisible / ListForProduct
// ============================================================

func TestListVisible_HidesCodeOnlyAndOffHours(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	open := activePromotion("open", 2, domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeTotal})
	code := activePromotion("code", 3, domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeTotal})
	code.PromoCode = "SECRET"
	evening := activePromotion("evening", 1, domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeTotal})
	evening.TimeWindow = &domain.TimeWindow{HoursOfDay: &domain.HourRange{Start: "18:00", End: "22:00"}}
	lunch := activePromotion("lunch", 0, domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeTotal})
	lunch.TimeWindow = &domain.TimeWindow{DaysOfWeek: []int{1, 2, 3, 4, 5}, HoursOfDay: &domain.HourRange{Start: "12:00", End: "14:00"}}

	repo.On("ListActive", mock.Anything, testNow).Return([]domain.Promotion{code, open, evening, lunch}, nil)

	visible, err := svc.ListVisible(context.Background())

	require.NoError(t, err)
	ids := make([]string, 0, len(visible))
	for _, p := range visible {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"open", "lunch"}, ids)
}

func TestListForProduct_BestFirst(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)

	storewide := activePromotion("storewide", 9, domain.Percentage{Value: 5, AppliesTo: domain.ScopeTotal})
	pizza := activePromotion("pizza", 1,
		domain.Percentage{Value: 20, AppliesTo: domain.ScopeCategory},
		domain.CategoryIDs{IDs: []string{"pizza"}},
	)
	dessert := activePromotion("dessert", 5,
		domain.FixedAmount{Value: 500, AppliesTo: domain.ScopeProducts},
		domain.ProductIDs{IDs: []string{"tiramisu"}},
	)
	delivery := activePromotion("delivery", 0, domain.FreeShipping{})

	repo.On("ListActive", mock.Anything, testNow).Return([]domain.Promotion{storewide, dessert, pizza, delivery}, nil)

	got, err := svc.ListForProduct(context.Background(), "margherita", "pizza", 15000)

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "pizza", got[0].Promotion.ID)
	assert.Equal(t, int64(3000), got[0].UnitDiscount)
	assert.Equal(t, "storewide", got[1].Promotion.ID)
	assert.Equal(t, int64(750), got[1].UnitDiscount)
	assert.Equal(t, "delivery", got[2].Promotion.ID)
	assert.True(t, got[2].FreeShipping)
}

func TestListForProduct_RequiresProduct(t *testing.T) {
	svc := newEvaluationService(new(mockPromotionRepository))

	_, err := svc.ListForProduct(context.Background(), " ", "", 0)

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// ============================================================
// CanCustomerUse
// ============================================================

func TestCanCustomerUse(t *testing.T) {
	tests := []struct {
		name           string
		mutate         func(p *domain.Promotion)
		phone          string
		uses           int
		canBeUsed      bool
		customerCanUse bool
		reason         string
	}{
		{
			name:           "usable",
			mutate:         func(p *domain.Promotion) { p.MaxUsesPerCustomer = intPtr(2) },
			phone:          "+33633333333",
			uses:           1,
			canBeUsed:      true,
			customerCanUse: true,
		},
		{
			name:           "customer limit reached",
			mutate:         func(p *domain.Promotion) { p.MaxUsesPerCustomer = intPtr(2) },
			phone:          "+33633333333",
			uses:           2,
			canBeUsed:      true,
			customerCanUse: false,
			reason:         ReasonCustomerLimit,
		},
		{
			name: "total limit reached",
			mutate: func(p *domain.Promotion) {
				p.UsageLimitTotal = intPtr(5)
				p.UsageCount = 5
			},
			reason: ReasonUsageLimit,
		},
		{
			name:   "inactive",
			mutate: func(p *domain.Promotion) { p.Active = false },
			reason: ReasonInactive,
		},
		{
			name:   "expired",
			mutate: func(p *domain.Promotion) { p.EndDate = timePtr(testNow.Add(-time.Hour)) },
			reason: ReasonInactive,
		},
		{
			name: "outside schedule",
			mutate: func(p *domain.Promotion) {
				p.TimeWindow = &domain.TimeWindow{DaysOfWeek: []int{0, 6}}
			},
			canBeUsed:      true,
			customerCanUse: true,
			reason:         ReasonOutsideSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockPromotionRepository)
			svc := newEvaluationService(repo)

			p := activePromotion("p1", 0, domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeTotal})
			tt.mutate(&p)
			repo.On("GetByID", mock.Anything, "p1").Return(&p, nil)
			if tt.phone != "" {
				repo.On("CountCustomerUsages", mock.Anything, tt.phone, []string{"p1"}).
					Return(map[string]int{"p1": tt.uses}, nil)
			}

			el, err := svc.CanCustomerUse(context.Background(), "p1", tt.phone)

			require.NoError(t, err)
			assert.Equal(t, tt.canBeUsed, el.CanBeUsed)
			assert.Equal(t, tt.customerCanUse, el.CustomerCanUse)
			assert.Equal(t, tt.uses, el.CustomerUses)
			assert.Equal(t, tt.reason, el.Reason)
		})
	}
}

func TestCanCustomerUse_NotFound(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newEvaluationService(repo)
	repo.On("GetByID", mock.Anything, "missing").Return(nil, apperrors.NotFound("promotion", "missing"))

	_, err := svc.CanCustomerUse(context.Background(), "missing", "")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
