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
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository/memory"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
)

func legacyPromotions() []domain.LegacyPromotion {
	created := testNow.Add(-30 * 24 * time.Hour)
	minAmount := 20000.0
	return []domain.LegacyPromotion{
		{
			ID:         "lunch",
			Name:       "Lunch deal",
			Type:       "order_discount",
			Status:     "active",
			Priority:   3,
			Conditions: domain.LegacyConditions{MinOrderAmount: &minAmount, DaysOfWeek: []int{1, 2, 3, 4, 5}},
			Discount:   domain.LegacyDiscount{Type: "percentage", Value: 10, AppliesTo: "total"},
			UsageCount: 42,
			CreatedAt:  created,
		},
		{
			ID:         "welcome",
			Name:       "Welcome",
			Type:       "promo_code",
			Status:     "paused",
			Conditions: domain.LegacyConditions{PromoCode: "WELCOME", FirstOrderOnly: true},
			Discount:   domain.LegacyDiscount{Type: "fixed_amount", Value: 3000, AppliesTo: "total"},
			CreatedAt:  created,
		},
		{
			ID:        "mystery",
			Name:      "Mystery",
			Status:    "active",
			Discount:  domain.LegacyDiscount{Type: "lottery", Value: 1},
			CreatedAt: created,
		},
		{
			ID:        "zero",
			Name:      "Nothing off",
			Status:    "active",
			Discount:  domain.LegacyDiscount{Type: "percentage", Value: 0},
			CreatedAt: created,
		},
	}
}

func TestLegacyImporter_Import(t *testing.T) {
	repo := memory.NewPromotionRepository()
	im := NewLegacyImporter(repo, newTestLogger())
	ctx := context.Background()

	report, err := im.Import(ctx, legacyPromotions(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"lunch", "welcome"}, report.Imported)
	assert.Empty(t, report.Existing)
	assert.Contains(t, report.Rejected, "mystery")
	assert.Contains(t, report.Rejected, "zero")
	assert.Len(t, report.Warnings["welcome"], 1)

	lunch, err := repo.GetByID(ctx, "lunch")
	require.NoError(t, err)
	assert.True(t, lunch.Active)
	assert.Equal(t, 42, lunch.UsageCount)
	assert.Equal(t, domain.Conditions{domain.MinOrderAmount{Amount: 20000}}, lunch.Conditions)

	welcome, err := repo.GetByID(ctx, "welcome")
	require.NoError(t, err)
	assert.False(t, welcome.Active)
	assert.Equal(t, "WELCOME", welcome.PromoCode)

	again, err := im.Import(ctx, legacyPromotions(), false)
	require.NoError(t, err)
	assert.Empty(t, again.Imported)
	assert.Equal(t, []string{"lunch", "welcome"}, again.Existing)
}

func TestLegacyImporter_DryRunWritesNothing(t *testing.T) {
	repo := memory.NewPromotionRepository()
	im := NewLegacyImporter(repo, newTestLogger())

	report, err := im.Import(context.Background(), legacyPromotions(), true)
	require.NoError(t, err)
	assert.Len(t, report.Imported, 2)

	_, err = repo.GetByID(context.Background(), "lunch")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLegacyImporter_StoreDownAborts(t *testing.T) {
	repo := new(mockPromotionRepository)
	repo.On("Create", mock.Anything, mock.Anything).
		Return(apperrors.ServiceUnavailable("promotion store", errors.New("connection refused"))).Once()

	report, err := NewLegacyImporter(repo, newTestLogger()).Import(context.Background(), legacyPromotions(), false)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Empty(t, report.Imported)
	repo.AssertNumberOfCalls(t, "Create", 1)
}
