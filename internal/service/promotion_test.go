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
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/pagination"
)

func newPromotionService(repo *mockPromotionRepository, pub *mockPublisher) *PromotionService {
	return NewPromotionService(repo, pub, engine.FixedClock{At: testNow}, newTestLogger())
}

func validInput() *PromotionInput {
	return &PromotionInput{
		Name:      "  Happy hour  ",
		Active:    true,
		StartDate: testNow,
		Priority:  3,
		Stackable: true,
		Conditions: domain.Conditions{
			domain.MinOrderAmount{Amount: 20000},
		},
		Config:    domain.Percentage{Value: 15, AppliesTo: domain.ScopeTotal},
		PromoCode: " happy15 ",
		TimeWindow: &domain.TimeWindow{
			DaysOfWeek: []int{1, 2, 3, 4, 5},
			HoursOfDay: &domain.HourRange{Start: "17:00", End: "19:00"},
		},
	}
}

// ============================================================
// CreatePromotion
// ============================================================

func TestCreatePromotion_Success(t *testing.T) {
	repo := new(mockPromotionRepository)
	pub := new(mockPublisher)
	svc := newPromotionService(repo, pub)

	repo.On("Create", mock.Anything, mock.MatchedBy(func(p *domain.Promotion) bool {
		return p.ID != "" && p.Name == "Happy hour" && p.PromoCode == "HAPPY15"
	})).Return(nil)
	pub.On("PublishPromotionCreated", mock.Anything, mock.AnythingOfType("*domain.Promotion")).Return(nil)

	p, err := svc.CreatePromotion(context.Background(), validInput())

	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "HAPPY15", p.PromoCode)
	assert.Equal(t, testNow, p.CreatedAt)
	assert.Equal(t, testNow, p.UpdatedAt)
	assert.Equal(t, 0, p.UsageCount)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCreatePromotion_DefaultsStartDate(t *testing.T) {
	repo := new(mockPromotionRepository)
	pub := new(mockPublisher)
	svc := newPromotionService(repo, pub)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishPromotionCreated", mock.Anything, mock.Anything).Return(nil)

	input := validInput()
	input.StartDate = time.Time{}
	p, err := svc.CreatePromotion(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, testNow, p.StartDate)
}

func TestCreatePromotion_ValidationError(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *PromotionInput)
	}{
		{"missing name", func(in *PromotionInput) { in.Name = " " }},
		{"missing config", func(in *PromotionInput) { in.Config = nil }},
		{"percentage over 100", func(in *PromotionInput) {
			in.Config = domain.Percentage{Value: 120, AppliesTo: domain.ScopeTotal}
		}},
		{"end before start", func(in *PromotionInput) { in.EndDate = timePtr(testNow.Add(-time.Hour)) }},
		{"midnight crossing window", func(in *PromotionInput) {
			in.TimeWindow = &domain.TimeWindow{HoursOfDay: &domain.HourRange{Start: "22:00", End: "02:00"}}
		}},
		{"scoped without targeting", func(in *PromotionInput) {
			in.Config = domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeProducts}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockPromotionRepository)
			pub := new(mockPublisher)
			svc := newPromotionService(repo, pub)

			input := validInput()
			tt.mutate(input)
			_, err := svc.CreatePromotion(context.Background(), input)

			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestCreatePromotion_DuplicateCode(t *testing.T) {
	repo := new(mockPromotionRepository)
	pub := new(mockPublisher)
	svc := newPromotionService(repo, pub)

	repo.On("Create", mock.Anything, mock.Anything).
		Return(apperrors.AlreadyExists("promotion", "promo_code", "HAPPY15"))

	_, err := svc.CreatePromotion(context.Background(), validInput())

	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	pub.AssertNotCalled(t, "PublishPromotionCreated", mock.Anything, mock.Anything)
}

func TestCreatePromotion_PublishFailureIsIgnored(t *testing.T) {
	repo := new(mockPromotionRepository)
	pub := new(mockPublisher)
	svc := newPromotionService(repo, pub)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishPromotionCreated", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	p, err := svc.CreatePromotion(context.Background(), validInput())

	require.NoError(t, err)
	assert.NotNil(t, p)
}

// ============================================================
// Update / SetActive / Delete
// ============================================================

func TestUpdatePromotion_KeepsUsageAndCreation(t *testing.T) {
	repo := new(mockPromotionRepository)
	pub := new(mockPublisher)
	svc := newPromotionService(repo, pub)

	created := testNow.Add(-72 * time.Hour)
	existing := activePromotion("p1", 0, domain.FixedAmount{Value: 1000, AppliesTo: domain.ScopeTotal})
	existing.UsageCount = 4
	existing.CreatedAt = created

	repo.On("GetByID", mock.Anything, "p1").Return(&existing, nil)
	repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Promotion")).Return(nil)
	pub.On("PublishPromotionUpdated", mock.Anything, mock.Anything).Return(nil)

	p, err := svc.UpdatePromotion(context.Background(), "p1", validInput())

	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "Happy hour", p.Name)
	assert.Equal(t, 4, p.UsageCount)
	assert.Equal(t, created, p.CreatedAt)
	assert.Equal(t, testNow, p.UpdatedAt)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestUpdatePromotion_NotFound(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newPromotionService(repo, new(mockPublisher))

	repo.On("GetByID", mock.Anything, "missing").Return(nil, apperrors.NotFound("promotion", "missing"))

	_, err := svc.UpdatePromotion(context.Background(), "missing", validInput())

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestSetActive(t *testing.T) {
	repo := new(mockPromotionRepository)
	pub := new(mockPublisher)
	svc := newPromotionService(repo, pub)

	toggled := activePromotion("p1", 0, domain.FreeShipping{})
	toggled.Active = false

	repo.On("SetActive", mock.Anything, "p1", false).Return(nil)
	repo.On("GetByID", mock.Anything, "p1").Return(&toggled, nil)
	pub.On("PublishPromotionUpdated", mock.Anything, &toggled).Return(nil)

	p, err := svc.SetActive(context.Background(), "p1", false)

	require.NoError(t, err)
	assert.False(t, p.Active)
	pub.AssertExpectations(t)
}

func TestSetActive_NotFound(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newPromotionService(repo, new(mockPublisher))

	repo.On("SetActive", mock.Anything, "missing", true).Return(apperrors.NotFound("promotion", "missing"))

	_, err := svc.SetActive(context.Background(), "missing", true)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeletePromotion(t *testing.T) {
	repo := new(mockPromotionRepository)
	pub := new(mockPublisher)
	svc := newPromotionService(repo, pub)

	repo.On("Delete", mock.Anything, "p1").Return(nil)
	pub.On("PublishPromotionDeleted", mock.Anything, "p1").Return(nil)

	require.NoError(t, svc.DeletePromotion(context.Background(), "p1"))
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDeletePromotion_NotFound(t *testing.T) {
	repo := new(mockPromotionRepository)
	pub := new(mockPublisher)
	svc := newPromotionService(repo, pub)

	repo.On("Delete", mock.Anything, "missing").Return(apperrors.NotFound("promotion", "missing"))

	err := svc.DeletePromotion(context.Background(), "missing")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	pub.AssertNotCalled(t, "PublishPromotionDeleted", mock.Anything, mock.Anything)
}

// ============================================================
// Queries
// ============================================================

func TestListPromotions_NormalizesPaging(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newPromotionService(repo, new(mockPublisher))

	repo.On("List", mock.Anything, repository.PromotionFilter{Search: "pizza", Page: 1, PerPage: 100}).
		Return([]domain.Promotion{}, 0, nil)

	_, total, err := svc.ListPromotions(context.Background(), repository.PromotionFilter{Search: "pizza", PerPage: 500})

	require.NoError(t, err)
	assert.Equal(t, 0, total)
	repo.AssertExpectations(t)
}

func TestListUsages(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newPromotionService(repo, new(mockPublisher))

	p := activePromotion("p1", 0, domain.FreeShipping{})
	page := pagination.Params{Page: 1, PerPage: 20}
	usages := []domain.PromotionUsage{{ID: "u1", PromotionID: "p1", OrderID: "o1", AppliedAt: testNow}}

	repo.On("GetByID", mock.Anything, "p1").Return(&p, nil)
	repo.On("ListUsages", mock.Anything, "p1", page).Return(usages, 1, nil)

	got, total, err := svc.ListUsages(context.Background(), "p1", page)

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, usages, got)
}

func TestListUsages_UnknownPromotion(t *testing.T) {
	repo := new(mockPromotionRepository)
	svc := newPromotionService(repo, new(mockPublisher))

	repo.On("GetByID", mock.Anything, "missing").Return(nil, apperrors.NotFound("promotion", "missing"))

	_, _, err := svc.ListUsages(context.Background(), "missing", pagination.Params{Page: 1, PerPage: 20})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
