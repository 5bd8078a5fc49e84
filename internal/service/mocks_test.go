package service

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/pagination"
)

// --- Mock Repository ---

type mockPromotionRepository struct {
	mock.Mock
}

func (m *mockPromotionRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Promotion), args.Error(1)
}

func (m *mockPromotionRepository) FindByCode(ctx context.Context, code string, now time.Time) (*domain.Promotion, error) {
	args := m.Called(ctx, code, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Promotion), args.Error(1)
}

func (m *mockPromotionRepository) RecordUsage(ctx context.Context, usage *domain.PromotionUsage) (*domain.PromotionUsage, error) {
	args := m.Called(ctx, usage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PromotionUsage), args.Error(1)
}

func (m *mockPromotionRepository) Create(ctx context.Context, p *domain.Promotion) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockPromotionRepository) GetByID(ctx context.Context, id string) (*domain.Promotion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Promotion), args.Error(1)
}

func (m *mockPromotionRepository) List(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Promotion), args.Int(1), args.Error(2)
}

func (m *mockPromotionRepository) Update(ctx context.Context, p *domain.Promotion) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockPromotionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockPromotionRepository) SetActive(ctx context.Context, id string, active bool) error {
	args := m.Called(ctx, id, active)
	return args.Error(0)
}

func (m *mockPromotionRepository) ListUsages(ctx context.Context, promotionID string, page pagination.Params) ([]domain.PromotionUsage, int, error) {
	args := m.Called(ctx, promotionID, page)
	return args.Get(0).([]domain.PromotionUsage), args.Int(1), args.Error(2)
}

func (m *mockPromotionRepository) CountCustomerUsages(ctx context.Context, customerPhone string, promotionIDs []string) (map[string]int, error) {
	args := m.Called(ctx, customerPhone, promotionIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

// --- Mock Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishPromotionCreated(ctx context.Context, p *domain.Promotion) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockPublisher) PublishPromotionUpdated(ctx context.Context, p *domain.Promotion) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockPublisher) PublishPromotionDeleted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPublisher) PublishUsageRecorded(ctx context.Context, usage *domain.PromotionUsage) error {
	return m.Called(ctx, usage).Error(0)
}

// --- Test Helpers ---

// testNow is a Monday.
var testNow = time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(i int) *int {
	return &i
}

func int64Ptr(i int64) *int64 {
	return &i
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func activePromotion(id string, priority int, cfg domain.DiscountConfig, conds ...domain.Condition) domain.Promotion {
	return domain.Promotion{
		ID:         id,
		Name:       "promo " + id,
		Active:     true,
		StartDate:  testNow.Add(-24 * time.Hour),
		Priority:   priority,
		Stackable:  true,
		Conditions: domain.Conditions(conds),
		Config:     cfg,
		CreatedAt:  testNow.Add(-48 * time.Hour),
	}
}

func pizzaOrder() domain.Order {
	return domain.Order{
		Items: []domain.LineItem{
			{ProductID: "margherita", CategoryID: "pizza", UnitPrice: 15000, Quantity: 2},
			{ProductID: "tiramisu", CategoryID: "dessert", UnitPrice: 15000, Quantity: 1},
		},
		DeliveryFee: 3000,
	}
}
