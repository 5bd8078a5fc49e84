package repository

import (
	"context"
	"time"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/pagination"
)

// PromotionFilter defines filter criteria for listing promotions.
type PromotionFilter struct {
	Active   *bool
	CodeOnly *bool
	Search   string
	Page     int
	PerPage  int
}

// PromotionRepository defines the interface for promotion persistence operations.
type PromotionRepository interface {
	// ListActive returns promotions that are active, inside their date range
	// and below their usage cap at now, sorted by descending priority. Ties
	// keep the most recently created first.
	ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error)

	// FindByCode returns the promotion whose promo code matches code, ignoring
	// case, among those ListActive would return. A missing code is (nil, nil).
	FindByCode(ctx context.Context, code string, now time.Time) (*domain.Promotion, error)

	// RecordUsage stores one usage and increments the promotion's usage count
	// in a single atomic step. Recording the same (promotion, order) pair twice
	// returns apperrors.ErrAlreadyExists and leaves the count unchanged.
	RecordUsage(ctx context.Context, usage *domain.PromotionUsage) (*domain.PromotionUsage, error)

	// Create inserts a new promotion.
	Create(ctx context.Context, p *domain.Promotion) error

	// GetByID retrieves a promotion by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Promotion, error)

	// List returns promotions matching the filter along with the total count.
	List(ctx context.Context, filter PromotionFilter) ([]domain.Promotion, int, error)

	// Update replaces an existing promotion. The usage count is not touched.
	Update(ctx context.Context, p *domain.Promotion) error

	// Delete removes a promotion and its usage history.
	Delete(ctx context.Context, id string) error

	// SetActive switches a promotion on or off.
	SetActive(ctx context.Context, id string, active bool) error

	// ListUsages returns the usage history of a promotion, newest first.
	ListUsages(ctx context.Context, promotionID string, page pagination.Params) ([]domain.PromotionUsage, int, error)

	// CountCustomerUsages returns how many times customerPhone used each of
	// promotionIDs. Promotions never used are absent from the map.
	CountCustomerUsages(ctx context.Context, customerPhone string, promotionIDs []string) (map[string]int, error)
}
