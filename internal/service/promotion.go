package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/pagination"
)

// EventPublisher announces promotion changes to other services.
type EventPublisher interface {
	PublishPromotionCreated(ctx context.Context, p *domain.Promotion) error
	PublishPromotionUpdated(ctx context.Context, p *domain.Promotion) error
	PublishPromotionDeleted(ctx context.Context, id string) error
	PublishUsageRecorded(ctx context.Context, usage *domain.PromotionUsage) error
}

// PromotionService implements staff management of promotions.
type PromotionService struct {
	repo   repository.PromotionRepository
	events EventPublisher
	clock  engine.Clock
	logger *slog.Logger
}

// NewPromotionService creates a new promotion service.
func NewPromotionService(repo repository.PromotionRepository, events EventPublisher, clock engine.Clock, logger *slog.Logger) *PromotionService {
	return &PromotionService{
		repo:   repo,
		events: events,
		clock:  clock,
		logger: logger,
	}
}

// PromotionInput holds the staff-editable fields of a promotion. Updates
// replace every field.
type PromotionInput struct {
	Name               string
	Description        string
	Active             bool
	StartDate          time.Time
	EndDate            *time.Time
	Priority           int
	Stackable          bool
	UsageLimitTotal    *int
	MaxUsesPerCustomer *int
	Conditions         domain.Conditions
	Config             domain.DiscountConfig
	TimeWindow         *domain.TimeWindow
	PromoCode          string
	Visuals            *domain.Visuals
}

func (in *PromotionInput) applyTo(p *domain.Promotion, now time.Time) {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Active = in.Active
	p.StartDate = in.StartDate
	if p.StartDate.IsZero() {
		p.StartDate = now
	}
	p.EndDate = in.EndDate
	p.Priority = in.Priority
	p.Stackable = in.Stackable
	p.UsageLimitTotal = in.UsageLimitTotal
	p.MaxUsesPerCustomer = in.MaxUsesPerCustomer
	p.Conditions = in.Conditions
	if p.Conditions == nil {
		p.Conditions = domain.Conditions{}
	}
	p.Config = in.Config
	p.TimeWindow = in.TimeWindow
	p.PromoCode = strings.ToUpper(strings.TrimSpace(in.PromoCode))
	p.Visuals = in.Visuals
	p.UpdatedAt = now
}

// CreatePromotion validates and stores a new promotion. A missing start date
// means now.
func (s *PromotionService) CreatePromotion(ctx context.Context, input *PromotionInput) (*domain.Promotion, error) {
	now := s.clock.Now().UTC()
	p := &domain.Promotion{
		ID:        uuid.New().String(),
		CreatedAt: now,
	}
	input.applyTo(p, now)

	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, apperrors.Wrap(err, "create promotion")
	}

	if err := s.events.PublishPromotionCreated(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish promotion.created event",
			slog.String("promotion_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "promotion created",
		slog.String("promotion_id", p.ID),
		slog.String("kind", string(p.Config.Kind())),
		slog.Bool("code_only", p.IsCodeOnly()),
	)

	return p, nil
}

// GetPromotion retrieves a promotion by its ID.
func (s *PromotionService) GetPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "get promotion by id")
	}
	return p, nil
}

// ListPromotions returns a filtered, paginated list of promotions.
func (s *PromotionService) ListPromotions(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = pagination.DefaultPerPage
	}
	if filter.PerPage > pagination.MaxPerPage {
		filter.PerPage = pagination.MaxPerPage
	}

	promotions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, "list promotions")
	}
	return promotions, total, nil
}

// UpdatePromotion replaces the editable fields of a promotion. The usage
// count and creation time are kept.
func (s *PromotionService) UpdatePromotion(ctx context.Context, id string, input *PromotionInput) (*domain.Promotion, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "get promotion for update")
	}

	input.applyTo(p, s.clock.Now().UTC())
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, apperrors.Wrap(err, "update promotion")
	}

	s.publishUpdated(ctx, p)

	s.logger.InfoContext(ctx, "promotion updated",
		slog.String("promotion_id", p.ID),
	)

	return p, nil
}

// SetActive switches a promotion on or off and returns its new state.
func (s *PromotionService) SetActive(ctx context.Context, id string, active bool) (*domain.Promotion, error) {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, apperrors.Wrap(err, "set promotion active")
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "get promotion after toggle")
	}

	s.publishUpdated(ctx, p)

	s.logger.InfoContext(ctx, "promotion toggled",
		slog.String("promotion_id", id),
		slog.Bool("active", active),
	)

	return p, nil
}

// DeletePromotion removes a promotion and its usage history.
func (s *PromotionService) DeletePromotion(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return apperrors.Wrap(err, "delete promotion")
	}

	if err := s.events.PublishPromotionDeleted(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish promotion.deleted event",
			slog.String("promotion_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "promotion deleted",
		slog.String("promotion_id", id),
	)

	return nil
}

// ListUsages returns the usage history of an existing promotion.
func (s *PromotionService) ListUsages(ctx context.Context, id string, page pagination.Params) ([]domain.PromotionUsage, int, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, 0, apperrors.Wrap(err, "get promotion for usages")
	}

	usages, total, err := s.repo.ListUsages(ctx, id, page)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, "list promotion usages")
	}
	return usages, total, nil
}

func (s *PromotionService) publishUpdated(ctx context.Context, p *domain.Promotion) {
	if err := s.events.PublishPromotionUpdated(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish promotion.updated event",
			slog.String("promotion_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}
