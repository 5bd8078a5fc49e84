package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/logger"
)

// UsageService records promotion consumption once an order is persisted.
type UsageService struct {
	repo   repository.PromotionRepository
	events EventPublisher
	clock  engine.Clock
	logger *slog.Logger
}

// NewUsageService creates a new usage service.
func NewUsageService(repo repository.PromotionRepository, events EventPublisher, clock engine.Clock, logger *slog.Logger) *UsageService {
	return &UsageService{
		repo:   repo,
		events: events,
		clock:  clock,
		logger: logger,
	}
}

// UsageReport tells what happened to each promotion of a finalized order.
// Skipped holds promotions already recorded for the order; Failed holds
// promotions whose usage could not be stored.
type UsageReport struct {
	OrderID  string                  `json:"order_id"`
	Recorded []domain.PromotionUsage `json:"recorded"`
	Skipped  []string                `json:"skipped"`
	Failed   []string                `json:"failed"`
}

// RecordUsagesForOrder stores one usage per applied promotion. It is best
// effort: failures are logged and counted, never returned, and never undo
// the order. Replaying the same order records nothing new.
func (s *UsageService) RecordUsagesForOrder(ctx context.Context, order domain.FinalizedOrder) UsageReport {
	report := UsageReport{
		OrderID:  order.OrderID,
		Recorded: []domain.PromotionUsage{},
		Skipped:  []string{},
		Failed:   []string{},
	}
	if order.OrderID == "" || len(order.AppliedPromotions) == 0 {
		return report
	}

	// The order already exists; a caller going away must not cut this short.
	ctx = context.WithoutCancel(ctx)
	appliedAt := s.clock.Now().UTC()
	seen := make(map[string]struct{}, len(order.AppliedPromotions))

	for _, ap := range order.AppliedPromotions {
		if ap.PromotionID == "" {
			continue
		}
		if _, dup := seen[ap.PromotionID]; dup {
			continue
		}
		seen[ap.PromotionID] = struct{}{}

		usage, err := s.repo.RecordUsage(ctx, &domain.PromotionUsage{
			ID:             uuid.New().String(),
			PromotionID:    ap.PromotionID,
			OrderID:        order.OrderID,
			CustomerPhone:  order.CustomerPhone,
			DiscountAmount: ap.DiscountAmount,
			AppliedAt:      appliedAt,
		})
		switch {
		case errors.Is(err, apperrors.ErrAlreadyExists):
			usageRecordings.WithLabelValues("duplicate").Inc()
			report.Skipped = append(report.Skipped, ap.PromotionID)
			continue
		case err != nil:
			usageRecordings.WithLabelValues("failed").Inc()
			report.Failed = append(report.Failed, ap.PromotionID)
			s.logger.ErrorContext(ctx, "failed to record promotion usage",
				slog.String("promotion_id", ap.PromotionID),
				slog.String("order_id", order.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}

		usageRecordings.WithLabelValues("recorded").Inc()
		report.Recorded = append(report.Recorded, *usage)

		if err := s.events.PublishUsageRecorded(ctx, usage); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish promotion.usage_recorded event",
				slog.String("promotion_id", usage.PromotionID),
				slog.String("order_id", usage.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "promotion usages recorded",
		slog.String("order_id", order.OrderID),
		slog.String("customer_phone", logger.MaskPhone(order.CustomerPhone)),
		slog.Int("recorded", len(report.Recorded)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
	)

	return report
}
