package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/service"
	pkgkafka "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/kafka"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/logger"
)

// TopicOrderConfirmed is published by the ordering side once an order is
// persisted.
var TopicOrderConfirmed = pkgkafka.Topic("order", "confirmed")

// DefaultConsumerGroupID is the consumer group of the promotions service.
const DefaultConsumerGroupID = "promotions-service"

// ErrUsageNotRecorded is returned when some usages of a confirmed order could
// not be stored, so the consumer retries the event.
var ErrUsageNotRecorded = errors.New("promotion usage not recorded")

// UsageRecorder records the promotions consumed by a finalized order.
type UsageRecorder interface {
	RecordUsagesForOrder(ctx context.Context, order domain.FinalizedOrder) service.UsageReport
}

// orderConfirmedPayload is the data of an order.confirmed event.
type orderConfirmedPayload struct {
	OrderID           string                    `json:"order_id"`
	CustomerPhone     string                    `json:"customer_phone"`
	AppliedPromotions []domain.AppliedPromotion `json:"applied_promotions"`
}

// ConsumerHandler turns order events into usage records.
type ConsumerHandler struct {
	usages UsageRecorder
	logger *slog.Logger
}

// NewConsumerHandler creates a new event consumer handler.
func NewConsumerHandler(usages UsageRecorder, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		usages: usages,
		logger: logger,
	}
}

// Handle processes an incoming Kafka event based on its event type.
func (h *ConsumerHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicOrderConfirmed:
		return h.handleOrderConfirmed(ctx, event)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

func (h *ConsumerHandler) handleOrderConfirmed(ctx context.Context, event *pkgkafka.Event) error {
	var payload orderConfirmedPayload
	if err := event.UnmarshalData(&payload); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed order.confirmed event",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if payload.OrderID == "" {
		payload.OrderID = event.AggregateID
	}
	if payload.OrderID == "" {
		h.logger.WarnContext(ctx, "order.confirmed event without order id",
			slog.String("event_id", event.EventID),
		)
		return nil
	}
	if event.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, event.CorrelationID)
	}

	report := h.usages.RecordUsagesForOrder(ctx, domain.FinalizedOrder{
		OrderID:           payload.OrderID,
		CustomerPhone:     payload.CustomerPhone,
		AppliedPromotions: payload.AppliedPromotions,
	})

	if len(report.Failed) > 0 {
		return fmt.Errorf("order %s: %d of %d promotions: %w",
			payload.OrderID, len(report.Failed), len(payload.AppliedPromotions), ErrUsageNotRecorded)
	}
	return nil
}

// NewOrderConsumer creates the consumer of order.confirmed events. Duplicate
// deliveries are filtered by store before reaching handler.
func NewOrderConsumer(brokers []string, groupID string, handler *ConsumerHandler, store pkgkafka.IdempotencyStore, logger *slog.Logger) *pkgkafka.Consumer {
	if groupID == "" {
		groupID = DefaultConsumerGroupID
	}
	cfg := pkgkafka.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    TopicOrderConfirmed,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	return pkgkafka.NewConsumer(cfg, pkgkafka.IdempotentHandler(store, handler.Handle, logger), logger)
}
