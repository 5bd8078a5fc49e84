package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	pkgkafka "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/kafka"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/logger"
)

// Kafka topic constants for promotion domain events.
var (
	TopicPromotionCreated       = pkgkafka.Topic("promotion", "created")
	TopicPromotionUpdated       = pkgkafka.Topic("promotion", "updated")
	TopicPromotionDeleted       = pkgkafka.Topic("promotion", "deleted")
	TopicPromotionUsageRecorded = pkgkafka.Topic("promotion", "usage_recorded")
)

// AggregateTypePromotion is the aggregate type of every event published here.
const AggregateTypePromotion = "promotion"

// SourcePromotionService identifies events originating from this service.
const SourcePromotionService = "promotions-service"

// PromotionChangedData is the payload for promotion.created and
// promotion.updated events.
type PromotionChangedData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Active    bool   `json:"active"`
	Priority  int    `json:"priority"`
	Stackable bool   `json:"stackable"`
	PromoCode string `json:"promo_code,omitempty"`
}

// PromotionDeletedData is the payload for a promotion.deleted event.
type PromotionDeletedData struct {
	ID string `json:"id"`
}

// UsageRecordedData is the payload for a promotion.usage_recorded event.
type UsageRecordedData struct {
	UsageID        string `json:"usage_id"`
	PromotionID    string `json:"promotion_id"`
	OrderID        string `json:"order_id"`
	CustomerPhone  string `json:"customer_phone,omitempty"`
	DiscountAmount int64  `json:"discount_amount"`
}

// Publisher is the part of *pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes promotion domain events to Kafka. A Producer without a
// publisher drops events, which is how the service runs without a broker.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer. kafka may be nil.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishPromotionCreated publishes a promotion.created event.
func (p *Producer) PublishPromotionCreated(ctx context.Context, promo *domain.Promotion) error {
	return p.publish(ctx, TopicPromotionCreated, promo.ID, changedData(promo), nil)
}

// PublishPromotionUpdated publishes a promotion.updated event.
func (p *Producer) PublishPromotionUpdated(ctx context.Context, promo *domain.Promotion) error {
	return p.publish(ctx, TopicPromotionUpdated, promo.ID, changedData(promo), nil)
}

// PublishPromotionDeleted publishes a promotion.deleted event.
func (p *Producer) PublishPromotionDeleted(ctx context.Context, id string) error {
	return p.publish(ctx, TopicPromotionDeleted, id, PromotionDeletedData{ID: id}, nil)
}

// PublishUsageRecorded publishes a promotion.usage_recorded event.
func (p *Producer) PublishUsageRecorded(ctx context.Context, usage *domain.PromotionUsage) error {
	data := UsageRecordedData{
		UsageID:        usage.ID,
		PromotionID:    usage.PromotionID,
		OrderID:        usage.OrderID,
		CustomerPhone:  usage.CustomerPhone,
		DiscountAmount: usage.DiscountAmount,
	}
	return p.publish(ctx, TopicPromotionUsageRecorded, usage.PromotionID, data,
		map[string]string{"order_id": usage.OrderID})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any, metadata map[string]string) error {
	if p.kafka == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypePromotion, SourcePromotionService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	for k, v := range metadata {
		event.WithMetadata(k, v)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published promotion event",
		slog.String("topic", topic),
		slog.String("promotion_id", aggregateID),
	)

	return nil
}

func changedData(promo *domain.Promotion) PromotionChangedData {
	data := PromotionChangedData{
		ID:        promo.ID,
		Name:      promo.Name,
		Active:    promo.Active,
		Priority:  promo.Priority,
		Stackable: promo.Stackable,
		PromoCode: promo.PromoCode,
	}
	if promo.Config != nil {
		data.Kind = string(promo.Config.Kind())
	}
	return data
}
