// Package cache keeps the active promotion list in Redis in front of another
// repository.PromotionRepository.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
)

// ActiveKey is the Redis key holding the cached active promotion list.
const ActiveKey = "promotions:active"

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "promotions_cache_lookups_total",
	Help: "Active promotion cache lookups by result (hit, miss, error).",
}, []string{"result"})

// PromotionRepository serves ListActive and FindByCode from a short-lived
// Redis snapshot and forwards everything else. Writes that can change the
// active set drop the snapshot.
//
// The snapshot is refiltered on every read, so a promotion that expires or is
// used up disappears immediately, while one that starts after the snapshot
// was taken shows up once the TTL elapses.
type PromotionRepository struct {
	repository.PromotionRepository

	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewPromotionRepository wraps next with a Redis cache.
func NewPromotionRepository(next repository.PromotionRepository, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *PromotionRepository {
	return &PromotionRepository{
		PromotionRepository: next,
		client:              client,
		ttl:                 ttl,
		logger:              logger,
	}
}

// ListActive implements repository.PromotionRepository.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	snapshot, err := r.snapshot(ctx, now)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Promotion, 0, len(snapshot))
	for i := range snapshot {
		if engine.IsCurrentlyValid(&snapshot[i], now) {
			out = append(out, snapshot[i])
		}
	}
	return out, nil
}

// FindByCode implements repository.PromotionRepository.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string, now time.Time) (*domain.Promotion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	active, err := r.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].PromoCode != "" && strings.EqualFold(strings.TrimSpace(active[i].PromoCode), code) {
			p := active[i]
			return &p, nil
		}
	}
	return nil, nil
}

// RecordUsage implements repository.PromotionRepository.
func (r *PromotionRepository) RecordUsage(ctx context.Context, usage *domain.PromotionUsage) (*domain.PromotionUsage, error) {
	u, err := r.PromotionRepository.RecordUsage(ctx, usage)
	if err != nil {
		return nil, err
	}
	r.Invalidate(ctx)
	return u, nil
}

// Create implements repository.PromotionRepository.
func (r *PromotionRepository) Create(ctx context.Context, p *domain.Promotion) error {
	if err := r.PromotionRepository.Create(ctx, p); err != nil {
		return err
	}
	r.Invalidate(ctx)
	return nil
}

// Update implements repository.PromotionRepository.
func (r *PromotionRepository) Update(ctx context.Context, p *domain.Promotion) error {
	if err := r.PromotionRepository.Update(ctx, p); err != nil {
		return err
	}
	r.Invalidate(ctx)
	return nil
}

// Delete implements repository.PromotionRepository.
func (r *PromotionRepository) Delete(ctx context.Context, id string) error {
	if err := r.PromotionRepository.Delete(ctx, id); err != nil {
		return err
	}
	r.Invalidate(ctx)
	return nil
}

// SetActive implements repository.PromotionRepository.
func (r *PromotionRepository) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.PromotionRepository.SetActive(ctx, id, active); err != nil {
		return err
	}
	r.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached snapshot. Failures are logged only; the TTL
// bounds how long a stale snapshot can live.
func (r *PromotionRepository) Invalidate(ctx context.Context) {
	if err := r.client.Del(ctx, ActiveKey).Err(); err != nil {
		r.logger.WarnContext(ctx, "failed to invalidate promotion cache",
			slog.String("key", ActiveKey),
			slog.String("error", err.Error()),
		)
	}
}

func (r *PromotionRepository) snapshot(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	data, err := r.client.Get(ctx, ActiveKey).Bytes()
	switch {
	case err == nil:
		var cached []domain.Promotion
		if err := json.Unmarshal(data, &cached); err == nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		}
		r.logger.WarnContext(ctx, "discarding undecodable promotion cache entry",
			slog.String("key", ActiveKey),
		)
		cacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		cacheLookups.WithLabelValues("error").Inc()
		r.logger.WarnContext(ctx, "promotion cache read failed, using store",
			slog.String("error", err.Error()),
		)
	}

	active, err := r.PromotionRepository.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}
	if err := r.store(ctx, active); err != nil {
		r.logger.WarnContext(ctx, "promotion cache write failed",
			slog.String("error", err.Error()),
		)
	}
	return active, nil
}

func (r *PromotionRepository) store(ctx context.Context, active []domain.Promotion) error {
	data, err := json.Marshal(active)
	if err != nil {
		return fmt.Errorf("marshal active promotions: %w", err)
	}
	if err := r.client.Set(ctx, ActiveKey, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set active promotions: %w", err)
	}
	return nil
}
