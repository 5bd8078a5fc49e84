// Package breaker guards a repository.PromotionRepository with a circuit
// breaker and reports storage failures as apperrors.ErrServiceUnavail.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/pagination"
)

// Config holds configuration for the circuit breaker.
type Config struct {
	// Name identifies this breaker in metrics and logs.
	Name string

	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// FailureRatio of failed calls trips the breaker once MinRequests calls
	// have been made.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns sensible defaults for the promotion store breaker.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

const dependency = "promotion store"

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "circuit_breaker_state",
	Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
}, []string{"name"})

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// PromotionRepository wraps another repository with a circuit breaker.
type PromotionRepository struct {
	next repository.PromotionRepository
	cb   *gobreaker.CircuitBreaker[any]
}

// NewPromotionRepository wraps next. Caller mistakes such as a missing
// promotion or a duplicate usage never count as failures.
func NewPromotionRepository(next repository.PromotionRepository, cfg Config, logger *slog.Logger) *PromotionRepository {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isCallerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &PromotionRepository{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

var _ repository.PromotionRepository = (*PromotionRepository)(nil)

// State returns the current breaker state.
func (r *PromotionRepository) State() gobreaker.State {
	return r.cb.State()
}

func isCallerError(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrAlreadyExists) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrConflict) ||
		errors.Is(err, context.Canceled)
}

func translate(err error) error {
	if isCallerError(err) || errors.Is(err, apperrors.ErrServiceUnavail) {
		return err
	}
	return apperrors.ServiceUnavailable(dependency, err)
}

func call[T any](r *PromotionRepository, fn func() (T, error)) (T, error) {
	out, err := r.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, translate(err)
	}
	return out.(T), nil
}

func exec(r *PromotionRepository, fn func() error) error {
	_, err := call(r, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ListActive implements repository.PromotionRepository.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	return call(r, func() ([]domain.Promotion, error) {
		return r.next.ListActive(ctx, now)
	})
}

// FindByCode implements repository.PromotionRepository.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string, now time.Time) (*domain.Promotion, error) {
	return call(r, func() (*domain.Promotion, error) {
		return r.next.FindByCode(ctx, code, now)
	})
}

// RecordUsage implements repository.PromotionRepository.
func (r *PromotionRepository) RecordUsage(ctx context.Context, usage *domain.PromotionUsage) (*domain.PromotionUsage, error) {
	return call(r, func() (*domain.PromotionUsage, error) {
		return r.next.RecordUsage(ctx, usage)
	})
}

// Create implements repository.PromotionRepository.
func (r *PromotionRepository) Create(ctx context.Context, p *domain.Promotion) error {
	return exec(r, func() error { return r.next.Create(ctx, p) })
}

// GetByID implements repository.PromotionRepository.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*domain.Promotion, error) {
	return call(r, func() (*domain.Promotion, error) {
		return r.next.GetByID(ctx, id)
	})
}

type page[T any] struct {
	items []T
	total int
}

// List implements repository.PromotionRepository.
func (r *PromotionRepository) List(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	res, err := call(r, func() (page[domain.Promotion], error) {
		items, total, err := r.next.List(ctx, filter)
		return page[domain.Promotion]{items: items, total: total}, err
	})
	return res.items, res.total, err
}

// Update implements repository.PromotionRepository.
func (r *PromotionRepository) Update(ctx context.Context, p *domain.Promotion) error {
	return exec(r, func() error { return r.next.Update(ctx, p) })
}

// Delete implements repository.PromotionRepository.
func (r *PromotionRepository) Delete(ctx context.Context, id string) error {
	return exec(r, func() error { return r.next.Delete(ctx, id) })
}

// SetActive implements repository.PromotionRepository.
func (r *PromotionRepository) SetActive(ctx context.Context, id string, active bool) error {
	return exec(r, func() error { return r.next.SetActive(ctx, id, active) })
}

// ListUsages implements repository.PromotionRepository.
func (r *PromotionRepository) ListUsages(ctx context.Context, promotionID string, p pagination.Params) ([]domain.PromotionUsage, int, error) {
	res, err := call(r, func() (page[domain.PromotionUsage], error) {
		items, total, err := r.next.ListUsages(ctx, promotionID, p)
		return page[domain.PromotionUsage]{items: items, total: total}, err
	})
	return res.items, res.total, err
}

// CountCustomerUsages implements repository.PromotionRepository.
func (r *PromotionRepository) CountCustomerUsages(ctx context.Context, customerPhone string, promotionIDs []string) (map[string]int, error) {
	return call(r, func() (map[string]int, error) {
		return r.next.CountCustomerUsages(ctx, customerPhone, promotionIDs)
	})
}
