package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/service"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/health"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/middleware"
)

// ServiceName labels metrics and traces of this service.
const ServiceName = "promotions"

// RouterConfig holds everything NewRouter wires together.
type RouterConfig struct {
	Evaluations *service.EvaluationService
	Promotions  *service.PromotionService
	Usages      *service.UsageService
	Health      *health.Handler
	Clock       engine.Clock
	Logger      *slog.Logger

	// DeliveryFee applies to evaluated orders that do not state one.
	DeliveryFee int64
	// ActiveMaxAge is the Cache-Control max-age of the public promotion lists.
	ActiveMaxAge   int
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter creates a chi router with all promotions service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins}))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.PrometheusMetrics(ServiceName))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	evaluationHandler := NewEvaluationHandler(cfg.Evaluations, cfg.Usages, cfg.Clock, cfg.DeliveryFee, cfg.Logger)
	promotionHandler := NewPromotionHandler(cfg.Promotions, cfg.Evaluations, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Checkout
		r.Post("/orders/evaluate", evaluationHandler.Evaluate)
		r.Post("/orders/{orderID}/promotion-usages", evaluationHandler.RecordUsages)
		r.Post("/promo-codes/validate", evaluationHandler.ValidatePromoCode)

		cached := middleware.CacheControl(cfg.ActiveMaxAge)
		r.With(cached).Get("/products/{productID}/promotions", evaluationHandler.ListForProduct)

		r.Route("/promotions", func(r chi.Router) {
			r.With(cached).Get("/active", evaluationHandler.ListActive)

			// Staff tooling
			r.Post("/", promotionHandler.CreatePromotion)
			r.Get("/", promotionHandler.ListPromotions)

			r.Get("/{id}", promotionHandler.GetPromotion)
			r.Put("/{id}", promotionHandler.UpdatePromotion)
			r.Delete("/{id}", promotionHandler.DeletePromotion)
			r.Post("/{id}/activate", promotionHandler.ActivatePromotion)
			r.Post("/{id}/deactivate", promotionHandler.DeactivatePromotion)
			r.Get("/{id}/usages", promotionHandler.ListUsages)
			r.Get("/{id}/customers/{phone}/eligibility", promotionHandler.CustomerEligibility)
		})
	})

	return r
}
