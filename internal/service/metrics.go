package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promotions_evaluations_total",
		Help: "Orders priced, by result (discounted, undiscounted, error)",
	}, []string{"result"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "promotions_evaluation_duration_seconds",
		Help:    "Time spent pricing an order, storage lookups included",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	discountGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promotions_discount_granted_total",
		Help: "Sum of discounts granted by evaluations, in currency units",
	})

	promoCodeChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promotions_promo_code_checks_total",
		Help: "Promo codes checked, by outcome",
	}, []string{"outcome"})

	usageRecordings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promotions_usage_recordings_total",
		Help: "Usage recording attempts, by result (recorded, duplicate, failed)",
	}, []string{"result"})
)
