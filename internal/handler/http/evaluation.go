package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/service"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/httputil"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/logger"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/validator"
)

// EvaluationHandler serves the customer-facing checkout endpoints.
type EvaluationHandler struct {
	evaluations *service.EvaluationService
	usages      *service.UsageService
	clock       engine.Clock
	deliveryFee int64
	logger      *slog.Logger
}

// NewEvaluationHandler creates a new evaluation HTTP handler. deliveryFee is
// used for orders that do not carry their own.
func NewEvaluationHandler(evaluations *service.EvaluationService, usages *service.UsageService, clock engine.Clock, deliveryFee int64, logger *slog.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		evaluations: evaluations,
		usages:      usages,
		clock:       clock,
		deliveryFee: deliveryFee,
		logger:      logger,
	}
}

// --- Request DTOs ---

// LineItemRequest is one cart line.
type LineItemRequest struct {
	ProductID  string `json:"product_id" validate:"required,max=100"`
	CategoryID string `json:"category_id" validate:"max=100"`
	Name       string `json:"name" validate:"max=255"`
	UnitPrice  int64  `json:"unit_price" validate:"gte=0"`
	Quantity   int    `json:"quantity" validate:"gte=1,lte=1000"`
}

// OrderRequest is the JSON request body for pricing a cart.
type OrderRequest struct {
	OrderID       string            `json:"order_id" validate:"max=100"`
	Items         []LineItemRequest `json:"items" validate:"max=200,dive"`
	PromoCode     string            `json:"promo_code" validate:"max=50"`
	CustomerPhone string            `json:"customer_phone" validate:"max=32"`
	DeliveryFee   *int64            `json:"delivery_fee" validate:"omitempty,gte=0"`
	Sequence      int64             `json:"sequence"`
}

// AppliedPromotionRequest is one promotion granted on a finalized order.
type AppliedPromotionRequest struct {
	PromotionID    string `json:"promotion_id" validate:"required,max=100"`
	Name           string `json:"name" validate:"max=255"`
	DiscountAmount int64  `json:"discount_amount" validate:"gte=0"`
	FreeShipping   bool   `json:"free_shipping"`
}

// RecordUsagesRequest is the JSON request body sent once an order is stored.
type RecordUsagesRequest struct {
	CustomerPhone     string                    `json:"customer_phone" validate:"max=32"`
	AppliedPromotions []AppliedPromotionRequest `json:"applied_promotions" validate:"max=50,dive"`
}

// evaluateResponse is an evaluated order, flagged when promotions could not
// be loaded.
type evaluateResponse struct {
	domain.EvaluatedOrder
	PromotionsUnavailable bool `json:"promotions_unavailable,omitempty"`
}

// --- Handlers ---

// Evaluate handles POST /api/v1/orders/evaluate. When the promotion store is
// unavailable the order is priced without promotions so checkout continues.
func (h *EvaluationHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	order := h.toOrder(r, req)

	result, err := h.evaluations.ApplyPromotions(r.Context(), order)
	if errors.Is(err, apperrors.ErrServiceUnavail) {
		logger.WithContext(r.Context(), h.logger).WarnContext(r.Context(), "pricing order without promotions",
			slog.String("error", err.Error()),
		)
		httputil.WriteData(w, http.StatusOK, evaluateResponse{
			EvaluatedOrder:        engine.Undiscounted(order, h.clock.Now()),
			PromotionsUnavailable: true,
		})
		return
	}
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, evaluateResponse{EvaluatedOrder: *result})
}

// ValidatePromoCode handles POST /api/v1/promo-codes/validate
func (h *EvaluationHandler) ValidatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	check, err := h.evaluations.ValidatePromoCode(r.Context(), h.toOrder(r, req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, check)
}

// RecordUsages handles POST /api/v1/orders/{orderID}/promotion-usages. The
// answer is always 200 with a report; recording failures never fail the order.
func (h *EvaluationHandler) RecordUsages(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req RecordUsagesRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	order := domain.FinalizedOrder{
		OrderID:           orderID,
		CustomerPhone:     h.customerPhone(r, req.CustomerPhone),
		AppliedPromotions: make([]domain.AppliedPromotion, 0, len(req.AppliedPromotions)),
	}
	for _, ap := range req.AppliedPromotions {
		order.AppliedPromotions = append(order.AppliedPromotions, domain.AppliedPromotion{
			PromotionID:    ap.PromotionID,
			Name:           ap.Name,
			DiscountAmount: ap.DiscountAmount,
			FreeShipping:   ap.FreeShipping,
		})
	}

	httputil.WriteData(w, http.StatusOK, h.usages.RecordUsagesForOrder(r.Context(), order))
}

// ListActive handles GET /api/v1/promotions/active
func (h *EvaluationHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	promotions, err := h.evaluations.ListVisible(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, promotions)
}

// ListForProduct handles GET /api/v1/products/{productID}/promotions
func (h *EvaluationHandler) ListForProduct(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var unitPrice int64
	if v := q.Get("unit_price"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			httputil.WriteError(w, r, apperrors.InvalidInput("unit_price must be a non-negative integer"), h.logger)
			return
		}
		unitPrice = parsed
	}

	promotions, err := h.evaluations.ListForProduct(r.Context(), chi.URLParam(r, "productID"), q.Get("category_id"), unitPrice)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, promotions)
}

func (h *EvaluationHandler) toOrder(r *http.Request, req OrderRequest) domain.Order {
	order := domain.Order{
		ID:            req.OrderID,
		Items:         make([]domain.LineItem, 0, len(req.Items)),
		PromoCode:     req.PromoCode,
		CustomerPhone: h.customerPhone(r, req.CustomerPhone),
		DeliveryFee:   h.deliveryFee,
		Sequence:      req.Sequence,
	}
	if req.DeliveryFee != nil {
		order.DeliveryFee = *req.DeliveryFee
	}
	for _, li := range req.Items {
		order.Items = append(order.Items, domain.LineItem{
			ProductID:  li.ProductID,
			CategoryID: li.CategoryID,
			Name:       li.Name,
			UnitPrice:  li.UnitPrice,
			Quantity:   li.Quantity,
		})
	}
	return order
}

// customerPhone prefers the body and falls back to the X-Customer-Phone header.
func (h *EvaluationHandler) customerPhone(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return logger.CustomerFromContext(r.Context())
}
