package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/service"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/httputil"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/pagination"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/validator"
)

// PromotionHandler serves the staff endpoints managing promotions.
type PromotionHandler struct {
	promotions  *service.PromotionService
	evaluations *service.EvaluationService
	logger      *slog.Logger
}

// NewPromotionHandler creates a new promotion HTTP handler.
func NewPromotionHandler(promotions *service.PromotionService, evaluations *service.EvaluationService, logger *slog.Logger) *PromotionHandler {
	return &PromotionHandler{
		promotions:  promotions,
		evaluations: evaluations,
		logger:      logger,
	}
}

// --- Request DTOs ---

// HourRangeRequest is a daily "HH:MM" range.
type HourRangeRequest struct {
	Start string `json:"start" validate:"required,hhmm"`
	End   string `json:"end" validate:"required,hhmm"`
}

// TimeWindowRequest restricts a promotion to some days and hours.
type TimeWindowRequest struct {
	DaysOfWeek []int             `json:"days_of_week" validate:"max=7,dive,gte=0,lte=6"`
	HoursOfDay *HourRangeRequest `json:"hours_of_day"`
}

// PromotionRequest is the JSON request body for creating or replacing a
// promotion. config holds the discount in its tagged form, for example
// {"kind":"percentage","value":10,"applies_to":"total"}.
type PromotionRequest struct {
	Name               string             `json:"name" validate:"required,min=1,max=255"`
	Description        string             `json:"description" validate:"max=2000"`
	Active             bool               `json:"active"`
	StartDate          *time.Time         `json:"start_date"`
	EndDate            *time.Time         `json:"end_date"`
	Priority           int                `json:"priority"`
	Stackable          bool               `json:"stackable"`
	UsageLimitTotal    *int               `json:"usage_limit_total" validate:"omitempty,gte=0"`
	MaxUsesPerCustomer *int               `json:"max_uses_per_customer" validate:"omitempty,gte=1"`
	Conditions         domain.Conditions  `json:"conditions"`
	Config             json.RawMessage    `json:"config" validate:"required"`
	TimeWindow         *TimeWindowRequest `json:"time_window"`
	PromoCode          string             `json:"promo_code" validate:"max=50"`
	Visuals            *domain.Visuals    `json:"visuals"`
}

func (req *PromotionRequest) toInput() (*service.PromotionInput, error) {
	cfg, err := domain.UnmarshalDiscountConfig(req.Config)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	input := &service.PromotionInput{
		Name:               req.Name,
		Description:        req.Description,
		Active:             req.Active,
		EndDate:            req.EndDate,
		Priority:           req.Priority,
		Stackable:          req.Stackable,
		UsageLimitTotal:    req.UsageLimitTotal,
		MaxUsesPerCustomer: req.MaxUsesPerCustomer,
		Conditions:         req.Conditions,
		Config:             cfg,
		PromoCode:          req.PromoCode,
		Visuals:            req.Visuals,
	}
	if req.StartDate != nil {
		input.StartDate = *req.StartDate
	}
	if tw := req.TimeWindow; tw != nil {
		input.TimeWindow = &domain.TimeWindow{DaysOfWeek: tw.DaysOfWeek}
		if tw.HoursOfDay != nil {
			input.TimeWindow.HoursOfDay = &domain.HourRange{Start: tw.HoursOfDay.Start, End: tw.HoursOfDay.End}
		}
	}
	return input, nil
}

// --- Handlers ---

// CreatePromotion handles POST /api/v1/promotions
func (h *PromotionHandler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req PromotionRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	p, err := h.promotions.CreatePromotion(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, p)
}

// ListPromotions handles GET /api/v1/promotions
func (h *PromotionHandler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r)
	q := r.URL.Query()

	active, err := boolParam(q, "active")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	codeOnly, err := boolParam(q, "code_only")
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	filter := repository.PromotionFilter{
		Active:   active,
		CodeOnly: codeOnly,
		Search:   q.Get("search"),
		Page:     page.Page,
		PerPage:  page.PerPage,
	}

	promotions, total, err := h.promotions.ListPromotions(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(promotions, total, page))
}

// GetPromotion handles GET /api/v1/promotions/{id}
func (h *PromotionHandler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.promotions.GetPromotion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, p)
}

// UpdatePromotion handles PUT /api/v1/promotions/{id}
func (h *PromotionHandler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	var req PromotionRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	p, err := h.promotions.UpdatePromotion(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, p)
}

// DeletePromotion handles DELETE /api/v1/promotions/{id}
func (h *PromotionHandler) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	if err := h.promotions.DeletePromotion(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ActivatePromotion handles POST /api/v1/promotions/{id}/activate
func (h *PromotionHandler) ActivatePromotion(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivatePromotion handles POST /api/v1/promotions/{id}/deactivate
func (h *PromotionHandler) DeactivatePromotion(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *PromotionHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	p, err := h.promotions.SetActive(r.Context(), chi.URLParam(r, "id"), active)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, p)
}

// ListUsages handles GET /api/v1/promotions/{id}/usages
func (h *PromotionHandler) ListUsages(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r)

	usages, total, err := h.promotions.ListUsages(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(usages, total, page))
}

// CustomerEligibility handles GET /api/v1/promotions/{id}/customers/{phone}/eligibility
func (h *PromotionHandler) CustomerEligibility(w http.ResponseWriter, r *http.Request) {
	phone, err := url.PathUnescape(chi.URLParam(r, "phone"))
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid phone"), h.logger)
		return
	}

	el, err := h.evaluations.CanCustomerUse(r.Context(), chi.URLParam(r, "id"), phone)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, el)
}

// boolParam reads an optional boolean query parameter.
func boolParam(q url.Values, name string) (*bool, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be true or false")
	}
	return &b, nil
}
