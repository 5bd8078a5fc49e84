// Package memory provides an in-process promotion store for local runs and
// tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/engine"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/pagination"
)

type entry struct {
	promotion domain.Promotion
	seq       int64
}

type usageKey struct {
	promotionID string
	orderID     string
}

// PromotionRepository is a mutex guarded, in-memory repository.PromotionRepository.
type PromotionRepository struct {
	mu         sync.RWMutex
	promotions map[string]*entry
	usages     []domain.PromotionUsage
	byOrder    map[usageKey]struct{}
	seq        int64
}

// NewPromotionRepository creates an empty store.
func NewPromotionRepository() *PromotionRepository {
	return &PromotionRepository{
		promotions: make(map[string]*entry),
		byOrder:    make(map[usageKey]struct{}),
	}
}

var _ repository.PromotionRepository = (*PromotionRepository)(nil)

// ListActive implements repository.PromotionRepository.
func (r *PromotionRepository) ListActive(_ context.Context, now time.Time) ([]domain.Promotion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Promotion{}
	for _, e := range r.sorted() {
		if engine.IsCurrentlyValid(&e.promotion, now) {
			out = append(out, e.promotion)
		}
	}
	return out, nil
}

// FindByCode implements repository.PromotionRepository.
func (r *PromotionRepository) FindByCode(_ context.Context, code string, now time.Time) (*domain.Promotion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.sorted() {
		p := e.promotion
		if p.PromoCode != "" && strings.EqualFold(p.PromoCode, code) && engine.IsCurrentlyValid(&p, now) {
			return &p, nil
		}
	}
	return nil, nil
}

// RecordUsage implements repository.PromotionRepository.
func (r *PromotionRepository) RecordUsage(_ context.Context, usage *domain.PromotionUsage) (*domain.PromotionUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.promotions[usage.PromotionID]
	if !ok {
		return nil, apperrors.NotFound("promotion", usage.PromotionID)
	}
	key := usageKey{promotionID: usage.PromotionID, orderID: usage.OrderID}
	if _, dup := r.byOrder[key]; dup {
		return nil, apperrors.AlreadyExists("promotion usage", "order_id", usage.OrderID)
	}

	u := *usage
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.AppliedAt.IsZero() {
		u.AppliedAt = time.Now().UTC()
	}

	e.promotion.UsageCount++
	e.promotion.UpdatedAt = u.AppliedAt
	r.byOrder[key] = struct{}{}
	r.usages = append(r.usages, u)
	return &u, nil
}

// Create implements repository.PromotionRepository.
func (r *PromotionRepository) Create(_ context.Context, p *domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.promotions[p.ID]; exists {
		return apperrors.AlreadyExists("promotion", "id", p.ID)
	}
	if err := r.checkCodeFree(p); err != nil {
		return err
	}

	r.seq++
	r.promotions[p.ID] = &entry{promotion: *p, seq: r.seq}
	return nil
}

// GetByID implements repository.PromotionRepository.
func (r *PromotionRepository) GetByID(_ context.Context, id string) (*domain.Promotion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.promotions[id]
	if !ok {
		return nil, apperrors.NotFound("promotion", id)
	}
	p := e.promotion
	return &p, nil
}

// List implements repository.PromotionRepository.
func (r *PromotionRepository) List(_ context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var matched []domain.Promotion
	for _, e := range r.sorted() {
		p := e.promotion
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		if filter.CodeOnly != nil && p.IsCodeOnly() != *filter.CodeOnly {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.PromoCode), search) {
			continue
		}
		matched = append(matched, p)
	}

	return page(matched, filter.Page, filter.PerPage), len(matched), nil
}

// Update implements repository.PromotionRepository.
func (r *PromotionRepository) Update(_ context.Context, p *domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.promotions[p.ID]
	if !ok {
		return apperrors.NotFound("promotion", p.ID)
	}
	if err := r.checkCodeFree(p); err != nil {
		return err
	}

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	updated := *p
	updated.UsageCount = e.promotion.UsageCount
	updated.CreatedAt = e.promotion.CreatedAt
	e.promotion = updated
	return nil
}

// Delete implements repository.PromotionRepository.
func (r *PromotionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.promotions[id]; !ok {
		return apperrors.NotFound("promotion", id)
	}
	delete(r.promotions, id)

	kept := r.usages[:0]
	for _, u := range r.usages {
		if u.PromotionID == id {
			delete(r.byOrder, usageKey{promotionID: id, orderID: u.OrderID})
			continue
		}
		kept = append(kept, u)
	}
	r.usages = kept
	return nil
}

// SetActive implements repository.PromotionRepository.
func (r *PromotionRepository) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.promotions[id]
	if !ok {
		return apperrors.NotFound("promotion", id)
	}
	e.promotion.Active = active
	e.promotion.UpdatedAt = time.Now().UTC()
	return nil
}

// ListUsages implements repository.PromotionRepository.
func (r *PromotionRepository) ListUsages(_ context.Context, promotionID string, p pagination.Params) ([]domain.PromotionUsage, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.PromotionUsage
	for i := len(r.usages) - 1; i >= 0; i-- {
		if r.usages[i].PromotionID == promotionID {
			matched = append(matched, r.usages[i])
		}
	}
	slices.SortStableFunc(matched, func(a, b domain.PromotionUsage) int {
		return b.AppliedAt.Compare(a.AppliedAt)
	})

	return page(matched, p.Page, p.PerPage), len(matched), nil
}

// CountCustomerUsages implements repository.PromotionRepository.
func (r *PromotionRepository) CountCustomerUsages(_ context.Context, customerPhone string, promotionIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	if customerPhone == "" || len(promotionIDs) == 0 {
		return counts, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.usages {
		if u.CustomerPhone == customerPhone && slices.Contains(promotionIDs, u.PromotionID) {
			counts[u.PromotionID]++
		}
	}
	return counts, nil
}

// sorted returns entries by descending priority, newest first on ties. The
// caller must hold the lock.
func (r *PromotionRepository) sorted() []*entry {
	out := make([]*entry, 0, len(r.promotions))
	for _, e := range r.promotions {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *entry) int {
		if c := cmp.Compare(b.promotion.Priority, a.promotion.Priority); c != 0 {
			return c
		}
		if c := b.promotion.CreatedAt.Compare(a.promotion.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	return out
}

// checkCodeFree rejects a promo code already used by another promotion. The
// caller must hold the lock.
func (r *PromotionRepository) checkCodeFree(p *domain.Promotion) error {
	code := strings.TrimSpace(p.PromoCode)
	if code == "" {
		return nil
	}
	for id, e := range r.promotions {
		if id != p.ID && strings.EqualFold(strings.TrimSpace(e.promotion.PromoCode), code) {
			return apperrors.AlreadyExists("promotion", "promo_code", p.PromoCode)
		}
	}
	return nil
}

func page[T any](items []T, pageNum, perPage int) []T {
	if pageNum <= 0 {
		pageNum = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	start := (pageNum - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := min(start+perPage, len(items))
	return append([]T(nil), items[start:end]...)
}
