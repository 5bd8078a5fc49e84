package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/database"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
	"github.com/MKtraining-fr/OUIOUIMANUS8/pkg/pagination"
)

const promotionColumns = `id, name, description, active, start_date, end_date, priority, stackable,
		   usage_limit_total, usage_count, max_uses_per_customer, conditions, config,
		   time_window, promo_code, visuals, created_at, updated_at`

// currentlyValid selects promotions that are on, started, not ended and below
// their usage cap at $1.
const currentlyValid = `active
		  AND start_date <= $1
		  AND (end_date IS NULL OR end_date >= $1)
		  AND (usage_limit_total IS NULL OR usage_count < usage_limit_total)`

const (
	listActiveQuery = `
		SELECT ` + promotionColumns + `
		FROM promotions
		WHERE ` + currentlyValid + `
		ORDER BY priority DESC, created_at DESC`

	findByCodeQuery = `
		SELECT ` + promotionColumns + `
		FROM promotions
		WHERE ` + currentlyValid + `
		  AND promo_code IS NOT NULL
		  AND lower(promo_code) = lower($2)
		ORDER BY priority DESC, created_at DESC
		LIMIT 1`

	getByIDQuery = `
		SELECT ` + promotionColumns + `
		FROM promotions
		WHERE id = $1`

	insertPromotionQuery = `
		INSERT INTO promotions (
			id, name, description, active, start_date, end_date, priority, stackable,
			usage_limit_total, usage_count, max_uses_per_customer, conditions, config,
			time_window, promo_code, visuals, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	updatePromotionQuery = `
		UPDATE promotions
		SET name = $1, description = $2, active = $3, start_date = $4, end_date = $5,
		    priority = $6, stackable = $7, usage_limit_total = $8, max_uses_per_customer = $9,
		    conditions = $10, config = $11, time_window = $12, promo_code = $13, visuals = $14,
		    updated_at = $15
		WHERE id = $16`

	deletePromotionQuery = `DELETE FROM promotions WHERE id = $1`

	setActiveQuery = `UPDATE promotions SET active = $1, updated_at = $2 WHERE id = $3`

	incrementUsageQuery = `
		UPDATE promotions
		SET usage_count = usage_count + 1, updated_at = $2
		WHERE id = $1`

	insertUsageQuery = `
		INSERT INTO promotion_usages (id, promotion_id, order_id, customer_phone, discount_amount, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (promotion_id, order_id) DO NOTHING`

	listUsagesQuery = `
		SELECT id, promotion_id, order_id, customer_phone, discount_amount, applied_at,
		       count(*) OVER() AS total_count
		FROM promotion_usages
		WHERE promotion_id = $1
		ORDER BY applied_at DESC
		LIMIT $2 OFFSET $3`

	countCustomerUsagesQuery = `
		SELECT promotion_id, count(*)
		FROM promotion_usages
		WHERE customer_phone = $1 AND promotion_id = ANY($2)
		GROUP BY promotion_id`
)

// PromotionRepository implements repository.PromotionRepository using PostgreSQL.
type PromotionRepository struct {
	db database.DBTX
}

// NewPromotionRepository creates a new PostgreSQL-backed promotion repository.
func NewPromotionRepository(db database.DBTX) *PromotionRepository {
	return &PromotionRepository{db: db}
}

var _ repository.PromotionRepository = (*PromotionRepository)(nil)

// ListActive returns the currently valid promotions, best priority first.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) (_ []domain.Promotion, err error) {
	ctx, end := database.TraceQuery(ctx, "ListActivePromotions", listActiveQuery)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listActiveQuery, now)
	if err != nil {
		return nil, fmt.Errorf("list active promotions: %w", err)
	}
	defer rows.Close()

	promotions := []domain.Promotion{}
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		promotions = append(promotions, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active promotions: %w", err)
	}

	return promotions, nil
}

// FindByCode looks up a currently valid promotion by promo code.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string, now time.Time) (_ *domain.Promotion, err error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	ctx, end := database.TraceQuery(ctx, "FindPromotionByCode", findByCodeQuery)
	defer func() { end(err) }()

	p, err := scanPromotion(r.db.QueryRow(ctx, findByCodeQuery, now, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find promotion by code: %w", err)
	}
	return p, nil
}

// RecordUsage increments the usage count and inserts the usage row in one
// transaction. The increment is done in SQL so concurrent orders are never
// under-counted.
func (r *PromotionRepository) RecordUsage(ctx context.Context, usage *domain.PromotionUsage) (_ *domain.PromotionUsage, err error) {
	ctx, end := database.TraceQuery(ctx, "RecordPromotionUsage", insertUsageQuery)
	defer func() { end(err) }()

	u := *usage
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.AppliedAt.IsZero() {
		u.AppliedAt = time.Now().UTC()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin record usage tx: %w", err)
	}

	ct, err := tx.Exec(ctx, incrementUsageQuery, u.PromotionID, u.AppliedAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("increment promotion usage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return nil, apperrors.NotFound("promotion", u.PromotionID)
	}

	ct, err = tx.Exec(ctx, insertUsageQuery,
		u.ID,
		u.PromotionID,
		u.OrderID,
		nullIfEmpty(u.CustomerPhone),
		u.DiscountAmount,
		u.AppliedAt,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("insert promotion usage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return nil, apperrors.AlreadyExists("promotion usage", "order_id", u.OrderID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit record usage tx: %w", err)
	}

	return &u, nil
}

// Create inserts a new promotion into the database.
func (r *PromotionRepository) Create(ctx context.Context, p *domain.Promotion) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreatePromotion", insertPromotionQuery)
	defer func() { end(err) }()

	enc, err := encodePromotion(p)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, insertPromotionQuery,
		p.ID,
		p.Name,
		p.Description,
		p.Active,
		p.StartDate,
		p.EndDate,
		p.Priority,
		p.Stackable,
		p.UsageLimitTotal,
		p.UsageCount,
		p.MaxUsesPerCustomer,
		enc.conditions,
		enc.config,
		enc.timeWindow,
		nullIfEmpty(p.PromoCode),
		enc.visuals,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("promotion", "promo_code", p.PromoCode)
		}
		return fmt.Errorf("insert promotion: %w", err)
	}

	return nil
}

// GetByID retrieves a promotion by its ID.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (_ *domain.Promotion, err error) {
	ctx, end := database.TraceQuery(ctx, "GetPromotion", getByIDQuery)
	defer func() { end(err) }()

	p, err := scanPromotion(r.db.QueryRow(ctx, getByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("promotion", id)
		}
		return nil, fmt.Errorf("get promotion: %w", err)
	}
	return p, nil
}

// List returns promotions matching the given filter with the total count.
func (r *PromotionRepository) List(ctx context.Context, filter repository.PromotionFilter) (_ []domain.Promotion, _ int, err error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", argIndex))
		args = append(args, *filter.Active)
		argIndex++
	}

	if filter.CodeOnly != nil {
		if *filter.CodeOnly {
			conditions = append(conditions, "promo_code IS NOT NULL")
		} else {
			conditions = append(conditions, "promo_code IS NULL")
		}
	}

	if s := strings.TrimSpace(filter.Search); s != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR promo_code ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+s+"%")
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s,
		       count(*) OVER() AS total_count
		FROM promotions
		%s
		ORDER BY priority DESC, created_at DESC
		LIMIT $%d OFFSET $%d`,
		promotionColumns, whereClause, argIndex, argIndex+1,
	)

	ctx, end := database.TraceQuery(ctx, "ListPromotions", query)
	defer func() { end(err) }()

	page := normalizePage(filter.Page, filter.PerPage)
	args = append(args, page.PerPage, page.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list promotions: %w", err)
	}
	defer rows.Close()

	var (
		promotions = []domain.Promotion{}
		totalCount int
	)
	for rows.Next() {
		p, err := scanPromotion(rows, &totalCount)
		if err != nil {
			return nil, 0, err
		}
		promotions = append(promotions, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate promotion rows: %w", err)
	}

	return promotions, totalCount, nil
}

// Update modifies an existing promotion in the database.
func (r *PromotionRepository) Update(ctx context.Context, p *domain.Promotion) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdatePromotion", updatePromotionQuery)
	defer func() { end(err) }()

	enc, err := encodePromotion(p)
	if err != nil {
		return err
	}

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	ct, err := r.db.Exec(ctx, updatePromotionQuery,
		p.Name,
		p.Description,
		p.Active,
		p.StartDate,
		p.EndDate,
		p.Priority,
		p.Stackable,
		p.UsageLimitTotal,
		p.MaxUsesPerCustomer,
		enc.conditions,
		enc.config,
		enc.timeWindow,
		nullIfEmpty(p.PromoCode),
		enc.visuals,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("promotion", "promo_code", p.PromoCode)
		}
		return fmt.Errorf("update promotion: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("promotion", p.ID)
	}

	return nil
}

// Delete removes a promotion. Its usages go with it through the foreign key.
func (r *PromotionRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, "DeletePromotion", deletePromotionQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, deletePromotionQuery, id)
	if err != nil {
		return fmt.Errorf("delete promotion: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("promotion", id)
	}
	return nil
}

// SetActive switches a promotion on or off.
func (r *PromotionRepository) SetActive(ctx context.Context, id string, active bool) (err error) {
	ctx, end := database.TraceQuery(ctx, "SetPromotionActive", setActiveQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, setActiveQuery, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set promotion active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("promotion", id)
	}
	return nil
}

// ListUsages returns one page of a promotion's usage history.
func (r *PromotionRepository) ListUsages(ctx context.Context, promotionID string, page pagination.Params) (_ []domain.PromotionUsage, _ int, err error) {
	ctx, end := database.TraceQuery(ctx, "ListPromotionUsages", listUsagesQuery)
	defer func() { end(err) }()

	page = normalizePage(page.Page, page.PerPage)
	rows, err := r.db.Query(ctx, listUsagesQuery, promotionID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list promotion usages: %w", err)
	}
	defer rows.Close()

	var (
		usages     = []domain.PromotionUsage{}
		totalCount int
	)
	for rows.Next() {
		var (
			u     domain.PromotionUsage
			phone *string
		)
		if err := rows.Scan(&u.ID, &u.PromotionID, &u.OrderID, &phone, &u.DiscountAmount, &u.AppliedAt, &totalCount); err != nil {
			return nil, 0, fmt.Errorf("scan promotion usage: %w", err)
		}
		if phone != nil {
			u.CustomerPhone = *phone
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate promotion usages: %w", err)
	}

	return usages, totalCount, nil
}

// CountCustomerUsages counts a customer's past usages per promotion.
func (r *PromotionRepository) CountCustomerUsages(ctx context.Context, customerPhone string, promotionIDs []string) (_ map[string]int, err error) {
	counts := make(map[string]int)
	if customerPhone == "" || len(promotionIDs) == 0 {
		return counts, nil
	}

	ctx, end := database.TraceQuery(ctx, "CountCustomerUsages", countCustomerUsagesQuery)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, countCustomerUsagesQuery, customerPhone, promotionIDs)
	if err != nil {
		return nil, fmt.Errorf("count customer usages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan customer usage count: %w", err)
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer usage counts: %w", err)
	}

	return counts, nil
}

// encodedPromotion holds the JSONB columns of a promotion.
type encodedPromotion struct {
	conditions []byte
	config     []byte
	timeWindow []byte
	visuals    []byte
}

func encodePromotion(p *domain.Promotion) (encodedPromotion, error) {
	var (
		enc encodedPromotion
		err error
	)

	conditions := p.Conditions
	if conditions == nil {
		conditions = domain.Conditions{}
	}
	if enc.conditions, err = json.Marshal(conditions); err != nil {
		return enc, fmt.Errorf("marshal conditions: %w", err)
	}
	if enc.config, err = domain.MarshalDiscountConfig(p.Config); err != nil {
		return enc, fmt.Errorf("marshal config: %w", err)
	}
	if p.TimeWindow != nil {
		if enc.timeWindow, err = json.Marshal(p.TimeWindow); err != nil {
			return enc, fmt.Errorf("marshal time_window: %w", err)
		}
	}
	if p.Visuals != nil {
		if enc.visuals, err = json.Marshal(p.Visuals); err != nil {
			return enc, fmt.Errorf("marshal visuals: %w", err)
		}
	}
	return enc, nil
}

// scanPromotion reads one promotion row. extra receives any columns selected
// after the promotion columns, such as a window count.
func scanPromotion(row pgx.Row, extra ...any) (*domain.Promotion, error) {
	var (
		p              domain.Promotion
		conditionsJSON []byte
		configJSON     []byte
		timeWindowJSON []byte
		visualsJSON    []byte
		promoCode      *string
	)

	dest := []any{
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Active,
		&p.StartDate,
		&p.EndDate,
		&p.Priority,
		&p.Stackable,
		&p.UsageLimitTotal,
		&p.UsageCount,
		&p.MaxUsesPerCustomer,
		&conditionsJSON,
		&configJSON,
		&timeWindowJSON,
		&promoCode,
		&visualsJSON,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan promotion: %w", err)
	}

	if promoCode != nil {
		p.PromoCode = *promoCode
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &p.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions of promotion %s: %w", p.ID, err)
		}
	}
	if p.Conditions == nil {
		p.Conditions = domain.Conditions{}
	}
	// A config of an unknown kind leaves the promotion inert rather than
	// failing the whole listing.
	if cfg, err := domain.UnmarshalDiscountConfig(configJSON); err == nil {
		p.Config = cfg
	}
	if len(timeWindowJSON) > 0 {
		if err := json.Unmarshal(timeWindowJSON, &p.TimeWindow); err != nil {
			return nil, fmt.Errorf("unmarshal time_window of promotion %s: %w", p.ID, err)
		}
	}
	if len(visualsJSON) > 0 {
		if err := json.Unmarshal(visualsJSON, &p.Visuals); err != nil {
			return nil, fmt.Errorf("unmarshal visuals of promotion %s: %w", p.ID, err)
		}
	}

	return &p, nil
}

func normalizePage(page, perPage int) pagination.Params {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return pagination.Params{Page: page, PerPage: perPage}
}

func nullIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
