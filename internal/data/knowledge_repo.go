package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lumiscan/lumiscan-api/internal/core"
	"github.com/lumiscan/lumiscan-api/internal/domain/model"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// KnowledgeRepo reads the two-table knowledge corpus. Procedures and
// self-care items live in separate tables with kind-specific columns and
// are surfaced through the shared KnowledgeItem view.
type KnowledgeRepo struct {
	DB *sql.DB
}

// NewKnowledgeRepo creates a new KnowledgeRepo instance.
func NewKnowledgeRepo(db *sql.DB) *KnowledgeRepo {
	return &KnowledgeRepo{DB: db}
}

const defaultSearchLimit = 25

// Search returns corpus items of one kind whose display name or category
// matches the keyword, ordered by display name for a stable candidate
// sequence.
func (r *KnowledgeRepo) Search(ctx context.Context, params core.KnowledgeSearchParams) ([]*model.KnowledgeItem, error) {
	if !params.Kind.Valid() {
		return nil, apperrors.Validationf("invalid knowledge kind %q", params.Kind)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	pattern := "%" + params.Keyword + "%"

	switch params.Kind {
	case model.KnowledgeKindProcedure:
		return r.searchProcedures(ctx, pattern, limit)
	default:
		return r.searchSelfCare(ctx, pattern, limit)
	}
}

func (r *KnowledgeRepo) searchProcedures(ctx context.Context, pattern string, limit int) ([]*model.KnowledgeItem, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, display_name, category, cost_low_cents, cost_high_cents, duration, side_effects,
		       downtime_days, clinical_grade, anesthesia, created_at
		FROM procedures
		WHERE display_name ILIKE $1 OR category ILIKE $1
		ORDER BY display_name ASC
		LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("search procedures: %w", err))
	}
	defer rows.Close()

	var items []*model.KnowledgeItem
	for rows.Next() {
		item := &model.KnowledgeItem{Kind: model.KnowledgeKindProcedure, Procedure: &model.ProcedureDetails{}}
		if scanErr := rows.Scan(
			&item.ID, &item.DisplayName, &item.Category, &item.CostLowCents, &item.CostHighCents,
			&item.Duration, &item.SideEffects,
			&item.Procedure.DowntimeDays, &item.Procedure.ClinicalGrade, &item.Procedure.Anesthesia,
			&item.CreatedAt,
		); scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan procedure: %w", scanErr))
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("search procedures: %w", err))
	}
	return items, nil
}

func (r *KnowledgeRepo) searchSelfCare(ctx context.Context, pattern string, limit int) ([]*model.KnowledgeItem, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, display_name, category, cost_low_cents, cost_high_cents, duration, side_effects,
		       frequency_per_week, product_type, steps, created_at
		FROM self_care_items
		WHERE display_name ILIKE $1 OR category ILIKE $1
		ORDER BY display_name ASC
		LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("search self care items: %w", err))
	}
	defer rows.Close()

	var items []*model.KnowledgeItem
	for rows.Next() {
		item := &model.KnowledgeItem{Kind: model.KnowledgeKindSelfCare, SelfCare: &model.SelfCareDetails{}}
		if scanErr := rows.Scan(
			&item.ID, &item.DisplayName, &item.Category, &item.CostLowCents, &item.CostHighCents,
			&item.Duration, &item.SideEffects,
			&item.SelfCare.FrequencyPerWeek, &item.SelfCare.ProductType, &item.SelfCare.Steps,
			&item.CreatedAt,
		); scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan self care item: %w", scanErr))
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("search self care items: %w", err))
	}
	return items, nil
}

// GetByID fetches one corpus item. The two tables share one id namespace,
// so the procedure table is probed first and the self-care table on a miss.
func (r *KnowledgeRepo) GetByID(ctx context.Context, id string) (*model.KnowledgeItem, error) {
	item := &model.KnowledgeItem{Kind: model.KnowledgeKindProcedure, Procedure: &model.ProcedureDetails{}}
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, display_name, category, cost_low_cents, cost_high_cents, duration, side_effects,
		       downtime_days, clinical_grade, anesthesia, created_at
		FROM procedures
		WHERE id = $1`,
		id,
	).Scan(
		&item.ID, &item.DisplayName, &item.Category, &item.CostLowCents, &item.CostHighCents,
		&item.Duration, &item.SideEffects,
		&item.Procedure.DowntimeDays, &item.Procedure.ClinicalGrade, &item.Procedure.Anesthesia,
		&item.CreatedAt,
	)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.MapDBError(fmt.Errorf("get procedure: %w", err))
	}

	item = &model.KnowledgeItem{Kind: model.KnowledgeKindSelfCare, SelfCare: &model.SelfCareDetails{}}
	err = r.DB.QueryRowContext(ctx, `
		SELECT id, display_name, category, cost_low_cents, cost_high_cents, duration, side_effects,
		       frequency_per_week, product_type, steps, created_at
		FROM self_care_items
		WHERE id = $1`,
		id,
	).Scan(
		&item.ID, &item.DisplayName, &item.Category, &item.CostLowCents, &item.CostHighCents,
		&item.Duration, &item.SideEffects,
		&item.SelfCare.FrequencyPerWeek, &item.SelfCare.ProductType, &item.SelfCare.Steps,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("knowledge item not found")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get self care item: %w", err))
	}
	return item, nil
}
