package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/installment-engine/internal/domain"
	customError "github.com/segyhp/installment-engine/pkg/errors"
)

const planColumns = `id, dues_id, member_id, chapter_id, total_amount, num_installments, installment_base_amount,
	payment_method_ref, payment_method_type, status, needs_attention, next_due_date, created_at, updated_at, cancelled_at`

type planRepository struct {
	db sqlx.ExtContext
}

func (r *planRepository) Create(ctx context.Context, plan *domain.InstallmentPlan) error {
	query := `
		INSERT INTO installment_plans (` + planColumns + `)
		VALUES (:id, :dues_id, :member_id, :chapter_id, :total_amount, :num_installments, :installment_base_amount,
			:payment_method_ref, :payment_method_type, :status, :needs_attention, :next_due_date, :created_at, :updated_at, :cancelled_at)
	`

	if _, err := sqlx.NamedExecContext(ctx, r.db, query, plan); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert plan for dues %s: %w", plan.DuesID, customError.ErrActivePlanExists)
		}
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (r *planRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.InstallmentPlan, error) {
	return r.get(ctx, `SELECT `+planColumns+` FROM installment_plans WHERE id = $1`, id)
}

func (r *planRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.InstallmentPlan, error) {
	return r.get(ctx, `SELECT `+planColumns+` FROM installment_plans WHERE id = $1 FOR UPDATE`, id)
}

func (r *planRepository) GetActiveByDuesID(ctx context.Context, duesID uuid.UUID) (*domain.InstallmentPlan, error) {
	return r.get(ctx, `SELECT `+planColumns+` FROM installment_plans WHERE dues_id = $1 AND status = 'active'`, duesID)
}

func (r *planRepository) get(ctx context.Context, query string, arg uuid.UUID) (*domain.InstallmentPlan, error) {
	var plan domain.InstallmentPlan
	if err := sqlx.GetContext(ctx, r.db, &plan, query, arg); err != nil {
		return nil, notFound(err, customError.ErrPlanNotFound, "get plan "+arg.String())
	}
	return &plan, nil
}

func (r *planRepository) Update(ctx context.Context, plan *domain.InstallmentPlan) error {
	query := `
		UPDATE installment_plans
		SET status = $2, needs_attention = $3, next_due_date = $4, updated_at = $5, cancelled_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		plan.ID,
		plan.Status,
		plan.NeedsAttention,
		plan.NextDueDate,
		plan.UpdatedAt,
		plan.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return expectOneRow(result, customError.ErrPlanNotFound, "update plan "+plan.ID.String())
}

func (r *planRepository) ListNeedingAttention(ctx context.Context, chapterID uuid.UUID) ([]*domain.InstallmentPlan, error) {
	query := `
		SELECT ` + planColumns + `
		FROM installment_plans
		WHERE chapter_id = $1 AND needs_attention
		ORDER BY updated_at DESC
	`

	var plans []*domain.InstallmentPlan
	if err := sqlx.SelectContext(ctx, r.db, &plans, query, chapterID); err != nil {
		return nil, fmt.Errorf("list plans needing attention: %w", err)
	}
	return plans, nil
}
