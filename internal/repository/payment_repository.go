package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/installment-engine/internal/domain"
	customError "github.com/segyhp/installment-engine/pkg/errors"
	"github.com/segyhp/installment-engine/pkg/utils"
)

const paymentColumns = `id, plan_id, installment_number, amount, scheduled_date, status, attempt_count,
	next_attempt_at, paid_at, external_charge_ref, created_at, updated_at`

type paymentRepository struct {
	db sqlx.ExtContext
}

func (r *paymentRepository) CreateBatch(ctx context.Context, payments []*domain.InstallmentPayment) error {
	query := `
		INSERT INTO installment_payments (` + paymentColumns + `)
		VALUES (:id, :plan_id, :installment_number, :amount, :scheduled_date, :status, :attempt_count,
			:next_attempt_at, :paid_at, :external_charge_ref, :created_at, :updated_at)
	`

	for _, payment := range payments {
		if _, err := sqlx.NamedExecContext(ctx, r.db, query, payment); err != nil {
			return fmt.Errorf("insert installment %d: %w", payment.InstallmentNumber, err)
		}
	}
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.InstallmentPayment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM installment_payments WHERE id = $1`, id)
}

func (r *paymentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.InstallmentPayment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM installment_payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *paymentRepository) get(ctx context.Context, query string, id uuid.UUID) (*domain.InstallmentPayment, error) {
	var payment domain.InstallmentPayment
	if err := sqlx.GetContext(ctx, r.db, &payment, query, id); err != nil {
		return nil, notFound(err, customError.ErrPaymentNotFound, "get payment "+id.String())
	}
	return &payment, nil
}

func (r *paymentRepository) ListByPlanID(ctx context.Context, planID uuid.UUID) ([]*domain.InstallmentPayment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM installment_payments
		WHERE plan_id = $1
		ORDER BY installment_number
	`

	var payments []*domain.InstallmentPayment
	if err := sqlx.SelectContext(ctx, r.db, &payments, query, planID); err != nil {
		return nil, fmt.Errorf("list payments for plan %s: %w", planID, err)
	}
	return payments, nil
}

func (r *paymentRepository) ListSweepCandidates(ctx context.Context, now time.Time, maxAttempts int) ([]*domain.InstallmentPayment, error) {
	query := `
		SELECT p.id, p.plan_id, p.installment_number, p.amount, p.scheduled_date, p.status, p.attempt_count,
			p.next_attempt_at, p.paid_at, p.external_charge_ref, p.created_at, p.updated_at
		FROM installment_payments p
		JOIN installment_plans pl ON pl.id = p.plan_id
		WHERE pl.status = 'active'
		  AND (
		    (p.status = 'scheduled' AND p.scheduled_date <= $1)
		    OR (p.status = 'failed' AND p.attempt_count < $2 AND p.next_attempt_at <= $3)
		  )
		ORDER BY p.plan_id, p.installment_number
	`

	var payments []*domain.InstallmentPayment
	if err := sqlx.SelectContext(ctx, r.db, &payments, query, utils.DateOnly(now), maxAttempts, now); err != nil {
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) Update(ctx context.Context, payment *domain.InstallmentPayment) error {
	query := `
		UPDATE installment_payments
		SET status = $2, attempt_count = $3, next_attempt_at = $4, paid_at = $5, external_charge_ref = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.Status,
		payment.AttemptCount,
		payment.NextAttemptAt,
		payment.PaidAt,
		payment.ExternalChargeRef,
		payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return expectOneRow(result, customError.ErrPaymentNotFound, "update payment "+payment.ID.String())
}
