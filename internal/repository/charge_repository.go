package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/installment-engine/internal/domain"
	customError "github.com/segyhp/installment-engine/pkg/errors"
)

const chargeColumns = `id, payment_id, idempotency_key, payment_method_type, base_amount, processor_fee, platform_fee,
	total_charge, net_amount, external_charge_ref, confirmation_handle, status, failure_reason, created_at, updated_at`

type chargeRepository struct {
	db sqlx.ExtContext
}

func (r *chargeRepository) Create(ctx context.Context, charge *domain.ChargeRecord) error {
	query := `
		INSERT INTO charge_records (` + chargeColumns + `)
		VALUES (:id, :payment_id, :idempotency_key, :payment_method_type, :base_amount, :processor_fee, :platform_fee,
			:total_charge, :net_amount, :external_charge_ref, :confirmation_handle, :status, :failure_reason, :created_at, :updated_at)
	`

	if _, err := sqlx.NamedExecContext(ctx, r.db, query, charge); err != nil {
		return fmt.Errorf("insert charge record: %w", err)
	}
	return nil
}

func (r *chargeRepository) GetByExternalRef(ctx context.Context, chargeRef string) (*domain.ChargeRecord, error) {
	query := `SELECT ` + chargeColumns + ` FROM charge_records WHERE external_charge_ref = $1`

	var charge domain.ChargeRecord
	if err := sqlx.GetContext(ctx, r.db, &charge, query, chargeRef); err != nil {
		return nil, notFound(err, customError.ErrChargeNotFound, "get charge "+chargeRef)
	}
	return &charge, nil
}

func (r *chargeRepository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*domain.ChargeRecord, error) {
	query := `
		SELECT ` + chargeColumns + `
		FROM charge_records
		WHERE payment_id = $1
		ORDER BY created_at
	`

	var charges []*domain.ChargeRecord
	if err := sqlx.SelectContext(ctx, r.db, &charges, query, paymentID); err != nil {
		return nil, fmt.Errorf("list charges for payment %s: %w", paymentID, err)
	}
	return charges, nil
}

func (r *chargeRepository) Update(ctx context.Context, charge *domain.ChargeRecord) error {
	query := `
		UPDATE charge_records
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, charge.ID, charge.Status, charge.FailureReason, charge.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update charge record: %w", err)
	}
	return expectOneRow(result, customError.ErrChargeNotFound, "update charge "+charge.ID.String())
}
