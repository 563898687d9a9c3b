package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/segyhp/installment-engine/internal/domain"
	customError "github.com/segyhp/installment-engine/pkg/errors"
)

type eligibilityRepository struct {
	db sqlx.ExtContext
}

// eligibilityRow mirrors installment_eligibility; plan sizes travel as an INTEGER[].
type eligibilityRow struct {
	DuesID           uuid.UUID     `db:"dues_id"`
	IsEligible       bool          `db:"is_eligible"`
	AllowedPlanSizes pq.Int64Array `db:"allowed_plan_sizes"`
	SetBy            uuid.UUID     `db:"set_by"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

func (r *eligibilityRepository) GetByDuesID(ctx context.Context, duesID uuid.UUID) (*domain.Eligibility, error) {
	query := `
		SELECT dues_id, is_eligible, allowed_plan_sizes, set_by, updated_at
		FROM installment_eligibility
		WHERE dues_id = $1
	`

	var row eligibilityRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, duesID); err != nil {
		return nil, notFound(err, customError.ErrEligibilityNotFound, "get eligibility "+duesID.String())
	}

	sizes := make([]int, len(row.AllowedPlanSizes))
	for i, size := range row.AllowedPlanSizes {
		sizes[i] = int(size)
	}

	return &domain.Eligibility{
		DuesID:           row.DuesID,
		IsEligible:       row.IsEligible,
		AllowedPlanSizes: sizes,
		SetBy:            row.SetBy,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

func (r *eligibilityRepository) Upsert(ctx context.Context, eligibility *domain.Eligibility) error {
	query := `
		INSERT INTO installment_eligibility (dues_id, is_eligible, allowed_plan_sizes, set_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dues_id) DO UPDATE
		SET is_eligible = EXCLUDED.is_eligible,
		    allowed_plan_sizes = EXCLUDED.allowed_plan_sizes,
		    set_by = EXCLUDED.set_by,
		    updated_at = EXCLUDED.updated_at
	`

	sizes := make(pq.Int64Array, len(eligibility.AllowedPlanSizes))
	for i, size := range eligibility.AllowedPlanSizes {
		sizes[i] = int64(size)
	}

	_, err := r.db.ExecContext(ctx, query,
		eligibility.DuesID,
		eligibility.IsEligible,
		sizes,
		eligibility.SetBy,
		eligibility.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert eligibility: %w", err)
	}
	return nil
}

type payoutAccountRepository struct {
	db sqlx.ExtContext
}

func (r *payoutAccountRepository) GetByChapterID(ctx context.Context, chapterID uuid.UUID) (*domain.ConnectedPayoutAccount, error) {
	query := `
		SELECT chapter_id, external_account_ref, charges_enabled
		FROM connected_payout_accounts
		WHERE chapter_id = $1
	`

	var account domain.ConnectedPayoutAccount
	if err := sqlx.GetContext(ctx, r.db, &account, query, chapterID); err != nil {
		return nil, notFound(err, customError.ErrPayoutAccountNotFound, "get payout account "+chapterID.String())
	}
	return &account, nil
}

func (r *payoutAccountRepository) Upsert(ctx context.Context, account *domain.ConnectedPayoutAccount) error {
	query := `
		INSERT INTO connected_payout_accounts (chapter_id, external_account_ref, charges_enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (chapter_id) DO UPDATE
		SET external_account_ref = EXCLUDED.external_account_ref,
		    charges_enabled = EXCLUDED.charges_enabled
	`

	if _, err := r.db.ExecContext(ctx, query, account.ChapterID, account.ExternalAccountRef, account.ChargesEnabled); err != nil {
		return fmt.Errorf("upsert payout account: %w", err)
	}
	return nil
}

type paymentMethodRepository struct {
	db sqlx.ExtContext
}

func (r *paymentMethodRepository) Create(ctx context.Context, method *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (ref, user_id, type, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.ExecContext(ctx, query, method.Ref, method.UserID, method.Type, method.CreatedAt); err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

func (r *paymentMethodRepository) GetByRef(ctx context.Context, ref string) (*domain.PaymentMethod, error) {
	query := `SELECT ref, user_id, type, created_at FROM payment_methods WHERE ref = $1`

	var method domain.PaymentMethod
	if err := sqlx.GetContext(ctx, r.db, &method, query, ref); err != nil {
		return nil, notFound(err, customError.ErrPaymentMethodNotFound, "get payment method")
	}
	return &method, nil
}
