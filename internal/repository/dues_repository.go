package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/installment-engine/internal/domain"
	customError "github.com/segyhp/installment-engine/pkg/errors"
)

const duesColumns = `id, chapter_id, member_id, total_amount, amount_paid, balance, due_date, status, created_at, updated_at`

type duesRepository struct {
	db sqlx.ExtContext
}

func (r *duesRepository) Create(ctx context.Context, dues *domain.DuesBalance) error {
	query := `
		INSERT INTO dues_balances (` + duesColumns + `)
		VALUES (:id, :chapter_id, :member_id, :total_amount, :amount_paid, :balance, :due_date, :status, :created_at, :updated_at)
	`

	if _, err := sqlx.NamedExecContext(ctx, r.db, query, dues); err != nil {
		return fmt.Errorf("insert dues balance: %w", err)
	}
	return nil
}

func (r *duesRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DuesBalance, error) {
	return r.get(ctx, `SELECT `+duesColumns+` FROM dues_balances WHERE id = $1`, id)
}

func (r *duesRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.DuesBalance, error) {
	return r.get(ctx, `SELECT `+duesColumns+` FROM dues_balances WHERE id = $1 FOR UPDATE`, id)
}

func (r *duesRepository) get(ctx context.Context, query string, id uuid.UUID) (*domain.DuesBalance, error) {
	var dues domain.DuesBalance
	if err := sqlx.GetContext(ctx, r.db, &dues, query, id); err != nil {
		return nil, notFound(err, customError.ErrDuesNotFound, "get dues balance "+id.String())
	}
	return &dues, nil
}

func (r *duesRepository) Update(ctx context.Context, dues *domain.DuesBalance) error {
	query := `
		UPDATE dues_balances
		SET amount_paid = $2, balance = $3, status = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, dues.ID, dues.AmountPaid, dues.Balance, dues.Status, dues.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update dues balance: %w", err)
	}
	return expectOneRow(result, customError.ErrDuesNotFound, "update dues balance "+dues.ID.String())
}
