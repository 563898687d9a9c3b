package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

type sqlStore struct {
	db *sqlx.DB
}

// NewStore returns a Store backed by Postgres.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) Repos() Repositories {
	return newRepositories(s.db)
}

func (s *sqlStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, newRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func newRepositories(db sqlx.ExtContext) Repositories {
	return Repositories{
		Dues:           &duesRepository{db: db},
		Eligibility:    &eligibilityRepository{db: db},
		Plans:          &planRepository{db: db},
		Payments:       &paymentRepository{db: db},
		Charges:        &chargeRepository{db: db},
		PayoutAccounts: &payoutAccountRepository{db: db},
		PaymentMethods: &paymentMethodRepository{db: db},
	}
}

// notFound translates sql.ErrNoRows into the given sentinel.
func notFound(err error, sentinel error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, sentinel)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// expectOneRow turns an update that matched nothing into sentinel.
func expectOneRow(result sql.Result, sentinel error, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, sentinel)
	}
	return nil
}
