package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/installment-engine/internal/domain"
)

// Lookups that find nothing return the matching not-found sentinel from
// pkg/errors wrapped with context, so callers can test with errors.Is.

// DuesRepository defines the interface for dues balance data operations
type DuesRepository interface {
	// Create inserts a new dues balance
	Create(ctx context.Context, dues *domain.DuesBalance) error

	// GetByID retrieves a dues balance by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DuesBalance, error)

	// GetByIDForUpdate retrieves a dues balance and locks the row until the
	// surrounding transaction ends
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.DuesBalance, error)

	// Update persists amount_paid, balance and status
	Update(ctx context.Context, dues *domain.DuesBalance) error
}

// EligibilityRepository defines the interface for installment eligibility
type EligibilityRepository interface {
	GetByDuesID(ctx context.Context, duesID uuid.UUID) (*domain.Eligibility, error)
	Upsert(ctx context.Context, eligibility *domain.Eligibility) error
}

// PlanRepository defines the interface for installment plan data operations
type PlanRepository interface {
	// Create inserts a plan. A second active plan for the same dues balance
	// fails with ErrActivePlanExists.
	Create(ctx context.Context, plan *domain.InstallmentPlan) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.InstallmentPlan, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.InstallmentPlan, error)

	// GetActiveByDuesID returns the active plan for a dues balance, or
	// ErrPlanNotFound when there is none
	GetActiveByDuesID(ctx context.Context, duesID uuid.UUID) (*domain.InstallmentPlan, error)

	Update(ctx context.Context, plan *domain.InstallmentPlan) error

	// ListNeedingAttention lists plans of a chapter flagged for manual follow-up
	ListNeedingAttention(ctx context.Context, chapterID uuid.UUID) ([]*domain.InstallmentPlan, error)
}

// PaymentRepository defines the interface for installment payment data operations
type PaymentRepository interface {
	CreateBatch(ctx context.Context, payments []*domain.InstallmentPayment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.InstallmentPayment, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.InstallmentPayment, error)

	// ListByPlanID returns the plan's payments ordered by installment number
	ListByPlanID(ctx context.Context, planID uuid.UUID) ([]*domain.InstallmentPayment, error)

	// ListSweepCandidates returns payments of active plans that are due now:
	// scheduled ones whose date has arrived and failed ones whose retry time
	// has arrived with attempts left. Ordered by plan, then installment number.
	ListSweepCandidates(ctx context.Context, now time.Time, maxAttempts int) ([]*domain.InstallmentPayment, error)

	Update(ctx context.Context, payment *domain.InstallmentPayment) error
}

// ChargeRepository defines the interface for charge attempt records
type ChargeRepository interface {
	Create(ctx context.Context, charge *domain.ChargeRecord) error
	GetByExternalRef(ctx context.Context, chargeRef string) (*domain.ChargeRecord, error)
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*domain.ChargeRecord, error)
	Update(ctx context.Context, charge *domain.ChargeRecord) error
}

// PayoutAccountRepository defines the interface for chapter payout destinations
type PayoutAccountRepository interface {
	GetByChapterID(ctx context.Context, chapterID uuid.UUID) (*domain.ConnectedPayoutAccount, error)
	Upsert(ctx context.Context, account *domain.ConnectedPayoutAccount) error
}

// PaymentMethodRepository defines the interface for saved payment methods
type PaymentMethodRepository interface {
	Create(ctx context.Context, method *domain.PaymentMethod) error
	GetByRef(ctx context.Context, ref string) (*domain.PaymentMethod, error)
}

// Repositories groups every repository bound to the same connection or transaction.
type Repositories struct {
	Dues           DuesRepository
	Eligibility    EligibilityRepository
	Plans          PlanRepository
	Payments       PaymentRepository
	Charges        ChargeRepository
	PayoutAccounts PayoutAccountRepository
	PaymentMethods PaymentMethodRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	// Repos returns repositories that run outside any transaction
	Repos() Repositories

	// WithinTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
