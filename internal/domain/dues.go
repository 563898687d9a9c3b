package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/installment-engine/pkg/money"
)

type DuesStatus string

const (
	DuesStatusPending DuesStatus = "pending"
	DuesStatusPartial DuesStatus = "partial"
	DuesStatusPaid    DuesStatus = "paid"
	DuesStatusOverdue DuesStatus = "overdue"
)

var ErrOverpayment = errors.New("payment exceeds outstanding balance")

// DuesBalance is what a member owes for a billing period.
// Balance always equals TotalAmount - AmountPaid.
type DuesBalance struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	ChapterID   uuid.UUID   `json:"chapter_id" db:"chapter_id"`
	MemberID    uuid.UUID   `json:"member_id" db:"member_id"`
	TotalAmount money.Cents `json:"total_amount" db:"total_amount"`
	AmountPaid  money.Cents `json:"amount_paid" db:"amount_paid"`
	Balance     money.Cents `json:"balance" db:"balance"`
	DueDate     *time.Time  `json:"due_date,omitempty" db:"due_date"`
	Status      DuesStatus  `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// ApplyPayment records amount against the balance and recomputes status.
func (d *DuesBalance) ApplyPayment(amount money.Cents) error {
	if amount.IsNegative() {
		return errors.New("payment amount cannot be negative")
	}
	if amount > d.Balance {
		return ErrOverpayment
	}

	d.AmountPaid += amount
	d.Balance = d.TotalAmount - d.AmountPaid

	switch {
	case d.Balance == 0:
		d.Status = DuesStatusPaid
	case d.AmountPaid > 0:
		d.Status = DuesStatusPartial
	}

	return nil
}

// Eligibility is the operator-granted permission to split a balance.
type Eligibility struct {
	DuesID           uuid.UUID `json:"dues_id" db:"dues_id"`
	IsEligible       bool      `json:"is_eligible" db:"is_eligible"`
	AllowedPlanSizes []int     `json:"allowed_plan_sizes" db:"-"`
	SetBy            uuid.UUID `json:"set_by" db:"set_by"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Allows reports whether n is one of the permitted installment counts.
func (e *Eligibility) Allows(n int) bool {
	for _, size := range e.AllowedPlanSizes {
		if size == n {
			return true
		}
	}
	return false
}

// ConnectedPayoutAccount is where a chapter's net proceeds are routed.
type ConnectedPayoutAccount struct {
	ChapterID          uuid.UUID `json:"chapter_id" db:"chapter_id"`
	ExternalAccountRef string    `json:"external_account_ref" db:"external_account_ref"`
	ChargesEnabled     bool      `json:"charges_enabled" db:"charges_enabled"`
}

type PaymentMethodType string

const (
	PaymentMethodCard        PaymentMethodType = "card"
	PaymentMethodBankAccount PaymentMethodType = "bank_account"
)

func (t PaymentMethodType) Valid() bool {
	return t == PaymentMethodCard || t == PaymentMethodBankAccount
}

// PaymentMethod is a saved processor payment method owned by a user.
type PaymentMethod struct {
	Ref       string            `json:"ref" db:"ref"`
	UserID    uuid.UUID         `json:"user_id" db:"user_id"`
	Type      PaymentMethodType `json:"type" db:"type"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
