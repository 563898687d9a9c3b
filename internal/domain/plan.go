package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/installment-engine/pkg/money"
)

type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// CanTransitionTo reports whether a plan may move from s to next.
// Only active plans change state.
func (s PlanStatus) CanTransitionTo(next PlanStatus) bool {
	return s == PlanStatusActive && (next == PlanStatusCompleted || next == PlanStatusCancelled)
}

// InstallmentPlan splits one dues balance into scheduled charges.
type InstallmentPlan struct {
	ID                    uuid.UUID         `json:"id" db:"id"`
	DuesID                uuid.UUID         `json:"dues_id" db:"dues_id"`
	MemberID              uuid.UUID         `json:"member_id" db:"member_id"`
	ChapterID             uuid.UUID         `json:"chapter_id" db:"chapter_id"`
	TotalAmount           money.Cents       `json:"total_amount" db:"total_amount"`
	NumInstallments       int               `json:"num_installments" db:"num_installments"`
	InstallmentBaseAmount money.Cents       `json:"installment_base_amount" db:"installment_base_amount"`
	PaymentMethodRef      string            `json:"payment_method_ref" db:"payment_method_ref"`
	PaymentMethodType     PaymentMethodType `json:"payment_method_type" db:"payment_method_type"`
	Status                PlanStatus        `json:"status" db:"status"`
	NeedsAttention        bool              `json:"needs_attention" db:"needs_attention"`
	NextDueDate           *time.Time        `json:"next_due_date,omitempty" db:"next_due_date"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
	CancelledAt           *time.Time        `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

func (p *InstallmentPlan) transition(next PlanStatus, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("plan %s: %s -> %s: %w", p.ID, p.Status, next, ErrInvalidTransition)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// Complete marks the plan completed once every installment is paid.
func (p *InstallmentPlan) Complete(now time.Time) error {
	if err := p.transition(PlanStatusCompleted, now); err != nil {
		return err
	}
	p.NextDueDate = nil
	return nil
}

// Cancel stops the plan; scheduled installments are no longer charged.
func (p *InstallmentPlan) Cancel(now time.Time) error {
	if err := p.transition(PlanStatusCancelled, now); err != nil {
		return err
	}
	p.CancelledAt = &now
	p.NextDueDate = nil
	return nil
}

// DTOs for requests and responses

type CreateInstallmentPlanRequest struct {
	MemberDuesID     string `json:"member_dues_id" validate:"required,uuid"`
	NumInstallments  int    `json:"num_installments" validate:"required,gte=1"`
	PaymentMethodRef string `json:"payment_method_ref" validate:"required,max=255"`
}

type SetEligibilityRequest struct {
	IsEligible       bool  `json:"is_eligible"`
	AllowedPlanSizes []int `json:"allowed_plan_sizes" validate:"dive,gte=1"`
}

type ScheduleEntry struct {
	InstallmentNumber int           `json:"installment_number"`
	Amount            money.Cents   `json:"amount"`
	ScheduledDate     string        `json:"scheduled_date"`
	Status            PaymentStatus `json:"status"`
}

// PlanCreationResult is returned to the member after a plan is created.
type PlanCreationResult struct {
	PlanID                         uuid.UUID         `json:"plan_id"`
	TotalAmount                    money.Cents       `json:"total_amount"`
	NumInstallments                int               `json:"num_installments"`
	InstallmentAmount              money.Cents       `json:"installment_amount"`
	FirstPaymentAmount             money.Cents       `json:"first_payment_amount"`
	FirstPaymentConfirmationHandle string            `json:"first_payment_confirmation_handle"`
	FirstPaymentTotalCharge        money.Cents       `json:"first_payment_total_charge"`
	ProcessorFee                   money.Cents       `json:"processor_fee"`
	PaymentMethodType              PaymentMethodType `json:"payment_method_type"`
	Schedule                       []ScheduleEntry   `json:"schedule"`
}

type PlanDetails struct {
	Plan     *InstallmentPlan `json:"plan"`
	Schedule []ScheduleEntry  `json:"schedule"`
}

// BuildSchedule renders payments as schedule entries ordered as given.
func BuildSchedule(payments []*InstallmentPayment) []ScheduleEntry {
	entries := make([]ScheduleEntry, 0, len(payments))
	for _, p := range payments {
		entries = append(entries, ScheduleEntry{
			InstallmentNumber: p.InstallmentNumber,
			Amount:            p.Amount,
			ScheduledDate:     p.ScheduledDate.Format(DateLayout),
			Status:            p.Status,
		})
	}
	return entries
}
