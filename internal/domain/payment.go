package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/installment-engine/pkg/money"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

var ErrInvalidTransition = errors.New("invalid status transition")

type PaymentStatus string

const (
	PaymentStatusScheduled  PaymentStatus = "scheduled"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	// scheduled -> failed is a synchronous decline of the first charge; it
	// counts as an attempt so a resumed plan retries under the next key.
	PaymentStatusScheduled:  {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusPaid, PaymentStatusFailed},
	// failed -> paid is a declined charge that later succeeded.
	PaymentStatusFailed: {PaymentStatusProcessing, PaymentStatusFailed, PaymentStatusPaid},
}

// CanTransitionTo reports whether an installment may move from s to next.
// Paid is terminal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InstallmentPayment is one scheduled charge of a plan.
type InstallmentPayment struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	PlanID            uuid.UUID     `json:"plan_id" db:"plan_id"`
	InstallmentNumber int           `json:"installment_number" db:"installment_number"`
	Amount            money.Cents   `json:"amount" db:"amount"`
	ScheduledDate     time.Time     `json:"scheduled_date" db:"scheduled_date"`
	Status            PaymentStatus `json:"status" db:"status"`
	AttemptCount      int           `json:"attempt_count" db:"attempt_count"`
	NextAttemptAt     *time.Time    `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	PaidAt            *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	ExternalChargeRef *string       `json:"external_charge_ref,omitempty" db:"external_charge_ref"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

func (p *InstallmentPayment) transition(next PaymentStatus, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("payment %s: %s -> %s: %w", p.ID, p.Status, next, ErrInvalidTransition)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// IdempotencyKey identifies the next charge attempt for this installment.
// It only changes once an attempt has been declined.
func (p *InstallmentPayment) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:%d", p.PlanID, p.InstallmentNumber, p.AttemptCount+1)
}

// MarkProcessing records a submitted charge awaiting confirmation.
func (p *InstallmentPayment) MarkProcessing(chargeRef string, now time.Time) error {
	if err := p.transition(PaymentStatusProcessing, now); err != nil {
		return err
	}
	p.ExternalChargeRef = &chargeRef
	p.NextAttemptAt = nil
	return nil
}

// MarkPaid records a confirmed charge.
func (p *InstallmentPayment) MarkPaid(now time.Time) error {
	if err := p.transition(PaymentStatusPaid, now); err != nil {
		return err
	}
	p.PaidAt = &now
	p.NextAttemptAt = nil
	return nil
}

// MarkFailed records a declined attempt. nextAttempt is nil once retries are exhausted.
func (p *InstallmentPayment) MarkFailed(now time.Time, nextAttempt *time.Time) error {
	if err := p.transition(PaymentStatusFailed, now); err != nil {
		return err
	}
	p.AttemptCount++
	p.NextAttemptAt = nextAttempt
	return nil
}

type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "pending"
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusFailed    ChargeStatus = "failed"
	// ChargeStatusError means the processor could not be reached; nothing was charged.
	ChargeStatusError ChargeStatus = "error"
)

func (s ChargeStatus) IsTerminal() bool {
	return s != ChargeStatusPending
}

// ChargeRecord is one attempt to charge an installment.
type ChargeRecord struct {
	ID                 uuid.UUID         `json:"id" db:"id"`
	PaymentID          uuid.UUID         `json:"payment_id" db:"payment_id"`
	IdempotencyKey     string            `json:"idempotency_key" db:"idempotency_key"`
	PaymentMethodType  PaymentMethodType `json:"payment_method_type" db:"payment_method_type"`
	BaseAmount         money.Cents       `json:"base_amount" db:"base_amount"`
	ProcessorFee       money.Cents       `json:"processor_fee" db:"processor_fee"`
	PlatformFee        money.Cents       `json:"platform_fee" db:"platform_fee"`
	TotalCharge        money.Cents       `json:"total_charge" db:"total_charge"`
	NetAmount          money.Cents       `json:"net_amount" db:"net_amount"`
	ExternalChargeRef  *string           `json:"external_charge_ref,omitempty" db:"external_charge_ref"`
	ConfirmationHandle *string           `json:"-" db:"confirmation_handle"`
	Status             ChargeStatus      `json:"status" db:"status"`
	FailureReason      *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}

type ChargeOutcome string

const (
	ChargeOutcomeSucceeded ChargeOutcome = "succeeded"
	ChargeOutcomeFailed    ChargeOutcome = "failed"
)

// Confirmation is an asynchronous processor result for a submitted charge.
type Confirmation struct {
	EventID       string        `json:"event_id,omitempty"`
	EventType     string        `json:"event_type,omitempty"`
	ChargeRef     string        `json:"charge_ref"`
	Outcome       ChargeOutcome `json:"outcome"`
	FailureReason string        `json:"failure_reason,omitempty"`
}
