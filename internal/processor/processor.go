// Package processor talks to the external payment processor.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/pkg/money"
)

var (
	// ErrDeclined marks a charge the processor refused. The attempt counts
	// against the installment's retry budget.
	ErrDeclined = errors.New("charge declined")

	// ErrUnavailable marks a charge that never reached the processor.
	ErrUnavailable = errors.New("payment processor unavailable")
)

// ChargeRequest is one charge submission.
type ChargeRequest struct {
	Amount         money.Cents
	Currency       string
	MethodRef      string
	MethodType     domain.PaymentMethodType
	IdempotencyKey string
	// Destination is the connected payout account receiving NetAmount.
	Destination    string
	NetAmount      money.Cents
	ApplicationFee money.Cents
	// OffSession charges are confirmed server-side without the payer present.
	OffSession bool
	Metadata   map[string]string
}

// ChargeResult identifies a submitted charge.
type ChargeResult struct {
	ChargeRef          string
	ConfirmationHandle string
}

// Processor submits charges to the payment processor.
type Processor interface {
	SubmitCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// DeclineError is returned when the processor refuses a charge.
type DeclineError struct {
	// ChargeRef is set when the processor created a charge before declining it.
	ChargeRef string
	Code      string
	Reason    string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("charge declined (%s): %s", e.Code, e.Reason)
}

func (e *DeclineError) Unwrap() error {
	return ErrDeclined
}
