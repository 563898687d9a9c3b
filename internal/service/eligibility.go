package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/repository"
	customError "github.com/segyhp/installment-engine/pkg/errors"
)

type DenyReason string

const (
	DenyNotEligible           DenyReason = "not_eligible"
	DenyPlanSizeNotAllowed    DenyReason = "plan_size_not_allowed"
	DenyNoOutstandingBalance  DenyReason = "no_outstanding_balance"
	DenyActivePlanExists      DenyReason = "active_plan_exists"
	DenyPaymentMethodNotOwned DenyReason = "payment_method_not_owned"
)

// Deny explains why a balance may not be split as requested.
type Deny struct {
	Reason  DenyReason
	Message string
	// ActivePlan is set when Reason is DenyActivePlanExists.
	ActivePlan *domain.InstallmentPlan
}

// Err converts the denial into the error returned to the caller.
func (d *Deny) Err(duesID string) error {
	switch d.Reason {
	case DenyNotEligible:
		return customError.WrapEligibility(customError.ErrCodeNotEligible, d.Message)
	case DenyPlanSizeNotAllowed:
		return customError.WrapEligibility(customError.ErrCodePlanSizeNotAllowed, d.Message)
	case DenyNoOutstandingBalance:
		return customError.WrapEligibility(customError.ErrCodeNoOutstandingBalance, d.Message)
	case DenyActivePlanExists:
		return customError.WrapActivePlanExists(duesID)
	case DenyPaymentMethodNotOwned:
		be := customError.WrapForbidden(d.Message)
		be.Code = customError.ErrCodePaymentMethodNotOwned
		return be
	default:
		return customError.WrapEligibility(customError.ErrCodeNotEligible, d.Message)
	}
}

// EligibilityCheck is the input to EligibilityGate.Check.
type EligibilityCheck struct {
	Dues             *domain.DuesBalance
	NumInstallments  int
	PaymentMethodRef string
	Requester        domain.Identity
}

// EligibilityGate decides whether a balance may be split into installments.
type EligibilityGate struct{}

func NewEligibilityGate() *EligibilityGate {
	return &EligibilityGate{}
}

// Check runs the checks in order and stops at the first denial. On success
// it returns the requester's payment method. Store failures are returned as
// errors, never as a denial.
func (g *EligibilityGate) Check(ctx context.Context, repos repository.Repositories, req EligibilityCheck) (*domain.PaymentMethod, *Deny, error) {
	eligibility, err := repos.Eligibility.GetByDuesID(ctx, req.Dues.ID)
	switch {
	case errors.Is(err, customError.ErrEligibilityNotFound):
		return nil, &Deny{Reason: DenyNotEligible, Message: "this balance is not eligible for an installment plan"}, nil
	case err != nil:
		return nil, nil, err
	}

	if !eligibility.IsEligible {
		return nil, &Deny{Reason: DenyNotEligible, Message: "this balance is not eligible for an installment plan"}, nil
	}

	if !eligibility.Allows(req.NumInstallments) {
		return nil, &Deny{
			Reason:  DenyPlanSizeNotAllowed,
			Message: fmt.Sprintf("%d installments is not allowed for this balance; allowed: %v", req.NumInstallments, eligibility.AllowedPlanSizes),
		}, nil
	}

	if !req.Dues.Balance.IsPositive() {
		return nil, &Deny{Reason: DenyNoOutstandingBalance, Message: "this balance has nothing outstanding"}, nil
	}

	active, err := repos.Plans.GetActiveByDuesID(ctx, req.Dues.ID)
	switch {
	case err == nil:
		return nil, &Deny{
			Reason:     DenyActivePlanExists,
			Message:    "an active installment plan already exists for this balance",
			ActivePlan: active,
		}, nil
	case !errors.Is(err, customError.ErrPlanNotFound):
		return nil, nil, err
	}

	method, err := repos.PaymentMethods.GetByRef(ctx, req.PaymentMethodRef)
	switch {
	case errors.Is(err, customError.ErrPaymentMethodNotFound):
		return nil, &Deny{Reason: DenyPaymentMethodNotOwned, Message: "payment method does not belong to the requester"}, nil
	case err != nil:
		return nil, nil, err
	}

	if method.UserID != req.Requester.UserID {
		return nil, &Deny{Reason: DenyPaymentMethodNotOwned, Message: "payment method does not belong to the requester"}, nil
	}

	return method, nil, nil
}
