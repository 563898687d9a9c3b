package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindEligibility
	KindConflict
	KindGateway
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindEligibility:
		return "eligibility"
	case KindConflict:
		return "conflict"
	case KindGateway:
		return "gateway"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindEligibility:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Exposed reports whether the message may be shown to the caller verbatim.
func (k Kind) Exposed() bool {
	switch k {
	case KindValidation, KindEligibility, KindConflict, KindNotFound, KindRateLimit:
		return true
	default:
		return false
	}
}

// Domain errors
var (
	ErrDuesNotFound          = errors.New("dues balance not found")
	ErrPlanNotFound          = errors.New("installment plan not found")
	ErrPaymentNotFound       = errors.New("installment payment not found")
	ErrChargeNotFound        = errors.New("charge record not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrEligibilityNotFound   = errors.New("eligibility not found")
	ErrPayoutAccountNotFound = errors.New("payout account not found")
	ErrActivePlanExists      = errors.New("an active installment plan already exists")
	ErrPlanNotActive         = errors.New("installment plan is not active")
	ErrNotEligible           = errors.New("balance is not eligible for installments")
	ErrGateway               = errors.New("payment processor request failed")
	ErrUnauthenticated       = errors.New("authentication required")
	ErrForbidden             = errors.New("not permitted")
	ErrRateLimited           = errors.New("rate limit exceeded")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Kind       Kind
	Code       string
	Message    string
	Err        error
	RetryAfter time.Duration
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(kind Kind, code, message string, err error) *BusinessError {
	return &BusinessError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// As extracts the BusinessError from an error chain.
func As(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal when it carries none.
func KindOf(err error) Kind {
	if be, ok := As(err); ok {
		return be.Kind
	}
	return KindInternal
}

// Error codes
const (
	ErrCodeValidation            = "VALIDATION_FAILED"
	ErrCodeUnauthenticated       = "UNAUTHENTICATED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeDuesNotFound          = "DUES_NOT_FOUND"
	ErrCodePlanNotFound          = "PLAN_NOT_FOUND"
	ErrCodeChargeNotFound        = "CHARGE_NOT_FOUND"
	ErrCodeActivePlanExists      = "ACTIVE_PLAN_EXISTS"
	ErrCodePlanNotActive         = "PLAN_NOT_ACTIVE"
	ErrCodeRequestInProgress     = "REQUEST_IN_PROGRESS"
	ErrCodeNotEligible           = "NOT_ELIGIBLE"
	ErrCodePlanSizeNotAllowed    = "PLAN_SIZE_NOT_ALLOWED"
	ErrCodeNoOutstandingBalance  = "NO_OUTSTANDING_BALANCE"
	ErrCodePayoutUnavailable     = "PAYOUT_ACCOUNT_UNAVAILABLE"
	ErrCodePaymentMethodNotOwned = "PAYMENT_METHOD_NOT_OWNED"
	ErrCodeGateway               = "PAYMENT_GATEWAY_ERROR"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeDatabaseError         = "DATABASE_ERROR"
	ErrCodeInternal              = "INTERNAL_ERROR"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
)

func WrapValidation(message string, err error) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeValidation, message, err)
}

func WrapUnauthenticated(err error) *BusinessError {
	return NewBusinessError(KindAuthentication, ErrCodeUnauthenticated, "authentication required", errors.Join(ErrUnauthenticated, err))
}

func WrapForbidden(reason string) *BusinessError {
	return NewBusinessError(KindAuthorization, ErrCodeForbidden, reason, ErrForbidden)
}

func WrapDuesNotFound(duesID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodeDuesNotFound,
		fmt.Sprintf("Dues balance with ID %s not found", duesID),
		ErrDuesNotFound,
	)
}

func WrapPlanNotFound(planID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodePlanNotFound,
		fmt.Sprintf("Installment plan with ID %s not found", planID),
		ErrPlanNotFound,
	)
}

func WrapChargeNotFound(chargeRef string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodeChargeNotFound,
		fmt.Sprintf("No charge recorded for reference %s", chargeRef),
		ErrChargeNotFound,
	)
}

func WrapActivePlanExists(duesID string) *BusinessError {
	return NewBusinessError(
		KindConflict,
		ErrCodeActivePlanExists,
		fmt.Sprintf("Dues balance %s already has an active installment plan", duesID),
		ErrActivePlanExists,
	)
}

func WrapPlanNotActive(planID string) *BusinessError {
	return NewBusinessError(
		KindConflict,
		ErrCodePlanNotActive,
		fmt.Sprintf("Installment plan %s is not active", planID),
		ErrPlanNotActive,
	)
}

func WrapRequestInProgress(duesID string) *BusinessError {
	return NewBusinessError(
		KindConflict,
		ErrCodeRequestInProgress,
		fmt.Sprintf("Another installment plan request for dues balance %s is in progress", duesID),
		nil,
	)
}

// WrapEligibility builds an eligibility denial carrying its specific code.
func WrapEligibility(code, message string) *BusinessError {
	return NewBusinessError(KindEligibility, code, message, ErrNotEligible)
}

func WrapGatewayError(err error) *BusinessError {
	return NewBusinessError(KindGateway, ErrCodeGateway, "payment processor is unavailable, please retry", errors.Join(ErrGateway, err))
}

func WrapRateLimited(retryAfter time.Duration) *BusinessError {
	be := NewBusinessError(KindRateLimit, ErrCodeRateLimited, "too many requests, please retry later", ErrRateLimited)
	be.RetryAfter = retryAfter
	return be
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		KindInternal,
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapInternal(err error) *BusinessError {
	return NewBusinessError(KindInternal, ErrCodeInternal, "internal error", err)
}
