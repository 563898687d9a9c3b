package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/installment-engine/internal/config"
	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/lock"
	"github.com/segyhp/installment-engine/internal/processor"
	"github.com/segyhp/installment-engine/internal/repository"
	customError "github.com/segyhp/installment-engine/pkg/errors"
)

var (
	// errNotChargeable means the installment is no longer waiting for a charge.
	errNotChargeable = errors.New("installment is not chargeable")

	// errAttemptSuperseded means another worker recorded this attempt first.
	errAttemptSuperseded = errors.New("charge attempt already recorded")
)

// maxBackoffShift caps the retry delay at base * 2^16.
const maxBackoffShift = 16

// Options are the business settings shared by the services.
type Options struct {
	MaxInstallments   int
	MaxChargeAttempts int
	RetryBackoffBase  time.Duration
	SweepConcurrency  int
	Currency          string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxInstallments:   cfg.Business.MaxInstallments,
		MaxChargeAttempts: cfg.Business.MaxChargeAttempts,
		RetryBackoffBase:  cfg.Business.RetryBackoffBase,
		SweepConcurrency:  cfg.Business.SweepConcurrency,
		Currency:          cfg.Processor.Currency,
	}
}

// RetryDelay is the wait before retrying an installment that has failed attempts times.
func RetryDelay(base time.Duration, attempts int) time.Duration {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base * time.Duration(1<<uint(shift))
}

// chargeAttempt is the recorded result of one submission.
type chargeAttempt struct {
	Plan    *domain.InstallmentPlan
	Payment *domain.InstallmentPayment
	Charge  *domain.ChargeRecord
	Fees    FeeBreakdown
}

// charger submits one installment to the processor and records the outcome.
type charger struct {
	store     repository.Store
	fees      *FeeCalculator
	processor processor.Processor
	locker    lock.Locker
	opts      Options
	logger    logrus.FieldLogger
	now       func() time.Time
}

// charge submits the installment under the plan lock. The returned attempt is
// non-nil whenever a ChargeRecord was written, even if err is a decline or
// gateway failure.
func (c *charger) charge(ctx context.Context, planID, paymentID uuid.UUID, offSession bool) (*chargeAttempt, error) {
	var attempt *chargeAttempt
	err := c.locker.WithLock(ctx, lock.PlanKey(planID.String()), func(ctx context.Context) error {
		var err error
		attempt, err = c.chargeLocked(ctx, planID, paymentID, offSession)
		return err
	})
	if errors.Is(err, lock.ErrLockBusy) {
		return nil, fmt.Errorf("%w: %v", errNotChargeable, err)
	}
	return attempt, err
}

func (c *charger) chargeLocked(ctx context.Context, planID, paymentID uuid.UUID, offSession bool) (*chargeAttempt, error) {
	repos := c.store.Repos()

	plan, err := repos.Plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != domain.PlanStatusActive {
		return nil, fmt.Errorf("%w: plan %s is %s", errNotChargeable, plan.ID, plan.Status)
	}

	payment, err := repos.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PlanID != plan.ID || !payment.Status.CanTransitionTo(domain.PaymentStatusProcessing) {
		return nil, fmt.Errorf("%w: installment %d is %s", errNotChargeable, payment.InstallmentNumber, payment.Status)
	}

	account, err := repos.PayoutAccounts.GetByChapterID(ctx, plan.ChapterID)
	if err != nil && !errors.Is(err, customError.ErrPayoutAccountNotFound) {
		return nil, err
	}
	if account == nil || !account.ChargesEnabled {
		return nil, payoutUnavailable()
	}

	fees, err := c.fees.Calculate(payment.Amount, plan.PaymentMethodType)
	if err != nil {
		return nil, err
	}

	key := payment.IdempotencyKey()
	attemptsBefore := payment.AttemptCount

	result, submitErr := c.processor.SubmitCharge(ctx, processor.ChargeRequest{
		Amount:         fees.TotalCharge,
		Currency:       c.opts.Currency,
		MethodRef:      plan.PaymentMethodRef,
		MethodType:     plan.PaymentMethodType,
		IdempotencyKey: key,
		Destination:    account.ExternalAccountRef,
		NetAmount:      fees.NetAmount,
		ApplicationFee: fees.ApplicationFee,
		OffSession:     offSession,
		Metadata: map[string]string{
			"plan_id":            plan.ID.String(),
			"dues_id":            plan.DuesID.String(),
			"installment_number": strconv.Itoa(payment.InstallmentNumber),
		},
	})

	now := c.now()
	record := &domain.ChargeRecord{
		ID:                uuid.New(),
		PaymentID:         payment.ID,
		IdempotencyKey:    key,
		PaymentMethodType: plan.PaymentMethodType,
		BaseAmount:        fees.BaseAmount,
		ProcessorFee:      fees.ProcessorFee,
		PlatformFee:       fees.PlatformFee,
		TotalCharge:       fees.TotalCharge,
		NetAmount:         fees.NetAmount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	log := c.logger.WithFields(logrus.Fields{
		"plan_id":            plan.ID,
		"installment_number": payment.InstallmentNumber,
		"idempotency_key":    key,
	})

	var decline *processor.DeclineError
	switch {
	case submitErr == nil:
		record.Status = domain.ChargeStatusPending
		record.ExternalChargeRef = &result.ChargeRef
		record.ConfirmationHandle = &result.ConfirmationHandle
	case errors.As(submitErr, &decline):
		record.Status = domain.ChargeStatusFailed
		record.FailureReason = &decline.Reason
		if decline.ChargeRef != "" {
			record.ExternalChargeRef = &decline.ChargeRef
		}
		log.WithField("decline_code", decline.Code).Info("installment charge declined")
	default:
		reason := submitErr.Error()
		record.Status = domain.ChargeStatusError
		record.FailureReason = &reason
		log.WithError(submitErr).Error("installment charge submission failed")
	}

	err = c.store.WithinTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		current, err := tx.Payments.GetByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}
		if current.AttemptCount != attemptsBefore || !current.Status.CanTransitionTo(domain.PaymentStatusProcessing) {
			return errAttemptSuperseded
		}

		if err := tx.Charges.Create(ctx, record); err != nil {
			return err
		}

		switch record.Status {
		case domain.ChargeStatusPending:
			if err := current.MarkProcessing(result.ChargeRef, now); err != nil {
				return err
			}
			if err := tx.Payments.Update(ctx, current); err != nil {
				return err
			}
		case domain.ChargeStatusFailed:
			if _, err := c.recordFailure(ctx, tx, current, now); err != nil {
				return err
			}
		}

		payment = current
		return nil
	})
	if err != nil {
		if errors.Is(err, errAttemptSuperseded) {
			log.Warn("installment charge was recorded by another worker")
		}
		return nil, err
	}

	attempt := &chargeAttempt{Plan: plan, Payment: payment, Charge: record, Fees: fees}
	if submitErr != nil {
		return attempt, submitErr
	}

	log.WithField("charge_ref", result.ChargeRef).Info("installment charge submitted")
	return attempt, nil
}

// recordFailure marks a failed attempt and schedules the retry. Once attempts
// are exhausted the plan is cancelled and flagged for manual attention.
func (c *charger) recordFailure(ctx context.Context, repos repository.Repositories, payment *domain.InstallmentPayment, now time.Time) (bool, error) {
	attempts := payment.AttemptCount + 1

	var next *time.Time
	if attempts < c.opts.MaxChargeAttempts {
		at := now.Add(RetryDelay(c.opts.RetryBackoffBase, attempts))
		next = &at
	}

	if err := payment.MarkFailed(now, next); err != nil {
		return false, err
	}
	if err := repos.Payments.Update(ctx, payment); err != nil {
		return false, err
	}

	if next != nil {
		return false, nil
	}

	plan, err := repos.Plans.GetByIDForUpdate(ctx, payment.PlanID)
	if err != nil {
		return true, err
	}
	if plan.Status != domain.PlanStatusActive {
		return true, nil
	}

	if err := plan.Cancel(now); err != nil {
		return true, err
	}
	plan.NeedsAttention = true
	if err := repos.Plans.Update(ctx, plan); err != nil {
		return true, err
	}

	c.logger.WithFields(logrus.Fields{
		"plan_id":            plan.ID,
		"installment_number": payment.InstallmentNumber,
		"attempts":           payment.AttemptCount,
	}).Warn("installment retries exhausted; plan cancelled and flagged")

	return true, nil
}

func payoutUnavailable() error {
	return customError.WrapEligibility(customError.ErrCodePayoutUnavailable, "the chapter cannot accept payments right now")
}
