package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/lock"
	"github.com/segyhp/installment-engine/internal/processor"
	"github.com/segyhp/installment-engine/internal/repository"
	customError "github.com/segyhp/installment-engine/pkg/errors"
	"github.com/segyhp/installment-engine/pkg/money"
)

// SweepReport summarizes one run of the installment sweep.
type SweepReport struct {
	Plans     int `json:"plans"`
	Attempted int `json:"attempted"`
	Submitted int `json:"submitted"`
	Declined  int `json:"declined"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// PaymentService settles submitted charges and charges installments as they fall due.
type PaymentService struct {
	store   repository.Store
	charger *charger
	opts    Options
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewPaymentService(
	store repository.Store,
	fees *FeeCalculator,
	proc processor.Processor,
	locker lock.Locker,
	opts Options,
	logger logrus.FieldLogger,
) *PaymentService {
	s := &PaymentService{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
	s.charger = &charger{
		store:     store,
		fees:      fees,
		processor: proc,
		locker:    locker,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return s.now() },
	}
	return s
}

// ApplyConfirmation settles a charge from an asynchronous processor result.
// A succeeded charge never changes again and a failure is never recorded twice,
// so the processor may deliver the same event any number of times. A success
// that follows a failure for the same charge still pays the installment.
func (s *PaymentService) ApplyConfirmation(ctx context.Context, confirmation domain.Confirmation) error {
	if confirmation.ChargeRef == "" {
		return customError.WrapValidation("charge reference is required", nil)
	}
	if confirmation.Outcome != domain.ChargeOutcomeSucceeded && confirmation.Outcome != domain.ChargeOutcomeFailed {
		return customError.WrapValidation("unknown charge outcome "+string(confirmation.Outcome), nil)
	}

	log := s.logger.WithFields(logrus.Fields{
		"charge_ref": confirmation.ChargeRef,
		"outcome":    confirmation.Outcome,
	})

	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		charge, err := s.chargeByRef(ctx, repos, confirmation.ChargeRef)
		if err != nil {
			return err
		}
		if confirmationSettled(charge.Status, confirmation.Outcome) {
			log.WithField("status", charge.Status).Debug("charge already settled; ignoring confirmation")
			return nil
		}

		payment, err := repos.Payments.GetByIDForUpdate(ctx, charge.PaymentID)
		if err != nil {
			return err
		}
		plan, err := repos.Plans.GetByIDForUpdate(ctx, payment.PlanID)
		if err != nil {
			return err
		}

		// Re-read under the payment lock; a concurrent delivery may have settled it.
		charge, err = s.chargeByRef(ctx, repos, confirmation.ChargeRef)
		if err != nil {
			return err
		}
		if confirmationSettled(charge.Status, confirmation.Outcome) {
			log.WithField("status", charge.Status).Debug("charge already settled; ignoring confirmation")
			return nil
		}

		now := s.now()
		charge.UpdatedAt = now
		current := payment.ExternalChargeRef != nil && *payment.ExternalChargeRef == confirmation.ChargeRef

		if confirmation.Outcome == domain.ChargeOutcomeFailed {
			reason := confirmation.FailureReason
			charge.Status = domain.ChargeStatusFailed
			charge.FailureReason = &reason
			if err := repos.Charges.Update(ctx, charge); err != nil {
				return err
			}

			if !current || payment.Status != domain.PaymentStatusProcessing {
				log.WithFields(logrus.Fields{
					"plan_id":        plan.ID,
					"payment_status": payment.Status,
				}).Info("superseded charge failed; installment unchanged")
				return nil
			}

			exhausted, err := s.charger.recordFailure(ctx, repos, payment, now)
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"plan_id":   plan.ID,
				"attempts":  payment.AttemptCount,
				"exhausted": exhausted,
			}).Info("installment charge failed")
			return nil
		}

		charge.Status = domain.ChargeStatusSucceeded
		if err := repos.Charges.Update(ctx, charge); err != nil {
			return err
		}

		if payment.Status == domain.PaymentStatusPaid {
			plan.NeedsAttention = true
			plan.UpdatedAt = now
			log.WithFields(logrus.Fields{
				"plan_id":            plan.ID,
				"installment_number": payment.InstallmentNumber,
			}).Warn("installment already paid by another charge; flagged for refund")
			return repos.Plans.Update(ctx, plan)
		}
		if payment.Status == domain.PaymentStatusProcessing && !current {
			// A newer attempt is still in flight and may collect again.
			plan.NeedsAttention = true
			log.WithField("plan_id", plan.ID).Warn("earlier charge succeeded while a retry is in flight")
		}

		if err := payment.MarkPaid(now); err != nil {
			return err
		}
		if err := repos.Payments.Update(ctx, payment); err != nil {
			return err
		}

		if err := s.applyToDues(ctx, repos, plan, payment.Amount); err != nil {
			return err
		}

		if plan.Status == domain.PlanStatusActive {
			if err := s.advancePlan(ctx, repos, plan, now); err != nil {
				return err
			}
		}

		if err := repos.Plans.Update(ctx, plan); err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"plan_id":            plan.ID,
			"installment_number": payment.InstallmentNumber,
			"plan_status":        plan.Status,
		}).Info("installment paid")
		return nil
	})
	if err != nil {
		if _, ok := customError.As(err); ok {
			return err
		}
		log.WithError(err).Error("failed to apply charge confirmation")
		return customError.WrapDatabaseError(err)
	}

	return nil
}

func (s *PaymentService) chargeByRef(ctx context.Context, repos repository.Repositories, ref string) (*domain.ChargeRecord, error) {
	charge, err := repos.Charges.GetByExternalRef(ctx, ref)
	if errors.Is(err, customError.ErrChargeNotFound) {
		return nil, customError.WrapChargeNotFound(ref)
	}
	return charge, err
}

// confirmationSettled reports whether outcome has nothing left to change on a
// charge in status. Success is absorbing; a failed charge can still succeed.
func confirmationSettled(status domain.ChargeStatus, outcome domain.ChargeOutcome) bool {
	switch status {
	case domain.ChargeStatusSucceeded:
		return true
	case domain.ChargeStatusPending:
		return false
	default:
		return outcome == domain.ChargeOutcomeFailed
	}
}

// applyToDues credits a paid installment to the dues balance. A payment larger
// than what is still owed is credited up to the balance and the plan flagged.
func (s *PaymentService) applyToDues(ctx context.Context, repos repository.Repositories, plan *domain.InstallmentPlan, amount money.Cents) error {
	dues, err := repos.Dues.GetByIDForUpdate(ctx, plan.DuesID)
	if err != nil {
		return err
	}

	err = dues.ApplyPayment(amount)
	if errors.Is(err, domain.ErrOverpayment) {
		s.logger.WithFields(logrus.Fields{
			"plan_id": plan.ID,
			"dues_id": dues.ID,
			"amount":  amount,
			"balance": dues.Balance,
		}).Warn("installment payment exceeds outstanding balance")
		plan.NeedsAttention = true
		err = dues.ApplyPayment(money.Min(amount, dues.Balance))
	}
	if err != nil {
		return err
	}

	dues.UpdatedAt = s.now()
	return repos.Dues.Update(ctx, dues)
}

// advancePlan completes the plan once every installment is paid, otherwise
// moves next_due_date to the earliest unpaid installment.
func (s *PaymentService) advancePlan(ctx context.Context, repos repository.Repositories, plan *domain.InstallmentPlan, now time.Time) error {
	payments, err := repos.Payments.ListByPlanID(ctx, plan.ID)
	if err != nil {
		return err
	}

	for _, p := range payments {
		if p.Status != domain.PaymentStatusPaid {
			next := p.ScheduledDate
			plan.NextDueDate = &next
			plan.UpdatedAt = now
			return nil
		}
	}

	return plan.Complete(now)
}

// RunSweep charges every installment that has fallen due or whose retry time
// has arrived. Plans are swept concurrently, installments of one plan in
// order, and an installment is only charged once all earlier ones are paid.
// Per-installment failures are logged and counted; only failing to list the
// candidates is returned as an error.
func (s *PaymentService) RunSweep(ctx context.Context, now time.Time) (SweepReport, error) {
	candidates, err := s.store.Repos().Payments.ListSweepCandidates(ctx, now, s.opts.MaxChargeAttempts)
	if err != nil {
		return SweepReport{}, customError.WrapDatabaseError(err)
	}

	var (
		order  []uuid.UUID
		byPlan = make(map[uuid.UUID][]*domain.InstallmentPayment)
	)
	for _, p := range candidates {
		if _, ok := byPlan[p.PlanID]; !ok {
			order = append(order, p.PlanID)
		}
		byPlan[p.PlanID] = append(byPlan[p.PlanID], p)
	}

	var (
		mu     sync.Mutex
		report = SweepReport{Plans: len(order)}
	)

	limit := s.opts.SweepConcurrency
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, planID := range order {
		planID := planID
		due := byPlan[planID]
		g.Go(func() error {
			r := s.sweepPlan(gctx, planID, due)

			mu.Lock()
			report.Attempted += r.Attempted
			report.Submitted += r.Submitted
			report.Declined += r.Declined
			report.Errors += r.Errors
			report.Skipped += r.Skipped
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.WithFields(logrus.Fields{
		"plans":     report.Plans,
		"attempted": report.Attempted,
		"submitted": report.Submitted,
		"declined":  report.Declined,
		"errors":    report.Errors,
		"skipped":   report.Skipped,
	}).Info("installment sweep finished")

	return report, nil
}

// sweepPlan charges the earliest due installment of a plan. Charges settle
// asynchronously, so later installments of the same plan wait for the next
// sweep once the earlier one is confirmed paid.
func (s *PaymentService) sweepPlan(ctx context.Context, planID uuid.UUID, due []*domain.InstallmentPayment) SweepReport {
	r := SweepReport{Skipped: len(due) - 1}
	candidate := due[0]
	log := s.logger.WithFields(logrus.Fields{
		"plan_id":            planID,
		"installment_number": candidate.InstallmentNumber,
	})

	ready, err := s.earlierInstallmentsPaid(ctx, candidate)
	if err != nil {
		log.WithError(err).Error("failed to load plan installments")
		r.Errors++
		return r
	}
	if !ready {
		r.Skipped++
		return r
	}

	r.Attempted++
	_, err = s.charger.charge(ctx, planID, candidate.ID, true)
	switch {
	case err == nil:
		r.Submitted++
	case errors.Is(err, processor.ErrDeclined):
		r.Declined++
	case errors.Is(err, errNotChargeable), errors.Is(err, errAttemptSuperseded):
		r.Attempted--
		r.Skipped++
		log.WithError(err).Debug("installment no longer chargeable")
	default:
		r.Errors++
		log.WithError(err).Error("failed to charge installment")
	}

	return r
}

func (s *PaymentService) earlierInstallmentsPaid(ctx context.Context, candidate *domain.InstallmentPayment) (bool, error) {
	payments, err := s.store.Repos().Payments.ListByPlanID(ctx, candidate.PlanID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.InstallmentNumber < candidate.InstallmentNumber && p.Status != domain.PaymentStatusPaid {
			return false, nil
		}
	}
	return true, nil
}
