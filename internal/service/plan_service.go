package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/lock"
	"github.com/segyhp/installment-engine/internal/processor"
	"github.com/segyhp/installment-engine/internal/repository"
	customError "github.com/segyhp/installment-engine/pkg/errors"
	"github.com/segyhp/installment-engine/pkg/money"
	"github.com/segyhp/installment-engine/pkg/utils"
)

// PlanService creates and manages installment plans.
type PlanService struct {
	store     repository.Store
	gate      *EligibilityGate
	locker    lock.Locker
	charger   *charger
	validator *validator.Validate
	opts      Options
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewPlanService(
	store repository.Store,
	gate *EligibilityGate,
	fees *FeeCalculator,
	proc processor.Processor,
	locker lock.Locker,
	opts Options,
	logger logrus.FieldLogger,
) *PlanService {
	s := &PlanService{
		store:     store,
		gate:      gate,
		locker:    locker,
		validator: validator.New(),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
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

// CreatePlan splits a dues balance into installments and submits the first charge.
//
// Eligibility checks and row inserts run in one transaction under a per-balance
// lock. The charge is submitted after commit; if it fails the first installment
// stays chargeable and repeating the same request resumes the existing plan.
func (s *PlanService) CreatePlan(ctx context.Context, requester domain.Identity, req domain.CreateInstallmentPlanRequest) (*domain.PlanCreationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, customError.WrapValidation("member_dues_id, num_installments and payment_method_ref are required", err)
	}
	if req.NumInstallments > s.opts.MaxInstallments {
		return nil, customError.WrapValidation(
			fmt.Sprintf("num_installments must be between 1 and %d", s.opts.MaxInstallments), nil)
	}
	duesID, err := uuid.Parse(req.MemberDuesID)
	if err != nil {
		return nil, customError.WrapValidation("member_dues_id must be a valid UUID", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"dues_id":          duesID,
		"member_id":        requester.UserID,
		"num_installments": req.NumInstallments,
	})

	var (
		plan     *domain.InstallmentPlan
		payments []*domain.InstallmentPayment
		attempt  *chargeAttempt
	)
	err = s.locker.WithLock(ctx, lock.DuesKey(duesID.String()), func(ctx context.Context) error {
		err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			var err error
			plan, payments, err = s.preparePlan(ctx, repos, requester, duesID, req)
			return err
		})
		if err != nil {
			return err
		}

		attempt, err = s.submitFirstCharge(ctx, plan, payments[0])
		return err
	})
	if err != nil {
		if errors.Is(err, lock.ErrLockBusy) {
			return nil, customError.WrapRequestInProgress(duesID.String())
		}
		log.WithError(err).Info("installment plan creation did not complete")
		return nil, toBusinessError(err, duesID.String())
	}

	payments[0] = attempt.Payment
	first, charge := attempt.Payment, attempt.Charge

	result := &domain.PlanCreationResult{
		PlanID:                  plan.ID,
		TotalAmount:             plan.TotalAmount,
		NumInstallments:         plan.NumInstallments,
		InstallmentAmount:       plan.InstallmentBaseAmount,
		FirstPaymentAmount:      first.Amount,
		FirstPaymentTotalCharge: charge.TotalCharge,
		ProcessorFee:            charge.ProcessorFee,
		PaymentMethodType:       plan.PaymentMethodType,
		Schedule:                domain.BuildSchedule(payments),
	}
	if charge.ConfirmationHandle != nil {
		result.FirstPaymentConfirmationHandle = *charge.ConfirmationHandle
	}

	log.WithField("plan_id", plan.ID).Info("installment plan created")
	return result, nil
}

// preparePlan runs inside the creation transaction. It either inserts a new
// plan or returns an existing one that the same request already created but
// whose first charge never went through.
func (s *PlanService) preparePlan(
	ctx context.Context,
	repos repository.Repositories,
	requester domain.Identity,
	duesID uuid.UUID,
	req domain.CreateInstallmentPlanRequest,
) (*domain.InstallmentPlan, []*domain.InstallmentPayment, error) {
	dues, err := repos.Dues.GetByIDForUpdate(ctx, duesID)
	if err != nil {
		return nil, nil, err
	}
	if dues.MemberID != requester.UserID {
		return nil, nil, customError.WrapForbidden("dues balance belongs to another member")
	}

	account, err := repos.PayoutAccounts.GetByChapterID(ctx, dues.ChapterID)
	if err != nil && !errors.Is(err, customError.ErrPayoutAccountNotFound) {
		return nil, nil, err
	}
	if account == nil || !account.ChargesEnabled {
		return nil, nil, payoutUnavailable()
	}

	method, deny, err := s.gate.Check(ctx, repos, EligibilityCheck{
		Dues:             dues,
		NumInstallments:  req.NumInstallments,
		PaymentMethodRef: req.PaymentMethodRef,
		Requester:        requester,
	})
	if err != nil {
		return nil, nil, err
	}
	if deny != nil {
		if deny.Reason == DenyActivePlanExists {
			return s.resumablePlan(ctx, repos, deny, requester, req)
		}
		return nil, nil, deny.Err(duesID.String())
	}
	if !method.Type.Valid() {
		return nil, nil, fmt.Errorf("payment method has unknown type %q", method.Type)
	}

	amounts, err := utils.SplitAmount(dues.Balance, req.NumInstallments)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	today := utils.DateOnly(now)

	var deadline *time.Time
	if dues.DueDate != nil && utils.DateOnly(*dues.DueDate).After(today) {
		deadline = dues.DueDate
	}
	dates, err := utils.GenerateSchedule(today, req.NumInstallments, deadline)
	if err != nil {
		return nil, nil, err
	}

	plan := &domain.InstallmentPlan{
		ID:                    uuid.New(),
		DuesID:                dues.ID,
		MemberID:              requester.UserID,
		ChapterID:             dues.ChapterID,
		TotalAmount:           money.Sum(amounts),
		NumInstallments:       req.NumInstallments,
		InstallmentBaseAmount: amounts[len(amounts)-1],
		PaymentMethodRef:      method.Ref,
		PaymentMethodType:     method.Type,
		Status:                domain.PlanStatusActive,
		NextDueDate:           &dates[0],
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	payments := make([]*domain.InstallmentPayment, req.NumInstallments)
	for i := range payments {
		payments[i] = &domain.InstallmentPayment{
			ID:                uuid.New(),
			PlanID:            plan.ID,
			InstallmentNumber: i + 1,
			Amount:            amounts[i],
			ScheduledDate:     dates[i],
			Status:            domain.PaymentStatusScheduled,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}

	if err := repos.Plans.Create(ctx, plan); err != nil {
		return nil, nil, err
	}
	if err := repos.Payments.CreateBatch(ctx, payments); err != nil {
		return nil, nil, err
	}

	return plan, payments, nil
}

// resumablePlan returns the active plan when it was created by the same
// request and its first installment has not been charged yet.
func (s *PlanService) resumablePlan(
	ctx context.Context,
	repos repository.Repositories,
	deny *Deny,
	requester domain.Identity,
	req domain.CreateInstallmentPlanRequest,
) (*domain.InstallmentPlan, []*domain.InstallmentPayment, error) {
	plan := deny.ActivePlan
	conflict := deny.Err(plan.DuesID.String())

	if plan.MemberID != requester.UserID ||
		plan.PaymentMethodRef != req.PaymentMethodRef ||
		plan.NumInstallments != req.NumInstallments {
		return nil, nil, conflict
	}

	payments, err := repos.Payments.ListByPlanID(ctx, plan.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(payments) == 0 || !payments[0].Status.CanTransitionTo(domain.PaymentStatusProcessing) {
		return nil, nil, conflict
	}

	s.logger.WithField("plan_id", plan.ID).Info("resuming installment plan with uncharged first installment")
	return plan, payments, nil
}

func (s *PlanService) submitFirstCharge(ctx context.Context, plan *domain.InstallmentPlan, first *domain.InstallmentPayment) (*chargeAttempt, error) {
	attempt, err := s.charger.charge(ctx, plan.ID, first.ID, false)
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrDeclined), errors.Is(err, processor.ErrUnavailable):
			return nil, customError.WrapGatewayError(err)
		case errors.Is(err, errNotChargeable), errors.Is(err, errAttemptSuperseded):
			return nil, customError.WrapRequestInProgress(plan.DuesID.String())
		}
		return nil, err
	}
	return attempt, nil
}

// GetPlan returns a plan with its schedule to its member or a chapter operator.
func (s *PlanService) GetPlan(ctx context.Context, requester domain.Identity, planID uuid.UUID) (*domain.PlanDetails, error) {
	repos := s.store.Repos()

	plan, err := repos.Plans.GetByID(ctx, planID)
	if err != nil {
		return nil, toBusinessError(err, "")
	}
	if plan.MemberID != requester.UserID && !requester.IsOperator(plan.ChapterID) {
		return nil, customError.WrapForbidden("only the plan's member or a chapter operator may view it")
	}

	payments, err := repos.Payments.ListByPlanID(ctx, plan.ID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	return &domain.PlanDetails{Plan: plan, Schedule: domain.BuildSchedule(payments)}, nil
}

// CancelPlan stops an active plan. Installments already submitted are still
// settled by their confirmations.
func (s *PlanService) CancelPlan(ctx context.Context, requester domain.Identity, planID uuid.UUID) (*domain.InstallmentPlan, error) {
	var plan *domain.InstallmentPlan
	err := s.locker.WithLock(ctx, lock.PlanKey(planID.String()), func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			var err error
			plan, err = repos.Plans.GetByIDForUpdate(ctx, planID)
			if err != nil {
				return err
			}
			if plan.MemberID != requester.UserID && !requester.IsOperator(plan.ChapterID) {
				return customError.WrapForbidden("only the plan's member or a chapter operator may cancel it")
			}
			if plan.Status != domain.PlanStatusActive {
				return customError.WrapPlanNotActive(planID.String())
			}

			if err := plan.Cancel(s.now()); err != nil {
				return err
			}
			return repos.Plans.Update(ctx, plan)
		})
	})
	if err != nil {
		return nil, toBusinessError(err, "")
	}

	s.logger.WithFields(logrus.Fields{
		"plan_id":      plan.ID,
		"cancelled_by": requester.UserID,
	}).Info("installment plan cancelled")
	return plan, nil
}

// SetEligibility records which plan sizes a chapter operator allows for a balance.
func (s *PlanService) SetEligibility(ctx context.Context, requester domain.Identity, duesID uuid.UUID, req domain.SetEligibilityRequest) (*domain.Eligibility, error) {
	for _, size := range req.AllowedPlanSizes {
		if size < 1 || size > s.opts.MaxInstallments {
			return nil, customError.WrapValidation(
				fmt.Sprintf("allowed_plan_sizes must be between 1 and %d", s.opts.MaxInstallments), nil)
		}
	}
	if req.IsEligible && len(req.AllowedPlanSizes) == 0 {
		return nil, customError.WrapValidation("allowed_plan_sizes is required when is_eligible is true", nil)
	}

	var eligibility *domain.Eligibility
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		dues, err := repos.Dues.GetByID(ctx, duesID)
		if err != nil {
			return err
		}
		if !requester.IsOperator(dues.ChapterID) {
			return customError.WrapForbidden("only a chapter operator may set eligibility")
		}

		eligibility = &domain.Eligibility{
			DuesID:           duesID,
			IsEligible:       req.IsEligible,
			AllowedPlanSizes: dedupeSizes(req.AllowedPlanSizes),
			SetBy:            requester.UserID,
			UpdatedAt:        s.now(),
		}
		return repos.Eligibility.Upsert(ctx, eligibility)
	})
	if err != nil {
		return nil, toBusinessError(err, duesID.String())
	}

	s.logger.WithFields(logrus.Fields{
		"dues_id":     duesID,
		"is_eligible": eligibility.IsEligible,
		"sizes":       eligibility.AllowedPlanSizes,
		"set_by":      requester.UserID,
	}).Info("installment eligibility updated")
	return eligibility, nil
}

// ListPlansNeedingAttention lists the operator's chapter plans that exhausted retries.
func (s *PlanService) ListPlansNeedingAttention(ctx context.Context, requester domain.Identity) ([]*domain.InstallmentPlan, error) {
	if !requester.IsOperator(requester.ChapterID) {
		return nil, customError.WrapForbidden("only a chapter operator may list plans needing attention")
	}

	plans, err := s.store.Repos().Plans.ListNeedingAttention(ctx, requester.ChapterID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	if plans == nil {
		plans = []*domain.InstallmentPlan{}
	}
	return plans, nil
}

func dedupeSizes(sizes []int) []int {
	seen := make(map[int]bool, len(sizes))
	out := make([]int, 0, len(sizes))
	for _, size := range sizes {
		if !seen[size] {
			seen[size] = true
			out = append(out, size)
		}
	}
	return out
}

// toBusinessError maps repository and domain errors onto the error taxonomy.
// Errors that already carry a kind pass through unchanged.
func toBusinessError(err error, duesID string) error {
	if _, ok := customError.As(err); ok {
		return err
	}

	switch {
	case errors.Is(err, customError.ErrDuesNotFound):
		return customError.WrapDuesNotFound(duesID)
	case errors.Is(err, customError.ErrPlanNotFound):
		return customError.NewBusinessError(customError.KindNotFound, customError.ErrCodePlanNotFound, "installment plan not found", err)
	case errors.Is(err, customError.ErrActivePlanExists):
		return customError.WrapActivePlanExists(duesID)
	case errors.Is(err, customError.ErrChargeNotFound):
		return customError.NewBusinessError(customError.KindNotFound, customError.ErrCodeChargeNotFound, "charge not found", err)
	case errors.Is(err, utils.ErrInvalidInstallmentCount),
		errors.Is(err, utils.ErrNegativeTotal),
		errors.Is(err, utils.ErrDeadlineBeforeStart):
		return customError.WrapValidation(err.Error(), err)
	default:
		return customError.WrapInternal(err)
	}
}
