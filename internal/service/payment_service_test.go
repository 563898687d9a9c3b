package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/processor"
	customError "github.com/segyhp/installment-engine/pkg/errors"
	"github.com/segyhp/installment-engine/pkg/money"
)

func (f *fixture) createPlan(t *testing.T, n int, chargeRef string) uuid.UUID {
	t.Helper()
	f.expectCharge(chargeRef)
	result, err := f.plans.CreatePlan(context.Background(), f.member, f.request(n))
	require.NoError(t, err)
	return result.PlanID
}

func (f *fixture) confirm(t *testing.T, ref string, outcome domain.ChargeOutcome) {
	t.Helper()
	require.NoError(t, f.payments.ApplyConfirmation(context.Background(), domain.Confirmation{
		ChargeRef:     ref,
		Outcome:       outcome,
		FailureReason: "card_declined",
	}))
}

func (f *fixture) plan(t *testing.T, id uuid.UUID) *domain.InstallmentPlan {
	t.Helper()
	plan, err := f.store.Repos().Plans.GetByID(context.Background(), id)
	require.NoError(t, err)
	return plan
}

func (f *fixture) installments(t *testing.T, planID uuid.UUID) []*domain.InstallmentPayment {
	t.Helper()
	payments, err := f.store.Repos().Payments.ListByPlanID(context.Background(), planID)
	require.NoError(t, err)
	return payments
}

func (f *fixture) balance(t *testing.T, duesID uuid.UUID) money.Cents {
	t.Helper()
	dues, err := f.store.Repos().Dues.GetByID(context.Background(), duesID)
	require.NoError(t, err)
	return dues.Balance
}

func forPlan(planID uuid.UUID) any {
	return mock.MatchedBy(func(req processor.ChargeRequest) bool {
		return req.Metadata["plan_id"] == planID.String()
	})
}

func TestApplyConfirmation_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(t, 3, "pi_1")

	f.confirm(t, "pi_1", domain.ChargeOutcomeSucceeded)
	f.confirm(t, "pi_1", domain.ChargeOutcomeSucceeded)
	// A conflicting late event for a settled charge is ignored too.
	f.confirm(t, "pi_1", domain.ChargeOutcomeFailed)

	assert.Equal(t, money.Cents(50000), f.balance(t, f.dues.ID))

	payments := f.installments(t, planID)
	assert.Equal(t, domain.PaymentStatusPaid, payments[0].Status)
	require.NotNil(t, payments[0].PaidAt)
	assert.Zero(t, payments[0].AttemptCount)

	plan := f.plan(t, planID)
	require.NotNil(t, plan.NextDueDate)
	assert.Equal(t, payments[1].ScheduledDate, *plan.NextDueDate)

	charges, err := f.store.Repos().Charges.ListByPaymentID(context.Background(), payments[0].ID)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, domain.ChargeStatusSucceeded, charges[0].Status)
}

func TestApplyConfirmation_SuccessAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	planID := f.createPlan(t, 3, "pi_1")

	f.confirm(t, "pi_1", domain.ChargeOutcomeFailed)
	require.Equal(t, domain.PaymentStatusFailed, f.installments(t, planID)[0].Status)

	// The payer retried the confirmation on the same intent.
	f.confirm(t, "pi_1", domain.ChargeOutcomeSucceeded)
	f.confirm(t, "pi_1", domain.ChargeOutcomeFailed)

	first := f.installments(t, planID)[0]
	assert.Equal(t, domain.PaymentStatusPaid, first.Status)
	assert.Nil(t, first.NextAttemptAt)
	require.NotNil(t, first.PaidAt)
	assert.Equal(t, money.Cents(50000), f.balance(t, f.dues.ID))
	assert.False(t, f.plan(t, planID).NeedsAttention)

	charges, err := f.store.Repos().Charges.ListByPaymentID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, domain.ChargeStatusSucceeded, charges[0].Status)

	// No retry of a paid installment.
	report, err := f.payments.RunSweep(ctx, f.now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	f.proc.AssertNumberOfCalls(t, "SubmitCharge", 1)
}

func TestApplyConfirmation_EarlierChargeSucceedsDuringRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	planID := f.createPlan(t, 3, "pi_1")

	f.confirm(t, "pi_1", domain.ChargeOutcomeFailed)

	f.expectCharge("pi_2")
	f.now = f.now.Add(24 * time.Hour)
	report, err := f.payments.RunSweep(ctx, f.now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Submitted)

	f.confirm(t, "pi_1", domain.ChargeOutcomeSucceeded)

	first := f.installments(t, planID)[0]
	assert.Equal(t, domain.PaymentStatusPaid, first.Status)
	assert.Equal(t, money.Cents(50000), f.balance(t, f.dues.ID))
	assert.True(t, f.plan(t, planID).NeedsAttention)

	// The retry also collected; the installment is not credited twice.
	f.confirm(t, "pi_2", domain.ChargeOutcomeSucceeded)
	assert.Equal(t, money.Cents(50000), f.balance(t, f.dues.ID))
	assert.Equal(t, domain.PlanStatusActive, f.plan(t, planID).Status)

	charges, err := f.store.Repos().Charges.ListByPaymentID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, charges, 2)
	for _, c := range charges {
		assert.Equal(t, domain.ChargeStatusSucceeded, c.Status)
	}
}

func TestApplyConfirmation_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	planID := f.createPlan(t, 3, "pi_1")

	const deliveries = 8
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.payments.ApplyConfirmation(context.Background(), domain.Confirmation{
				ChargeRef: "pi_1",
				Outcome:   domain.ChargeOutcomeSucceeded,
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, money.Cents(50000), f.balance(t, f.dues.ID))
	assert.Equal(t, domain.PaymentStatusPaid, f.installments(t, planID)[0].Status)
	assert.False(t, f.plan(t, planID).NeedsAttention)
}

func TestApplyConfirmation_UnknownCharge(t *testing.T) {
	f := newFixture(t)

	err := f.payments.ApplyConfirmation(context.Background(), domain.Confirmation{ChargeRef: "pi_missing", Outcome: domain.ChargeOutcomeSucceeded})
	assertKind(t, err, customError.KindNotFound, customError.ErrCodeChargeNotFound)

	err = f.payments.ApplyConfirmation(context.Background(), domain.Confirmation{ChargeRef: "pi_1", Outcome: "refunded"})
	assertKind(t, err, customError.KindValidation, customError.ErrCodeValidation)
}

func TestApplyConfirmation_LateSuccessOnCancelledPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	planID := f.createPlan(t, 3, "pi_1")

	_, err := f.plans.CancelPlan(ctx, f.member, planID)
	require.NoError(t, err)

	f.confirm(t, "pi_1", domain.ChargeOutcomeSucceeded)

	assert.Equal(t, money.Cents(50000), f.balance(t, f.dues.ID))
	assert.Equal(t, domain.PlanStatusCancelled, f.plan(t, planID).Status)
	assert.Equal(t, domain.PaymentStatusPaid, f.installments(t, planID)[0].Status)

	// Cancelled plans are never swept.
	f.now = time.Date(2025, 2, 14, 1, 0, 0, 0, time.UTC)
	report, err := f.payments.RunSweep(ctx, f.now)
	require.NoError(t, err)
	assert.Zero(t, report.Plans)
	f.proc.AssertNumberOfCalls(t, "SubmitCharge", 1)
}

func TestApplyConfirmation_OverpaymentFlagsPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	planID := f.createPlan(t, 3, "pi_1")

	// Most of the balance was settled outside the plan.
	dues, err := f.store.Repos().Dues.GetByID(ctx, f.dues.ID)
	require.NoError(t, err)
	require.NoError(t, dues.ApplyPayment(65000))
	require.NoError(t, f.store.Repos().Dues.Update(ctx, dues))

	f.confirm(t, "pi_1", domain.ChargeOutcomeSucceeded)

	assert.Zero(t, int64(f.balance(t, f.dues.ID)))
	plan := f.plan(t, planID)
	assert.True(t, plan.NeedsAttention)
	assert.Equal(t, domain.PlanStatusActive, plan.Status)
}

func TestRetriesExhaustedCancelsAndFlagsPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	planID := f.createPlan(t, 3, "pi_1")

	for _, ref := range []string{"pi_retry_1", "pi_retry_2"} {
		f.proc.On("SubmitCharge", mock.Anything, mock.Anything).
			Return(nil, &processor.DeclineError{ChargeRef: ref, Code: "card_declined", Reason: "insufficient funds"}).Once()
	}

	f.confirm(t, "pi_1", domain.ChargeOutcomeFailed)

	first := f.installments(t, planID)[0]
	assert.Equal(t, domain.PaymentStatusFailed, first.Status)
	assert.Equal(t, 1, first.AttemptCount)
	require.NotNil(t, first.NextAttemptAt)
	assert.Equal(t, f.now.Add(24*time.Hour), *first.NextAttemptAt)

	// Too early for the retry.
	report, err := f.payments.RunSweep(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)

	f.now = f.now.Add(24 * time.Hour)
	report, err = f.payments.RunSweep(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Declined)

	first = f.installments(t, planID)[0]
	assert.Equal(t, 2, first.AttemptCount)
	require.NotNil(t, first.NextAttemptAt)
	assert.Equal(t, f.now.Add(48*time.Hour), *first.NextAttemptAt)
	assert.Equal(t, domain.PlanStatusActive, f.plan(t, planID).Status)

	f.now = f.now.Add(48 * time.Hour)
	report, err = f.payments.RunSweep(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Declined)

	first = f.installments(t, planID)[0]
	assert.Equal(t, 3, first.AttemptCount)
	assert.Nil(t, first.NextAttemptAt)

	plan := f.plan(t, planID)
	assert.Equal(t, domain.PlanStatusCancelled, plan.Status)
	assert.True(t, plan.NeedsAttention)

	flagged, err := f.plans.ListPlansNeedingAttention(ctx, f.treasurer)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, planID, flagged[0].ID)

	_, err = f.plans.ListPlansNeedingAttention(ctx, f.member)
	assertKind(t, err, customError.KindAuthorization, customError.ErrCodeForbidden)

	report, err = f.payments.RunSweep(ctx, f.now.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.Plans)
	f.proc.AssertExpectations(t)
}

func TestRunSweep_OrderingAndIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Plan A: first installment still awaiting confirmation.
	planA := f.createPlan(t, 3, "pi_a1")

	// Plans B and C: first installment paid.
	f.dues = f.seedDues(t, f.member.UserID, 60000, []int{3})
	planB := f.createPlan(t, 3, "pi_b1")
	f.confirm(t, "pi_b1", domain.ChargeOutcomeSucceeded)

	f.dues = f.seedDues(t, f.member.UserID, 30000, []int{3})
	planC := f.createPlan(t, 3, "pi_c1")
	f.confirm(t, "pi_c1", domain.ChargeOutcomeSucceeded)

	f.proc.On("SubmitCharge", mock.Anything, forPlan(planB)).
		Return(&processor.ChargeResult{ChargeRef: "pi_b2"}, nil).Once()
	f.proc.On("SubmitCharge", mock.Anything, forPlan(planC)).
		Return(nil, processor.ErrUnavailable).Once()

	f.now = time.Date(2025, 2, 14, 0, 5, 0, 0, time.UTC)
	report, err := f.payments.RunSweep(ctx, f.now)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Plans)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, domain.PaymentStatusScheduled, f.installments(t, planA)[1].Status)
	assert.Equal(t, domain.PaymentStatusProcessing, f.installments(t, planB)[1].Status)

	// The gateway error left C's installment untouched for the next sweep.
	c2 := f.installments(t, planC)[1]
	assert.Equal(t, domain.PaymentStatusScheduled, c2.Status)
	assert.Zero(t, c2.AttemptCount)

	f.proc.AssertExpectations(t)
}
