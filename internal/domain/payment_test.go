package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     PaymentStatus
		to       PaymentStatus
		expected bool
	}{
		{PaymentStatusScheduled, PaymentStatusProcessing, true},
		{PaymentStatusScheduled, PaymentStatusFailed, true},
		{PaymentStatusScheduled, PaymentStatusPaid, false},
		{PaymentStatusProcessing, PaymentStatusPaid, true},
		{PaymentStatusProcessing, PaymentStatusFailed, true},
		{PaymentStatusProcessing, PaymentStatusScheduled, false},
		{PaymentStatusFailed, PaymentStatusProcessing, true},
		{PaymentStatusFailed, PaymentStatusPaid, true},
		{PaymentStatusPaid, PaymentStatusFailed, false},
		{PaymentStatusPaid, PaymentStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestInstallmentPayment_Lifecycle(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	payment := &InstallmentPayment{
		ID:                uuid.New(),
		PlanID:            uuid.New(),
		InstallmentNumber: 2,
		Amount:            25000,
		Status:            PaymentStatusScheduled,
	}

	key := payment.IdempotencyKey()
	assert.Equal(t, payment.PlanID.String()+":2:1", key)

	require.NoError(t, payment.MarkProcessing("pi_123", now))
	assert.Equal(t, PaymentStatusProcessing, payment.Status)
	assert.Equal(t, "pi_123", *payment.ExternalChargeRef)

	retryAt := now.Add(24 * time.Hour)
	require.NoError(t, payment.MarkFailed(now, &retryAt))
	assert.Equal(t, 1, payment.AttemptCount)
	assert.Equal(t, payment.PlanID.String()+":2:2", payment.IdempotencyKey())

	require.NoError(t, payment.MarkProcessing("pi_456", now))
	require.NoError(t, payment.MarkPaid(now))
	assert.Equal(t, PaymentStatusPaid, payment.Status)
	assert.Nil(t, payment.NextAttemptAt)
	require.NotNil(t, payment.PaidAt)

	err := payment.MarkFailed(now, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PaymentStatusPaid, payment.Status)
}

func TestInstallmentPlan_Transitions(t *testing.T) {
	now := time.Now()

	plan := &InstallmentPlan{ID: uuid.New(), Status: PlanStatusActive}
	require.NoError(t, plan.Cancel(now))
	assert.Equal(t, PlanStatusCancelled, plan.Status)
	require.NotNil(t, plan.CancelledAt)

	assert.ErrorIs(t, plan.Complete(now), ErrInvalidTransition)
	assert.ErrorIs(t, plan.Cancel(now), ErrInvalidTransition)

	completed := &InstallmentPlan{ID: uuid.New(), Status: PlanStatusActive}
	require.NoError(t, completed.Complete(now))
	assert.ErrorIs(t, completed.Cancel(now), ErrInvalidTransition)
}

func TestDuesBalance_ApplyPayment(t *testing.T) {
	dues := &DuesBalance{TotalAmount: 75000, Balance: 75000, Status: DuesStatusPending}

	require.NoError(t, dues.ApplyPayment(25000))
	assert.Equal(t, DuesStatusPartial, dues.Status)
	assert.Equal(t, dues.TotalAmount-dues.AmountPaid, dues.Balance)

	require.NoError(t, dues.ApplyPayment(50000))
	assert.Equal(t, DuesStatusPaid, dues.Status)
	assert.Zero(t, int64(dues.Balance))

	assert.ErrorIs(t, dues.ApplyPayment(1), ErrOverpayment)
}

func TestEligibility_Allows(t *testing.T) {
	e := &Eligibility{IsEligible: true, AllowedPlanSizes: []int{2, 3}}
	assert.True(t, e.Allows(3))
	assert.False(t, e.Allows(4))
}
