package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/repository"
	customError "github.com/segyhp/installment-engine/pkg/errors"
)

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	store := New()
	ctx := context.Background()

	dues := &domain.DuesBalance{ID: uuid.New(), TotalAmount: 1000, Balance: 1000, Status: domain.DuesStatusPending}
	require.NoError(t, store.Repos().Dues.Create(ctx, dues))

	err := store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		d, err := repos.Dues.GetByIDForUpdate(ctx, dues.ID)
		if err != nil {
			return err
		}
		if err := d.ApplyPayment(500); err != nil {
			return err
		}
		if err := repos.Dues.Update(ctx, d); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	stored, err := store.Repos().Dues.GetByID(ctx, dues.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, stored.Balance)
}

func TestStore_OneActivePlanPerDues(t *testing.T) {
	store := New()
	ctx := context.Background()
	duesID := uuid.New()

	first := &domain.InstallmentPlan{ID: uuid.New(), DuesID: duesID, Status: domain.PlanStatusActive}
	require.NoError(t, store.Repos().Plans.Create(ctx, first))

	second := &domain.InstallmentPlan{ID: uuid.New(), DuesID: duesID, Status: domain.PlanStatusActive}
	assert.ErrorIs(t, store.Repos().Plans.Create(ctx, second), customError.ErrActivePlanExists)

	active, err := store.Repos().Plans.GetActiveByDuesID(ctx, duesID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestStore_ListSweepCandidates(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Date(2025, 2, 14, 9, 0, 0, 0, time.UTC)

	active := &domain.InstallmentPlan{ID: uuid.New(), DuesID: uuid.New(), Status: domain.PlanStatusActive}
	cancelled := &domain.InstallmentPlan{ID: uuid.New(), DuesID: uuid.New(), Status: domain.PlanStatusCancelled}
	require.NoError(t, store.Repos().Plans.Create(ctx, active))
	require.NoError(t, store.Repos().Plans.Create(ctx, cancelled))

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	payments := []*domain.InstallmentPayment{
		{ID: uuid.New(), PlanID: active.ID, InstallmentNumber: 1, ScheduledDate: now.AddDate(0, 0, -30), Status: domain.PaymentStatusFailed, AttemptCount: 1, NextAttemptAt: &past},
		{ID: uuid.New(), PlanID: active.ID, InstallmentNumber: 2, ScheduledDate: time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC), Status: domain.PaymentStatusScheduled},
		{ID: uuid.New(), PlanID: active.ID, InstallmentNumber: 3, ScheduledDate: now.AddDate(0, 0, 30), Status: domain.PaymentStatusScheduled},
	}
	require.NoError(t, store.Repos().Payments.CreateBatch(ctx, payments))
	require.NoError(t, store.Repos().Payments.CreateBatch(ctx, []*domain.InstallmentPayment{
		{ID: uuid.New(), PlanID: cancelled.ID, InstallmentNumber: 1, ScheduledDate: now, Status: domain.PaymentStatusScheduled},
		{ID: uuid.New(), PlanID: cancelled.ID, InstallmentNumber: 2, ScheduledDate: now, Status: domain.PaymentStatusFailed, AttemptCount: 1, NextAttemptAt: &future},
	}))

	candidates, err := store.Repos().Payments.ListSweepCandidates(ctx, now, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, 1, candidates[0].InstallmentNumber)
	assert.Equal(t, 2, candidates[1].InstallmentNumber)

	exhausted, err := store.Repos().Payments.ListSweepCandidates(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, 2, exhausted[0].InstallmentNumber)
}
