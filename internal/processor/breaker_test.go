package processor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/installment-engine/internal/processor"
	"github.com/segyhp/installment-engine/internal/processor/mocks"
	"github.com/segyhp/installment-engine/pkg/logger"
)

func TestBreakerProcessor_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &mocks.MockProcessor{}
	inner.On("SubmitCharge", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Times(3)

	p := processor.NewBreakerProcessor(inner, processor.BreakerConfig{
		Timeout:             time.Second,
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
	}, logger.Discard())

	for i := 0; i < 3; i++ {
		_, err := p.SubmitCharge(context.Background(), processor.ChargeRequest{IdempotencyKey: "k"})
		require.Error(t, err)
	}

	_, err := p.SubmitCharge(context.Background(), processor.ChargeRequest{IdempotencyKey: "k"})
	assert.ErrorIs(t, err, processor.ErrUnavailable)
	assert.Equal(t, "open", p.State())
	inner.AssertNumberOfCalls(t, "SubmitCharge", 3)
}

func TestBreakerProcessor_DeclinesDoNotTrip(t *testing.T) {
	inner := &mocks.MockProcessor{}
	inner.On("SubmitCharge", mock.Anything, mock.Anything).
		Return(nil, &processor.DeclineError{Code: "card_declined", Reason: "insufficient funds"})

	p := processor.NewBreakerProcessor(inner, processor.BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, logger.Discard())

	for i := 0; i < 5; i++ {
		_, err := p.SubmitCharge(context.Background(), processor.ChargeRequest{})
		assert.ErrorIs(t, err, processor.ErrDeclined)
	}
	assert.Equal(t, "closed", p.State())
}

func TestBreakerProcessor_AppliesTimeout(t *testing.T) {
	inner := &mocks.MockProcessor{}
	inner.On("SubmitCharge", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
		}).
		Return(&processor.ChargeResult{ChargeRef: "pi_1", ConfirmationHandle: "secret"}, nil)

	p := processor.NewBreakerProcessor(inner, processor.BreakerConfig{Timeout: 50 * time.Millisecond}, logger.Discard())

	result, err := p.SubmitCharge(context.Background(), processor.ChargeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", result.ChargeRef)
}
