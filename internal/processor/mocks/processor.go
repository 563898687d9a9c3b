package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/segyhp/installment-engine/internal/processor"
)

// MockProcessor is a testify mock of processor.Processor.
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) SubmitCharge(ctx context.Context, req processor.ChargeRequest) (*processor.ChargeResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*processor.ChargeResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}
