package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/segyhp/installment-engine/internal/config"
	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/pkg/money"
)

var (
	ErrUnknownPaymentMethod = errors.New("unknown payment method type")
	errNegativeAmount       = errors.New("amount cannot be negative")
)

// FeeBreakdown is the fee split for one charge.
type FeeBreakdown struct {
	BaseAmount   money.Cents
	ProcessorFee money.Cents
	PlatformFee  money.Cents
	TotalCharge  money.Cents
	NetAmount    money.Cents
	// ApplicationFee is what the platform keeps from a destination charge.
	ApplicationFee money.Cents
}

// FeeCalculator computes processor and platform fees from injected rates.
type FeeCalculator struct {
	rates config.FeeRates
}

func NewFeeCalculator(rates config.FeeRates) *FeeCalculator {
	return &FeeCalculator{rates: rates}
}

// Calculate returns the fee breakdown for charging amount with the given method class.
//
// Bank transfers are charged the plain amount and the processor fee is taken
// from the chapter's share. Card fees are grossed up onto the payer so the
// chapter receives amount less the platform fee.
func (c *FeeCalculator) Calculate(amount money.Cents, method domain.PaymentMethodType) (FeeBreakdown, error) {
	if amount.IsNegative() {
		return FeeBreakdown{}, fmt.Errorf("fee amount %s: %w", amount, errNegativeAmount)
	}

	base := amount.Decimal()
	platformFee := money.FromDecimal(base.Mul(c.rates.PlatformRate))

	var (
		processorFee money.Cents
		totalCharge  money.Cents
		net          money.Cents
	)

	switch method {
	case domain.PaymentMethodBankAccount:
		processorFee = money.Min(money.FromDecimal(base.Mul(c.rates.BankRate)), money.FromDecimal(c.rates.BankCap))
		totalCharge = amount
		net = amount - processorFee - platformFee
	case domain.PaymentMethodCard:
		gross := base.Add(c.rates.CardFixed).Div(decimal.NewFromInt(1).Sub(c.rates.CardRate))
		processorFee = money.FromDecimal(gross.Sub(base))
		totalCharge = amount + processorFee
		net = amount - platformFee
	default:
		return FeeBreakdown{}, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, method)
	}

	if net.IsNegative() {
		net = money.Zero
	}

	return FeeBreakdown{
		BaseAmount:     amount,
		ProcessorFee:   processorFee,
		PlatformFee:    platformFee,
		TotalCharge:    totalCharge,
		NetAmount:      net,
		ApplicationFee: totalCharge - net,
	}, nil
}
