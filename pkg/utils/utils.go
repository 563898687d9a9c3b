package utils

import (
	"errors"
	"time"

	"github.com/segyhp/installment-engine/pkg/money"
)

// FixedCadenceDays is the spacing between installments when no deadline applies.
const FixedCadenceDays = 30

var (
	ErrInvalidInstallmentCount = errors.New("installment count must be at least 1")
	ErrNegativeTotal           = errors.New("total amount cannot be negative")
	ErrDeadlineBeforeStart     = errors.New("deadline is before schedule start")
)

// SplitAmount divides total into n installments that add up to total exactly.
// Formula: base = floor(total / n), first installment carries the remainder.
func SplitAmount(total money.Cents, n int) ([]money.Cents, error) {
	if n < 1 {
		return nil, ErrInvalidInstallmentCount
	}
	if total < 0 {
		return nil, ErrNegativeTotal
	}

	base := total / money.Cents(n)
	remainder := total - base*money.Cents(n)

	amounts := make([]money.Cents, n)
	for i := range amounts {
		amounts[i] = base
	}
	amounts[0] += remainder

	return amounts, nil
}

// GenerateSchedule returns n due dates starting at start.
// Without a deadline the dates are FixedCadenceDays apart. With a deadline the
// first date is start, the last is the deadline, and interior dates are spaced
// evenly in whole days.
func GenerateSchedule(start time.Time, n int, deadline *time.Time) ([]time.Time, error) {
	if n < 1 {
		return nil, ErrInvalidInstallmentCount
	}

	first := DateOnly(start)
	dates := make([]time.Time, n)

	if deadline == nil {
		for i := range dates {
			dates[i] = first.AddDate(0, 0, FixedCadenceDays*i)
		}
		return dates, nil
	}

	last := DateOnly(*deadline)
	if last.Before(first) {
		return nil, ErrDeadlineBeforeStart
	}

	if n == 1 {
		dates[0] = last
		return dates, nil
	}

	span := DaysBetween(first, last)
	steps := n - 1
	for i := 0; i < steps; i++ {
		dates[i] = first.AddDate(0, 0, roundDiv(i*span, steps))
	}
	dates[steps] = last

	return dates, nil
}

// roundDiv returns a/b rounded half up, for a >= 0 and b > 0.
func roundDiv(a, b int) int {
	return (2*a + b) / (2 * b)
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

// IsDue reports whether a scheduled date has arrived as of now.
func IsDue(scheduled, now time.Time) bool {
	return !DateOnly(scheduled).After(DateOnly(now))
}
