package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/installment-engine/pkg/money"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSplitAmount(t *testing.T) {
	tests := []struct {
		name     string
		total    money.Cents
		n        int
		expected []money.Cents
	}{
		{
			name:     "uneven split puts remainder first",
			total:    10000,
			n:        3,
			expected: []money.Cents{3334, 3333, 3333},
		},
		{
			name:     "500 over 3",
			total:    50000,
			n:        3,
			expected: []money.Cents{16668, 16666, 16666},
		},
		{
			name:     "7 over 4 divides evenly",
			total:    700,
			n:        4,
			expected: []money.Cents{175, 175, 175, 175},
		},
		{
			name:     "500 over 2",
			total:    50000,
			n:        2,
			expected: []money.Cents{25000, 25000},
		},
		{
			name:     "10000 over 4",
			total:    1000000,
			n:        4,
			expected: []money.Cents{250000, 250000, 250000, 250000},
		},
		{
			name:     "single installment",
			total:    1234,
			n:        1,
			expected: []money.Cents{1234},
		},
		{
			name:     "zero total",
			total:    0,
			n:        3,
			expected: []money.Cents{0, 0, 0},
		},
		{
			name:     "more installments than cents",
			total:    2,
			n:        3,
			expected: []money.Cents{2, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := SplitAmount(tt.total, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSplitAmount_Exactness(t *testing.T) {
	totals := []money.Cents{0, 1, 99, 100, 10001, 75000, 99999, 123456789}

	for _, total := range totals {
		for n := 1; n <= 24; n++ {
			result, err := SplitAmount(total, n)
			require.NoError(t, err)

			assert.Len(t, result, n)
			assert.Equal(t, total, money.Sum(result), "total=%d n=%d", total, n)
			for i, amount := range result {
				assert.GreaterOrEqual(t, int64(amount), int64(0))
				assert.GreaterOrEqual(t, int64(result[0]), int64(result[i]))
			}
		}
	}
}

func TestSplitAmount_InvalidInput(t *testing.T) {
	_, err := SplitAmount(100, 0)
	assert.ErrorIs(t, err, ErrInvalidInstallmentCount)

	_, err = SplitAmount(-1, 2)
	assert.ErrorIs(t, err, ErrNegativeTotal)
}

func TestGenerateSchedule_FixedCadence(t *testing.T) {
	result, err := GenerateSchedule(date(2025, 1, 15), 3, nil)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		date(2025, 1, 15),
		date(2025, 2, 14),
		date(2025, 3, 16),
	}, result)
}

func TestGenerateSchedule_FixedCadenceCrossesLeapDay(t *testing.T) {
	result, err := GenerateSchedule(date(2024, 1, 31), 3, nil)
	require.NoError(t, err)

	assert.Equal(t, date(2024, 3, 1), result[1])
	assert.Equal(t, date(2024, 3, 31), result[2])
}

func TestGenerateSchedule_WithDeadline(t *testing.T) {
	deadline := date(2025, 3, 2)

	result, err := GenerateSchedule(date(2025, 1, 1), 3, &deadline)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		date(2025, 1, 1),
		date(2025, 1, 31),
		date(2025, 3, 2),
	}, result)
}

func TestGenerateSchedule_LastDateIsDeadline(t *testing.T) {
	start := date(2025, 1, 1)
	deadlines := []time.Time{
		date(2025, 1, 1),
		date(2025, 1, 2),
		date(2025, 2, 17),
		date(2025, 12, 31),
		date(2026, 2, 28),
	}

	for _, deadline := range deadlines {
		for n := 1; n <= 12; n++ {
			d := deadline
			result, err := GenerateSchedule(start, n, &d)
			require.NoError(t, err)

			require.Len(t, result, n)
			assert.True(t, result[n-1].Equal(deadline), "n=%d deadline=%s", n, deadline)
			if n > 1 {
				assert.True(t, result[0].Equal(start))
			}
			for i := 1; i < n; i++ {
				assert.False(t, result[i].Before(result[i-1]), "dates must not decrease")
			}
		}
	}
}

func TestGenerateSchedule_SingleInstallment(t *testing.T) {
	start := date(2025, 5, 1)
	deadline := date(2025, 6, 1)

	withDeadline, err := GenerateSchedule(start, 1, &deadline)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{deadline}, withDeadline)

	without, err := GenerateSchedule(start, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{start}, without)
}

func TestGenerateSchedule_IsPureAndRepeatable(t *testing.T) {
	start := time.Date(2025, 1, 15, 13, 45, 0, 0, time.UTC)
	deadline := date(2025, 4, 15)
	startCopy, deadlineCopy := start, deadline

	first, err := GenerateSchedule(start, 4, &deadline)
	require.NoError(t, err)
	second, err := GenerateSchedule(start, 4, &deadline)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, startCopy, start)
	assert.Equal(t, deadlineCopy, deadline)
}

func TestGenerateSchedule_InvalidInput(t *testing.T) {
	_, err := GenerateSchedule(date(2025, 1, 1), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidInstallmentCount)

	past := date(2024, 12, 1)
	_, err = GenerateSchedule(date(2025, 1, 1), 2, &past)
	assert.ErrorIs(t, err, ErrDeadlineBeforeStart)
}

func TestDaysBetweenAndIsDue(t *testing.T) {
	assert.Equal(t, 60, DaysBetween(date(2025, 1, 1), date(2025, 3, 2)))
	assert.True(t, IsDue(date(2025, 1, 1), time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.False(t, IsDue(date(2025, 1, 2), date(2025, 1, 1)))
}
