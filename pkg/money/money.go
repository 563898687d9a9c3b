// Package money holds monetary amounts as integer minor units (cents).
// Arithmetic on amounts stays in int64; shopspring/decimal is used only when
// applying rates and when crossing the JSON boundary.
package money

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount of money in minor currency units.
type Cents int64

const Zero Cents = 0

var hundred = decimal.NewFromInt(100)

// FromDecimal converts a decimal amount to cents, rounding half away from zero.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

// FromString parses "12.34" style amounts. More than two fractional digits is an error.
func FromString(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	return FromDecimal(d), nil
}

// Decimal returns the amount in major units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

func (c Cents) IsPositive() bool { return c > 0 }

func (c Cents) IsNegative() bool { return c < 0 }

// Min returns the smaller of two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// Sum adds up amounts.
func Sum(amounts []Cents) Cents {
	var total Cents
	for _, a := range amounts {
		total += a
	}
	return total
}

// MarshalJSON renders the amount as a quoted two-decimal string, matching
// how decimal.Decimal serializes.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare number.
func (c *Cents) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}

	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
