package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Cents
	}{
		{name: "whole dollars", input: "750", expected: 75000},
		{name: "cents", input: "33.34", expected: 3334},
		{name: "half cent rounds up", input: "7.775", expected: 778},
		{name: "below half cent rounds down", input: "7.7749", expected: 777},
		{name: "zero", input: "0", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FromDecimal(decimal.RequireFromString(tt.input))
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFromString_RejectsSubCentPrecision(t *testing.T) {
	_, err := FromString("10.001")
	assert.Error(t, err)

	c, err := FromString("10.100")
	require.NoError(t, err)
	assert.Equal(t, Cents(1010), c)

	_, err = FromString("abc")
	assert.Error(t, err)
}

func TestCents_String(t *testing.T) {
	assert.Equal(t, "33.34", Cents(3334).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.Equal(t, "250.00", Cents(25000).String())
}

func TestCents_JSON(t *testing.T) {
	type payload struct {
		Amount Cents `json:"amount"`
	}

	out, err := json.Marshal(payload{Amount: 16668})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"166.68"}`, string(out))

	var in payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"166.68"}`), &in))
	assert.Equal(t, Cents(16668), in.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount":12.5}`), &in))
	assert.Equal(t, Cents(1250), in.Amount)
}

func TestSumAndMin(t *testing.T) {
	assert.Equal(t, Cents(10000), Sum([]Cents{3334, 3333, 3333}))
	assert.Equal(t, Cents(500), Min(800, 500))
	assert.Equal(t, Zero, Sum(nil))
}
