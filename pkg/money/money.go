package money

import (
	"github.com/shopspring/decimal"
)

// Amounts are base-currency decimals with 2 fraction digits everywhere
// inside the service; the gateway boundary uses integer minor units.

// RoundHalfUp quantizes an amount to 2 decimal places, half away from zero.
func RoundHalfUp(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// FromString parses a decimal amount, returning zero on empty input.
func FromString(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundHalfUp(d), nil
}

// ToMinorUnits converts an amount to the gateway's integer minor units
// (amount x 100, rounded to the nearest integer).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts gateway minor units back to a base-currency amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100)).Round(2)
}

// IsPositive reports whether the amount is strictly greater than zero.
func IsPositive(amount decimal.Decimal) bool {
	return amount.GreaterThan(decimal.Zero)
}

// Min returns the smaller of two amounts.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}
