package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount denominated in a single asset.
type Money struct {
	Amount decimal.Decimal
	Asset  AssetID
}

// NewMoney creates a new Money instance.
func NewMoney(amount decimal.Decimal, asset AssetID) Money {
	return Money{
		Amount: amount,
		Asset:  asset,
	}
}

// Convert converts the money to a target asset using a rate expressed as
// (target / source). The result is rounded down to scale decimal places.
func (m Money) Convert(target AssetID, rate decimal.Decimal, scale int32) Money {
	return Money{
		Amount: RoundDown(m.Amount.Mul(rate), scale),
		Asset:  target,
	}
}

// Sub subtracts an amount of the same asset.
func (m Money) Sub(amount decimal.Decimal) Money {
	return Money{Amount: m.Amount.Sub(amount), Asset: m.Asset}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.String(), m.Asset)
}

// RoundDown truncates d towards zero at scale decimal places.
func RoundDown(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.RoundFloor(scale)
}

// RoundUp rounds d away from zero at scale decimal places.
func RoundUp(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.RoundCeil(scale)
}

// ParseAmount parses a strictly positive decimal amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive: %s", s)
	}
	return d, nil
}
