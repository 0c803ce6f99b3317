// Package fee computes the connector's fee on a forwarded amount.
package fee

import (
	"fmt"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/shopspring/decimal"
)

// Calculator maps an amount in an asset to the fee the connector keeps and
// the net amount it forwards. Implementations must be pure.
type Calculator interface {
	ComputeFee(asset domain.AssetID, amount decimal.Decimal) (fee, net decimal.Decimal)
	// GrossUp returns the smallest amount whose net after fees covers net.
	GrossUp(asset domain.AssetID, net decimal.Decimal) decimal.Decimal
}

// Schedule is the fee policy for one asset. Rate is a fraction of the amount
// (0.01 = 1%), Minimum an absolute floor, Scale the asset's decimal places.
type Schedule struct {
	Rate    decimal.Decimal
	Minimum decimal.Decimal
	Scale   int32
}

func (s Schedule) validate() error {
	if s.Rate.IsNegative() || s.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee rate must be in [0, 1): %s", s.Rate)
	}
	if s.Minimum.IsNegative() {
		return fmt.Errorf("fee minimum must not be negative: %s", s.Minimum)
	}
	if s.Scale < 0 {
		return fmt.Errorf("fee scale must not be negative: %d", s.Scale)
	}
	return nil
}

// PercentageCalculator charges a per-asset percentage, rounded up to the
// asset's scale, never below the schedule minimum and never above the amount.
type PercentageCalculator struct {
	fallback Schedule
	perAsset map[domain.AssetID]Schedule
}

func NewPercentageCalculator(fallback Schedule, perAsset map[domain.AssetID]Schedule) (*PercentageCalculator, error) {
	if err := fallback.validate(); err != nil {
		return nil, fmt.Errorf("default schedule: %w", err)
	}
	schedules := make(map[domain.AssetID]Schedule, len(perAsset))
	for asset, s := range perAsset {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", asset, err)
		}
		schedules[asset] = s
	}
	return &PercentageCalculator{fallback: fallback, perAsset: schedules}, nil
}

func (c *PercentageCalculator) schedule(asset domain.AssetID) Schedule {
	if s, ok := c.perAsset[asset]; ok {
		return s
	}
	return c.fallback
}

func (c *PercentageCalculator) ComputeFee(asset domain.AssetID, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if !amount.IsPositive() {
		return decimal.Zero, amount
	}
	s := c.schedule(asset)
	fee := domain.RoundUp(amount.Mul(s.Rate), s.Scale)
	if fee.LessThan(s.Minimum) {
		fee = s.Minimum
	}
	if fee.GreaterThan(amount) {
		fee = amount
	}
	return fee, amount.Sub(fee)
}

func (c *PercentageCalculator) GrossUp(asset domain.AssetID, net decimal.Decimal) decimal.Decimal {
	if !net.IsPositive() {
		return net
	}
	s := c.schedule(asset)
	gross := domain.RoundUp(net.Div(decimal.NewFromInt(1).Sub(s.Rate)), s.Scale)
	if floor := net.Add(s.Minimum); gross.LessThan(floor) {
		gross = floor
	}
	step := decimal.New(1, -s.Scale)
	for {
		if _, got := c.ComputeFee(asset, gross); got.GreaterThanOrEqual(net) {
			break
		}
		gross = gross.Add(step)
	}
	// Walk back while a smaller gross still covers net.
	for {
		smaller := gross.Sub(step)
		if _, got := c.ComputeFee(asset, smaller); smaller.LessThan(net) || got.LessThan(net) {
			return gross
		}
		gross = smaller
	}
}

// Reversal never charges. Refunds and rollbacks must go through it.
type Reversal struct{}

func (Reversal) ComputeFee(_ domain.AssetID, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	return decimal.Zero, amount
}

func (Reversal) GrossUp(_ domain.AssetID, net decimal.Decimal) decimal.Decimal {
	return net
}
