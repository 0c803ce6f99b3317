package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// ExchangeRateService defines the interface for fetching FX rates.
type ExchangeRateService interface {
	// GetExchangeRate returns the rate to convert from source to target asset,
	// expressed as target units per source unit.
	GetExchangeRate(ctx context.Context, source, target domain.AssetID) (decimal.Decimal, error)
}

// StaticExchangeRateService derives cross rates from a table of asset values
// against a common base.
type StaticExchangeRateService struct {
	rates map[domain.AssetID]decimal.Decimal
}

// NewStaticExchangeRateService builds a rate table. A rate of 0.92 for EUR
// means one base unit buys 0.92 EUR.
func NewStaticExchangeRateService(rates map[domain.AssetID]decimal.Decimal) (*StaticExchangeRateService, error) {
	table := make(map[domain.AssetID]decimal.Decimal, len(rates))
	for asset, r := range rates {
		if !r.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive: %s", asset, r)
		}
		table[asset] = r
	}
	return &StaticExchangeRateService{rates: table}, nil
}

func (s *StaticExchangeRateService) GetExchangeRate(_ context.Context, source, target domain.AssetID) (decimal.Decimal, error) {
	if source == target {
		return decimal.NewFromInt(1), nil
	}
	sourceRate, ok1 := s.rates[source]
	targetRate, ok2 := s.rates[target]
	if !ok1 || !ok2 {
		return decimal.Zero, fmt.Errorf("%w: %s -> %s", ErrRateUnavailable, source, target)
	}
	// Rate = Target / Source
	return targetRate.Div(sourceRate), nil
}
