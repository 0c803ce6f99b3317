package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetPair identifies one tradable corridor.
type AssetPair struct {
	SourceLedger      LedgerID
	SourceAsset       AssetID
	DestinationLedger LedgerID
	DestinationAsset  AssetID
}

// QuoteRequest is one side of a transfer proposal. Across a source and
// destination pair exactly one side carries an amount.
type QuoteRequest struct {
	Ledger LedgerID
	// Asset is optional; the ledger's configured asset is used when empty.
	Asset  AssetID
	Amount *decimal.Decimal
	// ExpiryWindow of zero means the ledger's default expiry.
	ExpiryWindow time.Duration
}

// HasAmount reports whether the side fixes an amount.
func (r QuoteRequest) HasAmount() bool {
	return r.Amount != nil
}

// Quote is a non-binding statement of exchange terms.
type Quote struct {
	Pair              AssetPair
	SourceAmount      decimal.Decimal
	DestinationAmount decimal.Decimal
	Fee               decimal.Decimal
	FeeAsset          AssetID
	SourceExpiry      time.Duration
	DestinationExpiry time.Duration
	ConnectorID       ConnectorID
	// Via names the downstream connector when the quote was composed with a
	// peer quote.
	Via ConnectorID
}
