package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationKind enumerates ledger hold-state changes.
type NotificationKind string

const (
	HoldPlaced    NotificationKind = "hold_placed"
	HoldFulfilled NotificationKind = "hold_fulfilled"
	HoldExpired   NotificationKind = "hold_expired"
	HoldCancelled NotificationKind = "hold_cancelled"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case HoldPlaced, HoldFulfilled, HoldExpired, HoldCancelled:
		return true
	}
	return false
}

// Notification is a hold-state change reported by a ledger. Only the fields
// relevant to Kind are populated.
type Notification struct {
	Kind       NotificationKind
	Ledger     LedgerID
	TransferID TransferID
	Hold       HoldRef

	// HoldPlaced
	Account   AccountID // credited account
	Sender    AccountID // debited account
	Amount    decimal.Decimal
	Condition Condition
	Expiry    time.Time
	Payload   []byte

	// HoldFulfilled
	Fulfillment Fulfillment
}
