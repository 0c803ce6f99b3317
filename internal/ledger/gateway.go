// Package ledger defines the connector's view of a ledger: conditional holds
// that are fulfilled, cancelled or expire, reported back as notifications.
package ledger

import (
	"context"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/shopspring/decimal"
)

// HoldRequest asks a ledger to move Amount from From to To once a fulfillment
// for Condition is presented before Expiry.
type HoldRequest struct {
	TransferID domain.TransferID
	From       domain.AccountID
	To         domain.AccountID
	Amount     decimal.Decimal
	Condition  domain.Condition
	Expiry     time.Time
	Payload    []byte
}

// Gateway is the adapter for one ledger. Every action is idempotent: placing
// a hold twice for the same transfer and sender returns the first hold, and
// repeating a fulfill or cancel that already took effect is not an error.
// Holds of the same transfer from different senders are distinct, so an
// inbound and an outbound leg may share a ledger.
type Gateway interface {
	Ledger() domain.LedgerID
	PlaceHold(ctx context.Context, req HoldRequest) (domain.HoldRef, error)
	Fulfill(ctx context.Context, hold domain.HoldRef, f domain.Fulfillment) error
	Cancel(ctx context.Context, hold domain.HoldRef) error
	// Confirm checks a notification received out of band against the
	// ledger's own records. It fails with domain.ErrHoldNotFound when this
	// gateway does not hold a matching hold, since actions on it could not
	// reach the ledger.
	Confirm(ctx context.Context, n domain.Notification) error
	// Subscribe streams hold-state changes until ctx is done.
	Subscribe(ctx context.Context) (<-chan domain.Notification, error)
}

// Gateways maps each connected ledger to its adapter.
type Gateways map[domain.LedgerID]Gateway

func NewGateways(gws ...Gateway) Gateways {
	out := make(Gateways, len(gws))
	for _, gw := range gws {
		out[gw.Ledger()] = gw
	}
	return out
}

func (g Gateways) Get(id domain.LedgerID) (Gateway, bool) {
	gw, ok := g[id]
	return gw, ok
}
