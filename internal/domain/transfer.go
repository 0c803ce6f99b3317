package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransferState is the orchestration state of one hop of a payment.
type TransferState string

const (
	StateObserved               TransferState = "OBSERVED"
	StateSourceHeld             TransferState = "SOURCE_HELD"
	StateDestinationActionTaken TransferState = "DESTINATION_ACTION_TAKEN"
	StateFulfilled              TransferState = "FULFILLED"
	StateRejected               TransferState = "REJECTED"
	StateExpired                TransferState = "EXPIRED"
)

var transferTransitions = map[TransferState]map[TransferState]struct{}{
	StateObserved: {
		StateSourceHeld: {},
		StateRejected:   {},
		StateExpired:    {},
	},
	StateSourceHeld: {
		StateDestinationActionTaken: {},
		StateRejected:               {},
		StateExpired:                {},
	},
	StateDestinationActionTaken: {
		StateFulfilled: {},
		StateRejected:  {},
		StateExpired:   {},
	},
	StateFulfilled: {},
	StateRejected:  {},
	StateExpired:   {},
}

// IsTerminal reports whether no further transitions are possible.
func (s TransferState) IsTerminal() bool {
	return s == StateFulfilled || s == StateRejected || s == StateExpired
}

// CanTransition reports whether current -> next is allowed.
func CanTransition(current, next TransferState) bool {
	nextStates, ok := transferTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// HoldRef is the ledger's opaque reference to a placed hold.
type HoldRef string

// Rejection reasons recorded on terminal transfers.
const (
	ReasonInvalidPacket            = "invalid_packet"
	ReasonUnreachableDestination   = "unreachable_destination"
	ReasonInsufficientSourceAmount = "insufficient_source_amount"
	ReasonInsufficientFunds        = "insufficient_funds"
	ReasonSourceExpiryTooShort     = "source_expiry_too_short"
	ReasonDestinationRejected      = "destination_rejected"
	ReasonDestinationExpired       = "destination_expired"
	ReasonSourceExpired            = "source_expired"
	ReasonSourceCancelled          = "source_cancelled"
	ReasonLedgerError              = "ledger_error"
	ReasonFulfilled                = "fulfilled"
)

// Transfer is the live unit of work for one hop of a payment. The connector
// sits between the source leg (funds held towards the connector) and the
// destination leg (funds the connector holds towards the next party).
type Transfer struct {
	ID TransferID

	SourceLedger  LedgerID
	SourceAccount AccountID
	SourceAsset   AssetID
	SourceAmount  decimal.Decimal
	SourceHold    HoldRef
	SourceExpiry  time.Time

	DestinationLedger  LedgerID
	DestinationAccount AccountID
	DestinationAsset   AssetID
	DestinationAmount  decimal.Decimal
	DestinationHold    HoldRef
	DestinationExpiry  time.Time

	// NextHop is set when the destination leg is delegated to a peer.
	NextHop ConnectorID

	Condition   Condition
	Fulfillment Fulfillment
	Payload     []byte

	Fee      decimal.Decimal
	FeeAsset AssetID

	State     TransferState
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the transfer to next, enforcing the transition table.
func (t *Transfer) Transition(next TransferState, reason string, now time.Time) error {
	if t.State.IsTerminal() {
		return ErrAlreadyFinalized
	}
	if !CanTransition(t.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, t.State, next)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	t.State = next
	if reason != "" {
		t.Reason = reason
	}
	t.UpdatedAt = now
	return nil
}

// Delegated reports whether the destination leg goes to a peer connector.
func (t *Transfer) Delegated() bool {
	return !t.NextHop.IsZero()
}

// Clone returns a deep copy safe to hand outside the owning goroutine.
func (t *Transfer) Clone() *Transfer {
	c := *t
	c.Condition = append(Condition(nil), t.Condition...)
	c.Fulfillment = append(Fulfillment(nil), t.Fulfillment...)
	c.Payload = append([]byte(nil), t.Payload...)
	return &c
}

// TransferEvent is one entry of a transfer's audit trail.
type TransferEvent struct {
	TransferID TransferID
	From       TransferState
	To         TransferState
	Reason     string
	At         time.Time
}
