package domain

import "errors"

var (
	ErrInvalidQuoteRequest = errors.New("invalid quote request")
	ErrUnroutableQuote     = errors.New("no route to destination")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrLedgerAddressParse  = errors.New("malformed ledger address")
	ErrInvalidPacket       = errors.New("invalid payment packet")
	ErrEmptyID             = errors.New("identifier must not be empty")

	// ErrLedgerUnavailable, ErrPeerUnavailable and ErrStoreUnavailable mark
	// transient failures that may be retried until the transfer deadline.
	ErrLedgerUnavailable = errors.New("ledger temporarily unavailable")
	ErrPeerUnavailable   = errors.New("peer connector temporarily unavailable")
	ErrStoreUnavailable  = errors.New("transfer store temporarily unavailable")

	ErrHoldNotFound           = errors.New("hold not found")
	ErrHoldNotActive          = errors.New("hold is no longer active")
	ErrConditionMismatch      = errors.New("fulfillment does not match condition")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrAlreadyFinalized       = errors.New("transfer already finalized")
	ErrInvalidStateTransition = errors.New("invalid transfer state transition")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, ErrPeerUnavailable) ||
		errors.Is(err, ErrStoreUnavailable)
}
