package models

import "time"

// QuoteRequest is the wire form of a quote request. Exactly one of
// SourceAmount and DestinationAmount must be set. Expiries are in seconds.
type QuoteRequest struct {
	SourceLedger      string   `json:"source_ledger" validate:"required"`
	SourceAsset       string   `json:"source_asset,omitempty" validate:"omitempty,alphanum,max=12"`
	SourceAmount      string   `json:"source_amount,omitempty" validate:"omitempty,numeric"`
	SourceExpiry      *float64 `json:"source_expiry,omitempty" validate:"omitempty,gt=0"`
	DestinationLedger string   `json:"destination_ledger" validate:"required"`
	DestinationAsset  string   `json:"destination_asset,omitempty" validate:"omitempty,alphanum,max=12"`
	DestinationAmount string   `json:"destination_amount,omitempty" validate:"omitempty,numeric"`
	DestinationExpiry *float64 `json:"destination_expiry,omitempty" validate:"omitempty,gt=0"`
}

type QuoteResponse struct {
	SourceLedger      string  `json:"source_ledger"`
	SourceAsset       string  `json:"source_asset"`
	SourceAmount      string  `json:"source_amount"`
	SourceExpiry      float64 `json:"source_expiry"`
	DestinationLedger string  `json:"destination_ledger"`
	DestinationAsset  string  `json:"destination_asset"`
	DestinationAmount string  `json:"destination_amount"`
	DestinationExpiry float64 `json:"destination_expiry"`
	Fee               string  `json:"fee"`
	FeeAsset          string  `json:"fee_asset"`
	ConnectorID       string  `json:"connector_id"`
	Via               string  `json:"via,omitempty"`
}

// Transfer is the durable view of one hop.
type Transfer struct {
	ID                 string    `json:"id"`
	State              string    `json:"state"`
	Reason             string    `json:"reason,omitempty"`
	SourceLedger       string    `json:"source_ledger"`
	SourceAccount      string    `json:"source_account"`
	SourceAmount       string    `json:"source_amount"`
	SourceHold         string    `json:"source_hold,omitempty"`
	SourceExpiry       time.Time `json:"source_expiry"`
	DestinationLedger  string    `json:"destination_ledger,omitempty"`
	DestinationAccount string    `json:"destination_account,omitempty"`
	DestinationAmount  string    `json:"destination_amount,omitempty"`
	DestinationHold    string    `json:"destination_hold,omitempty"`
	DestinationExpiry  time.Time `json:"destination_expiry,omitempty"`
	NextHop            string    `json:"next_hop,omitempty"`
	Condition          string    `json:"condition"`
	Fee                string    `json:"fee,omitempty"`
	FeeAsset           string    `json:"fee_asset,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	Events []TransferEvent `json:"events,omitempty"`
}

type TransferEvent struct {
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// LedgerNotification is a hold-state change pushed by a ledger, or by a
// peer connector announcing a hold it placed towards us.
type LedgerNotification struct {
	Kind        string    `json:"kind" validate:"required,oneof=hold_placed hold_fulfilled hold_expired hold_cancelled"`
	Ledger      string    `json:"ledger,omitempty"`
	TransferID  string    `json:"transfer_id" validate:"required,max=128"`
	Hold        string    `json:"hold" validate:"required,max=128"`
	Account     string    `json:"account,omitempty"`
	Sender      string    `json:"sender,omitempty"`
	Amount      string    `json:"amount,omitempty" validate:"omitempty,numeric"`
	Condition   string    `json:"condition,omitempty" validate:"omitempty,hexadecimal"`
	Expiry      time.Time `json:"expiry,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	Fulfillment string    `json:"fulfillment,omitempty" validate:"omitempty,hexadecimal"`
}

type NotificationAck struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
}
