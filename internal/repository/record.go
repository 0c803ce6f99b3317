package repository

import (
	"fmt"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/shopspring/decimal"
)

// transferRecord is the storage shape of a transfer. Identifiers and
// amounts are plain strings so every backend can encode it.
type transferRecord struct {
	ID       string
	State    string
	Reason   string
	Terminal bool

	SourceLedger  string
	SourceAccount string
	SourceAsset   string
	SourceAmount  string
	SourceHold    string
	SourceExpiry  time.Time

	DestinationLedger  string
	DestinationAccount string
	DestinationAsset   string
	DestinationAmount  string
	DestinationHold    string
	DestinationExpiry  time.Time

	NextHop     string
	Condition   []byte
	Fulfillment []byte
	Payload     []byte
	Fee         string
	FeeAsset    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func newTransferRecord(t *domain.Transfer) transferRecord {
	return transferRecord{
		ID:                 t.ID.String(),
		State:              string(t.State),
		Reason:             t.Reason,
		Terminal:           t.State.IsTerminal(),
		SourceLedger:       t.SourceLedger.String(),
		SourceAccount:      t.SourceAccount.String(),
		SourceAsset:        t.SourceAsset.String(),
		SourceAmount:       t.SourceAmount.String(),
		SourceHold:         string(t.SourceHold),
		SourceExpiry:       t.SourceExpiry.UTC(),
		DestinationLedger:  t.DestinationLedger.String(),
		DestinationAccount: t.DestinationAccount.String(),
		DestinationAsset:   t.DestinationAsset.String(),
		DestinationAmount:  t.DestinationAmount.String(),
		DestinationHold:    string(t.DestinationHold),
		DestinationExpiry:  t.DestinationExpiry.UTC(),
		NextHop:            t.NextHop.String(),
		Condition:          []byte(t.Condition),
		Fulfillment:        []byte(t.Fulfillment),
		Payload:            t.Payload,
		Fee:                t.Fee.String(),
		FeeAsset:           t.FeeAsset.String(),
		CreatedAt:          t.CreatedAt.UTC(),
		UpdatedAt:          t.UpdatedAt.UTC(),
	}
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s %q: %w", field, s, err)
	}
	return d, nil
}

func (r transferRecord) toDomain() (*domain.Transfer, error) {
	srcAmount, err := parseAmount("source_amount", r.SourceAmount)
	if err != nil {
		return nil, err
	}
	dstAmount, err := parseAmount("destination_amount", r.DestinationAmount)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount("fee", r.Fee)
	if err != nil {
		return nil, err
	}
	t := &domain.Transfer{
		ID:                 domain.NewTransferID(r.ID),
		SourceLedger:       domain.NewLedgerID(r.SourceLedger),
		SourceAccount:      domain.NewAccountID(r.SourceAccount),
		SourceAsset:        domain.NewAssetID(r.SourceAsset),
		SourceAmount:       srcAmount,
		SourceHold:         domain.HoldRef(r.SourceHold),
		SourceExpiry:       r.SourceExpiry,
		DestinationLedger:  domain.NewLedgerID(r.DestinationLedger),
		DestinationAccount: domain.NewAccountID(r.DestinationAccount),
		DestinationAsset:   domain.NewAssetID(r.DestinationAsset),
		DestinationAmount:  dstAmount,
		DestinationHold:    domain.HoldRef(r.DestinationHold),
		DestinationExpiry:  r.DestinationExpiry,
		NextHop:            domain.NewConnectorID(r.NextHop),
		Fee:                fee,
		FeeAsset:           domain.NewAssetID(r.FeeAsset),
		State:              domain.TransferState(r.State),
		Reason:             r.Reason,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if len(r.Condition) > 0 {
		t.Condition = domain.Condition(r.Condition)
	}
	if len(r.Fulfillment) > 0 {
		t.Fulfillment = domain.Fulfillment(r.Fulfillment)
	}
	if len(r.Payload) > 0 {
		t.Payload = r.Payload
	}
	return t, nil
}

// eventRecord is one audit trail entry. Seq orders entries of a transfer.
type eventRecord struct {
	Seq        uint64 `badgerhold:"key"`
	TransferID string `badgerhold:"index"`
	From       string
	To         string
	Reason     string
	At         time.Time
}

func (r eventRecord) toDomain() domain.TransferEvent {
	return domain.TransferEvent{
		TransferID: domain.NewTransferID(r.TransferID),
		From:       domain.TransferState(r.From),
		To:         domain.TransferState(r.To),
		Reason:     r.Reason,
		At:         r.At,
	}
}
