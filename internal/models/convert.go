package models

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/shopspring/decimal"
)

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func duration(s *float64) time.Duration {
	if s == nil {
		return 0
	}
	return time.Duration(*s * float64(time.Second))
}

func optionalAmount(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", domain.ErrInvalidQuoteRequest, s, err)
	}
	return &d, nil
}

// ToDomain splits the wire request into its source and destination sides.
func (r QuoteRequest) ToDomain() (domain.QuoteRequest, domain.QuoteRequest, error) {
	srcAmount, err := optionalAmount(r.SourceAmount)
	if err != nil {
		return domain.QuoteRequest{}, domain.QuoteRequest{}, err
	}
	dstAmount, err := optionalAmount(r.DestinationAmount)
	if err != nil {
		return domain.QuoteRequest{}, domain.QuoteRequest{}, err
	}
	src := domain.QuoteRequest{
		Ledger:       domain.NewLedgerID(r.SourceLedger),
		Asset:        domain.NewAssetID(r.SourceAsset),
		Amount:       srcAmount,
		ExpiryWindow: duration(r.SourceExpiry),
	}
	dst := domain.QuoteRequest{
		Ledger:       domain.NewLedgerID(r.DestinationLedger),
		Asset:        domain.NewAssetID(r.DestinationAsset),
		Amount:       dstAmount,
		ExpiryWindow: duration(r.DestinationExpiry),
	}
	return src, dst, nil
}

// NewQuoteRequest is the inverse of ToDomain, used when asking a peer.
func NewQuoteRequest(src, dst domain.QuoteRequest) QuoteRequest {
	r := QuoteRequest{
		SourceLedger:      src.Ledger.String(),
		SourceAsset:       src.Asset.String(),
		DestinationLedger: dst.Ledger.String(),
		DestinationAsset:  dst.Asset.String(),
	}
	if src.Amount != nil {
		r.SourceAmount = src.Amount.String()
	}
	if dst.Amount != nil {
		r.DestinationAmount = dst.Amount.String()
	}
	if src.ExpiryWindow > 0 {
		v := seconds(src.ExpiryWindow)
		r.SourceExpiry = &v
	}
	if dst.ExpiryWindow > 0 {
		v := seconds(dst.ExpiryWindow)
		r.DestinationExpiry = &v
	}
	return r
}

func NewQuoteResponse(q domain.Quote) QuoteResponse {
	return QuoteResponse{
		SourceLedger:      q.Pair.SourceLedger.String(),
		SourceAsset:       q.Pair.SourceAsset.String(),
		SourceAmount:      q.SourceAmount.String(),
		SourceExpiry:      seconds(q.SourceExpiry),
		DestinationLedger: q.Pair.DestinationLedger.String(),
		DestinationAsset:  q.Pair.DestinationAsset.String(),
		DestinationAmount: q.DestinationAmount.String(),
		DestinationExpiry: seconds(q.DestinationExpiry),
		Fee:               q.Fee.String(),
		FeeAsset:          q.FeeAsset.String(),
		ConnectorID:       q.ConnectorID.String(),
		Via:               q.Via.String(),
	}
}

func (r QuoteResponse) ToDomain() (domain.Quote, error) {
	src, err := decimal.NewFromString(r.SourceAmount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("source_amount: %w", err)
	}
	dst, err := decimal.NewFromString(r.DestinationAmount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("destination_amount: %w", err)
	}
	fee := decimal.Zero
	if r.Fee != "" {
		if fee, err = decimal.NewFromString(r.Fee); err != nil {
			return domain.Quote{}, fmt.Errorf("fee: %w", err)
		}
	}
	return domain.Quote{
		Pair: domain.AssetPair{
			SourceLedger:      domain.NewLedgerID(r.SourceLedger),
			SourceAsset:       domain.NewAssetID(r.SourceAsset),
			DestinationLedger: domain.NewLedgerID(r.DestinationLedger),
			DestinationAsset:  domain.NewAssetID(r.DestinationAsset),
		},
		SourceAmount:      src,
		DestinationAmount: dst,
		Fee:               fee,
		FeeAsset:          domain.NewAssetID(r.FeeAsset),
		SourceExpiry:      duration(&r.SourceExpiry),
		DestinationExpiry: duration(&r.DestinationExpiry),
		ConnectorID:       domain.NewConnectorID(r.ConnectorID),
		Via:               domain.NewConnectorID(r.Via),
	}, nil
}

// NewTransfer renders a transfer with its audit trail, oldest first.
func NewTransfer(t *domain.Transfer, events []domain.TransferEvent) Transfer {
	out := Transfer{
		ID:                 t.ID.String(),
		State:              string(t.State),
		Reason:             t.Reason,
		SourceLedger:       t.SourceLedger.String(),
		SourceAccount:      t.SourceAccount.String(),
		SourceAmount:       t.SourceAmount.String(),
		SourceHold:         string(t.SourceHold),
		SourceExpiry:       t.SourceExpiry,
		DestinationLedger:  t.DestinationLedger.String(),
		DestinationAccount: t.DestinationAccount.String(),
		DestinationHold:    string(t.DestinationHold),
		DestinationExpiry:  t.DestinationExpiry,
		NextHop:            t.NextHop.String(),
		Condition:          t.Condition.String(),
		FeeAsset:           t.FeeAsset.String(),
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
	if !t.DestinationAmount.IsZero() {
		out.DestinationAmount = t.DestinationAmount.String()
	}
	if !t.Fee.IsZero() {
		out.Fee = t.Fee.String()
	}
	for _, e := range events {
		out.Events = append(out.Events, TransferEvent{
			From:   string(e.From),
			To:     string(e.To),
			Reason: e.Reason,
			At:     e.At,
		})
	}
	return out
}

// ToDomain converts a notification. The ledger path parameter, when given,
// takes precedence over the body.
func (n LedgerNotification) ToDomain(ledger string) (domain.Notification, error) {
	if ledger == "" {
		ledger = n.Ledger
	}
	out := domain.Notification{
		Kind:       domain.NotificationKind(n.Kind),
		Ledger:     domain.NewLedgerID(ledger),
		TransferID: domain.NewTransferID(n.TransferID),
		Hold:       domain.HoldRef(n.Hold),
		Account:    domain.NewAccountID(n.Account),
		Sender:     domain.NewAccountID(n.Sender),
		Expiry:     n.Expiry,
		Payload:    n.Payload,
	}
	if !out.Kind.Valid() {
		return domain.Notification{}, fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	if out.Ledger.IsZero() {
		return domain.Notification{}, fmt.Errorf("notification ledger: %w", domain.ErrEmptyID)
	}
	if n.Amount != "" {
		amount, err := decimal.NewFromString(n.Amount)
		if err != nil {
			return domain.Notification{}, fmt.Errorf("notification amount: %w", err)
		}
		out.Amount = amount
	}
	if n.Condition != "" {
		c, err := hex.DecodeString(n.Condition)
		if err != nil {
			return domain.Notification{}, fmt.Errorf("notification condition: %w", err)
		}
		out.Condition = c
	}
	if n.Fulfillment != "" {
		f, err := hex.DecodeString(n.Fulfillment)
		if err != nil {
			return domain.Notification{}, fmt.Errorf("notification fulfillment: %w", err)
		}
		out.Fulfillment = f
	}
	return out, nil
}

func NewLedgerNotification(n domain.Notification) LedgerNotification {
	out := LedgerNotification{
		Kind:       string(n.Kind),
		Ledger:     n.Ledger.String(),
		TransferID: n.TransferID.String(),
		Hold:       string(n.Hold),
		Account:    n.Account.String(),
		Sender:     n.Sender.String(),
		Expiry:     n.Expiry,
		Payload:    n.Payload,
	}
	if !n.Amount.IsZero() {
		out.Amount = n.Amount.String()
	}
	if len(n.Condition) > 0 {
		out.Condition = n.Condition.String()
	}
	if len(n.Fulfillment) > 0 {
		out.Fulfillment = n.Fulfillment.String()
	}
	return out
}
