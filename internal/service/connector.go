package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/ilp-connector/internal/domain"
)

var ErrUnknownPeer = errors.New("unknown peer connector")

// Connector is the single entry point for transports: quoting, ledger
// notifications, and holds announced by peer connectors.
type Connector struct {
	id           domain.ConnectorID
	quotes       *QuoteEngine
	orchestrator *Orchestrator
	dir          AccountDirectory
	peers        PeerDirectory
	store        TransferStore
}

func NewConnector(id domain.ConnectorID, quotes *QuoteEngine, orchestrator *Orchestrator, dir AccountDirectory, peers PeerDirectory, store TransferStore) *Connector {
	return &Connector{
		id:           id,
		quotes:       quotes,
		orchestrator: orchestrator,
		dir:          dir,
		peers:        peers,
		store:        store,
	}
}

func (c *Connector) ID() domain.ConnectorID { return c.id }

// Quote prices a transfer between two ledgers.
func (c *Connector) Quote(ctx context.Context, src, dst domain.QuoteRequest) (domain.Quote, error) {
	return c.quotes.Quote(ctx, src, dst)
}

// OnNotification handles a hold-state change reported by a ledger.
func (c *Connector) OnNotification(ctx context.Context, n domain.Notification) error {
	return c.orchestrator.OnNotification(ctx, n)
}

// OnLedgerWebhook handles a notification pushed over HTTP. Only holds the
// ledger's gateway can confirm are processed.
func (c *Connector) OnLedgerWebhook(ctx context.Context, n domain.Notification) error {
	if err := c.orchestrator.Confirm(ctx, n); err != nil {
		return err
	}
	return c.orchestrator.OnNotification(ctx, n)
}

// AcceptForward handles a hold that peer from placed towards us on the
// ledger we share with it.
func (c *Connector) AcceptForward(ctx context.Context, from domain.ConnectorID, n domain.Notification) error {
	if n.Kind != domain.HoldPlaced {
		return fmt.Errorf("%w: peers may only forward placed holds", domain.ErrInvalidPacket)
	}
	if c.peers == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, from)
	}
	p, ok := c.peers.Get(from)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, from)
	}
	if n.Ledger.IsZero() {
		n.Ledger = p.SharedLedger
	}
	if n.Ledger != p.SharedLedger {
		return fmt.Errorf("%w: peer %s does not share ledger %s", domain.ErrUnroutableQuote, from, n.Ledger)
	}
	account, ok := c.dir.ResolveAccount(n.Ledger)
	if !ok {
		return fmt.Errorf("%w: no account on %s", domain.ErrAccountNotFound, n.Ledger)
	}
	if n.Account != account {
		return fmt.Errorf("%w: hold credits %s, not %s", domain.ErrAccountNotFound, n.Account, account)
	}
	if err := c.orchestrator.Confirm(ctx, n); err != nil {
		return err
	}
	return c.orchestrator.OnNotification(ctx, n)
}

// Transfer returns the last persisted view of a transfer.
func (c *Connector) Transfer(ctx context.Context, id domain.TransferID) (*domain.Transfer, error) {
	t, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// History returns the recorded state changes of a transfer.
func (c *Connector) History(ctx context.Context, id domain.TransferID) ([]domain.TransferEvent, error) {
	return c.store.Events(ctx, id)
}

// Recover resumes transfers left in flight by a previous process.
func (c *Connector) Recover(ctx context.Context) (int, error) {
	return c.orchestrator.Recover(ctx)
}

func (c *Connector) Live() int {
	return c.orchestrator.Live()
}

func (c *Connector) Close() {
	c.orchestrator.Close()
}
