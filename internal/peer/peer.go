// Package peer talks to downstream connectors that can reach ledgers this
// connector cannot.
package peer

import (
	"context"
	"slices"

	"github.com/ayo6706/ilp-connector/internal/domain"
)

// Peer is a downstream connector that shares a ledger with us.
type Peer struct {
	ID      domain.ConnectorID
	BaseURL string
	// SharedLedger is the ledger both connectors hold an account on. Holds
	// towards the peer are placed there.
	SharedLedger domain.LedgerID
	// Account is the peer's account on SharedLedger.
	Account domain.AccountID
	// Ledgers the peer can deliver to.
	Ledgers []domain.LedgerID
	// Secret is the HS256 key shared with this peer alone. It signs our
	// calls to the peer and verifies the peer's calls to us.
	Secret string
}

// Reaches reports whether the peer advertises ledger.
func (p Peer) Reaches(ledger domain.LedgerID) bool {
	return slices.Contains(p.Ledgers, ledger)
}

// Client performs the two delegation calls towards a peer.
type Client interface {
	// RequestQuote asks the peer to quote from its side of the shared ledger
	// to the destination.
	RequestQuote(ctx context.Context, p Peer, src, dst domain.QuoteRequest) (domain.Quote, error)
	// ForwardTransfer announces a hold we placed towards the peer on the
	// shared ledger so it can take the next hop.
	ForwardTransfer(ctx context.Context, p Peer, hold domain.Notification) error
}

// Directory lists known peers.
type Directory struct {
	peers []Peer
}

func NewDirectory(peers ...Peer) *Directory {
	return &Directory{peers: append([]Peer(nil), peers...)}
}

// Candidates returns the peers that reach destination, in configured order.
func (d *Directory) Candidates(destination domain.LedgerID) []Peer {
	var out []Peer
	for _, p := range d.peers {
		if p.Reaches(destination) {
			out = append(out, p)
		}
	}
	return out
}

func (d *Directory) Get(id domain.ConnectorID) (Peer, bool) {
	for _, p := range d.peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

func (d *Directory) All() []Peer {
	return append([]Peer(nil), d.peers...)
}
