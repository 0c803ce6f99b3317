package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ilp-connector/internal/directory"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/fee"
	"github.com/ayo6706/ilp-connector/internal/observability"
	"github.com/ayo6706/ilp-connector/internal/peer"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// AccountDirectory is the read side of the connector's ledger directory.
// A ledger that is not listed is disconnected.
type AccountDirectory interface {
	Ledger(id domain.LedgerID) (directory.Ledger, bool)
	ResolveAccount(id domain.LedgerID) (domain.AccountID, bool)
	EscrowAccount(id domain.LedgerID) (domain.AccountID, bool)
	DefaultExpiry(id domain.LedgerID) time.Duration
}

// PeerDirectory lists downstream connectors.
type PeerDirectory interface {
	Candidates(destination domain.LedgerID) []peer.Peer
	Get(id domain.ConnectorID) (peer.Peer, bool)
}

type QuoteConfig struct {
	ConnectorID domain.ConnectorID
	// MinExpiry is the shortest destination window the connector will quote
	// or act on.
	MinExpiry time.Duration
	// MaxExpiry caps quoted source windows. Zero means no cap.
	MaxExpiry time.Duration
	// SafetyMargin is how much earlier the outbound hold expires than the
	// inbound one.
	SafetyMargin     time.Duration
	PeerSearchLimit  int
	PeerQuoteTimeout time.Duration
}

func (c QuoteConfig) withDefaults() QuoteConfig {
	if c.MinExpiry <= 0 {
		c.MinExpiry = time.Second
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = time.Second
	}
	if c.PeerSearchLimit <= 0 {
		c.PeerSearchLimit = 4
	}
	if c.PeerQuoteTimeout <= 0 {
		c.PeerQuoteTimeout = 3 * time.Second
	}
	return c
}

type scenario string

const (
	scenarioUnroutable scenario = "unroutable"
	scenarioLocal      scenario = "local"
	scenarioRemote     scenario = "remote"
)

// QuoteEngine decides how a pair of ledgers can be bridged and prices it.
type QuoteEngine struct {
	cfg    QuoteConfig
	dir    AccountDirectory
	fees   fee.Calculator
	rates  ExchangeRateService
	peers  PeerDirectory
	client peer.Client
	group  singleflight.Group
	logger *zap.Logger
}

func NewQuoteEngine(cfg QuoteConfig, dir AccountDirectory, fees fee.Calculator, rates ExchangeRateService, peers PeerDirectory, client peer.Client, logger *zap.Logger) *QuoteEngine {
	if logger == nil {
		logger = zap.L()
	}
	return &QuoteEngine{
		cfg:    cfg.withDefaults(),
		dir:    dir,
		fees:   fees,
		rates:  rates,
		peers:  peers,
		client: client,
		logger: logger,
	}
}

// Quote prices a transfer from src to dst. Exactly one side carries an
// amount; the other is computed.
func (e *QuoteEngine) Quote(ctx context.Context, src, dst domain.QuoteRequest) (q domain.Quote, err error) {
	sc := scenarioUnroutable
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, domain.ErrInvalidQuoteRequest):
			result = "invalid"
		case errors.Is(err, domain.ErrUnroutableQuote):
			result = "unroutable"
		case err != nil:
			result = "error"
		}
		observability.IncrementQuote(string(sc), result)
	}()

	if src.Ledger.IsZero() || dst.Ledger.IsZero() {
		return domain.Quote{}, fmt.Errorf("%w: source and destination ledgers are required", domain.ErrInvalidQuoteRequest)
	}

	// 1. Disconnected source: nothing to hold against, whatever else was asked.
	srcLedger, ok := e.dir.Ledger(src.Ledger)
	if !ok {
		return domain.Quote{}, fmt.Errorf("%w: not connected to source ledger %s", domain.ErrUnroutableQuote, src.Ledger)
	}
	if err := validateQuoteRequest(src, dst); err != nil {
		return domain.Quote{}, err
	}
	srcAsset, err := ledgerAsset(src.Asset, srcLedger)
	if err != nil {
		return domain.Quote{}, err
	}
	window, err := e.window(src, dst)
	if err != nil {
		return domain.Quote{}, err
	}

	// 2. Both ledgers connected: price it ourselves.
	if dstLedger, ok := e.dir.Ledger(dst.Ledger); ok {
		sc = scenarioLocal
		dstAsset, err := ledgerAsset(dst.Asset, dstLedger)
		if err != nil {
			return domain.Quote{}, err
		}
		return e.quoteLocal(ctx, src, dst, srcLedger, dstLedger, srcAsset, dstAsset, window)
	}

	// 3. Destination only reachable through a peer.
	sc = scenarioRemote
	return e.quoteRemote(ctx, src, dst, srcLedger, srcAsset, window)
}

func validateQuoteRequest(src, dst domain.QuoteRequest) error {
	if src.Ledger == dst.Ledger {
		return fmt.Errorf("%w: source and destination ledger are the same", domain.ErrInvalidQuoteRequest)
	}
	switch {
	case src.HasAmount() && dst.HasAmount():
		return fmt.Errorf("%w: exactly one of source and destination amount may be set", domain.ErrInvalidQuoteRequest)
	case !src.HasAmount() && !dst.HasAmount():
		return fmt.Errorf("%w: one of source or destination amount is required", domain.ErrInvalidQuoteRequest)
	case src.HasAmount() && !src.Amount.IsPositive():
		return fmt.Errorf("%w: source amount must be positive", domain.ErrInvalidQuoteRequest)
	case dst.HasAmount() && !dst.Amount.IsPositive():
		return fmt.Errorf("%w: destination amount must be positive", domain.ErrInvalidQuoteRequest)
	}
	if src.ExpiryWindow < 0 || dst.ExpiryWindow < 0 {
		return fmt.Errorf("%w: expiry windows must not be negative", domain.ErrInvalidQuoteRequest)
	}
	return nil
}

func ledgerAsset(requested domain.AssetID, l directory.Ledger) (domain.AssetID, error) {
	if requested.IsZero() {
		return l.Asset, nil
	}
	if requested != l.Asset {
		return domain.AssetID{}, fmt.Errorf("%w: ledger %s settles %s, not %s", domain.ErrInvalidQuoteRequest, l.ID, l.Asset, requested)
	}
	return requested, nil
}

// expiryWindow is the pair of hold windows a quote commits to.
type expiryWindow struct {
	source      time.Duration
	destination time.Duration
}

func (e *QuoteEngine) window(src, dst domain.QuoteRequest) (expiryWindow, error) {
	srcWin := src.ExpiryWindow
	if srcWin == 0 {
		srcWin = e.dir.DefaultExpiry(src.Ledger)
	}
	dstWin := dst.ExpiryWindow
	if dstWin == 0 {
		dstWin = e.dir.DefaultExpiry(dst.Ledger)
	}
	w := expiryWindow{source: min(srcWin, dstWin)}
	if e.cfg.MaxExpiry > 0 {
		w.source = min(w.source, e.cfg.MaxExpiry)
	}
	w.destination = w.source - e.cfg.SafetyMargin
	if w.destination < e.cfg.MinExpiry {
		return expiryWindow{}, fmt.Errorf("%w: expiry window %s leaves less than %s for the destination",
			domain.ErrInvalidQuoteRequest, w.source, e.cfg.MinExpiry)
	}
	return w, nil
}

func (e *QuoteEngine) rate(ctx context.Context, source, target domain.AssetID) (decimal.Decimal, error) {
	r, err := e.rates.GetExchangeRate(ctx, source, target)
	if err != nil {
		if errors.Is(err, ErrRateUnavailable) {
			return decimal.Zero, fmt.Errorf("%w: %w", domain.ErrUnroutableQuote, err)
		}
		return decimal.Zero, fmt.Errorf("get exchange rate: %w", err)
	}
	if !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s -> %s", domain.ErrUnroutableQuote, source, target)
	}
	return r, nil
}

// forward converts a fixed source amount into the target asset and takes the
// fee there. The result rounds down to the target scale.
func (e *QuoteEngine) forward(amount domain.Money, rate decimal.Decimal, target domain.AssetID, scale int32) (fee, net decimal.Decimal) {
	converted := amount.Convert(target, rate, scale)
	return e.fees.ComputeFee(target, converted.Amount)
}

// backward finds the source amount that delivers net in the target asset
// after fees. The source amount rounds up to the source scale.
func (e *QuoteEngine) backward(net, rate decimal.Decimal, target domain.AssetID, sourceScale int32) (fee, source decimal.Decimal) {
	gross := e.fees.GrossUp(target, net)
	return gross.Sub(net), domain.RoundUp(gross.Div(rate), sourceScale)
}

func (e *QuoteEngine) quoteLocal(ctx context.Context, src, dst domain.QuoteRequest, srcLedger, dstLedger directory.Ledger, srcAsset, dstAsset domain.AssetID, w expiryWindow) (domain.Quote, error) {
	rate, err := e.rate(ctx, srcAsset, dstAsset)
	if err != nil {
		return domain.Quote{}, err
	}
	q := domain.Quote{
		Pair: domain.AssetPair{
			SourceLedger:      srcLedger.ID,
			SourceAsset:       srcAsset,
			DestinationLedger: dstLedger.ID,
			DestinationAsset:  dstAsset,
		},
		FeeAsset:          dstAsset,
		SourceExpiry:      w.source,
		DestinationExpiry: w.destination,
		ConnectorID:       e.cfg.ConnectorID,
	}
	if src.HasAmount() {
		fee, net := e.forward(domain.NewMoney(*src.Amount, srcAsset), rate, dstAsset, dstLedger.Scale)
		if !net.IsPositive() {
			return domain.Quote{}, fmt.Errorf("%w: source amount %s does not cover the fee", domain.ErrInvalidQuoteRequest, src.Amount)
		}
		q.SourceAmount, q.DestinationAmount, q.Fee = *src.Amount, net, fee
		return q, nil
	}
	fee, source := e.backward(*dst.Amount, rate, dstAsset, srcLedger.Scale)
	q.SourceAmount, q.DestinationAmount, q.Fee = source, *dst.Amount, fee
	return q, nil
}

// peerOffer is one candidate route through a peer.
type peerOffer struct {
	peer  peer.Peer
	quote domain.Quote
	// Our own leg towards the peer on the shared ledger.
	sharedAsset  domain.AssetID
	sharedAmount decimal.Decimal
	fee          decimal.Decimal
}

func (e *QuoteEngine) quoteRemote(ctx context.Context, src, dst domain.QuoteRequest, srcLedger directory.Ledger, srcAsset domain.AssetID, w expiryWindow) (domain.Quote, error) {
	offer, err := e.bestOffer(ctx, src, dst, srcLedger, srcAsset, w)
	if err != nil {
		return domain.Quote{}, err
	}
	pq := offer.quote
	q := domain.Quote{
		Pair: domain.AssetPair{
			SourceLedger:      srcLedger.ID,
			SourceAsset:       srcAsset,
			DestinationLedger: dst.Ledger,
			DestinationAsset:  pq.Pair.DestinationAsset,
		},
		DestinationAmount: pq.DestinationAmount,
		Fee:               offer.fee,
		FeeAsset:          offer.sharedAsset,
		SourceExpiry:      min(w.source, pq.SourceExpiry+e.cfg.SafetyMargin),
		DestinationExpiry: pq.DestinationExpiry,
		ConnectorID:       e.cfg.ConnectorID,
		Via:               offer.peer.ID,
	}
	// askPeer already restated the peer's source amount in our source asset.
	q.SourceAmount = pq.SourceAmount
	if src.HasAmount() {
		q.SourceAmount = *src.Amount
	}
	return q, nil
}

// bestOffer asks up to PeerSearchLimit peers that reach the destination, in
// parallel, and keeps the one that delivers the most for a fixed source or
// costs the least for a fixed destination. A peer met on the source ledger is
// skipped: the outbound leg must be a separate hold on another ledger.
func (e *QuoteEngine) bestOffer(ctx context.Context, src, dst domain.QuoteRequest, srcLedger directory.Ledger, srcAsset domain.AssetID, w expiryWindow) (peerOffer, error) {
	var candidates []peer.Peer
	if e.peers != nil && e.client != nil {
		for _, p := range e.peers.Candidates(dst.Ledger) {
			if p.SharedLedger == srcLedger.ID {
				continue
			}
			if _, ok := e.dir.Ledger(p.SharedLedger); !ok {
				continue
			}
			candidates = append(candidates, p)
			if len(candidates) == e.cfg.PeerSearchLimit {
				break
			}
		}
	}
	if len(candidates) == 0 {
		return peerOffer{}, fmt.Errorf("%w: no peer reaches %s", domain.ErrUnroutableQuote, dst.Ledger)
	}

	offers := make([]*peerOffer, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PeerSearchLimit)
	for i, p := range candidates {
		i, p := i, p
		g.Go(func() error {
			offer, err := e.askPeer(gctx, p, src, dst, srcLedger, srcAsset, w)
			if err != nil {
				e.logger.Debug("peer quote failed",
					zap.String("peer", p.ID.String()),
					zap.String("destination_ledger", dst.Ledger.String()),
					zap.Error(err))
				return nil
			}
			offers[i] = offer
			return nil
		})
	}
	_ = g.Wait()

	var best *peerOffer
	for _, o := range offers {
		if o == nil {
			continue
		}
		switch {
		case best == nil:
			best = o
		case src.HasAmount() && o.quote.DestinationAmount.GreaterThan(best.quote.DestinationAmount):
			best = o
		case dst.HasAmount() && o.quote.SourceAmount.LessThan(best.quote.SourceAmount):
			best = o
		}
	}
	if best == nil {
		return peerOffer{}, fmt.Errorf("%w: no peer quoted %s", domain.ErrUnroutableQuote, dst.Ledger)
	}
	return *best, nil
}

func (e *QuoteEngine) askPeer(ctx context.Context, p peer.Peer, src, dst domain.QuoteRequest, srcLedger directory.Ledger, srcAsset domain.AssetID, w expiryWindow) (*peerOffer, error) {
	shared, ok := e.dir.Ledger(p.SharedLedger)
	if !ok {
		return nil, fmt.Errorf("%w: shared ledger %s", domain.ErrUnroutableQuote, p.SharedLedger)
	}
	rate, err := e.rate(ctx, srcAsset, shared.Asset)
	if err != nil {
		return nil, err
	}

	peerSrc := domain.QuoteRequest{Ledger: shared.ID, Asset: shared.Asset, ExpiryWindow: w.destination}
	peerDst := domain.QuoteRequest{Ledger: dst.Ledger, Asset: dst.Asset, Amount: dst.Amount, ExpiryWindow: dst.ExpiryWindow}
	offer := &peerOffer{peer: p, sharedAsset: shared.Asset}
	if src.HasAmount() {
		fee, net := e.forward(domain.NewMoney(*src.Amount, srcAsset), rate, shared.Asset, shared.Scale)
		if !net.IsPositive() {
			return nil, fmt.Errorf("%w: source amount %s does not cover the fee", domain.ErrInvalidQuoteRequest, src.Amount)
		}
		peerSrc.Amount = &net
		offer.sharedAmount, offer.fee = net, fee
	}

	pq, err := e.requestPeerQuote(ctx, p, peerSrc, peerDst)
	if err != nil {
		return nil, err
	}
	// Windows cross the wire as fractional seconds; allow for float rounding.
	if pq.SourceExpiry > w.destination+time.Millisecond || pq.DestinationExpiry >= pq.SourceExpiry {
		return nil, fmt.Errorf("peer %s quoted expiries %s/%s outside our window %s",
			p.ID, pq.SourceExpiry, pq.DestinationExpiry, w.destination)
	}
	if !pq.DestinationAmount.IsPositive() || !pq.SourceAmount.IsPositive() {
		return nil, fmt.Errorf("peer %s returned a non-positive quote", p.ID)
	}
	if dst.HasAmount() {
		offer.sharedAmount = pq.SourceAmount
		offer.fee = e.fees.GrossUp(shared.Asset, pq.SourceAmount).Sub(pq.SourceAmount)
		_, source := e.backward(pq.SourceAmount, rate, shared.Asset, srcLedger.Scale)
		pq.SourceAmount = source
	}
	offer.quote = pq
	return offer, nil
}

// requestPeerQuote collapses identical concurrent requests to the same peer.
func (e *QuoteEngine) requestPeerQuote(ctx context.Context, p peer.Peer, src, dst domain.QuoteRequest) (domain.Quote, error) {
	key := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%d|%d",
		p.ID, src.Ledger, src.Asset, amountKey(src.Amount),
		dst.Ledger, dst.Asset, amountKey(dst.Amount), src.ExpiryWindow, dst.ExpiryWindow)
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PeerQuoteTimeout)
	defer cancel()

	start := time.Now()
	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.client.RequestQuote(ctx, p, src, dst)
	})
	observeAction("peer_quote", start, err)
	if err != nil {
		return domain.Quote{}, err
	}
	return v.(domain.Quote), nil
}

func amountKey(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

// Hop is the outbound leg planned for an incoming transfer.
type Hop struct {
	Ledger  domain.LedgerID
	Account domain.AccountID
	Asset   domain.AssetID
	Amount  decimal.Decimal
	// Fee is what the connector keeps, in FeeAsset.
	Fee      decimal.Decimal
	FeeAsset domain.AssetID
	// Peer is set when the hop is delegated.
	Peer *peer.Peer
}

var errInsufficientSource = errors.New("incoming amount does not cover the payment")

// PlanHop decides where an incoming transfer goes next. A directly connected
// destination receives exactly the packet amount; a delegated hop forwards
// everything left after the fee and relies on the peer's quote to cover the
// packet amount.
func (e *QuoteEngine) PlanHop(ctx context.Context, t *domain.Transfer, dest domain.Address, packetAmount decimal.Decimal, window time.Duration) (Hop, error) {
	if dest.Ledger == t.SourceLedger {
		return Hop{}, fmt.Errorf("%w: packet for %s loops back to its source ledger", domain.ErrUnroutableQuote, dest.Ledger)
	}
	if dstLedger, ok := e.dir.Ledger(dest.Ledger); ok {
		rate, err := e.rate(ctx, t.SourceAsset, dstLedger.Asset)
		if err != nil {
			return Hop{}, err
		}
		fee, net := e.forward(domain.NewMoney(t.SourceAmount, t.SourceAsset), rate, dstLedger.Asset, dstLedger.Scale)
		if net.LessThan(packetAmount) {
			return Hop{}, fmt.Errorf("%w: %s %s after fees, packet needs %s", errInsufficientSource, net, dstLedger.Asset, packetAmount)
		}
		return Hop{
			Ledger:   dstLedger.ID,
			Account:  dest.Account,
			Asset:    dstLedger.Asset,
			Amount:   packetAmount,
			Fee:      fee,
			FeeAsset: dstLedger.Asset,
		}, nil
	}

	srcLedger, ok := e.dir.Ledger(t.SourceLedger)
	if !ok {
		return Hop{}, fmt.Errorf("%w: not connected to source ledger %s", domain.ErrUnroutableQuote, t.SourceLedger)
	}
	amount := t.SourceAmount
	offer, err := e.bestOffer(ctx,
		domain.QuoteRequest{Ledger: t.SourceLedger, Asset: t.SourceAsset, Amount: &amount},
		domain.QuoteRequest{Ledger: dest.Ledger},
		srcLedger, t.SourceAsset,
		expiryWindow{source: window + e.cfg.SafetyMargin, destination: window})
	if err != nil {
		return Hop{}, err
	}
	if offer.quote.DestinationAmount.LessThan(packetAmount) {
		return Hop{}, fmt.Errorf("%w: best route via %s delivers %s, packet needs %s",
			errInsufficientSource, offer.peer.ID, offer.quote.DestinationAmount, packetAmount)
	}
	p := offer.peer
	return Hop{
		Ledger:   p.SharedLedger,
		Account:  p.Account,
		Asset:    offer.sharedAsset,
		Amount:   offer.sharedAmount,
		Fee:      offer.fee,
		FeeAsset: offer.sharedAsset,
		Peer:     &p,
	}, nil
}

func observeAction(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if domain.IsTransient(err) {
			result = "transient"
		}
	}
	observability.ObserveLedgerAction(op, result, time.Since(start))
}
