package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/ilp-connector/internal/directory"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/fee"
	"github.com/ayo6706/ilp-connector/internal/ledger"
	"github.com/ayo6706/ilp-connector/internal/peer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	l1 = domain.NewLedgerID("example.l1.")
	l2 = domain.NewLedgerID("example.l2.")
	l3 = domain.NewLedgerID("example.l3.")

	usd = domain.NewAssetID("USD")
	eur = domain.NewAssetID("EUR")

	alice = domain.NewAccountID("alice")
	bob   = domain.NewAccountID("bob")
	carol = domain.NewAccountID("carol")
	mark  = domain.NewAccountID("mark")
	mary  = domain.NewAccountID("mary")

	preimage  = domain.Fulfillment("the preimage")
	condition = domain.ConditionFor(preimage)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// memStore is an in-memory TransferStore.
type memStore struct {
	mu        sync.Mutex
	transfers map[domain.TransferID]*domain.Transfer
	events    []domain.TransferEvent
	// listed, when set, is returned by ListActive instead of live state.
	listed []*domain.Transfer
}

func newMemStore() *memStore {
	return &memStore{transfers: make(map[domain.TransferID]*domain.Transfer)}
}

func (s *memStore) Insert(_ context.Context, t *domain.Transfer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[t.ID]; ok {
		return false, nil
	}
	s.transfers[t.ID] = t.Clone()
	return true, nil
}

func (s *memStore) Save(_ context.Context, t *domain.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[t.ID] = t.Clone()
	return nil
}

func (s *memStore) Get(_ context.Context, id domain.TransferID) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return t.Clone(), nil
}

func (s *memStore) ListActive(context.Context) ([]*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listed != nil {
		return s.listed, nil
	}
	var out []*domain.Transfer
	for _, t := range s.transfers {
		if !t.State.IsTerminal() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *memStore) AppendEvent(_ context.Context, e domain.TransferEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) Events(_ context.Context, id domain.TransferID) ([]domain.TransferEvent, error) {
	return s.eventsFor(id), nil
}

func (s *memStore) eventsFor(id domain.TransferID) []domain.TransferEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TransferEvent
	for _, e := range s.events {
		if e.TransferID == id {
			out = append(out, e)
		}
	}
	return out
}

// stubPeerClient records delegation calls and answers with the configured
// functions.
type stubPeerClient struct {
	mu           sync.Mutex
	quoteCalls   int
	forwardCalls int
	quote        func(ctx context.Context, p peer.Peer, src, dst domain.QuoteRequest) (domain.Quote, error)
	forward      func(ctx context.Context, p peer.Peer, n domain.Notification) error
}

func (c *stubPeerClient) RequestQuote(ctx context.Context, p peer.Peer, src, dst domain.QuoteRequest) (domain.Quote, error) {
	c.mu.Lock()
	c.quoteCalls++
	fn := c.quote
	c.mu.Unlock()
	if fn == nil {
		return domain.Quote{}, domain.ErrUnroutableQuote
	}
	return fn(ctx, p, src, dst)
}

func (c *stubPeerClient) ForwardTransfer(ctx context.Context, p peer.Peer, n domain.Notification) error {
	c.mu.Lock()
	c.forwardCalls++
	fn := c.forward
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, p, n)
}

func (c *stubPeerClient) calls() (quotes, forwards int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quoteCalls, c.forwardCalls
}

func loadDirectory(t *testing.T, ledgers ...directory.Ledger) *directory.Directory {
	t.Helper()
	d := directory.New(directory.StaticSource(ledgers), directory.WithDefaultExpiry(10*time.Second))
	require.NoError(t, d.Refresh(context.Background()))
	return d
}

func usdLedger(id domain.LedgerID, account domain.AccountID) directory.Ledger {
	return directory.Ledger{ID: id, Asset: usd, Scale: 2, Account: account}
}

func eurLedger(id domain.LedgerID, account domain.AccountID) directory.Ledger {
	return directory.Ledger{ID: id, Asset: eur, Scale: 2, Account: account}
}

func onePercentFee(t *testing.T) *fee.PercentageCalculator {
	t.Helper()
	c, err := fee.NewPercentageCalculator(fee.Schedule{Rate: dec("0.01"), Scale: 2}, nil)
	require.NoError(t, err)
	return c
}

func staticRates(t *testing.T) *StaticExchangeRateService {
	t.Helper()
	r, err := NewStaticExchangeRateService(map[domain.AssetID]decimal.Decimal{usd: dec("1"), eur: dec("0.92")})
	require.NoError(t, err)
	return r
}

// node is one connector wired to shared in-memory ledgers.
type node struct {
	id        domain.ConnectorID
	connector *Connector
	store     *memStore
	client    *stubPeerClient
}

type nodeConfig struct {
	id      domain.ConnectorID
	ledgers []directory.Ledger
	peers   []peer.Peer
	margin  time.Duration
}

func newNode(t *testing.T, cfg nodeConfig, gateways ledger.Gateways) *node {
	t.Helper()
	if cfg.margin == 0 {
		cfg.margin = time.Second
	}
	dir := loadDirectory(t, cfg.ledgers...)
	peers := peer.NewDirectory(cfg.peers...)
	client := &stubPeerClient{}
	store := newMemStore()

	quotes := NewQuoteEngine(QuoteConfig{
		ConnectorID:  cfg.id,
		MinExpiry:    200 * time.Millisecond,
		SafetyMargin: cfg.margin,
	}, dir, onePercentFee(t), staticRates(t), peers, client, nil)
	orch := NewOrchestrator(OrchestratorConfig{
		SafetyMargin:   cfg.margin,
		MinExpiry:      200 * time.Millisecond,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryMaxDelay:  20 * time.Millisecond,
		CleanupTimeout: time.Second,
	}, dir, gateways, quotes, peers, client, store, nil, nil)
	c := NewConnector(cfg.id, quotes, orch, dir, peers, store)
	t.Cleanup(c.Close)
	return &node{id: cfg.id, connector: c, store: store, client: client}
}

// pump delivers every notification of l to the handlers until the test ends.
func pump(t *testing.T, l *ledger.MemoryLedger, handlers ...func(context.Context, domain.Notification) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events, err := l.Subscribe(ctx)
	require.NoError(t, err)
	go func() {
		for n := range events {
			for _, h := range handlers {
				_ = h(ctx, n)
			}
		}
	}()
}

func waitForState(t *testing.T, store *memStore, id domain.TransferID, want domain.TransferState) *domain.Transfer {
	t.Helper()
	require.Eventually(t, func() bool {
		tr, err := store.Get(context.Background(), id)
		return err == nil && tr.State == want
	}, 5*time.Second, 5*time.Millisecond, "transfer %s never reached %s", id, want)
	tr, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return tr
}

func waitForHold(t *testing.T, l *ledger.MemoryLedger, id domain.TransferID) ledger.Hold {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := l.HoldFor(id)
		return ok
	}, 5*time.Second, 5*time.Millisecond, "no hold for %s on %s", id, l.Ledger())
	h, _ := l.HoldFor(id)
	return h
}

func packet(destination, amount string) []byte {
	return domain.Packet{Destination: destination, Amount: dec(amount)}.Encode()
}

// sendHold places the payer's hold towards the connector on the source ledger.
func sendHold(t *testing.T, l *ledger.MemoryLedger, id string, from, to domain.AccountID, amount string, expiry time.Duration, payload []byte) (domain.TransferID, time.Time) {
	t.Helper()
	tid := domain.NewTransferID(id)
	exp := time.Now().Add(expiry)
	_, err := l.PlaceHold(context.Background(), ledger.HoldRequest{
		TransferID: tid,
		From:       from,
		To:         to,
		Amount:     dec(amount),
		Condition:  condition,
		Expiry:     exp,
		Payload:    payload,
	})
	require.NoError(t, err)
	return tid, exp
}
