package directory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu      sync.Mutex
	ledgers []Ledger
	err     error
	calls   atomic.Int32
	block   chan struct{}
}

func (s *countingSource) LoadLedgers(context.Context) ([]Ledger, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ledger(nil), s.ledgers...), s.err
}

func (s *countingSource) set(ledgers []Ledger) {
	s.mu.Lock()
	s.ledgers = ledgers
	s.mu.Unlock()
}

var (
	usdLedger = domain.NewLedgerID("example.usd-ledger.")
	eurLedger = domain.NewLedgerID("example.eur-ledger.")
)

func ledgers() []Ledger {
	return []Ledger{
		{ID: usdLedger, Asset: domain.NewAssetID("USD"), Scale: 2, Account: domain.NewAccountID("connector"), Fee: domain.NewAccountID("fees")},
		{ID: eurLedger, Asset: domain.NewAssetID("EUR"), Scale: 2, Account: domain.NewAccountID("connie"), DefaultExpiry: 30 * time.Second},
	}
}

func TestLookups(t *testing.T) {
	d := New(StaticSource(ledgers()), WithDefaultExpiry(7*time.Second))
	require.False(t, d.Loaded())
	_, ok := d.ResolveAccount(usdLedger)
	require.False(t, ok)

	require.NoError(t, d.Refresh(context.Background()))
	require.True(t, d.Loaded())

	acct, ok := d.ResolveAccount(usdLedger)
	require.True(t, ok)
	assert.Equal(t, "connector", acct.String())

	escrow, ok := d.EscrowAccount(usdLedger)
	require.True(t, ok)
	assert.Equal(t, acct, escrow)

	fee, ok := d.FeeAccount(usdLedger)
	require.True(t, ok)
	assert.Equal(t, "fees", fee.String())

	assert.Equal(t, 7*time.Second, d.DefaultExpiry(usdLedger))
	assert.Equal(t, 30*time.Second, d.DefaultExpiry(eurLedger))
	assert.Equal(t, 7*time.Second, d.DefaultExpiry(domain.NewLedgerID("example.unknown.")))

	_, ok = d.ResolveAccount(domain.NewLedgerID("example.unknown."))
	assert.False(t, ok)

	all := d.Ledgers()
	require.Len(t, all, 2)
	assert.Equal(t, eurLedger, all[0].ID)
}

func TestRefreshRejectsInvalidLedger(t *testing.T) {
	d := New(StaticSource{{ID: usdLedger, Asset: domain.NewAssetID("USD")}})
	err := d.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrEmptyID)
	assert.False(t, d.Loaded())
}

func TestFailedRefreshKeepsSnapshot(t *testing.T) {
	src := &countingSource{ledgers: ledgers()}
	d := New(src)
	require.NoError(t, d.Refresh(context.Background()))

	src.mu.Lock()
	src.err = errors.New("db down")
	src.mu.Unlock()
	require.Error(t, d.Refresh(context.Background()))

	_, ok := d.ResolveAccount(usdLedger)
	assert.True(t, ok)
}

func TestConcurrentRefreshSharesLoad(t *testing.T) {
	src := &countingSource{ledgers: ledgers(), block: make(chan struct{})}
	d := New(src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Refresh(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.block)
	wg.Wait()

	assert.Less(t, src.calls.Load(), int32(8))
	assert.True(t, d.Loaded())
}

func TestStaleReadTriggersBackgroundRefresh(t *testing.T) {
	src := &countingSource{ledgers: ledgers()[:1]}
	var clock atomic.Int64
	clock.Store(time.Unix(1_000, 0).UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()) }

	d := New(src, WithMaxStaleness(time.Minute), withClock(now))
	require.NoError(t, d.Refresh(context.Background()))
	_, ok := d.ResolveAccount(eurLedger)
	require.False(t, ok)

	src.set(ledgers())
	clock.Add(int64(2 * time.Minute))

	// The stale snapshot still answers while the refresh runs.
	_, _ = d.ResolveAccount(eurLedger)
	require.Eventually(t, func() bool {
		_, ok := d.ResolveAccount(eurLedger)
		return ok
	}, time.Second, 5*time.Millisecond)
}
