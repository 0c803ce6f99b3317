package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/ledger"
	"github.com/ayo6706/ilp-connector/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRecoverer struct {
	calls   atomic.Int32
	resumed int
	err     error
}

func (s *stubRecoverer) Recover(context.Context) (int, error) {
	s.calls.Add(1)
	return s.resumed, s.err
}

func TestRecoveryWorkerRunOnce(t *testing.T) {
	cases := []struct {
		name    string
		resumed int
		err     error
	}{
		{name: "nothing_to_do"},
		{name: "resumed", resumed: 3},
		{name: "store_down", err: errors.New("connection refused")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubRecoverer{resumed: tc.resumed, err: tc.err}
			n, err := NewRecoveryWorker(svc).RunOnce(context.Background())
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.resumed, n)
			assert.EqualValues(t, 1, svc.calls.Load())
		})
	}
}

func TestRecoveryWorkerSchedules(t *testing.T) {
	svc := &stubRecoverer{}
	w := NewRecoveryWorker(svc).WithInterval(20 * time.Millisecond)

	stop, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	stop()
	settled := svc.calls.Load()
	time.Sleep(80 * time.Millisecond)
	assert.LessOrEqual(t, svc.calls.Load(), settled+1)
	stop()
}

func TestRecoveryWorkerStopsWithContext(t *testing.T) {
	svc := &stubRecoverer{}
	ctx, cancel := context.WithCancel(context.Background())
	_, err := NewRecoveryWorker(svc).WithInterval(20 * time.Millisecond).Run(ctx)
	require.NoError(t, err)
	cancel()

	_, err = NewRecoveryWorker(svc).RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

type stubRefresher struct {
	calls atomic.Int32
	err   error
}

func (s *stubRefresher) Refresh(context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestDirectoryRefresher(t *testing.T) {
	t.Run("refreshes_on_interval", func(t *testing.T) {
		dir := &stubRefresher{}
		w := NewDirectoryRefresher(dir).WithInterval(10 * time.Millisecond)
		stop := w.Run(context.Background())
		defer stop()
		require.Eventually(t, func() bool { return dir.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("failure_is_reported", func(t *testing.T) {
		dir := &stubRefresher{err: errors.New("source offline")}
		err := NewDirectoryRefresher(dir).RefreshOnce(context.Background())
		require.Error(t, err)
		assert.EqualValues(t, 1, dir.calls.Load())
	})

	t.Run("stop_is_idempotent", func(t *testing.T) {
		w := NewDirectoryRefresher(&stubRefresher{})
		w.Stop()
		w.Stop()
		done := make(chan struct{})
		go func() {
			w.Start(context.Background())
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("stopped refresher kept running")
		}
	})
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []domain.Notification
	err  error
	// transient fails that many calls with a retryable error first.
	transient int
}

func (h *recordingHandler) OnNotification(_ context.Context, n domain.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, n)
	if h.transient > 0 {
		h.transient--
		return domain.ErrStoreUnavailable
	}
	return h.err
}

func (h *recordingHandler) notifications() []domain.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Notification(nil), h.seen...)
}

func TestLedgerListener(t *testing.T) {
	alice := domain.NewAccountID("alice")
	mark := domain.NewAccountID("mark")
	usd := ledger.NewMemoryLedger(domain.NewLedgerID("example.usd."), domain.SHA256Verifier)
	eur := ledger.NewMemoryLedger(domain.NewLedgerID("example.eur."), domain.SHA256Verifier)
	usd.Deposit(alice, decimal.NewFromInt(100))
	eur.Deposit(alice, decimal.NewFromInt(100))

	handler := &recordingHandler{err: errors.New("ignored")}
	listener := NewLedgerListener(ledger.NewGateways(usd, eur), handler, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()
	<-listener.Ready()

	condition := domain.ConditionFor(domain.Fulfillment("secret"))
	place := func(l *ledger.MemoryLedger, id string) domain.HoldRef {
		ref, err := l.PlaceHold(context.Background(), ledger.HoldRequest{
			TransferID: domain.NewTransferID(id),
			From:       alice,
			To:         mark,
			Amount:     decimal.NewFromInt(10),
			Condition:  condition,
			Expiry:     time.Now().Add(5 * time.Second),
		})
		require.NoError(t, err)
		return ref
	}
	ref := place(usd, "tx-1")
	place(eur, "tx-2")
	require.NoError(t, usd.Fulfill(context.Background(), ref, domain.Fulfillment("secret")))

	require.Eventually(t, func() bool { return len(handler.notifications()) == 3 }, 2*time.Second, 5*time.Millisecond)

	var usdKinds []domain.NotificationKind
	for _, n := range handler.notifications() {
		if n.Ledger == usd.Ledger() {
			usdKinds = append(usdKinds, n.Kind)
		}
	}
	assert.Equal(t, []domain.NotificationKind{domain.HoldPlaced, domain.HoldFulfilled}, usdKinds)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestLedgerListenerRetriesTransientFailures(t *testing.T) {
	alice := domain.NewAccountID("alice")
	mark := domain.NewAccountID("mark")
	usd := ledger.NewMemoryLedger(domain.NewLedgerID("example.usd."), domain.SHA256Verifier)
	usd.Deposit(alice, decimal.NewFromInt(100))

	handler := &recordingHandler{transient: 2}
	listener := NewLedgerListener(ledger.NewGateways(usd), handler, zap.NewNop()).
		WithRetry(service.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()
	<-listener.Ready()

	id := domain.NewTransferID("tx-retry")
	_, err := usd.PlaceHold(context.Background(), ledger.HoldRequest{
		TransferID: id,
		From:       alice,
		To:         mark,
		Amount:     decimal.NewFromInt(10),
		Condition:  domain.ConditionFor(domain.Fulfillment("secret")),
		Expiry:     time.Now().Add(5 * time.Second),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(handler.notifications()) == 3 }, 2*time.Second, 5*time.Millisecond)
	for _, n := range handler.notifications() {
		assert.Equal(t, id, n.TransferID)
		assert.Equal(t, domain.HoldPlaced, n.Kind)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, handler.notifications(), 3)
}

func TestLedgerListenerGivesUpAtHoldExpiry(t *testing.T) {
	alice := domain.NewAccountID("alice")
	mark := domain.NewAccountID("mark")
	usd := ledger.NewMemoryLedger(domain.NewLedgerID("example.usd."), domain.SHA256Verifier)
	usd.Deposit(alice, decimal.NewFromInt(100))

	handler := &recordingHandler{transient: 1 << 20}
	listener := NewLedgerListener(ledger.NewGateways(usd), handler, zap.NewNop()).
		WithRetry(service.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()
	<-listener.Ready()

	_, err := usd.PlaceHold(context.Background(), ledger.HoldRequest{
		TransferID: domain.NewTransferID("tx-doomed"),
		From:       alice,
		To:         mark,
		Amount:     decimal.NewFromInt(10),
		Condition:  domain.ConditionFor(domain.Fulfillment("secret")),
		Expiry:     time.Now().Add(150 * time.Millisecond),
	})
	require.NoError(t, err)

	// Retries stop at the hold's expiry and the expiry itself is delivered.
	require.Eventually(t, func() bool {
		for _, n := range handler.notifications() {
			if n.Kind == domain.HoldExpired {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}
