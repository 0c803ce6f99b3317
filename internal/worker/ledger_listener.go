package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/ledger"
	"github.com/ayo6706/ilp-connector/internal/observability"
	"github.com/ayo6706/ilp-connector/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NotificationHandler consumes ledger events.
type NotificationHandler interface {
	OnNotification(ctx context.Context, n domain.Notification) error
}

// LedgerListener subscribes to every ledger gateway and feeds its
// notifications to the connector. Ledgers are consumed concurrently; events
// of one ledger are delivered in the order the ledger emitted them.
type LedgerListener struct {
	gateways ledger.Gateways
	handler  NotificationHandler
	logger   *zap.Logger
	ready    chan struct{}
	retry    service.Backoff
	// retryWindow bounds retries of notifications that carry no expiry.
	retryWindow time.Duration
}

func NewLedgerListener(gateways ledger.Gateways, handler NotificationHandler, logger *zap.Logger) *LedgerListener {
	if logger == nil {
		logger = zap.L()
	}
	return &LedgerListener{
		gateways:    gateways,
		handler:     handler,
		logger:      logger,
		ready:       make(chan struct{}),
		retry:       service.Backoff{Base: 50 * time.Millisecond, Max: time.Second},
		retryWindow: 30 * time.Second,
	}
}

// WithRetry sets the backoff used for transient handler failures.
func (l *LedgerListener) WithRetry(b service.Backoff) *LedgerListener {
	l.retry = b
	return l
}

// Run blocks until ctx is done. It fails fast if any subscription cannot be
// opened. Run must be called at most once.
func (l *LedgerListener) Run(ctx context.Context) error {
	streams := make(map[domain.LedgerID]<-chan domain.Notification, len(l.gateways))
	for id, gw := range l.gateways {
		ch, err := gw.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", id, err)
		}
		streams[id] = ch
	}

	close(l.ready)

	g, ctx := errgroup.WithContext(ctx)
	for id, ch := range streams {
		id, ch := id, ch
		g.Go(func() error {
			l.consume(ctx, id, ch)
			return nil
		})
	}
	l.logger.Info("ledger listener started", zap.Int("ledgers", len(streams)))
	return g.Wait()
}

// Ready is closed once every subscription is open.
func (l *LedgerListener) Ready() <-chan struct{} {
	return l.ready
}

func (l *LedgerListener) consume(ctx context.Context, id domain.LedgerID, ch <-chan domain.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				l.logger.Info("ledger stream closed", zap.String("ledger", id.String()))
				return
			}
			if n.Ledger.IsZero() {
				n.Ledger = id
			}
			if err := l.deliver(ctx, n); err != nil {
				observability.IncrementWorkerRun("ledger_listener", "failed")
				l.logger.Warn("ledger notification not handled",
					zap.String("ledger", id.String()),
					zap.String("transfer_id", n.TransferID.String()),
					zap.String("kind", string(n.Kind)),
					zap.Error(err),
				)
				continue
			}
			observability.IncrementWorkerRun("ledger_listener", "success")
		}
	}
}

// deliver hands n to the handler, retrying transient failures until the
// hold expires. A placed hold is still worth acting on until then.
func (l *LedgerListener) deliver(ctx context.Context, n domain.Notification) error {
	deadline := n.Expiry
	if deadline.IsZero() {
		deadline = time.Now().Add(l.retryWindow)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	attempts := 0
	return l.retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			observability.IncrementWorkerRun("ledger_listener", "retry")
		}
		return l.handler.OnNotification(ctx, n)
	})
}
