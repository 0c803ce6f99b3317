package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/fee"
	"github.com/ayo6706/ilp-connector/internal/ledger"
	"github.com/ayo6706/ilp-connector/internal/observability"
	"github.com/ayo6706/ilp-connector/internal/peer"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerGateways resolves the adapter for a ledger.
type LedgerGateways interface {
	Get(id domain.LedgerID) (ledger.Gateway, bool)
}

// HopPlanner decides the outbound leg of an incoming transfer.
type HopPlanner interface {
	PlanHop(ctx context.Context, t *domain.Transfer, dest domain.Address, amount decimal.Decimal, window time.Duration) (Hop, error)
}

type OrchestratorConfig struct {
	SafetyMargin   time.Duration
	MinExpiry      time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// CleanupTimeout bounds cancellations issued after a transfer's own
	// deadline has passed.
	CleanupTimeout time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = time.Second
	}
	if c.MinExpiry <= 0 {
		c.MinExpiry = time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 50 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Second
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 5 * time.Second
	}
	return c
}

// Orchestrator drives each incoming hold through
// Observed -> SourceHeld -> DestinationActionTaken -> Fulfilled|Rejected|Expired.
// Work on one transfer is serialized; distinct transfers run in parallel.
type Orchestrator struct {
	cfg      OrchestratorConfig
	dir      AccountDirectory
	gateways LedgerGateways
	planner  HopPlanner
	peers    PeerDirectory
	client   peer.Client
	store    TransferStore
	audit    *AuditService
	verify   domain.ConditionVerifier
	refunds  fee.Calculator
	retry    Backoff
	logger   *zap.Logger

	locks *keyedMutex

	mu     sync.Mutex
	live   map[domain.TransferID]*liveTransfer
	closed bool
	wg     sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc
}

type liveTransfer struct {
	t      *domain.Transfer
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

func NewOrchestrator(cfg OrchestratorConfig, dir AccountDirectory, gateways LedgerGateways, planner HopPlanner, peers PeerDirectory, client peer.Client, store TransferStore, verify domain.ConditionVerifier, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	if verify == nil {
		verify = domain.SHA256Verifier
	}
	cfg = cfg.withDefaults()
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		dir:      dir,
		gateways: gateways,
		planner:  planner,
		peers:    peers,
		client:   client,
		store:    store,
		audit:    NewAuditService(store, logger),
		verify:   verify,
		refunds:  fee.Reversal{},
		retry:    Backoff{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay},
		logger:   logger,
		locks:    newKeyedMutex(),
		live:     make(map[domain.TransferID]*liveTransfer),
		baseCtx:  ctx,
		stop:     stop,
	}
}

// OnNotification feeds one ledger event into the state machine. Work that
// waits on ledgers or peers continues in the background.
func (o *Orchestrator) OnNotification(ctx context.Context, n domain.Notification) error {
	if !n.Kind.Valid() {
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	if n.TransferID.IsZero() || n.Ledger.IsZero() {
		return fmt.Errorf("notification: %w", domain.ErrEmptyID)
	}
	if n.Kind == domain.HoldPlaced {
		return o.observe(ctx, n)
	}
	if o.lookup(n.TransferID) == nil {
		// Late or foreign notification for a transfer we are not driving.
		return nil
	}
	o.spawn(func() { o.closeHold(n) })
	return nil
}

// observe records an incoming hold addressed to the connector.
func (o *Orchestrator) observe(ctx context.Context, n domain.Notification) error {
	account, ok := o.dir.ResolveAccount(n.Ledger)
	if !ok || n.Account != account {
		return nil
	}
	info, _ := o.dir.Ledger(n.Ledger)

	unlock := o.locks.Lock(n.TransferID.String())
	defer unlock()
	if o.lookup(n.TransferID) != nil {
		return nil
	}

	now := time.Now().UTC()
	t := &domain.Transfer{
		ID:            n.TransferID,
		SourceLedger:  n.Ledger,
		SourceAccount: n.Sender,
		SourceAsset:   info.Asset,
		SourceAmount:  n.Amount,
		SourceHold:    n.Hold,
		SourceExpiry:  n.Expiry,
		Condition:     n.Condition,
		Payload:       n.Payload,
		State:         domain.StateObserved,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inserted, err := o.store.Insert(ctx, t)
	if err != nil {
		return fmt.Errorf("record transfer %s: %w: %w", t.ID, domain.ErrStoreUnavailable, err)
	}
	if !inserted {
		o.logger.Debug("duplicate hold notification ignored", zap.String("transfer_id", t.ID.String()))
		return nil
	}
	if err := o.audit.Write(ctx, t.ID, "", domain.StateObserved, "", now); err != nil {
		o.logger.Warn("audit write failed", zap.String("transfer_id", t.ID.String()), zap.Error(err))
	}

	if !o.track(t) {
		return nil
	}
	o.spawn(func() { o.drive(t.ID) })
	return nil
}

// track registers a transfer as live and arms its expiry timer. A transfer
// already past its source expiry is expired right away.
func (o *Orchestrator) track(t *domain.Transfer) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	ctx, cancel := context.WithDeadline(o.baseCtx, t.SourceExpiry)
	lt := &liveTransfer{t: t, ctx: ctx, cancel: cancel}
	o.live[t.ID] = lt
	lt.timer = time.AfterFunc(time.Until(t.SourceExpiry), func() { o.expire(t.ID) })
	observability.SetLiveTransfers(len(o.live))
	return true
}

func (o *Orchestrator) lookup(id domain.TransferID) *liveTransfer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.live[id]
}

// Live reports how many transfers are in flight.
func (o *Orchestrator) Live() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live)
}

func (o *Orchestrator) spawn(fn func()) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// drive advances a transfer as far as it can go without waiting on a
// notification.
func (o *Orchestrator) drive(id domain.TransferID) {
	unlock := o.locks.Lock(id.String())
	defer unlock()
	lt := o.lookup(id)
	if lt == nil || lt.t.State.IsTerminal() {
		return
	}

	switch lt.t.State {
	case domain.StateObserved:
		if !o.accept(lt) {
			return
		}
		fallthrough
	case domain.StateSourceHeld:
		o.placeDestination(lt)
	case domain.StateDestinationActionTaken:
		if len(lt.t.Fulfillment) > 0 {
			o.settle(lt)
			return
		}
		if lt.t.Delegated() {
			o.forward(lt)
		}
	}
}

// accept validates the inbound hold and plans the outbound leg.
func (o *Orchestrator) accept(lt *liveTransfer) bool {
	t := lt.t

	// 1. The inbound hold must leave room for a strictly earlier outbound one.
	window := time.Until(t.SourceExpiry) - o.cfg.SafetyMargin
	if window < o.cfg.MinExpiry {
		o.reject(lt, domain.ReasonSourceExpiryTooShort)
		return false
	}

	// 2. The payload must name a reachable destination.
	packet, dest, err := domain.DecodePacket(t.Payload)
	if err != nil {
		o.logger.Info("rejecting transfer with invalid packet", zap.String("transfer_id", t.ID.String()), zap.Error(err))
		o.reject(lt, domain.ReasonInvalidPacket)
		return false
	}
	if dest.Ledger == t.SourceLedger {
		o.reject(lt, domain.ReasonUnreachableDestination)
		return false
	}

	// 3. Price the outbound commitment.
	hop, err := o.planner.PlanHop(lt.ctx, t, dest, packet.Amount, window)
	if err != nil {
		if lt.ctx.Err() != nil {
			return false
		}
		reason := domain.ReasonUnreachableDestination
		if errors.Is(err, errInsufficientSource) {
			reason = domain.ReasonInsufficientSourceAmount
		}
		o.logger.Info("no outbound route", zap.String("transfer_id", t.ID.String()), zap.String("reason", reason), zap.Error(err))
		o.reject(lt, reason)
		return false
	}

	t.DestinationLedger = hop.Ledger
	t.DestinationAccount = hop.Account
	t.DestinationAsset = hop.Asset
	t.DestinationAmount = hop.Amount
	t.DestinationExpiry = t.SourceExpiry.Add(-o.cfg.SafetyMargin)
	t.Fee, t.FeeAsset = hop.Fee, hop.FeeAsset
	if hop.Peer != nil {
		t.NextHop = hop.Peer.ID
	}
	return o.transition(lt, domain.StateSourceHeld, "") == nil
}

// placeDestination puts the same-condition hold on the outbound ledger.
func (o *Orchestrator) placeDestination(lt *liveTransfer) {
	t := lt.t
	gw, ok := o.gateways.Get(t.DestinationLedger)
	if !ok {
		o.reject(lt, domain.ReasonUnreachableDestination)
		return
	}
	from, ok := o.dir.EscrowAccount(t.DestinationLedger)
	if !ok {
		o.reject(lt, domain.ReasonUnreachableDestination)
		return
	}

	ctx, cancel := context.WithDeadline(lt.ctx, t.DestinationExpiry)
	defer cancel()
	req := ledger.HoldRequest{
		TransferID: t.ID,
		From:       from,
		To:         t.DestinationAccount,
		Amount:     t.DestinationAmount,
		Condition:  t.Condition,
		Expiry:     t.DestinationExpiry,
		Payload:    t.Payload,
	}
	var ref domain.HoldRef
	start := time.Now()
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = gw.PlaceHold(ctx, req)
		return err
	})
	observeAction("place_hold", start, err)
	if err != nil {
		if ctx.Err() != nil || domain.IsTransient(err) {
			// The outcome is unknown. The source hold stays untouched and the
			// expiry timer settles the transfer.
			o.logger.Warn("outbound hold placement gave up",
				zap.String("transfer_id", t.ID.String()),
				zap.String("ledger", t.DestinationLedger.String()),
				zap.Error(err))
			return
		}
		reason := domain.ReasonLedgerError
		if errors.Is(err, domain.ErrInsufficientFunds) {
			reason = domain.ReasonInsufficientFunds
		}
		o.logger.Info("outbound hold rejected", zap.String("transfer_id", t.ID.String()), zap.Error(err))
		o.reject(lt, reason)
		return
	}

	t.DestinationHold = ref
	if o.transition(lt, domain.StateDestinationActionTaken, "") != nil {
		return
	}
	if t.Delegated() {
		o.forward(lt)
	}
}

// forward tells the next connector about the hold placed towards it.
func (o *Orchestrator) forward(lt *liveTransfer) {
	t := lt.t
	if o.peers == nil || o.client == nil {
		return
	}
	p, ok := o.peers.Get(t.NextHop)
	if !ok {
		o.logger.Warn("next hop is not a known peer", zap.String("transfer_id", t.ID.String()), zap.String("peer", t.NextHop.String()))
		return
	}
	sender, _ := o.dir.EscrowAccount(t.DestinationLedger)
	hold := domain.Notification{
		Kind:       domain.HoldPlaced,
		Ledger:     t.DestinationLedger,
		TransferID: t.ID,
		Hold:       t.DestinationHold,
		Account:    t.DestinationAccount,
		Sender:     sender,
		Amount:     t.DestinationAmount,
		Condition:  t.Condition,
		Expiry:     t.DestinationExpiry,
		Payload:    t.Payload,
	}
	ctx, cancel := context.WithDeadline(lt.ctx, t.DestinationExpiry)
	defer cancel()
	start := time.Now()
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		return o.client.ForwardTransfer(ctx, p, hold)
	})
	observeAction("forward_transfer", start, err)
	if err != nil {
		// The hold is on the shared ledger either way; the peer can still
		// pick it up from its own feed.
		o.logger.Warn("forward to peer failed", zap.String("transfer_id", t.ID.String()), zap.String("peer", p.ID.String()), zap.Error(err))
	}
}

// closeHold applies a fulfilled, expired or cancelled hold to the leg it
// belongs to.
func (o *Orchestrator) closeHold(n domain.Notification) {
	unlock := o.locks.Lock(n.TransferID.String())
	defer unlock()
	lt := o.lookup(n.TransferID)
	if lt == nil || lt.t.State.IsTerminal() {
		return
	}
	t := lt.t
	switch {
	case !t.DestinationLedger.IsZero() && n.Ledger == t.DestinationLedger && (t.DestinationHold == "" || n.Hold == t.DestinationHold):
		o.onDestinationClosed(lt, n)
	case n.Ledger == t.SourceLedger && n.Hold == t.SourceHold:
		o.onSourceClosed(lt, n)
	}
}

func (o *Orchestrator) onDestinationClosed(lt *liveTransfer, n domain.Notification) {
	t := lt.t
	switch n.Kind {
	case domain.HoldFulfilled:
		if !o.verify(t.Condition, n.Fulfillment) {
			o.logger.Warn("fulfillment does not match condition", zap.String("transfer_id", t.ID.String()))
			return
		}
		if t.State == domain.StateSourceHeld {
			// Placement outcome was unknown; the ledger has now told us.
			t.DestinationHold = n.Hold
			if o.transition(lt, domain.StateDestinationActionTaken, "") != nil {
				return
			}
		}
		t.Fulfillment = append(domain.Fulfillment(nil), n.Fulfillment...)
		o.save(t)
		o.settle(lt)
	case domain.HoldExpired:
		o.reject(lt, domain.ReasonDestinationExpired)
	case domain.HoldCancelled:
		o.reject(lt, domain.ReasonDestinationRejected)
	}
}

func (o *Orchestrator) onSourceClosed(lt *liveTransfer, n domain.Notification) {
	switch n.Kind {
	case domain.HoldFulfilled:
		o.finish(lt, domain.StateFulfilled, domain.ReasonFulfilled)
	case domain.HoldExpired:
		o.cancelDestination(lt)
		o.finish(lt, domain.StateExpired, domain.ReasonSourceExpired)
	case domain.HoldCancelled:
		if o.cancelDestination(lt) {
			o.finish(lt, domain.StateRejected, domain.ReasonSourceCancelled)
		}
	}
}

// settle replays the destination's fulfillment onto the source hold.
func (o *Orchestrator) settle(lt *liveTransfer) {
	t := lt.t
	gw, ok := o.gateways.Get(t.SourceLedger)
	if !ok {
		o.logger.Error("no gateway for source ledger", zap.String("transfer_id", t.ID.String()), zap.String("ledger", t.SourceLedger.String()))
		return
	}
	start := time.Now()
	err := o.retry.Do(lt.ctx, func(ctx context.Context) error {
		return gw.Fulfill(ctx, t.SourceHold, t.Fulfillment)
	})
	observeAction("fulfill", start, err)
	switch {
	case err == nil:
		o.finish(lt, domain.StateFulfilled, domain.ReasonFulfilled)
	case lt.ctx.Err() != nil:
	case errors.Is(err, domain.ErrHoldNotFound):
		o.logger.Error("source hold unknown to its ledger", zap.String("transfer_id", t.ID.String()),
			zap.String("hold", string(t.SourceHold)), zap.Error(err))
		o.finish(lt, domain.StateRejected, domain.ReasonLedgerError)
	case errors.Is(err, domain.ErrHoldNotActive):
		o.logger.Error("source hold closed before fulfillment", zap.String("transfer_id", t.ID.String()), zap.Error(err))
		o.finish(lt, domain.StateExpired, domain.ReasonSourceExpired)
	default:
		o.logger.Error("fulfill source hold failed", zap.String("transfer_id", t.ID.String()), zap.Error(err))
	}
}

// reject rolls a transfer back. The source hold is only released once the
// destination hold is known not to be fulfilled.
func (o *Orchestrator) reject(lt *liveTransfer, reason string) {
	if !o.cancelDestination(lt) {
		return
	}
	o.cancelSource(lt)
	o.finish(lt, domain.StateRejected, reason)
}

// cancelDestination releases the outbound hold, if any. It reports false
// when the hold turned out to be fulfilled already.
func (o *Orchestrator) cancelDestination(lt *liveTransfer) bool {
	t := lt.t
	if t.DestinationHold == "" {
		return true
	}
	gw, ok := o.gateways.Get(t.DestinationLedger)
	if !ok {
		return true
	}
	err := o.cleanup("cancel_destination", t.DestinationExpiry, func(ctx context.Context) error {
		return gw.Cancel(ctx, t.DestinationHold)
	})
	switch {
	case errors.Is(err, domain.ErrHoldNotActive):
		o.logger.Warn("destination hold already fulfilled", zap.String("transfer_id", t.ID.String()))
		return false
	case errors.Is(err, domain.ErrHoldNotFound):
		o.logger.Error("destination hold unknown to its ledger", zap.String("transfer_id", t.ID.String()),
			zap.String("hold", string(t.DestinationHold)))
	case err != nil:
		o.logger.Warn("cancel destination hold failed", zap.String("transfer_id", t.ID.String()), zap.Error(err))
	}
	return true
}

func (o *Orchestrator) cancelSource(lt *liveTransfer) {
	t := lt.t
	gw, ok := o.gateways.Get(t.SourceLedger)
	if !ok || t.SourceHold == "" {
		return
	}
	err := o.cleanup("cancel_source", t.SourceExpiry, func(ctx context.Context) error {
		return gw.Cancel(ctx, t.SourceHold)
	})
	switch {
	case errors.Is(err, domain.ErrHoldNotFound):
		o.logger.Error("source hold unknown to its ledger", zap.String("transfer_id", t.ID.String()),
			zap.String("hold", string(t.SourceHold)))
	case err != nil:
		o.logger.Warn("cancel source hold failed", zap.String("transfer_id", t.ID.String()), zap.Error(err))
	}
}

// Confirm checks an out-of-band notification with the gateway of its ledger.
// Holds the gateway cannot act on are refused with domain.ErrHoldNotFound.
func (o *Orchestrator) Confirm(ctx context.Context, n domain.Notification) error {
	gw, ok := o.gateways.Get(n.Ledger)
	if !ok {
		return fmt.Errorf("%w: no gateway for ledger %s", domain.ErrHoldNotFound, n.Ledger)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CleanupTimeout)
	defer cancel()
	start := time.Now()
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		return gw.Confirm(ctx, n)
	})
	observeAction("confirm", start, err)
	return err
}

// cleanup runs a rollback action with retries, independent of the
// transfer's own context, until deadline or the cleanup timeout.
func (o *Orchestrator) cleanup(op string, deadline time.Time, fn func(context.Context) error) error {
	if !time.Now().Before(deadline) {
		// The ledger expires the hold on its own.
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CleanupTimeout)
	defer cancel()
	ctx, cancelDeadline := context.WithDeadline(ctx, deadline)
	defer cancelDeadline()
	start := time.Now()
	err := o.retry.Do(ctx, fn)
	observeAction(op, start, err)
	return err
}

// expire fires at the source expiry. It aborts any in-flight call before
// taking the transfer's lock.
func (o *Orchestrator) expire(id domain.TransferID) {
	lt := o.lookup(id)
	if lt == nil {
		return
	}
	lt.cancel()

	unlock := o.locks.Lock(id.String())
	defer unlock()
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed || lt.t.State.IsTerminal() {
		return
	}
	o.cancelDestination(lt)
	o.finish(lt, domain.StateExpired, domain.ReasonSourceExpired)
}

func (o *Orchestrator) transition(lt *liveTransfer, next domain.TransferState, reason string) error {
	t := lt.t
	prev := t.State
	if err := t.Transition(next, reason, time.Now().UTC()); err != nil {
		o.logger.Error("transfer transition refused", zap.String("transfer_id", t.ID.String()), zap.Error(err))
		return err
	}
	o.save(t)
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CleanupTimeout)
	defer cancel()
	if err := o.audit.Write(ctx, t.ID, prev, next, reason, t.UpdatedAt); err != nil {
		o.logger.Warn("audit write failed", zap.String("transfer_id", t.ID.String()), zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) save(t *domain.Transfer) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CleanupTimeout)
	defer cancel()
	if err := o.store.Save(ctx, t); err != nil {
		o.logger.Error("persist transfer failed", zap.String("transfer_id", t.ID.String()), zap.Error(err))
	}
}

// finish moves a transfer to a terminal state and drops it from the live set.
func (o *Orchestrator) finish(lt *liveTransfer, state domain.TransferState, reason string) {
	t := lt.t
	if state != domain.StateFulfilled {
		// Nothing moved, so nothing is charged.
		t.Fee, _ = o.refunds.ComputeFee(t.SourceAsset, t.SourceAmount)
	}
	if o.transition(lt, state, reason) != nil {
		return
	}
	lt.timer.Stop()
	lt.cancel()

	o.mu.Lock()
	delete(o.live, t.ID)
	n := len(o.live)
	o.mu.Unlock()

	observability.IncrementTransferOutcome(string(state), reason)
	observability.SetLiveTransfers(n)
}

// Recover loads every non-terminal transfer from the store and resumes it.
// Transfers past their source expiry are expired; transfers without an
// outbound hold are driven again, which is safe because hold placement is
// idempotent per transfer. It returns how many transfers were resumed.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active transfers: %w", err)
	}
	resumed := 0
	for _, listed := range active {
		if listed.State.IsTerminal() {
			continue
		}
		unlock := o.locks.Lock(listed.ID.String())
		if o.lookup(listed.ID) != nil {
			unlock()
			continue
		}
		// The listing may predate a transition made under this lock.
		t, err := o.store.Get(ctx, listed.ID)
		if err != nil || t.State.IsTerminal() {
			unlock()
			if err != nil && !errors.Is(err, domain.ErrTransferNotFound) {
				o.logger.Warn("reload transfer for recovery failed", zap.String("transfer_id", listed.ID.String()), zap.Error(err))
			}
			continue
		}
		ok := o.track(t)
		unlock()
		if !ok {
			break
		}
		resumed++
		if time.Now().Before(t.SourceExpiry) {
			id := t.ID
			o.spawn(func() { o.drive(id) })
		}
	}
	if resumed > 0 {
		o.logger.Info("resumed transfers", zap.Int("count", resumed))
	}
	return resumed, nil
}

// Close stops timers and waits for in-flight work. Transfers stay in the
// store for the next Recover.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, lt := range o.live {
		lt.timer.Stop()
	}
	o.mu.Unlock()
	o.stop()
	o.wg.Wait()
}
