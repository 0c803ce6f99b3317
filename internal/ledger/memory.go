package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Op names a ledger action for failure injection and call counting.
type Op string

const (
	OpPlaceHold Op = "place_hold"
	OpFulfill   Op = "fulfill"
	OpCancel    Op = "cancel"
)

// HoldStatus is the lifecycle state of a hold on a MemoryLedger.
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldFulfilled HoldStatus = "fulfilled"
	HoldCancelled HoldStatus = "cancelled"
	HoldExpired   HoldStatus = "expired"
)

// Hold is a point-in-time view of a hold.
type Hold struct {
	Ref        domain.HoldRef
	TransferID domain.TransferID
	From       domain.AccountID
	To         domain.AccountID
	Amount     decimal.Decimal
	Condition  domain.Condition
	Expiry     time.Time
	Payload    []byte
	Status     HoldStatus
}

type hold struct {
	Hold
	fulfillment domain.Fulfillment
	timer       *time.Timer
}

// MemoryLedger is an in-process ledger with balances and conditional holds.
// Funds leave the sender when the hold is placed and reach the recipient on
// fulfillment; cancellation and expiry return them to the sender.
type MemoryLedger struct {
	id     domain.LedgerID
	verify domain.ConditionVerifier

	mu         sync.Mutex
	balances   map[domain.AccountID]decimal.Decimal
	holds      map[domain.HoldRef]*hold
	byTransfer map[domain.TransferID][]domain.HoldRef
	failures   map[Op]int
	calls      map[Op]int
	subs       map[*subscriber]struct{}
}

func NewMemoryLedger(id domain.LedgerID, verify domain.ConditionVerifier) *MemoryLedger {
	if verify == nil {
		verify = domain.SHA256Verifier
	}
	return &MemoryLedger{
		id:         id,
		verify:     verify,
		balances:   make(map[domain.AccountID]decimal.Decimal),
		holds:      make(map[domain.HoldRef]*hold),
		byTransfer: make(map[domain.TransferID][]domain.HoldRef),
		failures:   make(map[Op]int),
		calls:      make(map[Op]int),
		subs:       make(map[*subscriber]struct{}),
	}
}

func (l *MemoryLedger) Ledger() domain.LedgerID { return l.id }

// Deposit credits account outside of any hold.
func (l *MemoryLedger) Deposit(account domain.AccountID, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balances[account].Add(amount)
}

func (l *MemoryLedger) Balance(account domain.AccountID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// FailNext makes the next n calls of op fail with domain.ErrLedgerUnavailable.
func (l *MemoryLedger) FailNext(op Op, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op] = n
}

// Calls reports how many times op changed ledger state.
func (l *MemoryLedger) Calls(op Op) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// HoldFor returns the first hold placed for a transfer.
func (l *MemoryLedger) HoldFor(id domain.TransferID) (Hold, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	refs := l.byTransfer[id]
	if len(refs) == 0 {
		return Hold{}, false
	}
	return l.holds[refs[0]].Hold, true
}

// HoldsFor returns every hold placed for a transfer, oldest first.
func (l *MemoryLedger) HoldsFor(id domain.TransferID) []Hold {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Hold, 0, len(l.byTransfer[id]))
	for _, ref := range l.byTransfer[id] {
		out = append(out, l.holds[ref].Hold)
	}
	return out
}

func (l *MemoryLedger) placed(id domain.TransferID, from domain.AccountID) (domain.HoldRef, bool) {
	for _, ref := range l.byTransfer[id] {
		if l.holds[ref].From == from {
			return ref, true
		}
	}
	return "", false
}

func (l *MemoryLedger) injectFailure(op Op) error {
	if l.failures[op] > 0 {
		l.failures[op]--
		return fmt.Errorf("%s on %s: %w", op, l.id, domain.ErrLedgerUnavailable)
	}
	return nil
}

func (l *MemoryLedger) PlaceHold(ctx context.Context, req HoldRequest) (domain.HoldRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injectFailure(OpPlaceHold); err != nil {
		return "", err
	}
	if ref, ok := l.placed(req.TransferID, req.From); ok {
		return ref, nil
	}
	if req.TransferID.IsZero() || req.From.IsZero() || req.To.IsZero() {
		return "", fmt.Errorf("place hold on %s: %w", l.id, domain.ErrEmptyID)
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("place hold on %s: amount must be positive", l.id)
	}
	wait := time.Until(req.Expiry)
	if wait <= 0 {
		return "", fmt.Errorf("place hold on %s: expiry %s already passed", l.id, req.Expiry.Format(time.RFC3339Nano))
	}
	if l.balances[req.From].LessThan(req.Amount) {
		return "", fmt.Errorf("place hold on %s for %s: %w", l.id, req.From, domain.ErrInsufficientFunds)
	}

	l.balances[req.From] = l.balances[req.From].Sub(req.Amount)
	h := &hold{Hold: Hold{
		Ref:        domain.HoldRef(uuid.NewString()),
		TransferID: req.TransferID,
		From:       req.From,
		To:         req.To,
		Amount:     req.Amount,
		Condition:  append(domain.Condition(nil), req.Condition...),
		Expiry:     req.Expiry,
		Payload:    append([]byte(nil), req.Payload...),
		Status:     HoldActive,
	}}
	h.timer = time.AfterFunc(wait, func() { l.expire(h.Ref) })
	l.holds[h.Ref] = h
	l.byTransfer[req.TransferID] = append(l.byTransfer[req.TransferID], h.Ref)
	l.calls[OpPlaceHold]++

	l.publish(domain.Notification{
		Kind:       domain.HoldPlaced,
		Ledger:     l.id,
		TransferID: h.TransferID,
		Hold:       h.Ref,
		Account:    h.To,
		Sender:     h.From,
		Amount:     h.Amount,
		Condition:  h.Condition,
		Expiry:     h.Expiry,
		Payload:    h.Payload,
	})
	return h.Ref, nil
}

func (l *MemoryLedger) Fulfill(ctx context.Context, ref domain.HoldRef, f domain.Fulfillment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injectFailure(OpFulfill); err != nil {
		return err
	}
	h, ok := l.holds[ref]
	if !ok {
		return fmt.Errorf("fulfill %s on %s: %w", ref, l.id, domain.ErrHoldNotFound)
	}
	if h.Status == HoldFulfilled && string(h.fulfillment) == string(f) {
		return nil
	}
	if h.Status != HoldActive {
		return fmt.Errorf("fulfill %s on %s (%s): %w", ref, l.id, h.Status, domain.ErrHoldNotActive)
	}
	if !l.verify(h.Condition, f) {
		return fmt.Errorf("fulfill %s on %s: %w", ref, l.id, domain.ErrConditionMismatch)
	}
	if !time.Now().Before(h.Expiry) {
		l.release(h, HoldExpired, domain.HoldExpired)
		return fmt.Errorf("fulfill %s on %s: %w", ref, l.id, domain.ErrHoldNotActive)
	}

	h.timer.Stop()
	h.Status = HoldFulfilled
	h.fulfillment = append(domain.Fulfillment(nil), f...)
	l.balances[h.To] = l.balances[h.To].Add(h.Amount)
	l.calls[OpFulfill]++

	l.publish(domain.Notification{
		Kind:        domain.HoldFulfilled,
		Ledger:      l.id,
		TransferID:  h.TransferID,
		Hold:        h.Ref,
		Account:     h.To,
		Sender:      h.From,
		Amount:      h.Amount,
		Fulfillment: h.fulfillment,
	})
	return nil
}

func (l *MemoryLedger) Cancel(ctx context.Context, ref domain.HoldRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injectFailure(OpCancel); err != nil {
		return err
	}
	h, ok := l.holds[ref]
	if !ok {
		return fmt.Errorf("cancel %s on %s: %w", ref, l.id, domain.ErrHoldNotFound)
	}
	switch h.Status {
	case HoldCancelled, HoldExpired:
		return nil
	case HoldFulfilled:
		return fmt.Errorf("cancel %s on %s: %w", ref, l.id, domain.ErrHoldNotActive)
	}
	l.release(h, HoldCancelled, domain.HoldCancelled)
	l.calls[OpCancel]++
	return nil
}

func (l *MemoryLedger) expire(ref domain.HoldRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holds[ref]; ok && h.Status == HoldActive {
		l.release(h, HoldExpired, domain.HoldExpired)
	}
}

func (l *MemoryLedger) Confirm(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holds[n.Hold]
	switch {
	case !ok:
		return fmt.Errorf("confirm %s on %s: %w", n.Hold, l.id, domain.ErrHoldNotFound)
	case n.Ledger != l.id, h.TransferID != n.TransferID:
		return fmt.Errorf("confirm %s on %s: notification does not match hold: %w", n.Hold, l.id, domain.ErrHoldNotFound)
	case (n.Kind == domain.HoldPlaced || !n.Account.IsZero()) && h.To != n.Account:
		return fmt.Errorf("confirm %s on %s: hold credits %s, not %s: %w", n.Hold, l.id, h.To, n.Account, domain.ErrHoldNotFound)
	case n.Kind == domain.HoldPlaced && (!h.Amount.Equal(n.Amount) || !bytes.Equal(h.Condition, n.Condition) || !h.Expiry.Equal(n.Expiry)):
		return fmt.Errorf("confirm %s on %s: terms differ from the placed hold: %w", n.Hold, l.id, domain.ErrHoldNotFound)
	}
	want := map[domain.NotificationKind]HoldStatus{
		domain.HoldFulfilled: HoldFulfilled,
		domain.HoldExpired:   HoldExpired,
		domain.HoldCancelled: HoldCancelled,
	}
	if status, closing := want[n.Kind]; closing && h.Status != status {
		return fmt.Errorf("confirm %s on %s: hold is %s, not %s: %w", n.Hold, l.id, h.Status, status, domain.ErrHoldNotFound)
	}
	return nil
}

// release returns held funds to the sender. Caller holds l.mu.
func (l *MemoryLedger) release(h *hold, status HoldStatus, kind domain.NotificationKind) {
	h.timer.Stop()
	h.Status = status
	l.balances[h.From] = l.balances[h.From].Add(h.Amount)
	l.publish(domain.Notification{
		Kind:       kind,
		Ledger:     l.id,
		TransferID: h.TransferID,
		Hold:       h.Ref,
		Account:    h.To,
		Sender:     h.From,
		Amount:     h.Amount,
	})
}

func (l *MemoryLedger) Subscribe(ctx context.Context) (<-chan domain.Notification, error) {
	s := newSubscriber()
	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, s)
		l.mu.Unlock()
		s.close()
	}()
	go s.pump()
	return s.out, nil
}

// publish fans n out to every subscriber. Caller holds l.mu.
func (l *MemoryLedger) publish(n domain.Notification) {
	for s := range l.subs {
		s.push(n)
	}
}

// subscriber queues notifications without bound so that publishing under
// the ledger lock never waits on a slow consumer, while keeping order.
type subscriber struct {
	mu     sync.Mutex
	queue  []domain.Notification
	closed bool
	wake   chan struct{}
	out    chan domain.Notification
}

func newSubscriber() *subscriber {
	return &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan domain.Notification),
	}
}

func (s *subscriber) push(n domain.Notification) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, n)
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for range s.wake {
		for {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			n := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- n:
			case <-s.wake:
				// Woken while blocked: requeue and re-check for close.
				s.mu.Lock()
				s.queue = append([]domain.Notification{n}, s.queue...)
				s.mu.Unlock()
			}
		}
	}
}
