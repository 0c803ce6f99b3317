// Package directory holds the connector's view of the ledgers it is attached
// to: its own account on each, the escrow and fee accounts, the ledger's asset
// and precision, and the default hold expiry.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Ledger describes one ledger the connector holds an account on.
type Ledger struct {
	ID    domain.LedgerID
	Asset domain.AssetID
	// Scale is the number of decimal places the ledger settles in.
	Scale         int32
	Account       domain.AccountID
	Escrow        domain.AccountID
	Fee           domain.AccountID
	DefaultExpiry time.Duration
}

func (l Ledger) validate() error {
	if l.ID.IsZero() {
		return fmt.Errorf("ledger id: %w", domain.ErrEmptyID)
	}
	if l.Account.IsZero() {
		return fmt.Errorf("ledger %s account: %w", l.ID, domain.ErrEmptyID)
	}
	if l.Asset.IsZero() {
		return fmt.Errorf("ledger %s asset: %w", l.ID, domain.ErrEmptyID)
	}
	if l.Scale < 0 {
		return fmt.Errorf("ledger %s scale must not be negative", l.ID)
	}
	return nil
}

// Source loads the current ledger set.
type Source interface {
	LoadLedgers(ctx context.Context) ([]Ledger, error)
}

// StaticSource serves a fixed ledger set, typically from configuration.
type StaticSource []Ledger

func (s StaticSource) LoadLedgers(context.Context) ([]Ledger, error) {
	out := make([]Ledger, len(s))
	copy(out, s)
	return out, nil
}

type snapshot struct {
	ledgers  map[domain.LedgerID]Ledger
	loadedAt time.Time
}

// Directory serves lookups from an immutable snapshot. Reads never block on a
// refresh; when the snapshot is older than the staleness bound a background
// refresh is started and the old snapshot keeps serving until it lands.
type Directory struct {
	source        Source
	defaultExpiry time.Duration
	maxStaleness  time.Duration
	loadTimeout   time.Duration
	logger        *zap.Logger
	now           func() time.Time

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

type Option func(*Directory)

// WithMaxStaleness bounds how old a snapshot may be before reads trigger a
// background refresh. Zero disables read-triggered refreshes.
func WithMaxStaleness(d time.Duration) Option {
	return func(dir *Directory) { dir.maxStaleness = d }
}

// WithDefaultExpiry sets the expiry used for ledgers that do not configure one.
func WithDefaultExpiry(d time.Duration) Option {
	return func(dir *Directory) { dir.defaultExpiry = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(dir *Directory) {
		if logger != nil {
			dir.logger = logger
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(dir *Directory) { dir.now = now }
}

func New(source Source, opts ...Option) *Directory {
	d := &Directory{
		source:        source,
		defaultExpiry: 10 * time.Second,
		loadTimeout:   5 * time.Second,
		logger:        zap.L(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Refresh reloads the ledger set. Concurrent callers share one load.
func (d *Directory) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do("refresh", func() (any, error) {
		ledgers, err := d.source.LoadLedgers(ctx)
		if err != nil {
			return nil, fmt.Errorf("load ledgers: %w", err)
		}
		snap := &snapshot{
			ledgers:  make(map[domain.LedgerID]Ledger, len(ledgers)),
			loadedAt: d.now(),
		}
		for _, l := range ledgers {
			if err := l.validate(); err != nil {
				return nil, err
			}
			if l.Escrow.IsZero() {
				l.Escrow = l.Account
			}
			if l.Fee.IsZero() {
				l.Fee = l.Account
			}
			if l.DefaultExpiry <= 0 {
				l.DefaultExpiry = d.defaultExpiry
			}
			snap.ledgers[l.ID] = l
		}
		d.current.Store(snap)
		d.logger.Debug("directory refreshed", zap.Int("ledgers", len(snap.ledgers)))
		return nil, nil
	})
	return err
}

// Loaded reports whether at least one refresh has succeeded.
func (d *Directory) Loaded() bool {
	return d.current.Load() != nil
}

// LoadedAt returns when the current snapshot was taken.
func (d *Directory) LoadedAt() time.Time {
	if snap := d.current.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}

func (d *Directory) view() *snapshot {
	snap := d.current.Load()
	if snap != nil && d.maxStaleness > 0 && d.now().Sub(snap.loadedAt) > d.maxStaleness {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.loadTimeout)
			defer cancel()
			if err := d.Refresh(ctx); err != nil {
				d.logger.Warn("background directory refresh failed", zap.Error(err))
			}
		}()
	}
	return snap
}

// Ledger returns the full description of a connected ledger.
func (d *Directory) Ledger(id domain.LedgerID) (Ledger, bool) {
	snap := d.view()
	if snap == nil {
		return Ledger{}, false
	}
	l, ok := snap.ledgers[id]
	return l, ok
}

// Ledgers lists every connected ledger ordered by id.
func (d *Directory) Ledgers() []Ledger {
	snap := d.view()
	if snap == nil {
		return nil
	}
	out := make([]Ledger, 0, len(snap.ledgers))
	for _, l := range snap.ledgers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// ResolveAccount returns the connector's own account on ledger. A ledger
// the connector is not attached to reports false.
func (d *Directory) ResolveAccount(ledger domain.LedgerID) (domain.AccountID, bool) {
	l, ok := d.Ledger(ledger)
	return l.Account, ok
}

func (d *Directory) EscrowAccount(ledger domain.LedgerID) (domain.AccountID, bool) {
	l, ok := d.Ledger(ledger)
	return l.Escrow, ok
}

func (d *Directory) FeeAccount(ledger domain.LedgerID) (domain.AccountID, bool) {
	l, ok := d.Ledger(ledger)
	return l.Fee, ok
}

// DefaultExpiry is the hold window used when a request leaves it open.
func (d *Directory) DefaultExpiry(ledger domain.LedgerID) time.Duration {
	if l, ok := d.Ledger(ledger); ok {
		return l.DefaultExpiry
	}
	return d.defaultExpiry
}
