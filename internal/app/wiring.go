package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/ilp-connector/internal/api/handler"
	"github.com/ayo6706/ilp-connector/internal/config"
	"github.com/ayo6706/ilp-connector/internal/db"
	"github.com/ayo6706/ilp-connector/internal/directory"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/fee"
	"github.com/ayo6706/ilp-connector/internal/ledger"
	"github.com/ayo6706/ilp-connector/internal/peer"
	"github.com/ayo6706/ilp-connector/internal/repository"
	"github.com/ayo6706/ilp-connector/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// storage bundles the durable transfer store with the ledger source that
// feeds the directory.
type storage struct {
	transfers service.TransferStore
	ledgers   directory.Source
	checks    map[string]handler.Check
	close     func()
}

func openStorage(ctx context.Context, cfg *config.Config, ledgers []directory.Ledger, logger *zap.Logger) (*storage, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		source := repository.NewPostgresAccountSource(pool)
		for _, l := range ledgers {
			if err := source.UpsertLedger(ctx, l); err != nil {
				pool.Close()
				return nil, fmt.Errorf("seed ledger %s: %w", l.ID, err)
			}
		}
		logger.Info("using postgres transfer store", zap.Int("seeded_ledgers", len(ledgers)))
		return &storage{
			transfers: repository.NewPostgresTransferStore(pool),
			ledgers:   source,
			checks:    map[string]handler.Check{"database": pool.Ping},
			close:     pool.Close,
		}, nil
	case "badger":
		store, err := repository.NewBadgerTransferStore(cfg.BadgerDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		logger.Info("using badger transfer store", zap.String("dir", cfg.BadgerDir))
		return &storage{
			transfers: store,
			ledgers:   directory.StaticSource(ledgers),
			checks:    map[string]handler.Check{},
			close: func() {
				if err := store.Close(); err != nil {
					logger.Warn("close badger store", zap.Error(err))
				}
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func ledgersFromConfig(cfg *config.Config) ([]directory.Ledger, error) {
	out := make([]directory.Ledger, 0, len(cfg.Ledgers))
	seen := make(map[string]struct{}, len(cfg.Ledgers))
	for _, l := range cfg.Ledgers {
		if _, dup := seen[l.ID]; dup {
			return nil, fmt.Errorf("ledger %s configured twice", l.ID)
		}
		seen[l.ID] = struct{}{}
		out = append(out, directory.Ledger{
			ID:            domain.NewLedgerID(l.ID),
			Asset:         domain.NewAssetID(l.Asset),
			Scale:         l.Scale,
			Account:       domain.NewAccountID(l.Account),
			Escrow:        domain.NewAccountID(l.Escrow),
			Fee:           domain.NewAccountID(l.FeeAccount),
			DefaultExpiry: l.DefaultExpiry,
		})
	}
	return out, nil
}

// feesFromConfig gives every ledger asset the default rate at the ledger's
// scale, then applies per-asset overrides.
func feesFromConfig(cfg *config.Config, ledgers []directory.Ledger) (*fee.PercentageCalculator, error) {
	defaultRate, err := parseDecimal("default_fee_rate", cfg.DefaultFeeRate)
	if err != nil {
		return nil, err
	}
	fallback := fee.Schedule{Rate: defaultRate}
	perAsset := make(map[domain.AssetID]fee.Schedule)
	for _, l := range ledgers {
		fallback.Scale = max(fallback.Scale, l.Scale)
		perAsset[l.Asset] = fee.Schedule{Rate: defaultRate, Scale: l.Scale}
	}
	for asset, f := range cfg.Fees {
		id := domain.NewAssetID(asset)
		s := perAsset[id]
		if s.Rate, err = parseDecimal("fees."+asset+".rate", f.Rate); err != nil {
			return nil, err
		}
		if s.Minimum, err = parseDecimal("fees."+asset+".minimum", f.Minimum); err != nil {
			return nil, err
		}
		if f.Scale > 0 {
			s.Scale = f.Scale
		}
		perAsset[id] = s
	}
	return fee.NewPercentageCalculator(fallback, perAsset)
}

func ratesFromConfig(cfg *config.Config) (*service.StaticExchangeRateService, error) {
	table := make(map[domain.AssetID]decimal.Decimal, len(cfg.Rates))
	for asset, raw := range cfg.Rates {
		r, err := parseDecimal("rates."+asset, raw)
		if err != nil {
			return nil, err
		}
		table[domain.NewAssetID(asset)] = r
	}
	return service.NewStaticExchangeRateService(table)
}

func peersFromConfig(cfg *config.Config) []peer.Peer {
	out := make([]peer.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		reach := make([]domain.LedgerID, 0, len(p.Ledgers))
		for _, l := range p.Ledgers {
			reach = append(reach, domain.NewLedgerID(l))
		}
		out = append(out, peer.Peer{
			ID:           domain.NewConnectorID(p.ID),
			BaseURL:      p.BaseURL,
			SharedLedger: domain.NewLedgerID(p.SharedLedger),
			Account:      domain.NewAccountID(p.Account),
			Ledgers:      reach,
			Secret:       p.JWTSecret,
		})
	}
	return out
}

// gatewaysFromConfig attaches an in-process ledger to every configured ledger
// and seeds its balances.
func gatewaysFromConfig(cfg *config.Config) (ledger.Gateways, error) {
	gws := make([]ledger.Gateway, 0, len(cfg.Ledgers))
	for _, l := range cfg.Ledgers {
		ml := ledger.NewMemoryLedger(domain.NewLedgerID(l.ID), domain.SHA256Verifier)
		for account, raw := range l.Balances {
			amount, err := parseDecimal("ledgers."+l.ID+".balances."+account, raw)
			if err != nil {
				return nil, err
			}
			ml.Deposit(domain.NewAccountID(account), amount)
		}
		gws = append(gws, ml)
	}
	return ledger.NewGateways(gws...), nil
}

func directoryReady(dir *directory.Directory) handler.Check {
	return func(context.Context) error {
		if !dir.Loaded() {
			return errors.New("ledger directory not loaded")
		}
		if len(dir.Ledgers()) == 0 {
			return errors.New("ledger directory has no connected ledgers")
		}
		return nil
	}
}

func parseDecimal(key, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
