package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ilp-connector/internal/directory"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAccountSource loads the connector's ledger accounts from the
// connector_ledgers table.
type PostgresAccountSource struct {
	db *pgxpool.Pool
}

func NewPostgresAccountSource(db *pgxpool.Pool) *PostgresAccountSource {
	return &PostgresAccountSource{db: db}
}

func (s *PostgresAccountSource) LoadLedgers(ctx context.Context) ([]directory.Ledger, error) {
	query := `
		SELECT ledger, asset, scale, account, escrow_account, fee_account, default_expiry_ms
		FROM connector_ledgers
		WHERE enabled
		ORDER BY ledger
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load connector ledgers: %w", err)
	}
	defer rows.Close()

	var out []directory.Ledger
	for rows.Next() {
		var (
			ledger, asset, account, escrow, fee string
			scale                               int32
			expiryMS                            int64
		)
		if err := rows.Scan(&ledger, &asset, &scale, &account, &escrow, &fee, &expiryMS); err != nil {
			return nil, fmt.Errorf("scan connector ledger: %w", err)
		}
		out = append(out, directory.Ledger{
			ID:            domain.NewLedgerID(ledger),
			Asset:         domain.NewAssetID(asset),
			Scale:         scale,
			Account:       domain.NewAccountID(account),
			Escrow:        domain.NewAccountID(escrow),
			Fee:           domain.NewAccountID(fee),
			DefaultExpiry: time.Duration(expiryMS) * time.Millisecond,
		})
	}
	return out, rows.Err()
}

// UpsertLedger registers or updates a ledger account.
func (s *PostgresAccountSource) UpsertLedger(ctx context.Context, l directory.Ledger) error {
	query := `
		INSERT INTO connector_ledgers (ledger, asset, scale, account, escrow_account, fee_account, default_expiry_ms, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (ledger) DO UPDATE SET
			asset = EXCLUDED.asset,
			scale = EXCLUDED.scale,
			account = EXCLUDED.account,
			escrow_account = EXCLUDED.escrow_account,
			fee_account = EXCLUDED.fee_account,
			default_expiry_ms = EXCLUDED.default_expiry_ms,
			enabled = TRUE
	`
	_, err := s.db.Exec(ctx, query,
		l.ID.String(), l.Asset.String(), l.Scale, l.Account.String(),
		l.Escrow.String(), l.Fee.String(), l.DefaultExpiry.Milliseconds())
	if err != nil {
		return fmt.Errorf("upsert connector ledger %s: %w", l.ID, err)
	}
	return nil
}
