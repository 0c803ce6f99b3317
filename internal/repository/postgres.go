package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides transaction scoping over a pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PostgresTransferStore keeps transfers and their audit trail in Postgres.
type PostgresTransferStore struct {
	*Store
}

func NewPostgresTransferStore(db *pgxpool.Pool) *PostgresTransferStore {
	return &PostgresTransferStore{Store: NewStore(db)}
}

const transferColumns = `id, state, reason,
	source_ledger, source_account, source_asset, source_amount::text, source_hold, source_expiry,
	destination_ledger, destination_account, destination_asset, destination_amount::text, destination_hold, destination_expiry,
	next_hop, condition, fulfillment, payload, fee::text, fee_asset, created_at, updated_at`

func transferArgs(r transferRecord) []any {
	var dstExpiry *time.Time
	if !r.DestinationExpiry.IsZero() {
		dstExpiry = &r.DestinationExpiry
	}
	return []any{
		r.ID, r.State, r.Reason,
		r.SourceLedger, r.SourceAccount, r.SourceAsset, r.SourceAmount, r.SourceHold, r.SourceExpiry,
		r.DestinationLedger, r.DestinationAccount, r.DestinationAsset, r.DestinationAmount, r.DestinationHold, dstExpiry,
		r.NextHop, r.Condition, r.Fulfillment, r.Payload, r.Fee, r.FeeAsset, r.CreatedAt, r.UpdatedAt,
	}
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var r transferRecord
	var dstExpiry *time.Time
	err := row.Scan(
		&r.ID, &r.State, &r.Reason,
		&r.SourceLedger, &r.SourceAccount, &r.SourceAsset, &r.SourceAmount, &r.SourceHold, &r.SourceExpiry,
		&r.DestinationLedger, &r.DestinationAccount, &r.DestinationAsset, &r.DestinationAmount, &r.DestinationHold, &dstExpiry,
		&r.NextHop, &r.Condition, &r.Fulfillment, &r.Payload, &r.Fee, &r.FeeAsset, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dstExpiry != nil {
		r.DestinationExpiry = *dstExpiry
	}
	return r.toDomain()
}

func (s *PostgresTransferStore) Insert(ctx context.Context, t *domain.Transfer) (bool, error) {
	query := `
		INSERT INTO transfers (` + insertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13::numeric, $14, $15, $16, $17, $18, $19, $20::numeric, $21, $22, $23)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, transferArgs(newTransferRecord(t))...)
	if err != nil {
		return false, fmt.Errorf("insert transfer %s: %w", t.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

const insertColumns = `id, state, reason,
	source_ledger, source_account, source_asset, source_amount, source_hold, source_expiry,
	destination_ledger, destination_account, destination_asset, destination_amount, destination_hold, destination_expiry,
	next_hop, condition, fulfillment, payload, fee, fee_asset, created_at, updated_at`

// Save overwrites the stored transfer. A row in a terminal state only
// accepts the same state again.
func (s *PostgresTransferStore) Save(ctx context.Context, t *domain.Transfer) error {
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT state FROM transfers WHERE id = $1 FOR UPDATE`, t.ID.String()).Scan(&current)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("lock transfer %s: %w", t.ID, err)
		case domain.TransferState(current).IsTerminal() && domain.TransferState(current) != t.State:
			return fmt.Errorf("%w: %s is %s", domain.ErrAlreadyFinalized, t.ID, current)
		}

		query := `
			INSERT INTO transfers (` + insertColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13::numeric, $14, $15, $16, $17, $18, $19, $20::numeric, $21, $22, $23)
			ON CONFLICT (id) DO UPDATE SET
				state = EXCLUDED.state,
				reason = EXCLUDED.reason,
				source_hold = EXCLUDED.source_hold,
				destination_ledger = EXCLUDED.destination_ledger,
				destination_account = EXCLUDED.destination_account,
				destination_asset = EXCLUDED.destination_asset,
				destination_amount = EXCLUDED.destination_amount,
				destination_hold = EXCLUDED.destination_hold,
				destination_expiry = EXCLUDED.destination_expiry,
				next_hop = EXCLUDED.next_hop,
				fulfillment = EXCLUDED.fulfillment,
				fee = EXCLUDED.fee,
				fee_asset = EXCLUDED.fee_asset,
				updated_at = EXCLUDED.updated_at
		`
		if _, err := tx.Exec(ctx, query, transferArgs(newTransferRecord(t))...); err != nil {
			return fmt.Errorf("save transfer %s: %w", t.ID, err)
		}
		return nil
	})
}

func (s *PostgresTransferStore) Get(ctx context.Context, id domain.TransferID) (*domain.Transfer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id.String())
	t, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresTransferStore) ListActive(ctx context.Context) ([]*domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE state NOT IN ('FULFILLED', 'REJECTED', 'EXPIRED')
		ORDER BY source_expiry
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active transfers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresTransferStore) AppendEvent(ctx context.Context, e domain.TransferEvent) error {
	query := `INSERT INTO transfer_events (transfer_id, from_state, to_state, reason, at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, query, e.TransferID.String(), string(e.From), string(e.To), e.Reason, e.At.UTC()); err != nil {
		return fmt.Errorf("append event for %s: %w", e.TransferID, err)
	}
	return nil
}

func (s *PostgresTransferStore) Events(ctx context.Context, id domain.TransferID) ([]domain.TransferEvent, error) {
	query := `
		SELECT id, transfer_id, from_state, to_state, reason, at
		FROM transfer_events
		WHERE transfer_id = $1
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", id, err)
	}
	defer rows.Close()

	var out []domain.TransferEvent
	for rows.Next() {
		var r eventRecord
		var seq int64
		if err := rows.Scan(&seq, &r.TransferID, &r.From, &r.To, &r.Reason, &r.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Seq = uint64(seq)
		out = append(out, r.toDomain())
	}
	return out, rows.Err()
}
