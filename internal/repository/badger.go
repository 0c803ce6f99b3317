package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"
)

const maxConflictRetries = 5

// BadgerTransferStore keeps transfers in an embedded badger database. An
// empty directory opens an in-memory store.
type BadgerTransferStore struct {
	store *badgerhold.Store
}

func NewBadgerTransferStore(dir string, logger *zap.Logger) (*BadgerTransferStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if logger != nil {
		opts.Logger = badgerLogger{logger.Sugar().Named("badger")}
	}
	if dir == "" {
		opts.InMemory = true
	}
	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("open transfer store: %w", err)
	}
	return &BadgerTransferStore{store: store}, nil
}

func (s *BadgerTransferStore) Close() error {
	return s.store.Close()
}

func (s *BadgerTransferStore) Insert(_ context.Context, t *domain.Transfer) (bool, error) {
	rec := newTransferRecord(t)
	err := withConflictRetry(func() error {
		return s.store.Insert(rec.ID, &rec)
	})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert transfer %s: %w", rec.ID, err)
	}
	return true, nil
}

func (s *BadgerTransferStore) Save(_ context.Context, t *domain.Transfer) error {
	rec := newTransferRecord(t)
	err := withConflictRetry(func() error {
		return s.store.Badger().Update(func(tx *badger.Txn) error {
			var current transferRecord
			err := s.store.TxGet(tx, rec.ID, &current)
			switch {
			case errors.Is(err, badgerhold.ErrNotFound):
			case err != nil:
				return err
			case current.Terminal && current.State != rec.State:
				return fmt.Errorf("%w: %s is %s", domain.ErrAlreadyFinalized, rec.ID, current.State)
			}
			return s.store.TxUpsert(tx, rec.ID, &rec)
		})
	})
	if err != nil {
		return fmt.Errorf("save transfer %s: %w", rec.ID, err)
	}
	return nil
}

func (s *BadgerTransferStore) Get(_ context.Context, id domain.TransferID) (*domain.Transfer, error) {
	var rec transferRecord
	if err := s.store.Get(id.String(), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("get transfer %s: %w", id, err)
	}
	return rec.toDomain()
}

func (s *BadgerTransferStore) ListActive(context.Context) ([]*domain.Transfer, error) {
	var recs []transferRecord
	if err := s.store.Find(&recs, badgerhold.Where("Terminal").Eq(false)); err != nil {
		return nil, fmt.Errorf("list active transfers: %w", err)
	}
	out := make([]*domain.Transfer, 0, len(recs))
	for _, rec := range recs {
		t, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *BadgerTransferStore) AppendEvent(_ context.Context, e domain.TransferEvent) error {
	rec := eventRecord{
		TransferID: e.TransferID.String(),
		From:       string(e.From),
		To:         string(e.To),
		Reason:     e.Reason,
		At:         e.At.UTC(),
	}
	err := withConflictRetry(func() error {
		return s.store.Insert(badgerhold.NextSequence(), &rec)
	})
	if err != nil {
		return fmt.Errorf("append event for %s: %w", e.TransferID, err)
	}
	return nil
}

func (s *BadgerTransferStore) Events(_ context.Context, id domain.TransferID) ([]domain.TransferEvent, error) {
	var recs []eventRecord
	if err := s.store.Find(&recs, badgerhold.Where("TransferID").Eq(id.String()).Index("TransferID")); err != nil {
		return nil, fmt.Errorf("list events for %s: %w", id, err)
	}
	slices.SortFunc(recs, func(a, b eventRecord) int { return cmp.Compare(a.Seq, b.Seq) })
	out := make([]domain.TransferEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

func withConflictRetry(fn func() error) error {
	err := fn()
	for attempts := 1; errors.Is(err, badger.ErrConflict) && attempts <= maxConflictRetries; attempts++ {
		time.Sleep(time.Duration(attempts) * 10 * time.Millisecond)
		err = fn()
	}
	return err
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
