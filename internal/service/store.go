package service

import (
	"context"

	"github.com/ayo6706/ilp-connector/internal/domain"
)

// TransferStore is the durable record of transfers. Insert is first writer
// wins: it reports false without error when the id already exists.
type TransferStore interface {
	Insert(ctx context.Context, t *domain.Transfer) (bool, error)
	Save(ctx context.Context, t *domain.Transfer) error
	Get(ctx context.Context, id domain.TransferID) (*domain.Transfer, error)
	// ListActive returns every transfer not yet in a terminal state.
	ListActive(ctx context.Context) ([]*domain.Transfer, error)
	AppendEvent(ctx context.Context, e domain.TransferEvent) error
	// Events returns the audit trail of a transfer, oldest first.
	Events(ctx context.Context, id domain.TransferID) ([]domain.TransferEvent, error)
}
