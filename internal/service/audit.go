package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"go.uber.org/zap"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store  TransferStore
	logger *zap.Logger
}

func NewAuditService(store TransferStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.L()
	}
	return &AuditService{store: store, logger: logger}
}

// Write stores a single state change of a transfer.
func (s *AuditService) Write(ctx context.Context, id domain.TransferID, prev, next domain.TransferState, reason string, at time.Time) error {
	s.logger.Info("transfer transition",
		zap.String("transfer_id", id.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("reason", reason),
	)
	if err := s.store.AppendEvent(ctx, domain.TransferEvent{
		TransferID: id,
		From:       prev,
		To:         next,
		Reason:     reason,
		At:         at,
	}); err != nil {
		return fmt.Errorf("append transfer event: %w", err)
	}
	return nil
}
