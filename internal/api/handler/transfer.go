package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/models"
	"github.com/go-chi/chi/v5"
)

// TransferReader exposes persisted transfers and their audit trail.
type TransferReader interface {
	Transfer(ctx context.Context, id domain.TransferID) (*domain.Transfer, error)
	History(ctx context.Context, id domain.TransferID) ([]domain.TransferEvent, error)
}

type TransferHandler struct {
	svc TransferReader
}

func NewTransferHandler(svc TransferReader) *TransferHandler {
	return &TransferHandler{svc: svc}
}

// GetTransfer handles GET /v1/transfers/{id}.
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	if raw == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-id", "transfer id is required")
		return
	}
	id := domain.NewTransferID(raw)

	t, err := h.svc.Transfer(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	events, err := h.svc.History(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, models.NewTransfer(t, events))
}
