package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/ilp-connector/internal/api/middleware"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/models"
	"go.uber.org/zap"
)

// Quoter prices transfers between ledgers.
type Quoter interface {
	Quote(ctx context.Context, src, dst domain.QuoteRequest) (domain.Quote, error)
}

type QuoteHandler struct {
	svc Quoter
}

func NewQuoteHandler(svc Quoter) *QuoteHandler {
	return &QuoteHandler{svc: svc}
}

// Quote handles POST /v1/quotes and POST /v1/peer/quotes.
func (h *QuoteHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req models.QuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	src, dst, err := req.ToDomain()
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	q, err := h.svc.Quote(r.Context(), src, dst)
	if err != nil {
		if from := middleware.PeerIDFromContext(r.Context()); !from.IsZero() {
			zap.L().Debug("peer quote declined", zap.String("peer", from.String()), zap.Error(err))
		}
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, models.NewQuoteResponse(q))
}
