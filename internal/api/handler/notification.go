package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/ilp-connector/internal/api/middleware"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NotificationSink receives hold-state changes from ledgers and peers.
type NotificationSink interface {
	OnLedgerWebhook(ctx context.Context, n domain.Notification) error
	AcceptForward(ctx context.Context, from domain.ConnectorID, n domain.Notification) error
}

type NotificationHandler struct {
	svc NotificationSink
}

func NewNotificationHandler(svc NotificationSink) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// LedgerNotification handles POST /v1/ledgers/{ledger}/notifications. The
// transfer itself proceeds asynchronously; the response only acknowledges
// receipt.
func (h *NotificationHandler) LedgerNotification(w http.ResponseWriter, r *http.Request) {
	n, ok := h.decode(w, r, chi.URLParam(r, "ledger"))
	if !ok {
		return
	}
	if err := h.svc.OnLedgerWebhook(r.Context(), n); err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, models.NotificationAck{TransferID: n.TransferID.String(), Status: "accepted"})
}

// PeerTransfer handles POST /v1/peer/transfers: a peer announcing a hold it
// placed towards us on the ledger we share.
func (h *NotificationHandler) PeerTransfer(w http.ResponseWriter, r *http.Request) {
	from := middleware.PeerIDFromContext(r.Context())
	if from.IsZero() {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", "peer identity missing")
		return
	}
	n, ok := h.decode(w, r, "")
	if !ok {
		return
	}
	if err := h.svc.AcceptForward(r.Context(), from, n); err != nil {
		zap.L().Info("peer transfer refused",
			zap.String("peer", from.String()),
			zap.String("transfer_id", n.TransferID.String()),
			zap.Error(err),
		)
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, models.NotificationAck{TransferID: n.TransferID.String(), Status: "accepted"})
}

func (h *NotificationHandler) decode(w http.ResponseWriter, r *http.Request, ledger string) (domain.Notification, bool) {
	var body models.LedgerNotification
	if err := decodeJSON(w, r, &body); err != nil {
		respondServiceError(w, r, err)
		return domain.Notification{}, false
	}
	n, err := body.ToDomain(ledger)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "notification/invalid", err.Error())
		return domain.Notification{}, false
	}
	return n, true
}
