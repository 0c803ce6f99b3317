package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/ilp-connector/internal/api/problem"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/models"
	"github.com/ayo6706/ilp-connector/internal/service"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// decodeJSON reads a request body into dst and runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &badRequest{err: err}
	}
	return models.Validate(dst)
}

type badRequest struct{ err error }

func (e *badRequest) Error() string { return "invalid request body: " + e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

// respondServiceError maps connector errors onto problem documents.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		problem.WriteDetails(w, r, problem.Details{
			Type:   problem.Type("request/validation"),
			Status: http.StatusBadRequest,
			Detail: ve.Error(),
			Errors: ve.Fields,
		})
		return
	}
	status, problemType, message := classify(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	RespondError(w, r, status, problemType, message)
}

func classify(err error) (int, string, string) {
	var br *badRequest
	msg := err.Error()
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "request/invalid-body", msg
	case errors.Is(err, domain.ErrInvalidQuoteRequest):
		return http.StatusBadRequest, "quote/invalid-request", msg
	case errors.Is(err, domain.ErrUnroutableQuote):
		return http.StatusUnprocessableEntity, "quote/unroutable", msg
	case errors.Is(err, domain.ErrLedgerAddressParse):
		return http.StatusBadRequest, "transfer/invalid-address", msg
	case errors.Is(err, domain.ErrInvalidPacket):
		return http.StatusBadRequest, "transfer/invalid-packet", msg
	case errors.Is(err, domain.ErrEmptyID):
		return http.StatusBadRequest, "request/missing-id", msg
	case errors.Is(err, domain.ErrTransferNotFound):
		return http.StatusNotFound, "transfer/not-found", msg
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusUnprocessableEntity, "transfer/account-not-found", msg
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "transfer/insufficient-funds", msg
	case errors.Is(err, domain.ErrHoldNotFound):
		return http.StatusUnprocessableEntity, "ledger/unknown-hold", msg
	case errors.Is(err, domain.ErrAlreadyFinalized):
		return http.StatusConflict, "transfer/already-finalized", msg
	case errors.Is(err, service.ErrUnknownPeer):
		return http.StatusForbidden, "peer/unknown", msg
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable, "upstream/unavailable", msg
	}
	if status, problemType, message, ok := mapDBError(err); ok {
		return status, problemType, message
	}
	return http.StatusInternalServerError, "internal-server-error", "internal server error"
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return http.StatusServiceUnavailable, "db/retryable", "transient database conflict, retry", true
	case "57014": // query_canceled
		return http.StatusServiceUnavailable, "db/timeout", "database timed out", true
	default:
		return 0, "", "", false
	}
}
