package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/ayo6706/ilp-connector/internal/api/problem"
	"go.uber.org/zap"
)

// SignatureHeader carries "sha256=<hex hmac of the raw body>".
const SignatureHeader = "X-Ledger-Signature"

const maxNotificationBody = 1 << 20

// LedgerSignature rejects ledger notifications whose body was not signed with
// the shared HMAC key. With skip set, signatures are not checked.
func LedgerSignature(key string, skip bool, logger *zap.Logger) func(http.Handler) http.Handler {
	secret := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), "", "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !validSignature(secret, body, r.Header.Get(SignatureHeader)) {
				logger.Warn("ledger notification signature rejected",
					zap.String("path", r.URL.Path),
					zap.String("trace_id", TraceIDFromContext(r.Context())),
				)
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("notification/invalid-signature"), "", "Invalid signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the signature header value for body.
func Sign(key string, body []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func validSignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(string(secret), body)))
}
