package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/ilp-connector/internal/api/problem"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/peer"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	peerContextKey  contextKey = "peer_id"
	traceContextKey contextKey = "trace_id"
)

// PeerAuthConfig holds the per-peer HS256 secrets, keyed by connector id,
// and the claims every peer token must carry.
type PeerAuthConfig struct {
	Secrets  map[string]string
	Issuer   string
	Audience string
}

// PeerAuth validates the bearer token of a peer connector and injects its
// connector id into the context. The token is verified with the secret of
// the connector it claims to come from, so one peer cannot speak for another.
func PeerAuth(cfg PeerAuthConfig) func(http.Handler) http.Handler {
	secrets := make(map[string][]byte, len(cfg.Secrets))
	for id, secret := range cfg.Secrets {
		if secret != "" {
			secrets[id] = []byte(secret)
		}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/authorization-header-required"), "", "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token-format"), "", "Invalid token format")
				return
			}
			if len(secrets) == 0 {
				problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), "", "peer auth is not configured")
				return
			}

			claims := &peer.Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
					return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
				}
				secret, ok := secrets[claims.ConnectorID]
				if !ok {
					return nil, fmt.Errorf("unknown peer %q", claims.ConnectorID)
				}
				return secret, nil
			}, opts...)
			if err != nil || !token.Valid {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token"), "", "Invalid token")
				return
			}
			if claims.ConnectorID == "" || (claims.Subject != "" && claims.Subject != claims.ConnectorID) {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token-claims"), "", "Invalid token claims")
				return
			}
			ctx := context.WithValue(r.Context(), peerContextKey, domain.NewConnectorID(claims.ConnectorID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PeerIDFromContext returns the authenticated peer connector, or the zero id.
func PeerIDFromContext(ctx context.Context) domain.ConnectorID {
	if ctx == nil {
		return domain.ConnectorID{}
	}
	if v, ok := ctx.Value(peerContextKey).(domain.ConnectorID); ok {
		return v
	}
	return domain.ConnectorID{}
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
