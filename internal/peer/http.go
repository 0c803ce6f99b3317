package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the calling connector to a peer.
type Claims struct {
	ConnectorID string `json:"connector_id"`
	jwt.RegisteredClaims
}

// HTTPClient calls peers' /v1/peer endpoints with a short-lived HS256 bearer
// token signed with the callee's pairwise secret.
type HTTPClient struct {
	self     domain.ConnectorID
	issuer   string
	audience string
	http     *http.Client
	tokenTTL time.Duration
}

func NewHTTPClient(self domain.ConnectorID, issuer, audience string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		self:     self,
		issuer:   issuer,
		audience: audience,
		http:     &http.Client{Timeout: timeout},
		tokenTTL: time.Minute,
	}
}

func (c *HTTPClient) token(p Peer) (string, error) {
	if p.Secret == "" {
		return "", fmt.Errorf("no jwt secret configured for peer %s", p.ID)
	}
	now := time.Now()
	claims := Claims{
		ConnectorID: c.self.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.self.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		},
	}
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.Secret))
}

func (c *HTTPClient) post(ctx context.Context, p Peer, path, idempotencyKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimRight(p.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	tok, err := c.token(p)
	if err != nil {
		return fmt.Errorf("sign peer token: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrPeerUnavailable, p.ID, path, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d", domain.ErrPeerUnavailable, p.ID, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrUnroutableQuote, p.ID, path, resp.StatusCode, problemDetail(payload))
	default:
		return fmt.Errorf("peer %s %s returned %d: %s", p.ID, path, resp.StatusCode, problemDetail(payload))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode peer response: %w", err)
	}
	return nil
}

func problemDetail(payload []byte) string {
	var p struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(payload, &p) == nil && p.Detail != "" {
		return p.Detail
	}
	return strings.TrimSpace(string(payload))
}

func (c *HTTPClient) RequestQuote(ctx context.Context, p Peer, src, dst domain.QuoteRequest) (domain.Quote, error) {
	var resp models.QuoteResponse
	if err := c.post(ctx, p, "/v1/peer/quotes", "", models.NewQuoteRequest(src, dst), &resp); err != nil {
		return domain.Quote{}, err
	}
	q, err := resp.ToDomain()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("peer %s quote: %w", p.ID, err)
	}
	if q.ConnectorID.IsZero() {
		q.ConnectorID = p.ID
	}
	return q, nil
}

func (c *HTTPClient) ForwardTransfer(ctx context.Context, p Peer, hold domain.Notification) error {
	return c.post(ctx, p, "/v1/peer/transfers", hold.TransferID.String(), models.NewLedgerNotification(hold), nil)
}
