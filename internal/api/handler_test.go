package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/ilp-connector/internal/api"
	"github.com/ayo6706/ilp-connector/internal/api/handler"
	"github.com/ayo6706/ilp-connector/internal/api/middleware"
	"github.com/ayo6706/ilp-connector/internal/config"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/idempotency"
	"github.com/ayo6706/ilp-connector/internal/models"
	"github.com/ayo6706/ilp-connector/internal/peer"
	"github.com/ayo6706/ilp-connector/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testPeerSecret   = "test-secret-0123456789-test-secret"
	testMartinSecret = "martin-secret-0123456789-martin-secret"
	testPeerIssuer   = "ilp-connector-test"
	testPeerAudience = "ilp-peers-test"
	testLedgerKey    = "ledger-hmac-key"
)

var (
	usdLedger = domain.NewLedgerID("example.usd.")
	eurLedger = domain.NewLedgerID("example.eur.")
	mary      = domain.NewConnectorID("mary")
)

type forwardCall struct {
	from domain.ConnectorID
	n    domain.Notification
}

type stubConnector struct {
	mu            sync.Mutex
	quote         func(src, dst domain.QuoteRequest) (domain.Quote, error)
	transfers     map[domain.TransferID]*domain.Transfer
	events        map[domain.TransferID][]domain.TransferEvent
	notifyErr     error
	forwardErr    error
	notifications []domain.Notification
	forwards      []forwardCall
}

func newStubConnector() *stubConnector {
	return &stubConnector{
		transfers: map[domain.TransferID]*domain.Transfer{},
		events:    map[domain.TransferID][]domain.TransferEvent{},
	}
}

func (s *stubConnector) Quote(_ context.Context, src, dst domain.QuoteRequest) (domain.Quote, error) {
	if s.quote == nil {
		return domain.Quote{}, domain.ErrUnroutableQuote
	}
	return s.quote(src, dst)
}

func (s *stubConnector) Transfer(_ context.Context, id domain.TransferID) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return t.Clone(), nil
}

func (s *stubConnector) History(_ context.Context, id domain.TransferID) ([]domain.TransferEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id], nil
}

func (s *stubConnector) OnLedgerWebhook(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return s.notifyErr
}

func (s *stubConnector) AcceptForward(_ context.Context, from domain.ConnectorID, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwards = append(s.forwards, forwardCall{from: from, n: n})
	return s.forwardErr
}

func (s *stubConnector) received() ([]domain.Notification, []forwardCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.notifications...), append([]forwardCall(nil), s.forwards...)
}

func testConfig() *config.Config {
	return &config.Config{
		ConnectorID:         "mark",
		PeerJWTIssuer:       testPeerIssuer,
		PeerJWTAudience:     testPeerAudience,
		NotificationHMACKey: testLedgerKey,
		PublicRateLimitRPS:  1000,
		PeerRateLimitRPS:    1000,
		Peers: []config.PeerConfig{
			{ID: "mary", JWTSecret: testPeerSecret},
			{ID: "martin", JWTSecret: testMartinSecret},
		},
	}
}

func setupAPI(t *testing.T, conn *stubConnector, idem *idempotency.Store, checks map[string]handler.Check) http.Handler {
	t.Helper()
	return api.NewRouter(testConfig(), zap.NewNop(), conn, idem, checks).Routes()
}

func fixedQuote(src, dst domain.QuoteRequest) (domain.Quote, error) {
	if src.Amount == nil {
		return domain.Quote{}, fmt.Errorf("%w: fixed source only", domain.ErrInvalidQuoteRequest)
	}
	return domain.Quote{
		Pair: domain.AssetPair{
			SourceLedger:      src.Ledger,
			SourceAsset:       domain.NewAssetID("USD"),
			DestinationLedger: dst.Ledger,
			DestinationAsset:  domain.NewAssetID("EUR"),
		},
		SourceAmount:      *src.Amount,
		DestinationAmount: decimal.RequireFromString("91.08"),
		Fee:               decimal.RequireFromString("0.92"),
		FeeAsset:          domain.NewAssetID("EUR"),
		SourceExpiry:      10 * time.Second,
		DestinationExpiry: 9 * time.Second,
		ConnectorID:       domain.NewConnectorID("mark"),
	}, nil
}

func postJSON(t *testing.T, h http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func peerToken(t *testing.T, connector string, secret string) string {
	t.Helper()
	now := time.Now()
	claims := peer.Claims{
		ConnectorID: connector,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   connector,
			Issuer:    testPeerIssuer,
			Audience:  jwt.ClaimStrings{testPeerAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func problemType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var p struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p.Type
}

func TestQuoteEndpoint(t *testing.T) {
	conn := newStubConnector()
	conn.quote = fixedQuote
	client := setupAPI(t, conn, nil, nil)

	t.Run("fixed_source", func(t *testing.T) {
		w := postJSON(t, client, "/v1/quotes", models.QuoteRequest{
			SourceLedger:      usdLedger.String(),
			SourceAmount:      "100.00",
			DestinationLedger: eurLedger.String(),
		}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp models.QuoteResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "100", resp.SourceAmount)
		assert.Equal(t, "91.08", resp.DestinationAmount)
		assert.Equal(t, "0.92", resp.Fee)
		assert.Equal(t, float64(10), resp.SourceExpiry)
		assert.Equal(t, float64(9), resp.DestinationExpiry)
		assert.Equal(t, "mark", resp.ConnectorID)
		assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	})

	cases := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{
			name:   "missing_source_ledger",
			body:   models.QuoteRequest{DestinationLedger: eurLedger.String(), SourceAmount: "1"},
			status: http.StatusBadRequest,
			kind:   "request/validation",
		},
		{
			name:   "non_numeric_amount",
			body:   models.QuoteRequest{SourceLedger: usdLedger.String(), DestinationLedger: eurLedger.String(), SourceAmount: "ten"},
			status: http.StatusBadRequest,
			kind:   "request/validation",
		},
		{
			name:   "unknown_field",
			body:   map[string]string{"source_ledger": "a.", "destination_ledger": "b.", "colour": "red"},
			status: http.StatusBadRequest,
			kind:   "request/invalid-body",
		},
		{
			name:   "rejected_by_engine",
			body:   models.QuoteRequest{SourceLedger: usdLedger.String(), DestinationLedger: eurLedger.String(), DestinationAmount: "5"},
			status: http.StatusBadRequest,
			kind:   "quote/invalid-request",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, client, "/v1/quotes", tc.body, nil)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			assert.Contains(t, problemType(t, w), tc.kind)
		})
	}

	t.Run("validation_lists_fields", func(t *testing.T) {
		w := postJSON(t, client, "/v1/quotes", models.QuoteRequest{SourceAmount: "1"}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		var p struct {
			Errors []models.FieldError `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		assert.ElementsMatch(t, []models.FieldError{
			{Field: "source_ledger", Rule: "required"},
			{Field: "destination_ledger", Rule: "required"},
		}, p.Errors)
	})

	t.Run("unroutable", func(t *testing.T) {
		conn := newStubConnector()
		w := postJSON(t, setupAPI(t, conn, nil, nil), "/v1/quotes", models.QuoteRequest{
			SourceLedger:      usdLedger.String(),
			SourceAmount:      "1",
			DestinationLedger: "example.gbp.",
		}, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, problemType(t, w), "quote/unroutable")
	})
}

func TestGetTransfer(t *testing.T) {
	conn := newStubConnector()
	id := domain.NewTransferID("d2f5e3c4-0b1a-4f8e-9c77-6a1b2c3d4e5f")
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	conn.transfers[id] = &domain.Transfer{
		ID:                id,
		SourceLedger:      usdLedger,
		SourceAccount:     domain.NewAccountID("alice"),
		SourceAmount:      decimal.RequireFromString("100"),
		SourceHold:        "hold-1",
		SourceExpiry:      created.Add(10 * time.Second),
		DestinationLedger: eurLedger,
		DestinationAmount: decimal.RequireFromString("91.08"),
		Condition:         domain.ConditionFor(domain.Fulfillment("secret")),
		State:             domain.StateFulfilled,
		Reason:            domain.ReasonFulfilled,
		CreatedAt:         created,
		UpdatedAt:         created.Add(time.Second),
	}
	conn.events[id] = []domain.TransferEvent{
		{TransferID: id, To: domain.StateObserved, At: created},
		{TransferID: id, From: domain.StateObserved, To: domain.StateSourceHeld, At: created},
		{TransferID: id, From: domain.StateSourceHeld, To: domain.StateDestinationActionTaken, At: created},
		{TransferID: id, From: domain.StateDestinationActionTaken, To: domain.StateFulfilled, Reason: domain.ReasonFulfilled, At: created},
	}
	client := setupAPI(t, conn, nil, nil)

	cases := []struct {
		name   string
		id     string
		status int
	}{
		{name: "found", id: id.String(), status: http.StatusOK},
		{name: "missing", id: uuid.NewString(), status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/transfers/"+tc.id, nil)
			w := httptest.NewRecorder()
			client.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.status != http.StatusOK {
				return
			}
			var got models.Transfer
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, "FULFILLED", got.State)
			assert.Equal(t, "91.08", got.DestinationAmount)
			require.Len(t, got.Events, 4)
			assert.Equal(t, "OBSERVED", got.Events[0].To)
			assert.Equal(t, "FULFILLED", got.Events[3].To)
		})
	}
}

func placedNotification(id string) models.LedgerNotification {
	return models.LedgerNotification{
		Kind:       string(domain.HoldPlaced),
		TransferID: id,
		Hold:       "hold-" + id,
		Account:    "mark",
		Sender:     "alice",
		Amount:     "100",
		Condition:  domain.ConditionFor(domain.Fulfillment("secret")).String(),
		Expiry:     time.Now().Add(10 * time.Second).UTC(),
		Payload:    []byte(`{"account":"example.eur.bob","amount":"91.08"}`),
	}
}

func TestLedgerNotification(t *testing.T) {
	path := "/v1/ledgers/" + usdLedger.String() + "/notifications"

	t.Run("signed", func(t *testing.T) {
		conn := newStubConnector()
		client := setupAPI(t, conn, nil, nil)
		body, err := json.Marshal(placedNotification("tx-1"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(middleware.SignatureHeader, middleware.Sign(testLedgerKey, body))
		req.Header.Set("Idempotency-Key", "tx-1-placed")
		w := httptest.NewRecorder()
		client.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		notes, _ := conn.received()
		require.Len(t, notes, 1)
		assert.Equal(t, usdLedger, notes[0].Ledger)
		assert.Equal(t, domain.HoldPlaced, notes[0].Kind)
		assert.True(t, decimal.RequireFromString("100").Equal(notes[0].Amount))
		assert.Equal(t, domain.ConditionFor(domain.Fulfillment("secret")), notes[0].Condition)
	})

	cases := []struct {
		name      string
		signature func(body []byte) string
	}{
		{name: "missing", signature: func([]byte) string { return "" }},
		{name: "wrong_key", signature: func(b []byte) string { return middleware.Sign("other-key", b) }},
		{name: "tampered", signature: func(b []byte) string { return middleware.Sign(testLedgerKey, append(b, ' ')) }},
	}
	for _, tc := range cases {
		t.Run("rejects_"+tc.name+"_signature", func(t *testing.T) {
			conn := newStubConnector()
			client := setupAPI(t, conn, nil, nil)
			body, err := json.Marshal(placedNotification("tx-2"))
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
			if sig := tc.signature(body); sig != "" {
				req.Header.Set(middleware.SignatureHeader, sig)
			}
			w := httptest.NewRecorder()
			client.ServeHTTP(w, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)
			notes, _ := conn.received()
			assert.Empty(t, notes)
		})
	}

	t.Run("invalid_kind", func(t *testing.T) {
		conn := newStubConnector()
		client := setupAPI(t, conn, nil, nil)
		n := placedNotification("tx-3")
		n.Kind = "hold_moved"
		body, err := json.Marshal(n)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(middleware.SignatureHeader, middleware.Sign(testLedgerKey, body))
		w := httptest.NewRecorder()
		client.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown_hold_is_422", func(t *testing.T) {
		conn := newStubConnector()
		conn.notifyErr = fmt.Errorf("confirm ref-x on %s: %w", usdLedger, domain.ErrHoldNotFound)
		client := setupAPI(t, conn, nil, nil)
		body, err := json.Marshal(placedNotification("tx-5"))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(middleware.SignatureHeader, middleware.Sign(testLedgerKey, body))
		w := httptest.NewRecorder()
		client.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, problemType(t, w), "ledger/unknown-hold")
	})

	t.Run("store_failure_is_5xx", func(t *testing.T) {
		conn := newStubConnector()
		conn.notifyErr = errors.New("disk full")
		client := setupAPI(t, conn, nil, nil)
		body, err := json.Marshal(placedNotification("tx-4"))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(middleware.SignatureHeader, middleware.Sign(testLedgerKey, body))
		w := httptest.NewRecorder()
		client.ServeHTTP(w, req)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "disk full")
	})
}

func TestPeerEndpoints(t *testing.T) {
	cases := []struct {
		name   string
		auth   string
		status int
	}{
		{name: "no_token", auth: "", status: http.StatusUnauthorized},
		{name: "not_bearer", auth: "Basic abc", status: http.StatusUnauthorized},
		{name: "wrong_secret", auth: "Bearer " + peerToken(t, "mary", "another-secret-0123456789-abcdef"), status: http.StatusUnauthorized},
		{name: "impersonation", auth: "Bearer " + peerToken(t, "mary", testMartinSecret), status: http.StatusUnauthorized},
		{name: "unconfigured_peer", auth: "Bearer " + peerToken(t, "mallory", testPeerSecret), status: http.StatusUnauthorized},
		{name: "valid", auth: "Bearer " + peerToken(t, "mary", testPeerSecret), status: http.StatusOK},
		{name: "valid_other_peer", auth: "Bearer " + peerToken(t, "martin", testMartinSecret), status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run("quote_"+tc.name, func(t *testing.T) {
			conn := newStubConnector()
			conn.quote = fixedQuote
			headers := map[string]string{}
			if tc.auth != "" {
				headers["Authorization"] = tc.auth
			}
			w := postJSON(t, setupAPI(t, conn, nil, nil), "/v1/peer/quotes", models.QuoteRequest{
				SourceLedger:      usdLedger.String(),
				SourceAmount:      "100",
				DestinationLedger: eurLedger.String(),
			}, headers)
			require.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	t.Run("transfer_carries_peer_identity", func(t *testing.T) {
		conn := newStubConnector()
		n := placedNotification("tx-5")
		n.Ledger = ""
		w := postJSON(t, setupAPI(t, conn, nil, nil), "/v1/peer/transfers", n, map[string]string{
			"Authorization":   "Bearer " + peerToken(t, "mary", testPeerSecret),
			"Idempotency-Key": "tx-5",
		})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		_, forwards := conn.received()
		require.Len(t, forwards, 1)
		assert.Equal(t, mary, forwards[0].from)
		assert.Equal(t, domain.NewTransferID("tx-5"), forwards[0].n.TransferID)
	})

	t.Run("unknown_peer_forbidden", func(t *testing.T) {
		conn := newStubConnector()
		conn.forwardErr = fmt.Errorf("%w: martin", service.ErrUnknownPeer)
		w := postJSON(t, setupAPI(t, conn, nil, nil), "/v1/peer/transfers", placedNotification("tx-6"), map[string]string{
			"Authorization": "Bearer " + peerToken(t, "martin", testMartinSecret),
		})
		require.Equal(t, http.StatusForbidden, w.Code)
	})
}

// The peer client and the peer auth middleware must agree on token shape.
func TestPeerClientRoundTrip(t *testing.T) {
	conn := newStubConnector()
	conn.quote = fixedQuote
	srv := httptest.NewServer(setupAPI(t, conn, nil, nil))
	defer srv.Close()

	client := peer.NewHTTPClient(mary, testPeerIssuer, testPeerAudience, time.Second)
	mark := peer.Peer{ID: domain.NewConnectorID("mark"), BaseURL: srv.URL, SharedLedger: usdLedger, Secret: testPeerSecret}

	amount := decimal.NewFromInt(100)
	q, err := client.RequestQuote(context.Background(), mark,
		domain.QuoteRequest{Ledger: usdLedger, Amount: &amount},
		domain.QuoteRequest{Ledger: eurLedger},
	)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("91.08").Equal(q.DestinationAmount))

	err = client.ForwardTransfer(context.Background(), mark, domain.Notification{
		Kind:       domain.HoldPlaced,
		Ledger:     usdLedger,
		TransferID: domain.NewTransferID("tx-7"),
		Hold:       "hold-7",
		Account:    domain.NewAccountID("mark"),
		Sender:     domain.NewAccountID("mary"),
		Amount:     amount,
		Condition:  domain.ConditionFor(domain.Fulfillment("secret")),
		Expiry:     time.Now().Add(5 * time.Second),
	})
	require.NoError(t, err)
	_, forwards := conn.received()
	require.Len(t, forwards, 1)
	assert.Equal(t, mary, forwards[0].from)

	conn.forwardErr = domain.ErrAccountNotFound
	err = client.ForwardTransfer(context.Background(), mark, domain.Notification{
		Kind: domain.HoldPlaced, Ledger: usdLedger, TransferID: domain.NewTransferID("tx-8"), Hold: "hold-8",
	})
	require.ErrorIs(t, err, domain.ErrUnroutableQuote)
}

func TestIdempotentReplay(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	conn := newStubConnector()
	client := setupAPI(t, conn, idempotency.NewStore(rdb, time.Minute), nil)
	path := "/v1/ledgers/" + usdLedger.String() + "/notifications"
	key := uuid.NewString()
	body, err := json.Marshal(placedNotification(key))
	require.NoError(t, err)

	send := func(payload []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set(middleware.SignatureHeader, middleware.Sign(testLedgerKey, payload))
		req.Header.Set("Idempotency-Key", key)
		w := httptest.NewRecorder()
		client.ServeHTTP(w, req)
		return w
	}

	first := send(body)
	require.Equal(t, http.StatusAccepted, first.Code)
	second := send(body)
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, "redis", second.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	notes, _ := conn.received()
	assert.Len(t, notes, 1)

	other, err := json.Marshal(placedNotification(key + "-other"))
	require.NoError(t, err)
	conflict := send(other)
	assert.Equal(t, http.StatusConflict, conflict.Code)

	t.Run("missing_key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(middleware.SignatureHeader, middleware.Sign(testLedgerKey, body))
		w := httptest.NewRecorder()
		client.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	client := setupAPI(t, newStubConnector(), nil, map[string]handler.Check{
		"store": func(context.Context) error { return nil },
	})

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			w := httptest.NewRecorder()
			client.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}

	t.Run("not_ready", func(t *testing.T) {
		client := setupAPI(t, newStubConnector(), nil, map[string]handler.Check{
			"directory": func(context.Context) error { return errors.New("never loaded") },
		})
		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		w := httptest.NewRecorder()
		client.ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "directory unavailable")
	})
}
