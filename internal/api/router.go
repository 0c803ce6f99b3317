package api

import (
	"github.com/ayo6706/ilp-connector/internal/api/handler"
	"github.com/ayo6706/ilp-connector/internal/api/middleware"
	"github.com/ayo6706/ilp-connector/internal/api/spec"
	"github.com/ayo6706/ilp-connector/internal/config"
	"github.com/ayo6706/ilp-connector/internal/idempotency"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Connector is everything the HTTP surface needs from the connector.
type Connector interface {
	handler.Quoter
	handler.TransferReader
	handler.NotificationSink
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	connector Connector
	idem      *idempotency.Store
	checks    map[string]handler.Check
}

// NewRouter wires the connector's public, ledger and peer endpoints. idem
// may be nil, in which case requests are not deduplicated.
func NewRouter(cfg *config.Config, logger *zap.Logger, connector Connector, idem *idempotency.Store, checks map[string]handler.Check) *Router {
	if logger == nil {
		logger = zap.L()
	}
	return &Router{cfg: cfg, logger: logger, connector: connector, idem: idem, checks: checks}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	quoteHandler := handler.NewQuoteHandler(api.connector)
	transferHandler := handler.NewTransferHandler(api.connector)
	notificationHandler := handler.NewNotificationHandler(api.connector)
	healthHandler := handler.NewHealthHandler(api.checks)
	idempotent := middleware.IdempotencyMiddleware(api.idem, api.logger)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/quotes", quoteHandler.Quote)
		r.Get("/v1/transfers/{id}", transferHandler.GetTransfer)
	})

	// Ledger webhooks
	r.Group(func(r chi.Router) {
		r.Use(middleware.PeerRateLimiter(api.cfg.PeerRateLimitRPS))
		r.Use(middleware.LedgerSignature(api.cfg.NotificationHMACKey, api.cfg.NotificationSkipSignature, api.logger))
		r.With(idempotent).Post("/v1/ledgers/{ledger}/notifications", notificationHandler.LedgerNotification)
	})

	// Peer connectors
	r.Group(func(r chi.Router) {
		r.Use(middleware.PeerAuth(middleware.PeerAuthConfig{
			Secrets:  peerSecrets(api.cfg.Peers),
			Issuer:   api.cfg.PeerJWTIssuer,
			Audience: api.cfg.PeerJWTAudience,
		}))
		r.Use(middleware.PeerRateLimiter(api.cfg.PeerRateLimitRPS))
		r.Post("/v1/peer/quotes", quoteHandler.Quote)
		r.With(idempotent).Post("/v1/peer/transfers", notificationHandler.PeerTransfer)
	})

	return r
}

func peerSecrets(peers []config.PeerConfig) map[string]string {
	secrets := make(map[string]string, len(peers))
	for _, p := range peers {
		secrets[p.ID] = p.JWTSecret
	}
	return secrets
}
