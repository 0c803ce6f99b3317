package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/ilp-connector/internal/api"
	"github.com/ayo6706/ilp-connector/internal/config"
	"github.com/ayo6706/ilp-connector/internal/directory"
	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/ayo6706/ilp-connector/internal/idempotency"
	"github.com/ayo6706/ilp-connector/internal/observability"
	"github.com/ayo6706/ilp-connector/internal/peer"
	"github.com/ayo6706/ilp-connector/internal/service"
	"github.com/ayo6706/ilp-connector/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the connector, its background workers and the HTTP server,
// blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledgers, err := ledgersFromConfig(cfg)
	if err != nil {
		return err
	}
	fees, err := feesFromConfig(cfg, ledgers)
	if err != nil {
		return fmt.Errorf("fee schedule: %w", err)
	}
	rates, err := ratesFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("exchange rates: %w", err)
	}
	gateways, err := gatewaysFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("ledgers: %w", err)
	}

	store, err := openStorage(ctx, cfg, ledgers, logger)
	if err != nil {
		return err
	}
	defer store.close()

	dir := directory.New(store.ledgers,
		directory.WithMaxStaleness(cfg.DirectoryMaxStaleness),
		directory.WithDefaultExpiry(cfg.DefaultExpiry),
		directory.WithLogger(logger),
	)
	if err := dir.Refresh(ctx); err != nil {
		return fmt.Errorf("load ledger directory: %w", err)
	}
	checks := store.checks
	checks["directory"] = directoryReady(dir)

	var idemStore *idempotency.Store
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		idemStore = idempotency.NewStore(redisClient, cfg.IdempotencyTTL)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logger.Warn("REDIS_URL not set, webhook and peer requests are not deduplicated")
	}

	connectorID := domain.NewConnectorID(cfg.ConnectorID)
	peers := peer.NewDirectory(peersFromConfig(cfg)...)
	peerClient := peer.NewHTTPClient(connectorID, cfg.PeerJWTIssuer, cfg.PeerJWTAudience, cfg.PeerQuoteTimeout)

	quotes := service.NewQuoteEngine(service.QuoteConfig{
		ConnectorID:      connectorID,
		MinExpiry:        cfg.MinExpiry,
		MaxExpiry:        cfg.MaxExpiry,
		SafetyMargin:     cfg.ExpirySafetyMargin,
		PeerSearchLimit:  cfg.PeerSearchLimit,
		PeerQuoteTimeout: cfg.PeerQuoteTimeout,
	}, dir, fees, rates, peers, peerClient, logger)
	orchestrator := service.NewOrchestrator(service.OrchestratorConfig{
		SafetyMargin:   cfg.ExpirySafetyMargin,
		MinExpiry:      cfg.MinExpiry,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}, dir, gateways, quotes, peers, peerClient, store.transfers, domain.SHA256Verifier, logger)
	connector := service.NewConnector(connectorID, quotes, orchestrator, dir, peers, store.transfers)
	defer connector.Close()

	resumed, err := connector.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover transfers: %w", err)
	}
	logger.Info("connector ready",
		zap.String("connector_id", connectorID.String()),
		zap.Int("ledgers", len(ledgers)),
		zap.Int("peers", len(peers.All())),
		zap.Int("resumed_transfers", resumed),
	)

	listener := worker.NewLedgerListener(gateways, connector, logger).
		WithRetry(service.Backoff{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay})
	listenerDone := make(chan error, 1)
	go func() { listenerDone <- listener.Run(ctx) }()

	stopRefresher := worker.NewDirectoryRefresher(dir).WithInterval(cfg.DirectoryRefreshInterval).Run(ctx)
	stopRecovery, err := worker.NewRecoveryWorker(connector).WithInterval(cfg.RecoveryInterval).Run(ctx)
	if err != nil {
		stopRefresher()
		return err
	}

	router := api.NewRouter(cfg, logger, connector, idemStore, checks)
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case err := <-listenerDone:
		if err != nil {
			runErr = fmt.Errorf("ledger listener: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopRecovery()
	stopRefresher()
	cancel()

	logger.Info("shutdown complete", zap.Int("live_transfers", connector.Live()))
	return runErr
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
