// Command gateway serves the integration control plane's HTTP API: manual
// event injection, integration configuration, the dead letter queue,
// execution logs, scheduled-delivery cancellation and audit requeue.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/varaprasadreddy9676/integration-control-plane/httpapi"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/middleware"
	"github.com/varaprasadreddy9676/integration-control-plane/internal/config"
	"github.com/varaprasadreddy9676/integration-control-plane/internal/wiring"
	"github.com/varaprasadreddy9676/integration-control-plane/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("gateway", cfg.LogLevel, cfg.LogFormat)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("open database")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxConnections)
	db.SetConnMaxIdleTime(cfg.DBIdleTimeout)
	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("ping database")
	}
	dbx := sqlx.NewDb(db, "postgres")
	baseStore := store.New(db)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.Init("gateway")
	}

	stack := wiring.Build(baseStore, dbx, nil, m, logger)
	if err := stack.Tenancy.Reload(context.Background()); err != nil {
		logger.WithError(err).Warn("initial tenant index load failed")
	}
	if _, err := stack.ConfigCache.ReloadAll(context.Background()); err != nil {
		logger.WithError(err).Warn("initial config cache load failed")
	}

	ready := true
	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimitEnabled {
		rateLimiter = middleware.NewRateLimiterWithWindow(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitRequests, logger)
	}

	deps := httpapi.Dependencies{
		Configs:      baseStore,
		Audit:        baseStore,
		DLQStats:     baseStore,
		DLQStore:     baseStore,
		DLQProcessor: stack.DLQ,
		ExecutionLog: stack.ExecutionLog,
		Schedule:     stack.Scheduler,
		Watchdog:     stack.Watchdog,

		InboundConfigs:  baseStore,
		InboundAuth:     stack.Auth,
		InboundDelivery: stack.Delivery,

		Logger:       logger,
		Metrics:      m,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimit:    rateLimiter,
		MaxBodyBytes: cfg.MaxRequestBytes,
		ServiceName:  "gateway",
		Ready:        &ready,
		JWTSigningKey: cfg.JWTSigningKey,
	}
	router := httpapi.NewRouter(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.GatewayPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.WithFields(map[string]interface{}{"port": cfg.GatewayPort}).Info("gateway starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	ready = false

	logger.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}
