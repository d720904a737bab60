// Command worker runs the gateway's background loops: source ingestion,
// the claim-and-process orchestrator, the stuck-audit watchdog, scheduled
// delivery firing and the dead letter queue's retry sweep.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/varaprasadreddy9676/integration-control-plane/engine/source"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
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

	logger := logging.New("worker", cfg.LogLevel, cfg.LogFormat)

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
		m = metrics.Init("worker")
	}

	stack := wiring.Build(baseStore, dbx, nil, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stack.Tenancy.Reload(ctx); err != nil {
		logger.WithError(err).Warn("initial tenant index load failed")
	}
	if _, err := stack.ConfigCache.ReloadAll(ctx); err != nil {
		logger.WithError(err).Warn("initial config cache load failed")
	}

	ingestor, err := newIngestor(ctx, cfg, baseStore, m, logger)
	if err != nil {
		logger.WithError(err).Fatal("build source ingestor")
	}

	go runTicker(ctx, cfg.IngestPollInterval, logger, "ingest", func(ctx context.Context) error {
		_, err := ingestor.PollOnce(ctx)
		return err
	})
	go stack.Tenancy.Run(ctx, cfg.TenancyReloadInterval)
	go stack.Watchdog.Run(ctx, cfg.WatchdogSweepInterval)
	go stack.Orchestrator.Run(ctx, cfg.OrchestratorIdle)
	go runTicker(ctx, cfg.ScheduleSweepInterval, logger, "schedule_sweep", func(ctx context.Context) error {
		_, err := stack.Scheduler.SweepOnce(ctx)
		return err
	})
	go runTicker(ctx, cfg.DLQSweepInterval, logger, "dlq_sweep", func(ctx context.Context) error {
		_, err := stack.DLQ.SweepOnce(ctx)
		return err
	})

	logger.Info("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("worker shutting down")
	cancel()
	time.Sleep(200 * time.Millisecond)
}

// newIngestor builds the configured source.Adapter and wraps it in an
// Ingestor. Relational polls a table via the shared store; distributedlog
// dials a websocket bridge.
func newIngestor(ctx context.Context, cfg *config.Config, baseStore *store.Store, m *metrics.Metrics, logger *logging.Logger) (*source.Ingestor, error) {
	switch cfg.SourceKind {
	case "distributedlog":
		header := http.Header{}
		if cfg.SourceWebsocketToken != "" {
			header.Set("Authorization", "Bearer "+cfg.SourceWebsocketToken)
		}
		adapter, err := source.DialDistributedLogAdapter(ctx, cfg.SourceWebsocketURL, header, m)
		if err != nil {
			return nil, err
		}
		return source.NewIngestor(adapter, baseStore, m, logger), nil
	case "relational":
		adapter, err := source.NewRelationalAdapter(baseStore, baseStore, cfg.SourceTable, cfg.SourceCheckpointKey)
		if err != nil {
			return nil, err
		}
		return source.NewIngestor(adapter, baseStore, m, logger), nil
	default:
		return nil, fmt.Errorf("worker: unknown SOURCE_KIND %q", cfg.SourceKind)
	}
}

// runTicker invokes fn on every tick until ctx is cancelled, logging (but not
// dying on) individual failures so one bad sweep doesn't kill the loop.
func runTicker(ctx context.Context, interval time.Duration, logger *logging.Logger, name string, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.WithContext(ctx).WithError(err).WithField("loop", name).Warn("background sweep failed")
			}
		}
	}
}
