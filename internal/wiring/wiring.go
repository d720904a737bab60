// Package wiring assembles the engine stack (matching, transform, auth,
// rate limiting, delivery, scheduling, DLQ, execution logging, tenancy)
// from a database connection, shared by the gateway and worker entrypoints
// so both processes build the identical dependency graph.
package wiring

import (
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/varaprasadreddy9676/integration-control-plane/engine/auth"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/dlq"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/executionlog"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/matcher"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/orchestrator"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/ratelimit"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/schedule"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/tenancy"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/transform"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/watchdog"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/sandbox"
	"github.com/varaprasadreddy9676/integration-control-plane/store"
)

// Stack is the full set of engine components built on top of one store.
type Stack struct {
	Store        *store.Store
	ConfigCache  *store.ConfigCache
	Tenancy      *tenancy.Index
	Sandbox      *sandbox.Runtime
	Transform    *transform.Engine
	Auth         *auth.Provider
	RateLimit    *ratelimit.Limiter
	Delivery     *delivery.Engine
	Matcher      *matcher.Matcher
	DLQ          *dlq.Processor
	Scheduler    *schedule.Scheduler
	Watchdog     *watchdog.Watchdog
	ExecutionLog *executionlog.Logger
	Orchestrator *orchestrator.Orchestrator
}

// Build wires every engine component against db/dbx. httpClient is used for
// outbound delivery and OAuth2/custom token fetches; a sane default is used
// when nil.
func Build(db *store.Store, dbx *sqlx.DB, httpClient *http.Client, m *metrics.Metrics, logger *logging.Logger) *Stack {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	configCache := store.NewConfigCache(db, dbx)
	tenancyIdx := tenancy.New(db, logger)

	sandboxRT := sandbox.New()
	lookupResolver := transform.NewLookupResolver(db, tenancyIdx)
	transformEngine := transform.New(sandboxRT, lookupResolver)
	authProvider := auth.New(httpClient, configCache, logger)
	rateLimiter := ratelimit.New(db, m)
	deliveryEngine := delivery.New(transformEngine, authProvider, rateLimiter, sandboxRT, httpClient, m, logger)

	matcherEngine := matcher.New(configCache, tenancyIdx, sandboxRT, logger)
	dlqProcessor := dlq.New(db, configCache, deliveryEngine, m, logger)
	scheduler := schedule.New(db, configCache, deliveryEngine, dlqProcessor, sandboxRT, m, logger)
	watchdogSvc := watchdog.New(db, logger)
	execLogger := executionlog.New(db, logger, executionlog.WithDenyList([]string{"authorization", "x-api-key", "cookie"}))

	orch := orchestrator.New(db, matcherEngine, deliveryEngine, scheduler, dlqProcessor, execLogger, logger)

	return &Stack{
		Store:        db,
		ConfigCache:  configCache,
		Tenancy:      tenancyIdx,
		Sandbox:      sandboxRT,
		Transform:    transformEngine,
		Auth:         authProvider,
		RateLimit:    rateLimiter,
		Delivery:     deliveryEngine,
		Matcher:      matcherEngine,
		DLQ:          dlqProcessor,
		Scheduler:    scheduler,
		Watchdog:     watchdogSvc,
		ExecutionLog: execLogger,
		Orchestrator: orch,
	}
}
