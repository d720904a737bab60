// Package httpapi wires the gateway's HTTP surface: inbound event injection
// for testing, and the operator endpoints for integration configuration,
// the dead letter queue, execution logs, scheduled deliveries and the audit
// watchdog.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/middleware"
	"github.com/varaprasadreddy9676/integration-control-plane/store"
)

// ConfigStore is the subset of store.Store the configuration endpoints
// depend on.
type ConfigStore interface {
	CreateConfig(ctx context.Context, c domain.IntegrationConfig) (domain.IntegrationConfig, error)
	UpdateConfig(ctx context.Context, c domain.IntegrationConfig) (domain.IntegrationConfig, error)
	GetConfig(ctx context.Context, id string) (domain.IntegrationConfig, error)
}

// AuditStore is the subset of store.Store the manual event-injection
// endpoint depends on.
type AuditStore interface {
	CreateAuditRow(ctx context.Context, a domain.EventAudit) (domain.EventAudit, error)
}

// DLQStore is the subset of store.Store the DLQ read endpoints depend on
// (engine/dlq.Processor itself exposes only the write/transition surface).
type DLQStore interface {
	GetDLQEntry(ctx context.Context, id string) (domain.DLQEntry, error)
	ListByTenant(ctx context.Context, tenantID string, status domain.DLQStatus, limit int) ([]domain.DLQEntry, error)
}

// DLQProcessor is the subset of engine/dlq.Processor the DLQ write endpoints
// depend on.
type DLQProcessor interface {
	Retry(ctx context.Context, id string) error
	Abandon(ctx context.Context, id, notes string) error
	Delete(ctx context.Context, id string) error
	BulkRetry(ctx context.Context, ids []string) map[string]error
	BulkAbandon(ctx context.Context, ids []string, notes string) map[string]error
	BulkDelete(ctx context.Context, ids []string) map[string]error
}

// ExecutionLogReader is the subset of engine/executionlog.Logger the
// execution log endpoints, and the inbound proxy endpoint that writes a
// trace of its own, depend on.
type ExecutionLogReader interface {
	Get(ctx context.Context, traceID string) (domain.ExecutionLog, error)
	List(ctx context.Context, tenantID string, limit int) ([]domain.ExecutionLog, error)
	Start(ctx context.Context, traceID, tenantID, integrationID, eventType, messageID string, direction domain.Direction, trigger domain.TriggerType) error
	Append(ctx context.Context, traceID string, name domain.StepName, outcome domain.StepOutcome, detail string) error
	Finish(ctx context.Context, traceID string, status domain.ExecutionStatus, req domain.RequestSnapshot, resp domain.ResponseSnapshot, errDetail string) error
}

// InboundConfigs is the subset of store.Store the inbound proxy endpoint
// depends on to resolve the `:type`/orgId pair to an INBOUND integration.
type InboundConfigs interface {
	GetInboundConfig(ctx context.Context, tenantID, eventType string) (domain.IntegrationConfig, error)
}

// InboundAuthVerifier is the subset of engine/auth.Provider the inbound
// proxy endpoint depends on to authenticate the caller against the
// integration's InboundAuth spec.
type InboundAuthVerifier interface {
	VerifyInbound(r *http.Request, spec domain.AuthSpec, signing domain.SigningSpec, body []byte) error
}

// InboundDeliverer is the subset of engine/delivery.Engine the inbound proxy
// endpoint depends on to run the request through the same transform/auth/
// dispatch pipeline an outbound delivery uses.
type InboundDeliverer interface {
	Attempt(ctx context.Context, req delivery.Request) (delivery.Outcome, error)
}

// ScheduleCanceler is the subset of engine/schedule.Scheduler the schedule
// endpoints depend on.
type ScheduleCanceler interface {
	Cancel(ctx context.Context, id string) error
}

// WatchdogRequeuer is the subset of engine/watchdog.Watchdog the watchdog
// endpoint depends on.
type WatchdogRequeuer interface {
	Requeue(ctx context.Context, id string) error
}

// Dependencies collects everything the HTTP surface needs. Every route is
// always registered; a route whose dependency is left nil answers 503
// Service Unavailable, which keeps the router usable in tests that only
// exercise one area.
type Dependencies struct {
	Configs ConfigStore
	Audit   AuditStore
	DLQStats interface {
		GetStats(ctx context.Context, tenantID string) (store.Stats, error)
	}
	DLQStore     DLQStore
	DLQProcessor DLQProcessor
	ExecutionLog ExecutionLogReader
	Schedule     ScheduleCanceler
	Watchdog     WatchdogRequeuer

	InboundConfigs  InboundConfigs
	InboundAuth     InboundAuthVerifier
	InboundDelivery InboundDeliverer

	Logger        *logging.Logger
	Metrics       *metrics.Metrics
	CORSOrigins   []string
	RateLimit     *middleware.RateLimiter
	MaxBodyBytes  int64
	ServiceName   string
	Ready         *bool
	JWTSigningKey string
}

// NewRouter builds the gorilla/mux router with the full middleware chain:
// logging, panic recovery, metrics (if enabled), CORS, body-size limit and
// an optional rate limiter, the same ordering the gateway entrypoint uses.
func NewRouter(deps Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(middleware.NewRecoveryMiddleware(deps.Logger).Handler)
	if deps.Metrics != nil {
		router.Use(middleware.MetricsMiddleware(deps.ServiceName, deps.Metrics))
	}
	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: deps.CORSOrigins}).Handler)
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	router.Use(middleware.NewBodyLimitMiddleware(maxBody).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)
	if deps.RateLimit != nil {
		router.Use(deps.RateLimit.Handler)
	}

	registerRoutes(router, deps)

	if deps.Metrics != nil && metrics.Enabled() {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	return router
}

func registerRoutes(router *mux.Router, deps Dependencies) {
	health := middleware.NewHealthChecker("gateway")
	router.HandleFunc("/health", health.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", middleware.ReadinessHandler(deps.Ready)).Methods(http.MethodGet)

	h := &handlers{deps: deps}

	// The inbound proxy is authenticated per-integration via InboundAuth
	// (spec §9), not the operator JWT, so it is registered on its own
	// subrouter ahead of the JWT-guarded one below.
	inbound := router.PathPrefix("/api/v1").Subrouter()
	inbound.HandleFunc("/integrations/{type}", h.inboundProxy).Methods(http.MethodPost)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewJWTAuthMiddleware(deps.JWTSigningKey).Handler)

	api.HandleFunc("/events", h.ingestEvent).Methods(http.MethodPost)

	api.HandleFunc("/integrations", h.createConfig).Methods(http.MethodPost)
	api.HandleFunc("/integrations/{id}", h.getConfig).Methods(http.MethodGet)
	api.HandleFunc("/integrations/{id}", h.updateConfig).Methods(http.MethodPut)

	api.HandleFunc("/dlq", h.listDLQ).Methods(http.MethodGet)
	api.HandleFunc("/dlq/stats", h.dlqStats).Methods(http.MethodGet)
	api.HandleFunc("/dlq/{id}", h.getDLQEntry).Methods(http.MethodGet)
	api.HandleFunc("/dlq/{id}/retry", h.retryDLQEntry).Methods(http.MethodPost)
	api.HandleFunc("/dlq/{id}/abandon", h.abandonDLQEntry).Methods(http.MethodPost)
	api.HandleFunc("/dlq/{id}", h.deleteDLQEntry).Methods(http.MethodDelete)
	api.HandleFunc("/dlq/bulk-retry", h.bulkRetryDLQ).Methods(http.MethodPost)
	api.HandleFunc("/dlq/bulk-abandon", h.bulkAbandonDLQ).Methods(http.MethodPost)
	api.HandleFunc("/dlq/bulk-delete", h.bulkDeleteDLQ).Methods(http.MethodPost)

	api.HandleFunc("/execution-logs", h.listExecutionLogs).Methods(http.MethodGet)
	api.HandleFunc("/execution-logs/{traceId}", h.getExecutionLog).Methods(http.MethodGet)

	api.HandleFunc("/scheduled-deliveries/{id}/cancel", h.cancelScheduledDelivery).Methods(http.MethodPost)

	api.HandleFunc("/audit/{id}/requeue", h.requeueAudit).Methods(http.MethodPost)
}
