// Package metrics provides Prometheus metrics collection for the gateway:
// HTTP traffic, database queries, and the delivery/DLQ/rate-limit/schedule
// pipeline.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the gateway exposes.
type Metrics struct {
	// HTTP
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Errors
	ErrorsTotal *prometheus.CounterVec

	// Outbound delivery
	DeliveryAttemptsTotal *prometheus.CounterVec
	DeliveryDuration      *prometheus.HistogramVec

	// Rate limiting
	RateLimitDeniedTotal *prometheus.CounterVec

	// DLQ
	DLQDepth         *prometheus.GaugeVec
	DLQEnqueuedTotal *prometheus.CounterVec

	// Scheduler
	ScheduledFiredTotal *prometheus.CounterVec

	// Source ingestion
	SourceGapsTotal *prometheus.CounterVec

	// Database
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance against an arbitrary registry,
// used by tests to avoid double-registration panics.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "http_requests_in_flight", Help: "Current number of HTTP requests being processed"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "errors_total", Help: "Total number of errors"},
			[]string{"service", "type", "operation"},
		),
		DeliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "delivery_attempts_total", Help: "Total outbound delivery attempts"},
			[]string{"integration_id", "category", "outcome"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delivery_duration_seconds",
				Help:    "Outbound delivery round-trip duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
			},
			[]string{"integration_id"},
		),
		RateLimitDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rate_limit_denied_total", Help: "Total requests denied by the per-integration rate limiter"},
			[]string{"integration_id", "tenant_id"},
		),
		DLQDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "dlq_depth", Help: "Current dead-letter queue depth by status"},
			[]string{"status"},
		),
		DLQEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dlq_enqueued_total", Help: "Total entries enqueued into the dead-letter queue"},
			[]string{"integration_id", "category"},
		),
		ScheduledFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "scheduled_fired_total", Help: "Total scheduled deliveries fired"},
			[]string{"integration_id", "kind"},
		),
		SourceGapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "source_gaps_total", Help: "Total offset gaps detected in the distributed log source"},
			[]string{"partition"},
		),
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "database_queries_total", Help: "Total number of database queries"},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "database_connections_open", Help: "Current number of open database connections"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "service_uptime_seconds", Help: "Service uptime in seconds"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "service_info", Help: "Service information"},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.DeliveryAttemptsTotal,
			m.DeliveryDuration,
			m.RateLimitDeniedTotal,
			m.DLQDepth,
			m.DLQEnqueuedTotal,
			m.ScheduledFiredTotal,
			m.SourceGapsTotal,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", environment()).Set(1)

	return m
}

func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

func (m *Metrics) RecordDelivery(integrationID, category, outcome string, duration time.Duration) {
	m.DeliveryAttemptsTotal.WithLabelValues(integrationID, category, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(integrationID).Observe(duration.Seconds())
}

func (m *Metrics) RecordRateLimitDenied(integrationID, tenantID string) {
	m.RateLimitDeniedTotal.WithLabelValues(integrationID, tenantID).Inc()
}

func (m *Metrics) SetDLQDepth(status string, count int) {
	m.DLQDepth.WithLabelValues(status).Set(float64(count))
}

func (m *Metrics) RecordDLQEnqueued(integrationID, category string) {
	m.DLQEnqueuedTotal.WithLabelValues(integrationID, category).Inc()
}

func (m *Metrics) RecordScheduledFired(integrationID, kind string) {
	m.ScheduledFiredTotal.WithLabelValues(integrationID, kind).Inc()
}

func (m *Metrics) RecordSourceGap(partition string) {
	m.SourceGapsTotal.WithLabelValues(partition).Inc()
}

func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

func isProduction() bool {
	return environment() == "production"
}

// Enabled reports whether Prometheus metrics should be exposed.
// Production defaults to disabled unless explicitly enabled; every other
// environment defaults to enabled unless explicitly disabled.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !isProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance, if not already set.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
