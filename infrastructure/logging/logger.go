// Package logging provides structured logging with trace/tenant/integration
// context propagation.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys used to carry request-scoped
// identifiers into the logger.
type ContextKey string

const (
	TraceIDKey       ContextKey = "trace_id"
	TenantIDKey      ContextKey = "tenant_id"
	IntegrationIDKey ContextKey = "integration_id"
)

// Logger wraps logrus.Logger with this service's contextual fields.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger with an explicit level/format.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv builds a logger from LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json for production use.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext builds a log entry carrying every identifier present on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(TenantIDKey); v != nil {
		entry = entry.WithField("tenant_id", v)
	}
	if v := ctx.Value(IntegrationIDKey); v != nil {
		entry = entry.WithField("integration_id", v)
	}
	return entry
}

// WithFields builds a log entry with custom fields plus the service name.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError builds a log entry carrying an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "error": err.Error()})
}

// NewTraceID generates a fresh trace identifier.
func NewTraceID() string { return uuid.New().String() }

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace id, or "" if absent.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithTenantID returns a context carrying tenantID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetTenantID extracts the tenant id, or "" if absent.
func GetTenantID(ctx context.Context) string {
	v, _ := ctx.Value(TenantIDKey).(string)
	return v
}

// WithIntegrationID returns a context carrying integrationID.
func WithIntegrationID(ctx context.Context, integrationID string) context.Context {
	return context.WithValue(ctx, IntegrationIDKey, integrationID)
}

// GetIntegrationID extracts the integration id, or "" if absent.
func GetIntegrationID(ctx context.Context) string {
	v, _ := ctx.Value(IntegrationIDKey).(string)
	return v
}

// LogRequest logs a handled HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}

// LogStep logs one pipeline step's outcome (C2-C12's ExecutionLog.Step).
func (l *Logger) LogStep(ctx context.Context, step, outcome string, gapMs int64, detail string) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"step":    step,
		"outcome": outcome,
		"gap_ms":  gapMs,
	})
	if detail != "" {
		entry = entry.WithField("detail", detail)
	}
	if outcome == "FAILURE" {
		entry.Warn("pipeline step")
	} else {
		entry.Debug("pipeline step")
	}
}

// LogPerformance logs arbitrary operation timing/metrics.
func (l *Logger) LogPerformance(ctx context.Context, operation string, metrics logrus.Fields) {
	fields := logrus.Fields{"operation": operation, "type": "performance"}
	for k, v := range metrics {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Info("performance")
}

// Fatal logs a fatal error and exits the process, used only at startup.
func (l *Logger) Fatal(ctx context.Context, message string, err error) {
	l.WithContext(ctx).WithError(err).Fatal(message)
}
