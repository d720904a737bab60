// Package executionlog implements C12: the unified per-trace record tying
// together every step (C2-C11) a source event passed through. It is the sole
// producer of the traceId correlation used by DLQ entries and scheduled
// deliveries (spec §4.12).
package executionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
)

const defaultMaxDetailBytes = 4096

// defaultDenyList names the headers most likely to carry secrets through a
// delivery's request/response detail. It is matched case-insensitively
// against header names only; bodies are truncated but not redacted.
// WithDenyList replaces this list.
var defaultDenyList = []string{
	"authorization", "cookie", "set-cookie", "x-api-key", "x-auth-token",
	"password", "token", "secret", "client_secret", "refresh_token",
}

// Store is the subset of store.Store the logger depends on.
type Store interface {
	CreateExecutionLog(ctx context.Context, l domain.ExecutionLog) (domain.ExecutionLog, error)
	AppendStep(ctx context.Context, traceID string, step domain.Step) error
	FinishExecutionLog(ctx context.Context, traceID string, status domain.ExecutionStatus, req domain.RequestSnapshot, resp domain.ResponseSnapshot, errDetail string, finishedAt time.Time) error
	GetExecutionLog(ctx context.Context, traceID string) (domain.ExecutionLog, error)
	ListExecutionLogs(ctx context.Context, tenantID string, limit int) ([]domain.ExecutionLog, error)
}

// Logger is the single writer of a trace's execution timeline. Each traceId
// is serialized through its own in-process mutex (store.AppendStep's
// SELECT...FOR UPDATE serializes across processes); an in-process lock also
// avoids interleaving a multi-action chain's sequential-but-separately-
// scheduled step appends.
type Logger struct {
	store   Store
	logger  *logging.Logger
	now     func() time.Time
	maxLen  int
	denyLow map[string]struct{}

	mu       sync.Mutex
	traceMus map[string]*sync.Mutex
}

// Option configures a Logger.
type Option func(*Logger)

// WithDenyList replaces the default redaction deny-list.
func WithDenyList(keys []string) Option {
	return func(l *Logger) {
		l.denyLow = toLowerSet(keys)
	}
}

// WithMaxDetailBytes overrides the per-step detail truncation bound.
func WithMaxDetailBytes(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.maxLen = n
		}
	}
}

// New creates a Logger.
func New(store Store, logger *logging.Logger, opts ...Option) *Logger {
	l := &Logger{
		store:    store,
		logger:   logger,
		now:      time.Now,
		maxLen:   defaultMaxDetailBytes,
		denyLow:  toLowerSet(defaultDenyList),
		traceMus: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start creates the header row for a new trace's timeline. One Start call is
// made per matched integration (spec §4.12: "at least one ExecutionLog entry
// per matched integration"), so a fan-out to N integrations produces N
// traces, each with its own traceID.
func (l *Logger) Start(ctx context.Context, traceID, tenantID, integrationID, eventType, messageID string, direction domain.Direction, trigger domain.TriggerType) error {
	_, err := l.store.CreateExecutionLog(ctx, domain.ExecutionLog{
		TraceID:       traceID,
		MessageID:     messageID,
		Direction:     direction,
		TriggerType:   trigger,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		EventType:     eventType,
		Status:        domain.ExecutionPending,
		StartedAt:     l.now(),
	})
	return err
}

// Finish records a trace's terminal outcome: its status, the request/response
// snapshot exchanged with the downstream (denied headers redacted, bodies
// truncated), and (on failure)
// the top-level error. DurationMs is computed from the trace's StartedAt.
func (l *Logger) Finish(ctx context.Context, traceID string, status domain.ExecutionStatus, req domain.RequestSnapshot, resp domain.ResponseSnapshot, errDetail string) error {
	req.Headers = l.redactHeaders(req.Headers)
	req.Body = l.truncate(req.Body)
	resp.Headers = l.redactHeaders(resp.Headers)
	resp.Body = l.truncate(resp.Body)
	errDetail = l.truncate(errDetail)

	if err := l.store.FinishExecutionLog(ctx, traceID, status, req, resp, errDetail, l.now()); err != nil {
		return fmt.Errorf("executionlog: finish: %w", err)
	}
	return nil
}

// Append records a plain-text step outcome.
func (l *Logger) Append(ctx context.Context, traceID string, name domain.StepName, outcome domain.StepOutcome, detail string) error {
	return l.append(ctx, traceID, name, outcome, l.truncate(detail))
}

// AppendDelivery records an outbound delivery step, redacting denied header
// names and truncating the body before they are persisted as the step's
// detail. The body's content is not redacted.
func (l *Logger) AppendDelivery(ctx context.Context, traceID string, name domain.StepName, outcome domain.StepOutcome, headers map[string]string, body []byte, errDetail string) error {
	summary := struct {
		Headers map[string]string `json:"headers,omitempty"`
		Body    string            `json:"body,omitempty"`
		Error   string            `json:"error,omitempty"`
	}{
		Headers: l.redactHeaders(headers),
		Body:    l.truncate(string(body)),
		Error:   errDetail,
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("executionlog: marshal step detail: %w", err)
	}
	return l.append(ctx, traceID, name, outcome, l.truncate(string(raw)))
}

func (l *Logger) append(ctx context.Context, traceID string, name domain.StepName, outcome domain.StepOutcome, detail string) error {
	mu := l.lockFor(traceID)
	mu.Lock()
	defer mu.Unlock()

	step := domain.Step{Name: name, Outcome: outcome, Detail: detail, StartedAt: l.now()}
	if err := l.store.AppendStep(ctx, traceID, step); err != nil {
		return fmt.Errorf("executionlog: append step: %w", err)
	}
	if l.logger != nil {
		l.logger.LogStep(ctx, string(name), string(outcome), 0, detail)
	}
	return nil
}

// Get returns a trace's full timeline.
func (l *Logger) Get(ctx context.Context, traceID string) (domain.ExecutionLog, error) {
	return l.store.GetExecutionLog(ctx, traceID)
}

// List returns recent traces for a tenant (or every tenant if tenantID is
// empty), newest first.
func (l *Logger) List(ctx context.Context, tenantID string, limit int) ([]domain.ExecutionLog, error) {
	return l.store.ListExecutionLogs(ctx, tenantID, limit)
}

func (l *Logger) lockFor(traceID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.traceMus[traceID]
	if !ok {
		m = &sync.Mutex{}
		l.traceMus[traceID] = m
	}
	return m
}

func (l *Logger) redactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, denied := l.denyLow[strings.ToLower(k)]; denied {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func (l *Logger) truncate(s string) string {
	if len(s) <= l.maxLen {
		return s
	}
	return s[:l.maxLen] + fmt.Sprintf("...[truncated %d bytes]", len(s)-l.maxLen)
}

func toLowerSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[strings.ToLower(k)] = struct{}{}
	}
	return out
}
