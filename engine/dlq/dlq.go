// Package dlq implements C10: parking failed deliveries, the exponential
// backoff retry schedule, and the manual retry/abandon/delete operations
// exposed to collaborators.
package dlq

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
)

const defaultMaxAttempts = 8
const defaultBatchSize = 50

// Store is the subset of store.Store the processor depends on.
type Store interface {
	CreateDLQEntry(ctx context.Context, e domain.DLQEntry) (domain.DLQEntry, error)
	GetDLQEntry(ctx context.Context, id string) (domain.DLQEntry, error)
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.DLQEntry, error)
	TransitionStatus(ctx context.Context, id string, to domain.DLQStatus, attempts int, lastError string, lastCompletedActionIndex int, nextRetryAt time.Time) error
	DeleteDLQEntry(ctx context.Context, id string) error
}

// ConfigSource resolves the integration config a parked entry belongs to.
type ConfigSource interface {
	GetConfig(ctx context.Context, id string) (domain.IntegrationConfig, error)
}

// Deliverer is the subset of delivery.Engine the processor depends on.
type Deliverer interface {
	Attempt(ctx context.Context, req delivery.Request) (delivery.Outcome, error)
}

// Processor runs the retry sweep and the manual DLQ operations.
type Processor struct {
	store    Store
	configs  ConfigSource
	delivery Deliverer
	metrics  *metrics.Metrics
	logger   *logging.Logger
	now      func() time.Time
	jitter   func(time.Duration) time.Duration

	maxAttempts int
	batchSize   int
}

// New creates a Processor with spec-default retry budget and batch size.
func New(store Store, configs ConfigSource, d Deliverer, m *metrics.Metrics, logger *logging.Logger) *Processor {
	return &Processor{
		store:       store,
		configs:     configs,
		delivery:    d,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
		jitter:      defaultJitter,
		maxAttempts: defaultMaxAttempts,
		batchSize:   defaultBatchSize,
	}
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	delta := float64(d) * 0.2
	return d + time.Duration(rand.Float64()*delta*2-delta)
}

// Enqueue parks a failed attempt for retry (or immediate exhaustion, when the
// failure category is non-retryable). maxAttempts <= 0 uses the processor
// default.
func (p *Processor) Enqueue(ctx context.Context, traceID, tenantID, integrationID string, payload domain.Payload, category domain.ErrorCategory, lastError string, lastCompletedActionIndex int, maxAttempts int) (domain.DLQEntry, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.maxAttempts
	}

	entry := domain.DLQEntry{
		TraceID:                  traceID,
		TenantID:                 tenantID,
		IntegrationID:            integrationID,
		Payload:                  payload,
		Category:                 category,
		Attempts:                 1,
		MaxAttempts:              maxAttempts,
		LastError:                lastError,
		LastCompletedActionIndex: lastCompletedActionIndex,
	}

	if category.Retryable() && entry.Attempts < maxAttempts {
		entry.Status = domain.DLQPendingRetry
		entry.NextRetryAt = p.now().Add(p.jitter(domain.NextBackoff(entry.Attempts)))
	} else {
		entry.Status = domain.DLQAbandoned
	}

	created, err := p.store.CreateDLQEntry(ctx, entry)
	if err != nil {
		return domain.DLQEntry{}, fmt.Errorf("create dlq entry: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordDLQEnqueued(integrationID, string(category))
	}
	return created, nil
}

// SweepOnce claims every pending entry whose nextRetryAt has passed (up to
// the batch size) and re-runs its delivery attempt. Returns the number of
// entries processed.
func (p *Processor) SweepOnce(ctx context.Context) (int, error) {
	due, err := p.store.ListDueForRetry(ctx, p.now(), p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due dlq entries: %w", err)
	}

	processed := 0
	for _, entry := range due {
		if err := p.store.TransitionStatus(ctx, entry.ID, domain.DLQRetrying, entry.Attempts, entry.LastError, entry.LastCompletedActionIndex, time.Time{}); err != nil {
			// Another worker claimed it first, or it already moved on; skip.
			continue
		}
		p.runOne(ctx, entry)
		processed++
	}
	return processed, nil
}

// Retry immediately re-runs a pending entry, bypassing its scheduled
// nextRetryAt. Entries in any other state are rejected (an abandoned entry
// must be explicitly reconsidered by an operator via a new delivery, not a
// raw state transition, since the retry budget is already spent).
func (p *Processor) Retry(ctx context.Context, id string) error {
	entry, err := p.store.GetDLQEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("get dlq entry: %w", err)
	}
	if !domain.CanTransition(entry.Status, domain.DLQRetrying) {
		return fmt.Errorf("dlq entry %s in status %s cannot be retried", id, entry.Status)
	}
	if err := p.store.TransitionStatus(ctx, id, domain.DLQRetrying, entry.Attempts, entry.LastError, entry.LastCompletedActionIndex, time.Time{}); err != nil {
		return fmt.Errorf("claim dlq entry for retry: %w", err)
	}
	p.runOne(ctx, entry)
	return nil
}

// Abandon moves an entry straight to ABANDONED, recording operator notes in
// place of the last error.
func (p *Processor) Abandon(ctx context.Context, id, notes string) error {
	entry, err := p.store.GetDLQEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("get dlq entry: %w", err)
	}
	if !domain.CanTransition(entry.Status, domain.DLQAbandoned) {
		return fmt.Errorf("dlq entry %s in status %s cannot be abandoned", id, entry.Status)
	}
	lastError := entry.LastError
	if notes != "" {
		lastError = notes
	}
	return p.store.TransitionStatus(ctx, id, domain.DLQAbandoned, entry.Attempts, lastError, entry.LastCompletedActionIndex, time.Time{})
}

// Delete permanently removes an entry.
func (p *Processor) Delete(ctx context.Context, id string) error {
	return p.store.DeleteDLQEntry(ctx, id)
}

// BulkRetry/BulkAbandon/BulkDelete apply the corresponding single-entry
// operation across a bounded id set, collecting per-id errors rather than
// aborting at the first failure.
func (p *Processor) BulkRetry(ctx context.Context, ids []string) map[string]error {
	return p.bulk(ids, p.Retry)
}

func (p *Processor) BulkAbandon(ctx context.Context, ids []string, notes string) map[string]error {
	return p.bulk(ids, func(ctx context.Context, id string) error { return p.Abandon(ctx, id, notes) })
}

func (p *Processor) BulkDelete(ctx context.Context, ids []string) map[string]error {
	return p.bulk(ids, p.Delete)
}

func (p *Processor) bulk(ids []string, op func(context.Context, string) error) map[string]error {
	out := make(map[string]error, len(ids))
	for _, id := range ids {
		out[id] = op(context.Background(), id)
	}
	return out
}

// runOne re-runs one claimed entry's delivery attempt and persists the
// resulting transition. Errors are logged, never returned, since it runs
// from the sweep loop.
func (p *Processor) runOne(ctx context.Context, entry domain.DLQEntry) {
	cfg, err := p.configs.GetConfig(ctx, entry.IntegrationID)
	if err != nil {
		p.logWarn(ctx, entry, "config lookup failed: "+err.Error())
		p.transitionAfterFailure(ctx, entry, entry.Category, "config lookup failed: "+err.Error())
		return
	}

	resumeFrom := p.resumeIndex(cfg, entry.LastCompletedActionIndex)

	outcome, err := p.delivery.Attempt(ctx, delivery.Request{
		TraceID:           entry.TraceID,
		MessageID:         entry.ID,
		Config:            cfg,
		Payload:           entry.Payload,
		ResumeFromAction:  resumeFrom,
	})
	if err != nil {
		p.transitionAfterFailure(ctx, entry, domain.CategoryUnknown, err.Error())
		return
	}

	if outcome.Success {
		if err := p.store.TransitionStatus(ctx, entry.ID, domain.DLQResolved, entry.Attempts, "", outcome.LastCompletedActionIndex, time.Time{}); err != nil {
			p.logWarn(ctx, entry, "failed to mark resolved: "+err.Error())
		}
		return
	}

	entry.LastCompletedActionIndex = outcome.LastCompletedActionIndex
	p.transitionAfterFailure(ctx, entry, outcome.Category, lastErrorDetail(outcome))
}

func (p *Processor) transitionAfterFailure(ctx context.Context, entry domain.DLQEntry, category domain.ErrorCategory, lastError string) {
	attempts := entry.Attempts + 1

	if category.Retryable() && attempts < entry.MaxAttempts {
		nextRetryAt := p.now().Add(p.jitter(domain.NextBackoff(attempts)))
		if err := p.store.TransitionStatus(ctx, entry.ID, domain.DLQPendingRetry, attempts, lastError, entry.LastCompletedActionIndex, nextRetryAt); err != nil {
			p.logWarn(ctx, entry, "failed to reschedule: "+err.Error())
		}
		return
	}

	if err := p.store.TransitionStatus(ctx, entry.ID, domain.DLQAbandoned, attempts, lastError, entry.LastCompletedActionIndex, time.Time{}); err != nil {
		p.logWarn(ctx, entry, "failed to mark abandoned: "+err.Error())
	}
}

// resumeIndex decides which action a retried chain should resume from: the
// action after the last one that completed, but only when that action chain
// up to there is marked Resumable; otherwise the whole chain restarts so
// non-idempotent side effects aren't silently skipped.
func (p *Processor) resumeIndex(cfg domain.IntegrationConfig, lastCompleted int) int {
	if lastCompleted < 0 {
		return 0
	}
	actions := cfg.EffectiveActions()
	if lastCompleted >= len(actions) {
		return 0
	}
	for i := 0; i <= lastCompleted; i++ {
		if !actions[i].Resumable {
			return 0
		}
	}
	return lastCompleted + 1
}

func lastErrorDetail(outcome delivery.Outcome) string {
	for i := len(outcome.ActionResults) - 1; i >= 0; i-- {
		if outcome.ActionResults[i].Error != "" {
			return outcome.ActionResults[i].Error
		}
	}
	if len(outcome.Steps) > 0 {
		return outcome.Steps[len(outcome.Steps)-1].Detail
	}
	return string(outcome.Category)
}

func (p *Processor) logWarn(ctx context.Context, entry domain.DLQEntry, message string) {
	if p.logger == nil {
		return
	}
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"dlqId":         entry.ID,
		"integrationId": entry.IntegrationID,
	}).Warn(message)
}
