// Package orchestrator implements the claim-and-process worker loop at the
// center of the gateway: it claims one ingested event at a time from C2's
// audit ledger, runs it through C4 matching and, per match, either C9
// delivery or C11 scheduling, recording every step on C12's execution log and
// routing delivery failures to C10's dead letter queue.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/dlq"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/matcher"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/schedule"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
)

// AuditStore is the subset of store.Store the orchestrator's claim loop
// depends on.
type AuditStore interface {
	ClaimNext(ctx context.Context, claimedBy string, now time.Time) (domain.EventAudit, error)
	CompleteAudit(ctx context.Context, id, claimedBy string, status domain.AuditStatus, lastError string) error
	IncrementAttempts(ctx context.Context, id string) error
}

// ExecutionLogger is the subset of executionlog.Logger the orchestrator
// depends on.
type ExecutionLogger interface {
	Start(ctx context.Context, traceID, tenantID, integrationID, eventType, messageID string, direction domain.Direction, trigger domain.TriggerType) error
	Append(ctx context.Context, traceID string, name domain.StepName, outcome domain.StepOutcome, detail string) error
	Finish(ctx context.Context, traceID string, status domain.ExecutionStatus, req domain.RequestSnapshot, resp domain.ResponseSnapshot, errDetail string) error
}

// DLQEnqueuer is the subset of dlq.Processor the orchestrator depends on.
type DLQEnqueuer interface {
	Enqueue(ctx context.Context, traceID, tenantID, integrationID string, payload domain.Payload, category domain.ErrorCategory, lastError string, lastCompletedActionIndex int, maxAttempts int) (domain.DLQEntry, error)
}

// Scheduler is the subset of schedule.Scheduler the orchestrator depends on.
type Scheduler interface {
	CreateFromScript(ctx context.Context, traceID string, cfg domain.IntegrationConfig, payload domain.Payload) (domain.ScheduledDelivery, error)
}

// Deliverer is the subset of delivery.Engine the orchestrator depends on.
type Deliverer interface {
	Attempt(ctx context.Context, req delivery.Request) (delivery.Outcome, error)
}

const defaultMaxAttempts = 5

// Orchestrator claims, matches and dispatches one audited event at a time.
type Orchestrator struct {
	audit     AuditStore
	matcher   *matcher.Matcher
	delivery  Deliverer
	scheduler Scheduler
	dlq       DLQEnqueuer
	execlog   ExecutionLogger
	logger    *logging.Logger
	now       func() time.Time
	claimedBy string
}

// New creates an Orchestrator. claimedBy identifies this worker process in
// the audit ledger's CAS claim (e.g. hostname:pid).
func New(audit AuditStore, m *matcher.Matcher, d Deliverer, sched Scheduler, dlqp DLQEnqueuer, execlog ExecutionLogger, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		audit:     audit,
		matcher:   m,
		delivery:  d,
		scheduler: sched,
		dlq:       dlqp,
		execlog:   execlog,
		logger:    logger,
		now:       time.Now,
		claimedBy: claimedByID(),
	}
}

func claimedByID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// ProcessOnce claims one pending event and runs it to completion, returning
// false when there was nothing claimable.
func (o *Orchestrator) ProcessOnce(ctx context.Context) (bool, error) {
	audit, err := o.audit.ClaimNext(ctx, o.claimedBy, o.now())
	if err != nil {
		return false, nil //nolint:nilerr // sql.ErrNoRows means "nothing to do"; propagating would spam the worker loop
	}
	o.process(ctx, audit)
	return true, nil
}

// process runs one claimed event through matching and, per matched
// integration, delivery or scheduling. Each matched integration gets its own
// ExecutionLog trace (spec §4.12: "at least one ExecutionLog entry per
// matched integration") rather than sharing the event's one row, since N
// matches mean N independent downstream calls with independent outcomes.
func (o *Orchestrator) process(ctx context.Context, audit domain.EventAudit) {
	eventTraceID := logging.NewTraceID()
	ctx = logging.WithTraceID(ctx, eventTraceID)
	ctx = logging.WithTenantID(ctx, audit.TenantID)

	matches, err := o.matcher.Match(ctx, matcher.Event{
		TenantID:  audit.TenantID,
		EventType: audit.EventType,
		Payload:   audit.Payload,
	})
	if err != nil {
		if o.logger != nil {
			o.logger.WithContext(ctx).WithError(err).Error("event matching failed")
		}
		o.fail(ctx, audit, fmt.Sprintf("match: %v", err))
		return
	}
	if len(matches) == 0 {
		if o.logger != nil {
			o.logger.WithContext(ctx).Info("no integration matched")
		}
		o.complete(ctx, audit, domain.AuditSkipped, "")
		return
	}
	if o.logger != nil {
		o.logger.WithContext(ctx).WithFields(map[string]any{"matches": len(matches)}).Info("event matched integration(s)")
	}

	var failures []string
	for _, match := range matches {
		matchTraceID := logging.NewTraceID()
		if err := o.dispatchMatch(ctx, matchTraceID, audit, match); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		o.complete(ctx, audit, domain.AuditFailed, fmt.Sprintf("%d/%d deliveries failed: %v", len(failures), len(matches), failures))
		return
	}
	o.complete(ctx, audit, domain.AuditProcessed, "")
}

// dispatchMatch runs one matched integration's pipeline to completion. It
// opens its own ExecutionLog trace so every matched integration is
// independently auditable, replays the ingest/match steps that led to this
// dispatch, and closes the trace with Finish once the outcome (scheduled,
// delivered, or queued for retry) is known.
func (o *Orchestrator) dispatchMatch(ctx context.Context, traceID string, audit domain.EventAudit, match matcher.Match) error {
	cfg := match.Config
	ctx = logging.WithTraceID(ctx, traceID)
	ctx = logging.WithIntegrationID(ctx, cfg.ID)

	if o.execlog != nil {
		_ = o.execlog.Start(ctx, traceID, audit.TenantID, cfg.ID, audit.EventType, audit.SourceID, domain.DirectionOutbound, domain.TriggerEvent)
	}
	o.logStep(ctx, traceID, domain.StepIngest, domain.OutcomeSuccess, "claimed from audit ledger")
	o.logStep(ctx, traceID, domain.StepMatch, domain.OutcomeSuccess, fmt.Sprintf("matched integration %s", cfg.ID))

	if cfg.DeliveryMode != domain.DeliveryImmediate {
		sd, err := o.scheduler.CreateFromScript(ctx, traceID, cfg, audit.Payload)
		if err != nil {
			o.logStep(ctx, traceID, domain.StepSchedule, domain.OutcomeFailure, err.Error())
			o.finish(ctx, traceID, domain.ExecutionFailed, delivery.Outcome{}, err.Error())
			return fmt.Errorf("integration %s: schedule: %w", cfg.ID, err)
		}
		o.logStep(ctx, traceID, domain.StepSchedule, domain.OutcomeSuccess, fmt.Sprintf("parked, fires at %s", sd.FireAt))
		o.finish(ctx, traceID, domain.ExecutionSuccess, delivery.Outcome{}, "")
		return nil
	}

	outcome, err := o.delivery.Attempt(ctx, delivery.Request{
		TraceID:   traceID,
		MessageID: audit.SourceID,
		Config:    cfg,
		Payload:   audit.Payload,
	})
	for _, step := range outcome.Steps {
		o.logStep(ctx, traceID, step.Name, step.Outcome, step.Detail)
	}
	if err != nil {
		o.logStep(ctx, traceID, domain.StepDeliver, domain.OutcomeFailure, err.Error())
		o.finish(ctx, traceID, domain.ExecutionFailed, outcome, err.Error())
		return fmt.Errorf("integration %s: attempt: %w", cfg.ID, err)
	}
	if outcome.Success {
		o.finish(ctx, traceID, domain.ExecutionSuccess, outcome, "")
		return nil
	}
	if o.dlq == nil {
		o.finish(ctx, traceID, domain.ExecutionFailed, outcome, "delivery failed and no DLQ configured")
		return fmt.Errorf("integration %s: delivery failed and no DLQ configured", cfg.ID)
	}
	if _, err := o.dlq.Enqueue(ctx, traceID, audit.TenantID, cfg.ID, audit.Payload, outcome.Category, lastActionError(outcome), outcome.LastCompletedActionIndex, defaultMaxAttempts); err != nil {
		o.finish(ctx, traceID, domain.ExecutionFailed, outcome, err.Error())
		return fmt.Errorf("integration %s: dlq enqueue: %w", cfg.ID, err)
	}
	o.finish(ctx, traceID, domain.ExecutionRetrying, outcome, lastActionError(outcome))
	return fmt.Errorf("integration %s: delivery failed (%s), queued for retry", cfg.ID, outcome.Category)
}

// finish closes out a matched integration's ExecutionLog trace with its
// terminal status and the request/response snapshot the delivery attempt
// exchanged with the downstream, if any.
func (o *Orchestrator) finish(ctx context.Context, traceID string, status domain.ExecutionStatus, outcome delivery.Outcome, errDetail string) {
	if o.execlog == nil {
		return
	}
	if err := o.execlog.Finish(ctx, traceID, status, outcome.Request, outcome.Response, errDetail); err != nil && o.logger != nil {
		o.logger.WithContext(ctx).WithError(err).Error("finish execution log failed")
	}
}

func lastActionError(out delivery.Outcome) string {
	for i := len(out.ActionResults) - 1; i >= 0; i-- {
		if out.ActionResults[i].Error != "" {
			return out.ActionResults[i].Error
		}
	}
	return ""
}

func (o *Orchestrator) complete(ctx context.Context, audit domain.EventAudit, status domain.AuditStatus, lastError string) {
	if err := o.audit.CompleteAudit(ctx, audit.ID, o.claimedBy, status, lastError); err != nil && o.logger != nil {
		o.logger.WithContext(ctx).WithError(err).Error("complete audit row failed")
	}
}

func (o *Orchestrator) fail(ctx context.Context, audit domain.EventAudit, lastError string) {
	if err := o.audit.IncrementAttempts(ctx, audit.ID); err != nil && o.logger != nil {
		o.logger.WithContext(ctx).WithError(err).Error("increment audit attempts failed")
	}
	if o.logger != nil {
		o.logger.WithContext(ctx).WithFields(map[string]any{"auditId": audit.ID, "error": lastError}).Warn("event processing failed, returned to pending")
	}
}

func (o *Orchestrator) logStep(ctx context.Context, traceID string, name domain.StepName, outcome domain.StepOutcome, detail string) {
	if o.execlog != nil {
		_ = o.execlog.Append(ctx, traceID, name, outcome, detail)
	}
}

// Run polls ProcessOnce until ctx is cancelled, backing off to idleInterval
// whenever the ledger has nothing claimable.
func (o *Orchestrator) Run(ctx context.Context, idleInterval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		claimed, err := o.ProcessOnce(ctx)
		if err != nil && o.logger != nil {
			o.logger.WithError(err).Error("orchestrator process failed")
		}
		if !claimed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleInterval):
			}
		}
	}
}
