// Package schedule implements C11: turning a DELAYED/RECURRING scheduling
// script's result into a persisted ScheduledDelivery, and the worker loop
// that fires them when due.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/sandbox"
)

const defaultBatchSize = 200

// Store is the subset of store.Store the scheduler depends on.
type Store interface {
	CreateSchedule(ctx context.Context, d domain.ScheduledDelivery) (domain.ScheduledDelivery, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledDelivery, error)
	MarkFired(ctx context.Context, d domain.ScheduledDelivery) error
	MarkOverdue(ctx context.Context, id string) error
	CancelSchedule(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// ConfigSource resolves the integration config a scheduled delivery belongs to.
type ConfigSource interface {
	GetConfig(ctx context.Context, id string) (domain.IntegrationConfig, error)
}

// Deliverer is the subset of delivery.Engine the scheduler depends on.
type Deliverer interface {
	Attempt(ctx context.Context, req delivery.Request) (delivery.Outcome, error)
}

// DLQEnqueuer is the subset of dlq.Processor the scheduler depends on to park
// a failed scheduled fire for retry.
type DLQEnqueuer interface {
	Enqueue(ctx context.Context, traceID, tenantID, integrationID string, payload domain.Payload, category domain.ErrorCategory, lastError string, lastCompletedActionIndex int, maxAttempts int) (domain.DLQEntry, error)
}

// Scheduler creates scheduled deliveries from a scheduling script's result
// and fires due ones.
type Scheduler struct {
	store    Store
	configs  ConfigSource
	delivery Deliverer
	dlq      DLQEnqueuer
	sandbox  *sandbox.Runtime
	metrics  *metrics.Metrics
	logger   *logging.Logger
	now      func() time.Time

	batchSize int
}

// New creates a Scheduler. dlq may be nil to skip DLQ parking of failed fires.
func New(store Store, configs ConfigSource, d Deliverer, dlq DLQEnqueuer, rt *sandbox.Runtime, m *metrics.Metrics, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		configs:   configs,
		delivery:  d,
		dlq:       dlq,
		sandbox:   rt,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		batchSize: defaultBatchSize,
	}
}

// CreateFromScript runs cfg.SchedulingScript against payload and persists the
// resulting ScheduledDelivery, per spec §4.11:
//   - DELAYED: script returns a Unix-millis timestamp.
//   - RECURRING: script returns {firstOccurrence, intervalMs, maxOccurrences?, endAt?}.
func (s *Scheduler) CreateFromScript(ctx context.Context, traceID string, cfg domain.IntegrationConfig, payload domain.Payload) (domain.ScheduledDelivery, error) {
	res, err := s.sandbox.Run(ctx, sandbox.Request{
		Script:    cfg.SchedulingScript,
		Kind:      sandbox.KindScheduling,
		Payload:   payload,
		EventType: cfg.EventType,
		TenantID:  cfg.TenantID,
	})
	if err != nil {
		return domain.ScheduledDelivery{}, fmt.Errorf("scheduling script: %w", err)
	}
	exported := res.Value.Export()

	base := domain.ScheduledDelivery{
		TraceID:       traceID,
		TenantID:      cfg.TenantID,
		IntegrationID: cfg.ID,
		Payload:       payload,
	}

	switch cfg.DeliveryMode {
	case domain.DeliveryDelayed:
		ms, ok := toInt64(exported)
		if !ok {
			return domain.ScheduledDelivery{}, fmt.Errorf("scheduling script for DELAYED mode must return a unix-millis timestamp, got %T", exported)
		}
		base.Kind = domain.ScheduleDelayed
		base.FireAt = time.UnixMilli(ms)
		return s.store.CreateSchedule(ctx, base)

	case domain.DeliveryRecurring:
		m, ok := exported.(map[string]any)
		if !ok {
			return domain.ScheduledDelivery{}, fmt.Errorf("scheduling script for RECURRING mode must return an object, got %T", exported)
		}
		var fireAt time.Time
		var interval int64
		if cronExpr, ok := m["cron"].(string); ok && cronExpr != "" {
			var err error
			fireAt, interval, err = cronOccurrences(cronExpr, s.now())
			if err != nil {
				return domain.ScheduledDelivery{}, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
			}
		} else {
			first, ok := toInt64(m["firstOccurrence"])
			if !ok {
				return domain.ScheduledDelivery{}, fmt.Errorf("recurring schedule missing firstOccurrence")
			}
			interval, ok = toInt64(m["intervalMs"])
			if !ok || interval <= 0 {
				return domain.ScheduledDelivery{}, fmt.Errorf("recurring schedule requires a positive intervalMs")
			}
			fireAt = time.UnixMilli(first)
		}
		base.Kind = domain.ScheduleRecurring
		base.FireAt = fireAt
		base.IntervalMs = interval
		if maxOcc, ok := toInt64(m["maxOccurrences"]); ok && maxOcc > 0 {
			base.MaxOccurrences = int(maxOcc)
		}
		if endAt, ok := toInt64(m["endAt"]); ok && endAt > 0 {
			base.EndAt = time.UnixMilli(endAt)
		}
		return s.store.CreateSchedule(ctx, base)

	default:
		return domain.ScheduledDelivery{}, fmt.Errorf("CreateFromScript called for non-scheduled deliveryMode %q", cfg.DeliveryMode)
	}
}

// SweepOnce fires every due scheduled delivery (up to the batch size),
// returning how many it processed.
func (s *Scheduler) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.store.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}
	for _, sd := range due {
		s.fireDue(ctx, sd)
	}
	return len(due), nil
}

// Cancel marks a PENDING/OVERDUE schedule CANCELLED (operator action).
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.store.CancelSchedule(ctx, id)
}

// fireDue fires sd's missed occurrences within a single sweep tick: one for a
// DELAYED delivery, or up to min(missed, MaxCatchUpFires) for a RECURRING one
// that has fallen behind, per §4.11. A recurring schedule further behind than
// MaxCatchUpFires is flagged OVERDUE for operator attention but still catches
// up by MaxCatchUpFires occurrences rather than jumping straight to "now".
func (s *Scheduler) fireDue(ctx context.Context, sd domain.ScheduledDelivery) {
	fires := 1
	if sd.Kind == domain.ScheduleRecurring {
		missed := sd.MissedOccurrences(s.now())
		if missed > domain.MaxCatchUpFires {
			if err := s.store.MarkOverdue(ctx, sd.ID); err != nil {
				s.logWarn(ctx, sd, "failed to mark overdue: "+err.Error())
			}
			fires = domain.MaxCatchUpFires
		} else if missed > 1 {
			fires = missed
		}
	}

	current := sd
	for i := 0; i < fires; i++ {
		if !s.fireOne(ctx, current) {
			return
		}
		if current.Kind != domain.ScheduleRecurring {
			return
		}
		current.FireAt = current.NextFireAt()
		current.FireCount++
		if current.Exhausted(s.now()) {
			return
		}
	}
}

// fireOne fires a single due occurrence of sd and reports whether the
// schedule is still viable for a further catch-up fire within this tick.
func (s *Scheduler) fireOne(ctx context.Context, sd domain.ScheduledDelivery) bool {
	cfg, err := s.configs.GetConfig(ctx, sd.IntegrationID)
	if err != nil {
		s.logWarn(ctx, sd, "config lookup failed: "+err.Error())
		if markErr := s.store.MarkFailed(ctx, sd.ID); markErr != nil {
			s.logWarn(ctx, sd, "failed to mark failed: "+markErr.Error())
		}
		return false
	}

	outcome, err := s.delivery.Attempt(ctx, delivery.Request{
		TraceID:   sd.TraceID,
		MessageID: sd.ID,
		Config:    cfg,
		Payload:   sd.Payload,
	})

	if err != nil || !outcome.Success {
		category := domain.CategoryUnknown
		detail := "scheduled delivery failed"
		if err != nil {
			detail = err.Error()
		} else {
			category = outcome.Category
			detail = lastStepDetail(outcome)
		}
		if s.dlq != nil {
			if _, enqErr := s.dlq.Enqueue(ctx, sd.TraceID, sd.TenantID, sd.IntegrationID, sd.Payload, category, detail, outcome.LastCompletedActionIndex, 0); enqErr != nil {
				s.logWarn(ctx, sd, "failed to enqueue dlq entry: "+enqErr.Error())
			}
		}
		if markErr := s.store.MarkFailed(ctx, sd.ID); markErr != nil {
			s.logWarn(ctx, sd, "failed to mark failed: "+markErr.Error())
		}
		return false
	}

	if s.metrics != nil {
		s.metrics.RecordScheduledFired(sd.IntegrationID, string(sd.Kind))
	}

	if err := s.store.MarkFired(ctx, sd); err != nil {
		s.logWarn(ctx, sd, "failed to mark fired: "+err.Error())
		return false
	}

	if sd.Kind == domain.ScheduleRecurring {
		advanced := sd
		advanced.FireCount++
		if advanced.Exhausted(s.now()) {
			if err := s.store.CancelSchedule(ctx, sd.ID); err != nil {
				s.logWarn(ctx, sd, "failed to terminate exhausted recurring schedule: "+err.Error())
			}
			return false
		}
	}

	return true
}

// cronOccurrences resolves a standard 5-field cron expression's next
// occurrence after from and the interval to the one after that, used as the
// RECURRING schedule's FireAt/IntervalMs shorthand when a scheduling script
// returns a cron expression instead of an explicit firstOccurrence/intervalMs
// pair. IntervalMs is therefore an approximation when the expression doesn't
// describe a fixed-width cadence (e.g. "0 9 * * 1-5" around a weekend gap).
func cronOccurrences(expr string, from time.Time) (time.Time, int64, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, 0, err
	}
	first := schedule.Next(from)
	second := schedule.Next(first)
	return first, second.Sub(first).Milliseconds(), nil
}

func lastStepDetail(outcome delivery.Outcome) string {
	if len(outcome.Steps) > 0 {
		return outcome.Steps[len(outcome.Steps)-1].Detail
	}
	return string(outcome.Category)
}

func (s *Scheduler) logWarn(ctx context.Context, sd domain.ScheduledDelivery, message string) {
	if s.logger == nil {
		return
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"scheduleId":    sd.ID,
		"integrationId": sd.IntegrationID,
	}).Warn(message)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
