package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

const scheduleColumns = `id, trace_id, tenant_id, integration_id, kind, payload, fire_at, interval_ms,
	max_occurrences, end_at, status, fire_count, created_at, updated_at`

func scanSchedule(s rowScanner) (domain.ScheduledDelivery, error) {
	var (
		d              domain.ScheduledDelivery
		payloadRaw     []byte
		kind           string
		status         string
		intervalMs     sql.NullInt64
		maxOccurrences sql.NullInt64
		endAt          sql.NullTime
	)
	if err := s.Scan(&d.ID, &d.TraceID, &d.TenantID, &d.IntegrationID, &kind, &payloadRaw, &d.FireAt,
		&intervalMs, &maxOccurrences, &endAt, &status, &d.FireCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.ScheduledDelivery{}, err
	}
	d.Kind = domain.ScheduleKind(kind)
	d.Status = domain.ScheduleStatus(status)
	d.IntervalMs = intervalMs.Int64
	d.MaxOccurrences = int(maxOccurrences.Int64)
	d.EndAt = fromNullTime(endAt)
	d.FireAt = d.FireAt.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	payload, err := domain.ParsePayload(payloadRaw)
	if err != nil {
		return domain.ScheduledDelivery{}, err
	}
	d.Payload = payload
	return d, nil
}

// CreateSchedule parks a delivery produced by a DELAYED/RECURRING
// scheduling script.
func (s *Store) CreateSchedule(ctx context.Context, d domain.ScheduledDelivery) (domain.ScheduledDelivery, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = domain.SchedulePending
	}

	var intervalMs sql.NullInt64
	if d.IntervalMs > 0 {
		intervalMs = sql.NullInt64{Int64: d.IntervalMs, Valid: true}
	}
	var maxOccurrences sql.NullInt64
	if d.MaxOccurrences > 0 {
		maxOccurrences = sql.NullInt64{Int64: int64(d.MaxOccurrences), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_deliveries (`+scheduleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, d.ID, d.TraceID, d.TenantID, d.IntegrationID, string(d.Kind), d.Payload.Bytes(), d.FireAt,
		intervalMs, maxOccurrences, toNullTime(d.EndAt), string(d.Status), d.FireCount, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return domain.ScheduledDelivery{}, err
	}
	return d, nil
}

// ListDue returns PENDING/OVERDUE deliveries whose fireAt has passed,
// matching the required scheduled_deliveries.(status, fireAt) index.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledDelivery, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM scheduled_deliveries
		WHERE status IN ('PENDING','OVERDUE') AND fire_at <= $1
		ORDER BY fire_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledDelivery
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkFired transitions a one-shot DELAYED delivery to SENT, or advances a
// RECURRING delivery's fireAt by one interval and bumps fireCount.
func (s *Store) MarkFired(ctx context.Context, d domain.ScheduledDelivery) error {
	if d.Kind == domain.ScheduleRecurring {
		_, err := s.db.ExecContext(ctx, `
			UPDATE scheduled_deliveries
			SET status = $2, fire_at = $3, fire_count = $4, updated_at = $5
			WHERE id = $1
		`, d.ID, string(domain.SchedulePending), d.NextFireAt(), d.FireCount+1, time.Now().UTC())
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_deliveries SET status = $2, fire_count = $3, updated_at = $4 WHERE id = $1
	`, d.ID, string(domain.ScheduleSent), d.FireCount+1, time.Now().UTC())
	return err
}

// MarkOverdue flags a delivery whose remaining missed occurrences exceed
// the per-tick catch-up cap, so it is picked up again next tick instead of
// firing a thundering herd now.
func (s *Store) MarkOverdue(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_deliveries SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(domain.ScheduleOverdue), time.Now().UTC())
	return err
}

// CancelSchedule marks a pending delivery CANCELLED (operator action).
func (s *Store) CancelSchedule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_deliveries SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ('PENDING','OVERDUE')
	`, id, string(domain.ScheduleCancelled), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFailed records a delivery attempt failure.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_deliveries SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(domain.ScheduleFailed), time.Now().UTC())
	return err
}
