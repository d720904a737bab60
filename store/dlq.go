package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

const dlqColumns = `id, trace_id, tenant_id, integration_id, payload, category, status, attempts,
	max_attempts, last_error, last_completed_action_index, next_retry_at, created_at, updated_at`

func scanDLQEntry(s rowScanner) (domain.DLQEntry, error) {
	var (
		e          domain.DLQEntry
		payloadRaw []byte
		category   string
		status     string
		nextRetry  sql.NullTime
	)
	if err := s.Scan(&e.ID, &e.TraceID, &e.TenantID, &e.IntegrationID, &payloadRaw, &category, &status,
		&e.Attempts, &e.MaxAttempts, &e.LastError, &e.LastCompletedActionIndex, &nextRetry,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.DLQEntry{}, err
	}
	e.Category = domain.ErrorCategory(category)
	e.Status = domain.DLQStatus(status)
	e.NextRetryAt = fromNullTime(nextRetry)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	payload, err := domain.ParsePayload(payloadRaw)
	if err != nil {
		return domain.DLQEntry{}, err
	}
	e.Payload = payload
	return e, nil
}

// CreateDLQEntry parks a failed delivery for retry or operator review.
func (s *Store) CreateDLQEntry(ctx context.Context, e domain.DLQEntry) (domain.DLQEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = domain.DLQPendingRetry
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_deliveries (`+dlqColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, e.ID, e.TraceID, e.TenantID, e.IntegrationID, e.Payload.Bytes(), string(e.Category), string(e.Status),
		e.Attempts, e.MaxAttempts, e.LastError, e.LastCompletedActionIndex, toNullTime(e.NextRetryAt),
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return domain.DLQEntry{}, err
	}
	return e, nil
}

// GetDLQEntry fetches one entry by id.
func (s *Store) GetDLQEntry(ctx context.Context, id string) (domain.DLQEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dlqColumns+` FROM failed_deliveries WHERE id = $1`, id)
	return scanDLQEntry(row)
}

// ListDueForRetry returns pending entries whose nextRetryAt has passed,
// ordered oldest-due-first. Matches the required
// failed_deliveries.(status, nextRetryAt) index.
func (s *Store) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dlqColumns+` FROM failed_deliveries
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at
		LIMIT $3
	`, string(domain.DLQPendingRetry), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DLQEntry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListByTenant returns DLQ entries for operator browsing, optionally
// filtered by status.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, status domain.DLQStatus, limit int) ([]domain.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dlqColumns+` FROM failed_deliveries
		WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DLQEntry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TransitionStatus performs a CAS status transition, rejecting any
// transition not legal per domain.CanTransition, and additionally sets
// nextRetryAt/lastError/lastCompletedActionIndex as provided.
func (s *Store) TransitionStatus(ctx context.Context, id string, to domain.DLQStatus, attempts int, lastError string, lastCompletedActionIndex int, nextRetryAt time.Time) error {
	existing, err := s.GetDLQEntry(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(existing.Status, to) {
		return fmt.Errorf("illegal DLQ transition %s -> %s", existing.Status, to)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE failed_deliveries
		SET status = $3, attempts = $4, last_error = $5, last_completed_action_index = $6,
			next_retry_at = $7, updated_at = $8
		WHERE id = $1 AND status = $2
	`, id, string(existing.Status), string(to), attempts, lastError, lastCompletedActionIndex,
		toNullTime(nextRetryAt), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteDLQEntry permanently removes an entry (operator action, not part of
// the normal lifecycle).
func (s *Store) DeleteDLQEntry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM failed_deliveries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Stats summarizes DLQ composition for the /dlq/stats surface.
type Stats struct {
	ByStatus   map[domain.DLQStatus]int64
	ByCategory map[domain.ErrorCategory]int64
}

// GetStats aggregates counts by status and category across the whole table
// (or one tenant, when tenantID is non-empty).
func (s *Store) GetStats(ctx context.Context, tenantID string) (Stats, error) {
	stats := Stats{ByStatus: map[domain.DLQStatus]int64{}, ByCategory: map[domain.ErrorCategory]int64{}}

	statusRows, err := s.db.QueryContext(ctx, `
		SELECT status, count(*) FROM failed_deliveries WHERE $1 = '' OR tenant_id = $1 GROUP BY status
	`, tenantID)
	if err != nil {
		return Stats{}, err
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var count int64
		if err := statusRows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.ByStatus[domain.DLQStatus(status)] = count
	}

	catRows, err := s.db.QueryContext(ctx, `
		SELECT category, count(*) FROM failed_deliveries WHERE $1 = '' OR tenant_id = $1 GROUP BY category
	`, tenantID)
	if err != nil {
		return Stats{}, err
	}
	defer catRows.Close()
	for catRows.Next() {
		var category string
		var count int64
		if err := catRows.Scan(&category, &count); err != nil {
			return Stats{}, err
		}
		stats.ByCategory[domain.ErrorCategory(category)] = count
	}
	return stats, statusRows.Err()
}
