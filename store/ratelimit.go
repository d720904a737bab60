package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

// CheckAndIncrement performs the atomic rate-limit decision under a
// per-key row lock (SELECT ... FOR UPDATE), so concurrent workers racing on
// the same (integrationId, tenantId) key never double-count: denied
// requests are never counted toward the cap, matching §8's invariant.
func (s *Store) CheckAndIncrement(ctx context.Context, integrationID, tenantID string, now time.Time, spec domain.RateLimitSpec) (allowed bool, window domain.RateLimitWindow, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, domain.RateLimitWindow{}, err
	}
	defer tx.Rollback()

	var w domain.RateLimitWindow
	w.IntegrationID = integrationID
	w.TenantID = tenantID
	scanErr := tx.QueryRowContext(ctx, `
		SELECT window_start, count FROM rate_limits WHERE integration_id = $1 AND tenant_id = $2 FOR UPDATE
	`, integrationID, tenantID).Scan(&w.WindowStart, &w.Count)

	exists := scanErr == nil
	if scanErr != nil && scanErr != sql.ErrNoRows {
		return false, domain.RateLimitWindow{}, scanErr
	}
	if exists {
		w.WindowStart = w.WindowStart.UTC()
	}

	allowed, next := w.Allow(now, spec)
	next.IntegrationID = integrationID
	next.TenantID = tenantID

	if allowed {
		if exists {
			if _, err := tx.ExecContext(ctx, `
				UPDATE rate_limits SET window_start = $3, count = $4, updated_at = $5
				WHERE integration_id = $1 AND tenant_id = $2
			`, integrationID, tenantID, next.WindowStart, next.Count, now); err != nil {
				return false, domain.RateLimitWindow{}, err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rate_limits (integration_id, tenant_id, window_start, count, updated_at)
				VALUES ($1, $2, $3, $4, $5)
			`, integrationID, tenantID, next.WindowStart, next.Count, now); err != nil {
				return false, domain.RateLimitWindow{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, domain.RateLimitWindow{}, err
	}
	if allowed {
		return true, next, nil
	}
	return false, w, nil
}

// GetWindow reads the current window without mutating it, used for
// diagnostics/reporting.
func (s *Store) GetWindow(ctx context.Context, integrationID, tenantID string) (domain.RateLimitWindow, error) {
	var w domain.RateLimitWindow
	w.IntegrationID = integrationID
	w.TenantID = tenantID
	err := s.db.QueryRowContext(ctx, `
		SELECT window_start, count, updated_at FROM rate_limits WHERE integration_id = $1 AND tenant_id = $2
	`, integrationID, tenantID).Scan(&w.WindowStart, &w.Count, &w.UpdatedAt)
	if err != nil {
		return domain.RateLimitWindow{}, err
	}
	w.WindowStart = w.WindowStart.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}
