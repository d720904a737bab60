package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

const auditColumns = `id, source_id, tenant_id, event_type, payload, status, claimed_by, claimed_at,
	attempts, last_error, created_at, updated_at`

func scanAudit(s rowScanner) (domain.EventAudit, error) {
	var (
		a           domain.EventAudit
		payloadRaw  []byte
		claimedBy   sql.NullString
		claimedAt   sql.NullTime
		lastError   sql.NullString
		status      string
	)
	if err := s.Scan(&a.ID, &a.SourceID, &a.TenantID, &a.EventType, &payloadRaw, &status, &claimedBy,
		&claimedAt, &a.Attempts, &lastError, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.EventAudit{}, err
	}
	a.Status = domain.AuditStatus(status)
	a.ClaimedBy = fromNullString(claimedBy)
	a.ClaimedAt = fromNullTime(claimedAt)
	a.LastError = fromNullString(lastError)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	payload, err := domain.ParsePayload(payloadRaw)
	if err != nil {
		return domain.EventAudit{}, err
	}
	a.Payload = payload
	return a, nil
}

// CreateAuditRow inserts the PENDING claim row for a newly ingested source
// event. sourceId+tenantId is unique, so a duplicate insert from an
// at-least-once source is rejected by the unique constraint rather than
// silently creating a second claim.
func (s *Store) CreateAuditRow(ctx context.Context, a domain.EventAudit) (domain.EventAudit, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = domain.AuditPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_audit (`+auditColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (source_id, tenant_id) DO NOTHING
	`, a.ID, a.SourceID, a.TenantID, a.EventType, a.Payload.Bytes(), string(a.Status),
		toNullString(a.ClaimedBy), toNullTime(a.ClaimedAt), a.Attempts, toNullString(a.LastError),
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return domain.EventAudit{}, err
	}
	return a, nil
}

// ClaimNext atomically claims one PENDING row for worker "claimedBy", turning
// the at-least-once source feed into exactly-once downstream processing via a
// single UPDATE ... WHERE status = 'PENDING' RETURNING. STUCK rows are never
// auto-claimed here; see RequeueStuck. Returns sql.ErrNoRows if nothing is
// claimable right now.
func (s *Store) ClaimNext(ctx context.Context, claimedBy string, now time.Time) (domain.EventAudit, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE event_audit
		SET status = 'PROCESSING', claimed_by = $1, claimed_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM event_audit
			WHERE status = 'PENDING'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+auditColumns, claimedBy, now)
	return scanAudit(row)
}

// RequeueStuck is the explicit operator action that returns a STUCK row to
// PENDING so it becomes claimable again. CAS on status = 'STUCK' so a row
// already requeued or claimed by another operator call is left alone.
func (s *Store) RequeueStuck(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE event_audit
		SET status = 'PENDING', claimed_by = NULL, claimed_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'STUCK'
	`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CompleteAudit transitions a claimed row to a terminal status (PROCESSED,
// SKIPPED, FAILED), guarded by a CAS on claimedBy so a reclaimed row from a
// dead worker can't be finished twice.
func (s *Store) CompleteAudit(ctx context.Context, id, claimedBy string, status domain.AuditStatus, lastError string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE event_audit
		SET status = $3, last_error = $4, updated_at = $5
		WHERE id = $1 AND claimed_by = $2
	`, id, claimedBy, string(status), toNullString(lastError), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementAttempts bumps the retry counter on a claimed row, used when a
// transient failure returns the row to PENDING for another pass.
func (s *Store) IncrementAttempts(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE event_audit SET attempts = attempts + 1, status = 'PENDING', claimed_by = NULL,
			claimed_at = NULL, updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	return err
}

// SweepStuck marks rows that have been PROCESSING past the stuck threshold
// as STUCK. ClaimNext does not claim STUCK rows; they wait for RequeueStuck.
// Run periodically by a watchdog.
func (s *Store) SweepStuck(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE event_audit SET status = 'STUCK', updated_at = $2
		WHERE status = 'PROCESSING' AND claimed_at < $1
	`, now.Add(-domain.StuckThreshold), now)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
