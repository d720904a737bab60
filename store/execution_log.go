package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

const executionLogColumns = `trace_id, tenant_id, integration_id, event_type, message_id, direction,
	trigger_type, status, started_at, finished_at, duration_ms, request, response, error, steps,
	created_at, updated_at`

// CreateExecutionLog inserts the header row for a new trace. Steps are
// appended separately via AppendStep so a long-running delivery's timeline
// is visible before it completes.
func (s *Store) CreateExecutionLog(ctx context.Context, l domain.ExecutionLog) (domain.ExecutionLog, error) {
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.Status == "" {
		l.Status = domain.ExecutionPending
	}
	if l.StartedAt.IsZero() {
		l.StartedAt = now
	}

	stepsJSON, err := json.Marshal(l.Steps)
	if err != nil {
		return domain.ExecutionLog{}, err
	}
	reqJSON, err := json.Marshal(l.Request)
	if err != nil {
		return domain.ExecutionLog{}, err
	}
	respJSON, err := json.Marshal(l.Response)
	if err != nil {
		return domain.ExecutionLog{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (trace_id, tenant_id, integration_id, event_type, message_id, direction,
			trigger_type, status, started_at, finished_at, duration_ms, request, response, error, steps,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (trace_id) DO NOTHING
	`, l.TraceID, l.TenantID, toNullString(l.IntegrationID), l.EventType, toNullString(l.MessageID),
		toNullString(string(l.Direction)), toNullString(string(l.TriggerType)), string(l.Status),
		toNullTime(l.StartedAt), toNullTime(l.FinishedAt), l.DurationMs, reqJSON, respJSON, l.Error,
		stepsJSON, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return domain.ExecutionLog{}, err
	}
	return l, nil
}

// AppendStep appends one step to a trace's timeline. The read-modify-write
// is guarded by SELECT ... FOR UPDATE since a multi-action chain can append
// steps from sequential but independently-scheduled goroutine hops.
func (s *Store) AppendStep(ctx context.Context, traceID string, step domain.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stepsRaw []byte
	if err := tx.QueryRowContext(ctx, `SELECT steps FROM execution_logs WHERE trace_id = $1 FOR UPDATE`, traceID).Scan(&stepsRaw); err != nil {
		return err
	}
	var steps []domain.Step
	if len(stepsRaw) > 0 {
		if err := json.Unmarshal(stepsRaw, &steps); err != nil {
			return err
		}
	}
	log := domain.ExecutionLog{Steps: steps}
	log.AppendStep(step)

	merged, err := json.Marshal(log.Steps)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE execution_logs SET steps = $2, updated_at = $3 WHERE trace_id = $1`,
		traceID, merged, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishExecutionLog records a trace's terminal status, request/response
// snapshot and duration. Called once per trace, when its pipeline either
// delivers successfully or exhausts its attempts.
func (s *Store) FinishExecutionLog(ctx context.Context, traceID string, status domain.ExecutionStatus, req domain.RequestSnapshot, resp domain.ResponseSnapshot, errDetail string, finishedAt time.Time) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return err
	}
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	var startedAt sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT started_at FROM execution_logs WHERE trace_id = $1`, traceID).Scan(&startedAt); err != nil {
		return err
	}
	var durationMs int64
	if startedAt.Valid {
		durationMs = finishedAt.Sub(startedAt.Time).Milliseconds()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE execution_logs
		SET status = $2, finished_at = $3, duration_ms = $4, request = $5, response = $6, error = $7, updated_at = $8
		WHERE trace_id = $1
	`, traceID, string(status), finishedAt.UTC(), durationMs, reqJSON, respJSON, errDetail, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetExecutionLog fetches a trace's full timeline by traceId.
func (s *Store) GetExecutionLog(ctx context.Context, traceID string) (domain.ExecutionLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionLogColumns+` FROM execution_logs WHERE trace_id = $1`, traceID)
	return scanExecutionLog(row)
}

// ListExecutionLogs returns recent traces for a tenant, newest first,
// bounded by limit.
func (s *Store) ListExecutionLogs(ctx context.Context, tenantID string, limit int) ([]domain.ExecutionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionLogColumns+`
		FROM execution_logs
		WHERE $1 = '' OR tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExecutionLog
	for rows.Next() {
		l, err := scanExecutionLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanExecutionLog(s rowScanner) (domain.ExecutionLog, error) {
	var (
		l           domain.ExecutionLog
		integID     sql.NullString
		messageID   sql.NullString
		direction   sql.NullString
		triggerType sql.NullString
		status      string
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
		reqRaw      []byte
		respRaw     []byte
		stepsRaw    []byte
	)
	if err := s.Scan(&l.TraceID, &l.TenantID, &integID, &l.EventType, &messageID, &direction, &triggerType,
		&status, &startedAt, &finishedAt, &l.DurationMs, &reqRaw, &respRaw, &l.Error, &stepsRaw,
		&l.CreatedAt, &l.UpdatedAt); err != nil {
		return domain.ExecutionLog{}, err
	}
	l.IntegrationID = fromNullString(integID)
	l.MessageID = fromNullString(messageID)
	l.Direction = domain.Direction(fromNullString(direction))
	l.TriggerType = domain.TriggerType(fromNullString(triggerType))
	l.Status = domain.ExecutionStatus(status)
	l.StartedAt = fromNullTime(startedAt)
	l.FinishedAt = fromNullTime(finishedAt)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	if len(reqRaw) > 0 {
		if err := json.Unmarshal(reqRaw, &l.Request); err != nil {
			return domain.ExecutionLog{}, err
		}
	}
	if len(respRaw) > 0 {
		if err := json.Unmarshal(respRaw, &l.Response); err != nil {
			return domain.ExecutionLog{}, err
		}
	}
	if len(stepsRaw) > 0 {
		if err := json.Unmarshal(stepsRaw, &l.Steps); err != nil {
			return domain.ExecutionLog{}, err
		}
	}
	return l, nil
}
