package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// QueryContext exposes the underlying connection to the relational source
// adapter, which needs to run its own poll query (source.Querier).
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// GetCheckpoint reads a source adapter's persisted read position (e.g. the
// relational poller's last-seen row id). Returns 0 with no error if the key
// has never been set, so a fresh adapter starts from the beginning.
func (s *Store) GetCheckpoint(ctx context.Context, key string) (int64, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var checkpoint int64
	if err := json.Unmarshal(raw, &checkpoint); err != nil {
		return 0, err
	}
	return checkpoint, nil
}

// SetCheckpoint persists a source adapter's read position, upserting the
// system_config row.
func (s *Store) SetCheckpoint(ctx context.Context, key string, value int64) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, raw, time.Now().UTC())
	return err
}
