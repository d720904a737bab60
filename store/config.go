package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

// configRow mirrors integration_configs for sqlx's bulk reload scan; the
// single-row CRUD paths below use database/sql directly.
type configRow struct {
	ID                 string         `db:"id"`
	TenantID           string         `db:"tenant_id"`
	Name               string         `db:"name"`
	Direction          string         `db:"direction"`
	IsActive           bool           `db:"is_active"`
	EventType          string         `db:"event_type"`
	Scope              string         `db:"scope"`
	ExcludedChildren   pq.StringArray `db:"excluded_children"`
	TargetURL          string         `db:"target_url"`
	HTTPMethod         string         `db:"http_method"`
	TimeoutMs          int            `db:"timeout_ms"`
	RetryCount         int            `db:"retry_count"`
	Headers            []byte         `db:"headers"`
	Auth               []byte         `db:"auth"`
	InboundAuth        []byte         `db:"inbound_auth"`
	Transformation     []byte         `db:"transformation"`
	Lookups            []byte         `db:"lookups"`
	Condition          sql.NullString `db:"condition"`
	RateLimits         []byte         `db:"rate_limits"`
	Signing            []byte         `db:"signing"`
	DeliveryMode       string         `db:"delivery_mode"`
	SchedulingScript   sql.NullString `db:"scheduling_script"`
	Actions            []byte         `db:"actions"`
	MultiActionDelayMs int            `db:"multi_action_delay_ms"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r configRow) toDomain() (domain.IntegrationConfig, error) {
	c := domain.IntegrationConfig{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		Name:               r.Name,
		Direction:          domain.Direction(r.Direction),
		IsActive:           r.IsActive,
		EventType:          r.EventType,
		Scope:              domain.Scope(r.Scope),
		TargetURL:          r.TargetURL,
		HTTPMethod:         r.HTTPMethod,
		TimeoutMs:          r.TimeoutMs,
		RetryCount:         r.RetryCount,
		Condition:          fromNullString(r.Condition),
		DeliveryMode:       domain.DeliveryMode(r.DeliveryMode),
		SchedulingScript:   fromNullString(r.SchedulingScript),
		MultiActionDelayMs: r.MultiActionDelayMs,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if len(r.ExcludedChildren) > 0 {
		c.ExcludedChildren = make(map[string]bool, len(r.ExcludedChildren))
		for _, id := range r.ExcludedChildren {
			c.ExcludedChildren[id] = true
		}
	}
	if err := unmarshalIfSet(r.Headers, &c.Headers); err != nil {
		return domain.IntegrationConfig{}, err
	}
	if err := unmarshalIfSet(r.Auth, &c.Auth); err != nil {
		return domain.IntegrationConfig{}, err
	}
	if len(r.Auth) > 0 {
		var cached cachedTokenJSON
		if err := json.Unmarshal(r.Auth, &cached); err != nil {
			return domain.IntegrationConfig{}, err
		}
		c.Auth.Cached = domain.CachedToken{Token: cached.Token, ExpiresAt: cached.ExpiresAt, LastFetched: cached.LastFetched}
	}
	if len(r.InboundAuth) > 0 {
		var a domain.AuthSpec
		if err := json.Unmarshal(r.InboundAuth, &a); err != nil {
			return domain.IntegrationConfig{}, err
		}
		c.InboundAuth = &a
	}
	if err := unmarshalIfSet(r.Transformation, &c.Transformation); err != nil {
		return domain.IntegrationConfig{}, err
	}
	if err := unmarshalIfSet(r.Lookups, &c.Lookups); err != nil {
		return domain.IntegrationConfig{}, err
	}
	if err := unmarshalIfSet(r.RateLimits, &c.RateLimits); err != nil {
		return domain.IntegrationConfig{}, err
	}
	if err := unmarshalIfSet(r.Signing, &c.Signing); err != nil {
		return domain.IntegrationConfig{}, err
	}
	if err := unmarshalIfSet(r.Actions, &c.Actions); err != nil {
		return domain.IntegrationConfig{}, err
	}
	return c, nil
}

func unmarshalIfSet(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

const configColumns = `id, tenant_id, name, direction, is_active, event_type, scope, excluded_children,
	target_url, http_method, timeout_ms, retry_count, headers, auth, inbound_auth, transformation,
	lookups, condition, rate_limits, signing, delivery_mode, scheduling_script, actions,
	multi_action_delay_ms, created_at, updated_at`

func scanConfig(s rowScanner) (domain.IntegrationConfig, error) {
	var r configRow
	err := s.Scan(&r.ID, &r.TenantID, &r.Name, &r.Direction, &r.IsActive, &r.EventType, &r.Scope,
		&r.ExcludedChildren, &r.TargetURL, &r.HTTPMethod, &r.TimeoutMs, &r.RetryCount, &r.Headers,
		&r.Auth, &r.InboundAuth, &r.Transformation, &r.Lookups, &r.Condition, &r.RateLimits,
		&r.Signing, &r.DeliveryMode, &r.SchedulingScript, &r.Actions, &r.MultiActionDelayMs,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}
	return r.toDomain()
}

// CreateConfig inserts a new integration config.
func (s *Store) CreateConfig(ctx context.Context, c domain.IntegrationConfig) (domain.IntegrationConfig, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	marshaled, err := marshalConfigFields(c)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integration_configs (`+configColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
	`, c.ID, c.TenantID, c.Name, string(c.Direction), c.IsActive, c.EventType, string(c.Scope),
		pq.Array(excludedChildrenSlice(c.ExcludedChildren)), c.TargetURL, c.HTTPMethod, c.TimeoutMs,
		c.RetryCount, marshaled.headers, marshaled.auth, marshaled.inboundAuth, marshaled.transformation,
		marshaled.lookups, toNullString(c.Condition), marshaled.rateLimits, marshaled.signing,
		string(c.DeliveryMode), toNullString(c.SchedulingScript), marshaled.actions,
		c.MultiActionDelayMs, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}
	return c, nil
}

// UpdateConfig overwrites an existing config in place.
func (s *Store) UpdateConfig(ctx context.Context, c domain.IntegrationConfig) (domain.IntegrationConfig, error) {
	c.UpdatedAt = time.Now().UTC()

	marshaled, err := marshalConfigFields(c)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE integration_configs SET
			tenant_id=$2, name=$3, direction=$4, is_active=$5, event_type=$6, scope=$7,
			excluded_children=$8, target_url=$9, http_method=$10, timeout_ms=$11, retry_count=$12,
			headers=$13, auth=$14::jsonb || jsonb_strip_nulls(jsonb_build_object(
				'cachedToken', auth->'cachedToken', 'tokenExpiresAt', auth->'tokenExpiresAt',
				'tokenLastFetched', auth->'tokenLastFetched')), inbound_auth=$15, transformation=$16, lookups=$17, condition=$18,
			rate_limits=$19, signing=$20, delivery_mode=$21, scheduling_script=$22, actions=$23,
			multi_action_delay_ms=$24, updated_at=$25
		WHERE id=$1
	`, c.ID, c.TenantID, c.Name, string(c.Direction), c.IsActive, c.EventType, string(c.Scope),
		pq.Array(excludedChildrenSlice(c.ExcludedChildren)), c.TargetURL, c.HTTPMethod, c.TimeoutMs,
		c.RetryCount, marshaled.headers, marshaled.auth, marshaled.inboundAuth, marshaled.transformation,
		marshaled.lookups, toNullString(c.Condition), marshaled.rateLimits, marshaled.signing,
		string(c.DeliveryMode), toNullString(c.SchedulingScript), marshaled.actions,
		c.MultiActionDelayMs, c.UpdatedAt)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.IntegrationConfig{}, sql.ErrNoRows
	}
	return c, nil
}

// GetConfig fetches one config by id.
func (s *Store) GetConfig(ctx context.Context, id string) (domain.IntegrationConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM integration_configs WHERE id = $1`, id)
	return scanConfig(row)
}

// ListForTenantAndEvent returns active configs matching the literal event
// type or wildcard "*", for any tenant (the matcher applies hierarchy and
// excludedChildren filtering itself; this query is intentionally broad so
// the matcher's ancestor-walk can be expressed over an in-memory list).
func (s *Store) ListForTenantAndEvent(ctx context.Context, eventType string) ([]domain.IntegrationConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+configColumns+` FROM integration_configs
		WHERE is_active = true AND (event_type = $1 OR event_type = '*')
		ORDER BY created_at, id
	`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.IntegrationConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetInboundConfig fetches the active INBOUND-direction config for one
// tenant/eventType pair, the lookup key the inbound proxy endpoint is
// addressed by (spec §9: `POST /api/v1/integrations/:type?orgId=...`).
func (s *Store) GetInboundConfig(ctx context.Context, tenantID, eventType string) (domain.IntegrationConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configColumns+` FROM integration_configs
		WHERE tenant_id = $1 AND event_type = $2 AND direction = $3 AND is_active = true
	`, tenantID, eventType, string(domain.DirectionInbound))
	return scanConfig(row)
}

// ListAllActive bulk-loads every active config via sqlx, used by the config
// cache's periodic full reload.
func ListAllActive(ctx context.Context, dbx *sqlx.DB) ([]domain.IntegrationConfig, error) {
	var rows []configRow
	if err := dbx.SelectContext(ctx, &rows, `SELECT `+configColumns+` FROM integration_configs WHERE is_active = true ORDER BY created_at, id`); err != nil {
		return nil, err
	}
	out := make([]domain.IntegrationConfig, 0, len(rows))
	for _, r := range rows {
		c, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// cachedTokenJSON mirrors the wire shape of domain.CachedToken. The cache is
// deliberately excluded from domain.AuthSpec's own JSON tags (`json:"-"` on
// Cached) so that a normal CreateConfig/UpdateConfig save can never clobber
// it; this type lets UpdateTokenCache and scanConfig read/write those same
// keys directly against the raw auth column.
type cachedTokenJSON struct {
	Token       string    `json:"cachedToken,omitempty"`
	ExpiresAt   time.Time `json:"tokenExpiresAt,omitempty"`
	LastFetched time.Time `json:"tokenLastFetched,omitempty"`
}

// UpdateTokenCache writes the OAuth2/CUSTOM token cache fields directly,
// bypassing the read-through cache (§3: "token-cache fields ... must bypass
// the cache"). A per-integration advisory lock keyed on the config id
// serializes concurrent refreshes from multiple workers.
func (s *Store) UpdateTokenCache(ctx context.Context, id string, cached domain.CachedToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return err
	}

	var authRaw []byte
	if err := tx.QueryRowContext(ctx, `SELECT auth FROM integration_configs WHERE id = $1 FOR UPDATE`, id).Scan(&authRaw); err != nil {
		return err
	}
	var fields map[string]any
	if len(authRaw) > 0 {
		if err := json.Unmarshal(authRaw, &fields); err != nil {
			return err
		}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	tokenJSON, err := json.Marshal(cachedTokenJSON{Token: cached.Token, ExpiresAt: cached.ExpiresAt, LastFetched: cached.LastFetched})
	if err != nil {
		return err
	}
	var tokenFields map[string]any
	if err := json.Unmarshal(tokenJSON, &tokenFields); err != nil {
		return err
	}
	for k, v := range tokenFields {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE integration_configs SET auth = $2, updated_at = $3 WHERE id = $1`, id, merged, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// RotateSigningSecret adds a new primary signing secret, demoting the prior
// primary, keeping at most 3 entries (oldest dropped beyond that).
func (s *Store) RotateSigningSecret(ctx context.Context, id, newSecret string) error {
	c, err := s.GetConfig(ctx, id)
	if err != nil {
		return err
	}
	for i := range c.Signing.Secrets {
		c.Signing.Secrets[i].Primary = false
	}
	c.Signing.Secrets = append(c.Signing.Secrets, domain.SigningSecret{
		Secret:    newSecret,
		Primary:   true,
		CreatedAt: time.Now().UTC(),
	})
	if len(c.Signing.Secrets) > 3 {
		c.Signing.Secrets = c.Signing.Secrets[len(c.Signing.Secrets)-3:]
	}
	_, err = s.UpdateConfig(ctx, c)
	return err
}

// RemoveSigningSecret deletes one secret from the rotation set by value.
func (s *Store) RemoveSigningSecret(ctx context.Context, id, secret string) error {
	c, err := s.GetConfig(ctx, id)
	if err != nil {
		return err
	}
	kept := c.Signing.Secrets[:0]
	for _, sec := range c.Signing.Secrets {
		if sec.Secret != secret {
			kept = append(kept, sec)
		}
	}
	c.Signing.Secrets = kept
	_, err = s.UpdateConfig(ctx, c)
	return err
}

type marshaledConfig struct {
	headers, auth, inboundAuth, transformation, lookups, rateLimits, signing, actions []byte
}

func marshalConfigFields(c domain.IntegrationConfig) (marshaledConfig, error) {
	var m marshaledConfig
	var err error
	if m.headers, err = json.Marshal(c.Headers); err != nil {
		return m, err
	}
	if m.auth, err = json.Marshal(c.Auth); err != nil {
		return m, err
	}
	if c.InboundAuth != nil {
		if m.inboundAuth, err = json.Marshal(c.InboundAuth); err != nil {
			return m, err
		}
	}
	if m.transformation, err = json.Marshal(c.Transformation); err != nil {
		return m, err
	}
	if m.lookups, err = json.Marshal(c.Lookups); err != nil {
		return m, err
	}
	if m.rateLimits, err = json.Marshal(c.RateLimits); err != nil {
		return m, err
	}
	if m.signing, err = json.Marshal(c.Signing); err != nil {
		return m, err
	}
	if m.actions, err = json.Marshal(c.Actions); err != nil {
		return m, err
	}
	return m, nil
}

func excludedChildrenSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
