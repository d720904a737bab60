package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/cache"
)

// ConfigCache is the read-through cache described in spec §3.1: getById and
// listForTenantAndEvent are served from an in-memory cache (no size limit)
// with a 5 minute TTL, revalidated on save. Token-cache fields always bypass it.
type ConfigCache struct {
	store *Store
	dbx   *sqlx.DB
	cache *cache.Cache
}

// NewConfigCache wraps a Store with a read-through cache. dbx is a sqlx
// handle over the same underlying *sql.DB, used only for the bulk reload
// query.
func NewConfigCache(store *Store, dbx *sqlx.DB) *ConfigCache {
	return &ConfigCache{store: store, dbx: dbx, cache: cache.New(cache.DefaultConfig())}
}

func configKey(id string) string { return "config:id:" + id }

func listKey(eventType string) string { return "config:list:" + eventType }

// GetByID serves from cache, falling back to Postgres on a miss.
func (c *ConfigCache) GetByID(ctx context.Context, id string) (domain.IntegrationConfig, error) {
	if v, ok := c.cache.Get(configKey(id)); ok {
		return v.(domain.IntegrationConfig), nil
	}
	cfg, err := c.store.GetConfig(ctx, id)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}
	c.cache.Set(configKey(id), cfg)
	return cfg, nil
}

// ListForTenantAndEvent serves from cache, falling back to Postgres on a
// miss. tenantId is accepted for interface symmetry with spec §3.1 but
// filtering by tenant hierarchy happens in the matcher over the full list.
func (c *ConfigCache) ListForTenantAndEvent(ctx context.Context, tenantID, eventType string) ([]domain.IntegrationConfig, error) {
	_ = tenantID
	key := listKey(eventType)
	if v, ok := c.cache.Get(key); ok {
		return v.([]domain.IntegrationConfig), nil
	}
	list, err := c.store.ListForTenantAndEvent(ctx, eventType)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, list)
	return list, nil
}

// Save writes through to Postgres then invalidates the cache entries that
// could now be stale, so the writer of record observes its own update
// immediately.
func (c *ConfigCache) Save(ctx context.Context, cfg domain.IntegrationConfig) (domain.IntegrationConfig, error) {
	existing, err := c.store.GetConfig(ctx, cfg.ID)
	var saved domain.IntegrationConfig
	if err != nil {
		saved, err = c.store.CreateConfig(ctx, cfg)
	} else {
		saved, err = c.store.UpdateConfig(ctx, cfg)
		c.cache.Invalidate(listKey(existing.EventType))
	}
	if err != nil {
		return domain.IntegrationConfig{}, fmt.Errorf("save config: %w", err)
	}
	c.cache.Invalidate(configKey(saved.ID))
	c.cache.Invalidate(listKey(saved.EventType))
	c.cache.Invalidate(listKey("*"))
	return saved, nil
}

// UpdateTokenCache bypasses the TTL cache entirely, writing straight
// through to Postgres under a per-integration lock.
func (c *ConfigCache) UpdateTokenCache(ctx context.Context, id string, token domain.CachedToken) error {
	if err := c.store.UpdateTokenCache(ctx, id, token); err != nil {
		return err
	}
	c.cache.Invalidate(configKey(id))
	return nil
}

// RotateSigningSecret delegates to the store then invalidates the cache
// entry for the affected config.
func (c *ConfigCache) RotateSigningSecret(ctx context.Context, id, newSecret string) error {
	if err := c.store.RotateSigningSecret(ctx, id, newSecret); err != nil {
		return err
	}
	c.cache.Invalidate(configKey(id))
	return nil
}

// RemoveSigningSecret delegates to the store then invalidates the cache
// entry for the affected config.
func (c *ConfigCache) RemoveSigningSecret(ctx context.Context, id, secret string) error {
	if err := c.store.RemoveSigningSecret(ctx, id, secret); err != nil {
		return err
	}
	c.cache.Invalidate(configKey(id))
	return nil
}

// ReloadAll does a full bulk reload via sqlx and replaces every cached list
// with a fresh snapshot, used by a periodic background refresh independent
// of per-key TTL expiry.
func (c *ConfigCache) ReloadAll(ctx context.Context) ([]domain.IntegrationConfig, error) {
	all, err := ListAllActive(ctx, c.dbx)
	if err != nil {
		return nil, err
	}
	c.cache.InvalidateAll()
	byEventType := make(map[string][]domain.IntegrationConfig)
	for _, cfg := range all {
		byEventType[cfg.EventType] = nil
		c.cache.Set(configKey(cfg.ID), cfg)
	}
	// Each list holds the literal type's configs plus the "*" ones, in the
	// same created_at, id order as Store.ListForTenantAndEvent.
	for et := range byEventType {
		for _, cfg := range all {
			if cfg.EventType == et || cfg.EventType == "*" {
				byEventType[et] = append(byEventType[et], cfg)
			}
		}
	}
	for et, list := range byEventType {
		c.cache.Set(listKey(et), list)
	}
	return all, nil
}
