package transform

import (
	"context"
	"database/sql"
	"errors"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

// LookupSource is the subset of store.Store the resolver depends on.
type LookupSource interface {
	GetByTypeAndTenant(ctx context.Context, lookupType, tenantID string) (domain.LookupTable, error)
	GetGlobal(ctx context.Context, lookupType string) (domain.LookupTable, error)
}

// TenantSource is the subset of domain.TenantIndex the resolver depends on.
type TenantSource interface {
	Ancestors(id string) []string
}

// LookupResolver implements spec §4.3's hierarchical lookup(code, type):
// consult the tenant's own table for type; on a miss, walk to each parent
// tenant in turn; on a final miss across the whole chain, apply the
// unmappedBehavior of the nearest table that exists.
type LookupResolver struct {
	store   LookupSource
	tenants TenantSource
}

// NewLookupResolver creates a LookupResolver.
func NewLookupResolver(store LookupSource, tenants TenantSource) *LookupResolver {
	return &LookupResolver{store: store, tenants: tenants}
}

// Resolve looks up code in the type's table, walking the tenant hierarchy
// and finally the global (tenant-less) table, applying the nearest table's
// unmappedBehavior when no entry is found anywhere.
func (r *LookupResolver) Resolve(ctx context.Context, lookupType, tenantID, code string) (string, error) {
	chain := r.tenants.Ancestors(tenantID) // inclusive of tenantID itself, nearest first

	var nearest *domain.LookupTable
	for _, t := range chain {
		tbl, err := r.store.GetByTypeAndTenant(ctx, lookupType, t)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return "", err
		}
		if nearest == nil {
			cp := tbl
			nearest = &cp
		}
		if v, ok := tbl.Resolve(code); ok {
			return v, nil
		}
	}

	global, err := r.store.GetGlobal(ctx, lookupType)
	if err == nil {
		if nearest == nil {
			nearest = &global
		}
		if v, ok := global.Resolve(code); ok {
			return v, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if nearest == nil {
		// No table configured anywhere for this type: pass the code through
		// unchanged rather than failing a transform over missing config.
		return code, nil
	}
	return nearest.Fallback(code)
}
