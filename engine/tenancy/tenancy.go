// Package tenancy keeps an in-memory domain.TenantIndex fresh so the matcher
// and lookup resolver can walk tenant ancestry without a database round trip
// per event.
package tenancy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
)

// Store loads the full tenant tree.
type Store interface {
	ListTenants(ctx context.Context) ([]domain.Tenant, error)
}

// Index is a reloadable, concurrency-safe handle to the current tenant tree.
// It satisfies both engine/matcher's and engine/transform's TenantSource
// interfaces.
type Index struct {
	store  Store
	logger *logging.Logger
	idx    atomic.Pointer[domain.TenantIndex]
}

// New creates an Index with an empty tree; call Reload before first use.
func New(store Store, logger *logging.Logger) *Index {
	i := &Index{store: store, logger: logger}
	i.idx.Store(domain.NewTenantIndex(nil))
	return i
}

// Reload re-reads the tenant tree from the store and swaps it in atomically.
func (i *Index) Reload(ctx context.Context) error {
	tenants, err := i.store.ListTenants(ctx)
	if err != nil {
		return err
	}
	i.idx.Store(domain.NewTenantIndex(tenants))
	return nil
}

// IsAncestor reports whether ancestor is id itself or an ancestor of it.
func (i *Index) IsAncestor(ancestor, id string) bool {
	return i.idx.Load().IsAncestor(ancestor, id)
}

// Ancestors returns id's ancestor chain, inclusive of id, nearest first.
func (i *Index) Ancestors(id string) []string {
	return i.idx.Load().Ancestors(id)
}

// Run periodically reloads the tenant tree until ctx is cancelled.
func (i *Index) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.Reload(ctx); err != nil && i.logger != nil {
				i.logger.WithError(err).Error("tenant index reload failed")
			}
		}
	}
}
