package store

import (
	"context"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

// ListTenants loads the full tenant tree, used by tenancy.Index.Reload to
// build a domain.TenantIndex on startup and on each periodic tenancy reload.
func (s *Store) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(parent_id, ''), name FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.ParentID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTenant inserts a tenant node.
func (s *Store) CreateTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, parent_id, name)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (id) DO UPDATE SET parent_id = NULLIF($2, ''), name = $3, updated_at = now()
	`, t.ID, t.ParentID, t.Name)
	if err != nil {
		return domain.Tenant{}, err
	}
	return t, nil
}
