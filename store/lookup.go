package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

func scanLookupTable(s rowScanner) (domain.LookupTable, error) {
	var (
		t            domain.LookupTable
		tenantID     sql.NullString
		entriesRaw   []byte
		unmapped     string
		defaultValue sql.NullString
	)
	if err := s.Scan(&t.ID, &t.Type, &tenantID, &entriesRaw, &unmapped, &defaultValue, &t.UpdatedAt); err != nil {
		return domain.LookupTable{}, err
	}
	t.TenantID = fromNullString(tenantID)
	t.Unmapped = domain.UnmappedBehavior(unmapped)
	t.Default = fromNullString(defaultValue)
	t.UpdatedAt = t.UpdatedAt.UTC()
	if len(entriesRaw) > 0 {
		if err := json.Unmarshal(entriesRaw, &t.Entries); err != nil {
			return domain.LookupTable{}, err
		}
	}
	return t, nil
}

// CreateLookupTable inserts a new table, global (tenantId == "") or
// tenant-scoped.
func (s *Store) CreateLookupTable(ctx context.Context, t domain.LookupTable) (domain.LookupTable, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UpdatedAt = time.Now().UTC()

	entriesJSON, err := json.Marshal(t.Entries)
	if err != nil {
		return domain.LookupTable{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lookup_tables (id, type, tenant_id, entries, unmapped_behavior, default_value, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, t.ID, t.Type, toNullString(t.TenantID), entriesJSON, string(t.Unmapped), toNullString(t.Default), t.UpdatedAt)
	if err != nil {
		return domain.LookupTable{}, err
	}
	return t, nil
}

// GetByTypeAndTenant finds the table scoped to exactly (type, tenantId); it
// does not fall back to the global table (see GetGlobal). Hierarchical
// ancestor fallback across the tenant tree, and the final global fallback,
// are done by the caller (engine/transform), since it needs the tenant index.
func (s *Store) GetByTypeAndTenant(ctx context.Context, lookupType, tenantID string) (domain.LookupTable, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, tenant_id, entries, unmapped_behavior, default_value, updated_at
		FROM lookup_tables
		WHERE type = $1 AND tenant_id = $2
	`, lookupType, tenantID)
	return scanLookupTable(row)
}

// GetGlobal finds the tenant-less fallback table for a type.
func (s *Store) GetGlobal(ctx context.Context, lookupType string) (domain.LookupTable, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, tenant_id, entries, unmapped_behavior, default_value, updated_at
		FROM lookup_tables
		WHERE type = $1 AND tenant_id IS NULL
	`, lookupType)
	return scanLookupTable(row)
}

// UpdateLookupTable replaces a table's entries wholesale.
func (s *Store) UpdateLookupTable(ctx context.Context, t domain.LookupTable) (domain.LookupTable, error) {
	t.UpdatedAt = time.Now().UTC()

	entriesJSON, err := json.Marshal(t.Entries)
	if err != nil {
		return domain.LookupTable{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE lookup_tables SET entries = $2, unmapped_behavior = $3, default_value = $4, updated_at = $5
		WHERE id = $1
	`, t.ID, entriesJSON, string(t.Unmapped), toNullString(t.Default), t.UpdatedAt)
	if err != nil {
		return domain.LookupTable{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.LookupTable{}, sql.ErrNoRows
	}
	return t, nil
}
