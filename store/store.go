// Package store implements the Postgres-backed persistence layer for every
// collection in the data model: integration configs, event audit, execution
// logs, dead letters, scheduled deliveries, rate limit windows and lookup
// tables. Queries are raw database/sql + lib/pq, following the teacher's
// storage/postgres style rather than an ORM.
package store

import (
	"database/sql"
	"strings"
	"time"
)

// Store is the shared handle every collection-specific file in this package
// attaches methods to.
type Store struct {
	db *sql.DB
}

// New creates a Store using an already-opened database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func toNullString(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if t.Valid {
		return t.Time.UTC()
	}
	return time.Time{}
}

func fromNullString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}
