// Package ratelimit implements C8: the per-(integration,tenant) sliding
// window that governs outbound delivery. The window itself lives in
// Postgres (store.CheckAndIncrement); this package is a thin orchestration
// layer that derives the retry-after hint and records metrics.
package ratelimit

import (
	"context"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
)

// Store is the subset of store.Store the limiter depends on.
type Store interface {
	CheckAndIncrement(ctx context.Context, integrationID, tenantID string, now time.Time, spec domain.RateLimitSpec) (bool, domain.RateLimitWindow, error)
}

// Limiter enforces the delivery engine's per-attempt rate check.
type Limiter struct {
	store   Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Limiter. m may be nil to disable metrics recording.
func New(store Store, m *metrics.Metrics) *Limiter {
	return &Limiter{store: store, metrics: m, now: time.Now}
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // meaningful only when !Allowed
}

// Check enforces spec for (integrationID, tenantID), recording a denial
// metric when the request doesn't fit in the current window. A disabled
// spec always allows.
func (l *Limiter) Check(ctx context.Context, integrationID, tenantID string, spec domain.RateLimitSpec) (Decision, error) {
	if !spec.Enabled {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	allowed, window, err := l.store.CheckAndIncrement(ctx, integrationID, tenantID, now, spec)
	if err != nil {
		return Decision{}, err
	}
	if allowed {
		return Decision{Allowed: true}, nil
	}

	if l.metrics != nil {
		l.metrics.RecordRateLimitDenied(integrationID, tenantID)
	}

	windowLen := time.Duration(spec.WindowSeconds) * time.Second
	retryAfter := window.WindowStart.Add(windowLen).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}
