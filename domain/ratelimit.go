package domain

import "time"

// RateLimitWindow is the persisted sliding-window counter for one
// (integrationId, tenantId) pair. The store updates this row with a CAS
// increment so concurrent workers share one limit.
type RateLimitWindow struct {
	IntegrationID string    `json:"integrationId"`
	TenantID      string    `json:"tenantId"`
	WindowStart   time.Time `json:"windowStart"`
	Count         int       `json:"count"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Allow reports whether one more request fits in the window at "now",
// rolling the window forward if it has expired. It does not mutate the
// receiver; callers persist the decision via the store's CAS update.
func (w RateLimitWindow) Allow(now time.Time, spec RateLimitSpec) (allowed bool, next RateLimitWindow) {
	if !spec.Enabled {
		return true, w
	}
	windowLen := time.Duration(spec.WindowSeconds) * time.Second
	if now.Sub(w.WindowStart) >= windowLen {
		return true, RateLimitWindow{
			IntegrationID: w.IntegrationID,
			TenantID:      w.TenantID,
			WindowStart:   now,
			Count:         1,
			UpdatedAt:     now,
		}
	}
	if w.Count >= spec.MaxRequests {
		return false, w
	}
	next = w
	next.Count++
	next.UpdatedAt = now
	return true, next
}
