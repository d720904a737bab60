package domain

import "time"

// AuditStatus is the lifecycle state of an ingested source event.
type AuditStatus string

const (
	AuditPending    AuditStatus = "PENDING"
	AuditProcessing AuditStatus = "PROCESSING"
	AuditProcessed  AuditStatus = "PROCESSED"
	AuditSkipped    AuditStatus = "SKIPPED"
	AuditFailed     AuditStatus = "FAILED"
	AuditStuck      AuditStatus = "STUCK"
)

// EventAudit is the exactly-once claim row for one source event. The source
// feed is at-least-once; CAS on Status+ClaimedBy turns it into exactly-once
// processing downstream.
type EventAudit struct {
	ID         string      `json:"id"`
	SourceID   string      `json:"sourceId"` // natural key from the source (row id / partition+offset)
	TenantID   string      `json:"tenantId"`
	EventType  string      `json:"eventType"`
	Payload    Payload     `json:"payload"`
	Status     AuditStatus `json:"status"`
	ClaimedBy  string      `json:"claimedBy,omitempty"`
	ClaimedAt  time.Time   `json:"claimedAt,omitempty"`
	Attempts   int         `json:"attempts"`
	LastError  string      `json:"lastError,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// StuckThreshold is how long an event may sit in PROCESSING before a
// watchdog sweep marks it STUCK (claimable again only after an operator
// requeue; see CanClaim).
const StuckThreshold = 10 * time.Minute

// CanClaim reports whether the row is eligible for a new claim attempt.
// Only PENDING rows are auto-claimable; STUCK rows require an explicit
// operator requeue before they become claimable again (no automatic reclaim,
// to avoid duplicate delivery under partial failure).
func (e EventAudit) CanClaim(now time.Time) bool {
	return e.Status == AuditPending
}
