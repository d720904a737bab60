// Package source implements C3's two adapter variants behind one interface
// (spec §4.3): a relational poller with a monotonic checkpoint, and a
// distributed-log consumer with manual offset commit. Both are at-least-once;
// exactly-once downstream is the audit ledger's job (store.ClaimNext's CAS).
package source

import (
	"context"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

// Event is one record read from a source adapter, ready for ingestion into
// the audit ledger.
type Event struct {
	SourceID  string
	TenantID  string
	EventType string
	Payload   domain.Payload
}

// Adapter is the common next()/commit() contract both source variants
// implement. Next returns an empty, nil-error slice when there is nothing new
// right now, rather than blocking.
type Adapter interface {
	Next(ctx context.Context) ([]Event, error)
	Commit(ctx context.Context, events []Event) error
}
