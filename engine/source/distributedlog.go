package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
)

// defaultReadTimeout bounds how long Next waits for the next frame when the
// caller's context carries no deadline.
const defaultReadTimeout = 5 * time.Second

type wireEvent struct {
	Offset    int64           `json:"offset"`
	Partition string          `json:"partition"`
	TenantID  string          `json:"tenantId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

type wireCommit struct {
	Type      string `json:"type"`
	Partition string `json:"partition"`
	Offset    int64  `json:"offset"`
}

// wsConn is the subset of *websocket.Conn the adapter depends on, so tests
// can substitute an in-memory fake without opening a real socket.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// DistributedLogAdapter consumes a partitioned event stream over a
// websocket, asserting per-partition offset contiguity and committing
// manually once the caller confirms ingestion (spec §4.3, open question 2).
type DistributedLogAdapter struct {
	conn    wsConn
	metrics *metrics.Metrics

	mu         sync.Mutex
	lastOffset map[string]int64
}

// DialDistributedLogAdapter opens a websocket connection to a distributed
// log source (e.g. a message-broker bridge) and wraps it as an Adapter.
func DialDistributedLogAdapter(ctx context.Context, url string, header http.Header, m *metrics.Metrics) (*DistributedLogAdapter, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("source: dial distributed log %s: %w", url, err)
	}
	return newDistributedLogAdapter(conn, m), nil
}

func newDistributedLogAdapter(conn wsConn, m *metrics.Metrics) *DistributedLogAdapter {
	return &DistributedLogAdapter{conn: conn, metrics: m, lastOffset: map[string]int64{}}
}

// Next reads one framed event off the socket. A read timeout (no frame
// arrived within the budget) is reported as "nothing new", not an error.
func (a *DistributedLogAdapter) Next(ctx context.Context) ([]Event, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultReadTimeout)
	}
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("source: set read deadline: %w", err)
	}

	var wire wireEvent
	err := a.conn.ReadJSON(&wire)
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("source: read distributed log frame: %w", err)
	}

	payload, err := domain.ParsePayload(wire.Payload)
	if err != nil {
		return nil, fmt.Errorf("source: parse distributed log payload: %w", err)
	}

	a.mu.Lock()
	last, seen := a.lastOffset[wire.Partition]
	if seen && wire.Offset != last+1 {
		if a.metrics != nil {
			a.metrics.RecordSourceGap(wire.Partition)
		}
	}
	a.lastOffset[wire.Partition] = wire.Offset
	a.mu.Unlock()

	return []Event{{
		SourceID:  sourceIDFor(wire.Partition, wire.Offset),
		TenantID:  wire.TenantID,
		EventType: wire.EventType,
		Payload:   payload,
	}}, nil
}

// Commit acknowledges each event's partition/offset back to the source so it
// won't be redelivered to this consumer group.
func (a *DistributedLogAdapter) Commit(ctx context.Context, events []Event) error {
	for _, e := range events {
		partition, offset, err := splitSourceID(e.SourceID)
		if err != nil {
			return err
		}
		if err := a.conn.WriteJSON(wireCommit{Type: "commit", Partition: partition, Offset: offset}); err != nil {
			return fmt.Errorf("source: commit distributed log offset: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (a *DistributedLogAdapter) Close() error { return a.conn.Close() }

func sourceIDFor(partition string, offset int64) string {
	return fmt.Sprintf("%s#%d", partition, offset)
}

func splitSourceID(sourceID string) (partition string, offset int64, err error) {
	idx := strings.LastIndex(sourceID, "#")
	if idx < 0 {
		return "", 0, fmt.Errorf("source: malformed distributed log sourceId %q", sourceID)
	}
	partition = sourceID[:idx]
	if _, err := fmt.Sscanf(sourceID[idx+1:], "%d", &offset); err != nil {
		return "", 0, fmt.Errorf("source: malformed distributed log offset in %q: %w", sourceID, err)
	}
	return partition, offset, nil
}
