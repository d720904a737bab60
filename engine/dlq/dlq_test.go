package dlq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/delivery"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]domain.DLQEntry
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]domain.DLQEntry{}}
}

func (f *fakeStore) CreateDLQEntry(ctx context.Context, e domain.DLQEntry) (domain.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = "dlq-" + string(rune('0'+f.nextID))
	f.entries[e.ID] = e
	return e, nil
}

func (f *fakeStore) GetDLQEntry(ctx context.Context, id string) (domain.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return domain.DLQEntry{}, errNotFound{}
	}
	return e, nil
}

func (f *fakeStore) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DLQEntry
	for _, e := range f.entries {
		if e.Status == domain.DLQPendingRetry && !e.NextRetryAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, id string, to domain.DLQStatus, attempts int, lastError string, lastCompletedActionIndex int, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return errNotFound{}
	}
	if !domain.CanTransition(e.Status, to) {
		return errNotFound{}
	}
	e.Status = to
	e.Attempts = attempts
	e.LastError = lastError
	e.LastCompletedActionIndex = lastCompletedActionIndex
	e.NextRetryAt = nextRetryAt
	f.entries[id] = e
	return nil
}

func (f *fakeStore) DeleteDLQEntry(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type fakeConfigs struct{ cfg domain.IntegrationConfig }

func (f fakeConfigs) GetConfig(ctx context.Context, id string) (domain.IntegrationConfig, error) {
	return f.cfg, nil
}

type fakeDeliverer struct {
	outcome delivery.Outcome
	err     error
	calls   int
	lastReq delivery.Request
}

func (f *fakeDeliverer) Attempt(ctx context.Context, req delivery.Request) (delivery.Outcome, error) {
	f.calls++
	f.lastReq = req
	return f.outcome, f.err
}

func noJitter(d time.Duration) time.Duration { return d }

func TestEnqueue_RetryableSchedulesPendingRetry(t *testing.T) {
	store := newFakeStore()
	p := New(store, fakeConfigs{}, &fakeDeliverer{}, nil, nil)
	p.jitter = noJitter

	entry, err := p.Enqueue(context.Background(), "trace-1", "tenant-1", "int-1", domain.NewPayload(nil), domain.CategoryNetwork, "boom", -1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != domain.DLQPendingRetry {
		t.Fatalf("expected PENDING_RETRY, got %s", entry.Status)
	}
	if entry.NextRetryAt.IsZero() {
		t.Fatal("expected nextRetryAt to be set")
	}
}

func TestEnqueue_NonRetryableIsAbandonedImmediately(t *testing.T) {
	store := newFakeStore()
	p := New(store, fakeConfigs{}, &fakeDeliverer{}, nil, nil)

	entry, err := p.Enqueue(context.Background(), "trace-1", "tenant-1", "int-1", domain.NewPayload(nil), domain.CategoryClientError, "bad request", -1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != domain.DLQAbandoned {
		t.Fatalf("expected abandoned, got %s", entry.Status)
	}
}

func TestSweepOnce_SuccessResolves(t *testing.T) {
	store := newFakeStore()
	deliverer := &fakeDeliverer{outcome: delivery.Outcome{Success: true, LastCompletedActionIndex: 0}}
	p := New(store, fakeConfigs{}, deliverer, nil, nil)
	p.jitter = noJitter

	entry, _ := p.Enqueue(context.Background(), "trace-1", "tenant-1", "int-1", domain.NewPayload(nil), domain.CategoryNetwork, "boom", -1, 3)
	store.mu.Lock()
	e := store.entries[entry.ID]
	e.NextRetryAt = time.Now().Add(-time.Minute)
	store.entries[entry.ID] = e
	store.mu.Unlock()

	processed, err := p.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}
	final, _ := store.GetDLQEntry(context.Background(), entry.ID)
	if final.Status != domain.DLQResolved {
		t.Fatalf("expected RESOLVED, got %s", final.Status)
	}
}

func TestSweepOnce_FailureReschedulesUntilAbandoned(t *testing.T) {
	store := newFakeStore()
	deliverer := &fakeDeliverer{outcome: delivery.Outcome{Success: false, Category: domain.CategoryNetwork, LastCompletedActionIndex: -1}}
	p := New(store, fakeConfigs{}, deliverer, nil, nil)
	p.jitter = noJitter

	entry, _ := p.Enqueue(context.Background(), "trace-1", "tenant-1", "int-1", domain.NewPayload(nil), domain.CategoryNetwork, "boom", -1, 2)
	store.mu.Lock()
	e := store.entries[entry.ID]
	e.NextRetryAt = time.Now().Add(-time.Minute)
	store.entries[entry.ID] = e
	store.mu.Unlock()

	if _, err := p.SweepOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after1, _ := store.GetDLQEntry(context.Background(), entry.ID)
	if after1.Status != domain.DLQAbandoned {
		t.Fatalf("expected abandoned after attempt 2/2, got %s attempts=%d", after1.Status, after1.Attempts)
	}
}

func TestRetry_RejectsNonPendingEntry(t *testing.T) {
	store := newFakeStore()
	p := New(store, fakeConfigs{}, &fakeDeliverer{}, nil, nil)

	entry, _ := p.Enqueue(context.Background(), "trace-1", "tenant-1", "int-1", domain.NewPayload(nil), domain.CategoryClientError, "bad", -1, 3)
	if entry.Status != domain.DLQAbandoned {
		t.Fatalf("setup: expected abandoned, got %s", entry.Status)
	}
	if err := p.Retry(context.Background(), entry.ID); err == nil {
		t.Fatal("expected retry of an abandoned entry to be rejected")
	}
}

func TestAbandon_SetsNotesAsLastError(t *testing.T) {
	store := newFakeStore()
	p := New(store, fakeConfigs{}, &fakeDeliverer{}, nil, nil)

	entry, _ := p.Enqueue(context.Background(), "trace-1", "tenant-1", "int-1", domain.NewPayload(nil), domain.CategoryNetwork, "boom", -1, 3)
	if err := p.Abandon(context.Background(), entry.ID, "operator gave up"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final, _ := store.GetDLQEntry(context.Background(), entry.ID)
	if final.Status != domain.DLQAbandoned {
		t.Fatalf("expected ABANDONED, got %s", final.Status)
	}
	if final.LastError != "operator gave up" {
		t.Fatalf("expected notes recorded, got %q", final.LastError)
	}
}

func TestResumeIndex_OnlyResumesWhenActionResumable(t *testing.T) {
	store := newFakeStore()
	p := New(store, fakeConfigs{}, &fakeDeliverer{}, nil, nil)

	cfg := domain.IntegrationConfig{Actions: []domain.Action{
		{Name: "a", TargetURL: "x", Resumable: true},
		{Name: "b", TargetURL: "y", Resumable: false},
	}}

	if got := p.resumeIndex(cfg, 0); got != 1 {
		t.Fatalf("expected resume at 1 (action 0 resumable), got %d", got)
	}
	if got := p.resumeIndex(cfg, 1); got != 0 {
		t.Fatalf("expected restart at 0 (action 1 not resumable), got %d", got)
	}
	if got := p.resumeIndex(cfg, -1); got != 0 {
		t.Fatalf("expected 0 for no completed actions, got %d", got)
	}
}

func TestBulkAbandon_CollectsPerIDErrors(t *testing.T) {
	store := newFakeStore()
	p := New(store, fakeConfigs{}, &fakeDeliverer{}, nil, nil)

	entry, _ := p.Enqueue(context.Background(), "trace-1", "tenant-1", "int-1", domain.NewPayload(nil), domain.CategoryNetwork, "boom", -1, 3)

	results := p.BulkAbandon(context.Background(), []string{entry.ID, "missing-id"}, "bulk cleanup")
	if results[entry.ID] != nil {
		t.Fatalf("expected success for %s, got %v", entry.ID, results[entry.ID])
	}
	if results["missing-id"] == nil {
		t.Fatal("expected error for missing id")
	}
}
