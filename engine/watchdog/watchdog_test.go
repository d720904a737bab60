package watchdog

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	sweepCount int64
	sweepErr   error
	requeued   []string
	requeueErr error
}

func (f *fakeStore) SweepStuck(ctx context.Context, now time.Time) (int64, error) {
	return f.sweepCount, f.sweepErr
}

func (f *fakeStore) RequeueStuck(ctx context.Context, id string) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeued = append(f.requeued, id)
	return nil
}

func TestSweepOnce_ReturnsCount(t *testing.T) {
	store := &fakeStore{sweepCount: 3}
	w := New(store, nil)

	n, err := w.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestRequeue_DelegatesToStore(t *testing.T) {
	store := &fakeStore{}
	w := New(store, nil)

	if err := w.Requeue(context.Background(), "audit-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.requeued) != 1 || store.requeued[0] != "audit-1" {
		t.Fatalf("expected requeue delegated, got %+v", store.requeued)
	}
}
