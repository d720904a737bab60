package source

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

type fakeCheckpoints struct {
	values map[string]int64
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{values: map[string]int64{}}
}

func (f *fakeCheckpoints) GetCheckpoint(ctx context.Context, key string) (int64, error) {
	return f.values[key], nil
}

func (f *fakeCheckpoints) SetCheckpoint(ctx context.Context, key string, value int64) error {
	f.values[key] = value
	return nil
}

func TestRelationalAdapter_RejectsUnsafeTableName(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := NewRelationalAdapter(db, newFakeCheckpoints(), "source_events; DROP TABLE x", "ck"); err == nil {
		t.Fatal("expected rejection of non-identifier table name")
	}
}

func TestRelationalAdapter_NextReadsPastCheckpointAndCommitAdvances(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	checkpoints := newFakeCheckpoints()
	checkpoints.values["source_events"] = 10

	adapter, err := NewRelationalAdapter(db, checkpoints, "source_events", "source_events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectQuery(`SELECT id, tenant_id, event_type, payload FROM source_events WHERE id > \$1 ORDER BY id LIMIT \$2`).
		WithArgs(int64(10), defaultBatchSize).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "event_type", "payload"}).
			AddRow(int64(11), "tenant-1", "PATIENT_ADMITTED", []byte(`{"patientId":"p1"}`)).
			AddRow(int64(12), "tenant-1", "PATIENT_DISCHARGED", []byte(`{"patientId":"p2"}`)))

	events, err := adapter.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].SourceID != "11" || events[1].SourceID != "12" {
		t.Fatalf("unexpected source ids: %+v", events)
	}

	if err := adapter.Commit(context.Background(), events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checkpoints.values["source_events"] != 12 {
		t.Fatalf("expected checkpoint advanced to 12, got %d", checkpoints.values["source_events"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRelationalAdapter_EmptyBatchDoesNotAdvanceCheckpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	checkpoints := newFakeCheckpoints()
	adapter, err := NewRelationalAdapter(db, checkpoints, "source_events", "source_events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectQuery(`SELECT id, tenant_id, event_type, payload FROM source_events`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "event_type", "payload"}))

	events, err := adapter.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if err := adapter.Commit(context.Background(), events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := checkpoints.values["source_events"]; ok {
		t.Fatal("expected checkpoint to remain unset on an empty batch")
	}
}
