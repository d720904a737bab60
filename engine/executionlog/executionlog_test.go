package executionlog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

type fakeStore struct {
	created  domain.ExecutionLog
	steps    []domain.Step
	getLog   domain.ExecutionLog
	getErr   error
	finished bool
	status   domain.ExecutionStatus
	req      domain.RequestSnapshot
	resp     domain.ResponseSnapshot
	errDetail string
}

func (f *fakeStore) CreateExecutionLog(ctx context.Context, l domain.ExecutionLog) (domain.ExecutionLog, error) {
	f.created = l
	return l, nil
}

func (f *fakeStore) AppendStep(ctx context.Context, traceID string, step domain.Step) error {
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeStore) FinishExecutionLog(ctx context.Context, traceID string, status domain.ExecutionStatus, req domain.RequestSnapshot, resp domain.ResponseSnapshot, errDetail string, finishedAt time.Time) error {
	f.finished = true
	f.status = status
	f.req = req
	f.resp = resp
	f.errDetail = errDetail
	return nil
}

func (f *fakeStore) GetExecutionLog(ctx context.Context, traceID string) (domain.ExecutionLog, error) {
	return f.getLog, f.getErr
}

func (f *fakeStore) ListExecutionLogs(ctx context.Context, tenantID string, limit int) ([]domain.ExecutionLog, error) {
	return nil, nil
}

func TestStart_CreatesHeaderRow(t *testing.T) {
	store := &fakeStore{}
	l := New(store, nil)

	if err := l.Start(context.Background(), "trace-1", "tenant-1", "int-1", "PATIENT_ADMITTED", "msg-1", domain.DirectionOutbound, domain.TriggerEvent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.created.TraceID != "trace-1" || store.created.TenantID != "tenant-1" {
		t.Fatalf("unexpected header row: %+v", store.created)
	}
	if store.created.MessageID != "msg-1" || store.created.Direction != domain.DirectionOutbound || store.created.TriggerType != domain.TriggerEvent {
		t.Fatalf("unexpected header row fields: %+v", store.created)
	}
}

func TestFinish_RecordsTerminalState(t *testing.T) {
	store := &fakeStore{}
	l := New(store, nil)

	req := domain.RequestSnapshot{URL: "https://example.com", Method: "POST", Headers: map[string]string{"Authorization": "Bearer secret"}}
	resp := domain.ResponseSnapshot{StatusCode: 500, Body: "boom"}
	if err := l.Finish(context.Background(), "trace-1", domain.ExecutionFailed, req, resp, "downstream 500"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.finished || store.status != domain.ExecutionFailed {
		t.Fatalf("expected finish to be recorded as failed, got %+v", store)
	}
	if strings.Contains(store.req.Headers["Authorization"], "secret") {
		t.Fatalf("expected authorization header redacted, got %+v", store.req.Headers)
	}
}

func TestAppend_RecordsStep(t *testing.T) {
	store := &fakeStore{}
	l := New(store, nil)

	if err := l.Append(context.Background(), "trace-1", domain.StepMatch, domain.OutcomeSuccess, "matched 2 integrations"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.steps) != 1 || store.steps[0].Name != domain.StepMatch {
		t.Fatalf("unexpected steps: %+v", store.steps)
	}
}

func TestAppendDelivery_RedactsDeniedHeaders(t *testing.T) {
	store := &fakeStore{}
	l := New(store, nil)

	headers := map[string]string{"Authorization": "Bearer secret-token", "Content-Type": "application/json"}
	if err := l.AppendDelivery(context.Background(), "trace-1", domain.StepDeliver, domain.OutcomeFailure, headers, []byte(`{"ok":false}`), "server error"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	detail := store.steps[0].Detail
	if strings.Contains(detail, "secret-token") {
		t.Fatalf("expected authorization value redacted, got %s", detail)
	}
	if !strings.Contains(detail, "[REDACTED]") {
		t.Fatalf("expected redaction marker present, got %s", detail)
	}
	if !strings.Contains(detail, "application/json") {
		t.Fatalf("expected non-denied header preserved, got %s", detail)
	}
}

func TestAppendDelivery_TruncatesOversizedBody(t *testing.T) {
	store := &fakeStore{}
	l := New(store, nil, WithMaxDetailBytes(64))

	bigBody := strings.Repeat("x", 500)
	if err := l.AppendDelivery(context.Background(), "trace-1", domain.StepDeliver, domain.OutcomeSuccess, nil, []byte(bigBody), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.steps[0].Detail) > 64+40 {
		t.Fatalf("expected detail bounded near maxLen, got length %d", len(store.steps[0].Detail))
	}
	if !strings.Contains(store.steps[0].Detail, "truncated") {
		t.Fatalf("expected truncation marker, got %s", store.steps[0].Detail)
	}
}

func TestGet_DelegatesToStore(t *testing.T) {
	store := &fakeStore{getLog: domain.ExecutionLog{TraceID: "trace-1"}}
	l := New(store, nil)

	got, err := l.Get(context.Background(), "trace-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TraceID != "trace-1" {
		t.Fatalf("unexpected result: %+v", got)
	}
}
