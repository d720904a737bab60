package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/store"
)

type fakeAuditStore struct {
	created domain.EventAudit
	err     error
}

func (f *fakeAuditStore) CreateAuditRow(ctx context.Context, a domain.EventAudit) (domain.EventAudit, error) {
	if f.err != nil {
		return domain.EventAudit{}, f.err
	}
	a.ID = "audit-1"
	f.created = a
	return a, nil
}

type fakeConfigStore struct {
	configs map[string]domain.IntegrationConfig
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{configs: map[string]domain.IntegrationConfig{}}
}

func (f *fakeConfigStore) CreateConfig(ctx context.Context, c domain.IntegrationConfig) (domain.IntegrationConfig, error) {
	f.configs[c.ID] = c
	return c, nil
}

func (f *fakeConfigStore) UpdateConfig(ctx context.Context, c domain.IntegrationConfig) (domain.IntegrationConfig, error) {
	f.configs[c.ID] = c
	return c, nil
}

func (f *fakeConfigStore) GetConfig(ctx context.Context, id string) (domain.IntegrationConfig, error) {
	c, ok := f.configs[id]
	if !ok {
		return domain.IntegrationConfig{}, errNotFound{}
	}
	return c, nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type fakeDLQStore struct {
	entries []domain.DLQEntry
}

func (f *fakeDLQStore) GetDLQEntry(ctx context.Context, id string) (domain.DLQEntry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.DLQEntry{}, errNotFound{}
}

func (f *fakeDLQStore) ListByTenant(ctx context.Context, tenantID string, status domain.DLQStatus, limit int) ([]domain.DLQEntry, error) {
	return f.entries, nil
}

type fakeDLQStats struct{}

func (fakeDLQStats) GetStats(ctx context.Context, tenantID string) (store.Stats, error) {
	return store.Stats{ByStatus: map[domain.DLQStatus]int64{}, ByCategory: map[domain.ErrorCategory]int64{}}, nil
}

type fakeDLQProcessor struct {
	retried  []string
	abandoned []string
	deleted  []string
}

func (f *fakeDLQProcessor) Retry(ctx context.Context, id string) error {
	f.retried = append(f.retried, id)
	return nil
}
func (f *fakeDLQProcessor) Abandon(ctx context.Context, id, notes string) error {
	f.abandoned = append(f.abandoned, id)
	return nil
}
func (f *fakeDLQProcessor) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeDLQProcessor) BulkRetry(ctx context.Context, ids []string) map[string]error {
	out := map[string]error{}
	for _, id := range ids {
		out[id] = nil
	}
	return out
}
func (f *fakeDLQProcessor) BulkAbandon(ctx context.Context, ids []string, notes string) map[string]error {
	return f.BulkRetry(ctx, ids)
}
func (f *fakeDLQProcessor) BulkDelete(ctx context.Context, ids []string) map[string]error {
	return f.BulkRetry(ctx, ids)
}

type fakeExecLogReader struct {
	logs map[string]domain.ExecutionLog
}

func (f *fakeExecLogReader) Get(ctx context.Context, traceID string) (domain.ExecutionLog, error) {
	l, ok := f.logs[traceID]
	if !ok {
		return domain.ExecutionLog{}, errNotFound{}
	}
	return l, nil
}

func (f *fakeExecLogReader) List(ctx context.Context, tenantID string, limit int) ([]domain.ExecutionLog, error) {
	var out []domain.ExecutionLog
	for _, l := range f.logs {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeExecLogReader) Start(ctx context.Context, traceID, tenantID, integrationID, eventType, messageID string, direction domain.Direction, trigger domain.TriggerType) error {
	if f.logs == nil {
		f.logs = map[string]domain.ExecutionLog{}
	}
	f.logs[traceID] = domain.ExecutionLog{TraceID: traceID, TenantID: tenantID, IntegrationID: integrationID, EventType: eventType, MessageID: messageID, Direction: direction, TriggerType: trigger, Status: domain.ExecutionPending}
	return nil
}

func (f *fakeExecLogReader) Append(ctx context.Context, traceID string, name domain.StepName, outcome domain.StepOutcome, detail string) error {
	return nil
}

func (f *fakeExecLogReader) Finish(ctx context.Context, traceID string, status domain.ExecutionStatus, req domain.RequestSnapshot, resp domain.ResponseSnapshot, errDetail string) error {
	l := f.logs[traceID]
	l.Status = status
	l.Request = req
	l.Response = resp
	l.Error = errDetail
	f.logs[traceID] = l
	return nil
}

type fakeScheduleCanceler struct{ cancelled []string }

func (f *fakeScheduleCanceler) Cancel(ctx context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeWatchdogRequeuer struct{ requeued []string }

func (f *fakeWatchdogRequeuer) Requeue(ctx context.Context, id string) error {
	f.requeued = append(f.requeued, id)
	return nil
}

func testDeps() Dependencies {
	return Dependencies{
		Logger:       logging.NewFromEnv("test"),
		Audit:        &fakeAuditStore{},
		Configs:      newFakeConfigStore(),
		DLQStats:     fakeDLQStats{},
		DLQStore:     &fakeDLQStore{},
		DLQProcessor: &fakeDLQProcessor{},
		ExecutionLog: &fakeExecLogReader{logs: map[string]domain.ExecutionLog{}},
		Schedule:     &fakeScheduleCanceler{},
		Watchdog:     &fakeWatchdogRequeuer{},
		ServiceName:  "gateway-test",
	}
}

func TestHealthz_ReturnsOK(t *testing.T) {
	router := NewRouter(testDeps())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIngestEvent_CreatesAuditRow(t *testing.T) {
	deps := testDeps()
	router := NewRouter(deps)

	body, _ := json.Marshal(ingestEventRequest{
		TenantID:  "tenant-1",
		EventType: "PATIENT_ADMITTED",
		Payload:   map[string]any{"patientId": "p1"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestEvent_RejectsMissingFields(t *testing.T) {
	router := NewRouter(testDeps())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateAndGetConfig_RoundTrips(t *testing.T) {
	deps := testDeps()
	router := NewRouter(deps)

	cfg := domain.IntegrationConfig{
		ID:           "int-1",
		TenantID:     "tenant-1",
		EventType:    "PATIENT_ADMITTED",
		Scope:        domain.ScopeEntityOnly,
		DeliveryMode: domain.DeliveryImmediate,
		Direction:    domain.DirectionOutbound,
	}
	body, _ := json.Marshal(cfg)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/integrations", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/int-1", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}
}

func TestGetConfig_MissingReturnsNon200(t *testing.T) {
	deps := testDeps()
	router := NewRouter(deps)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Fatalf("expected a non-200 status for a missing config, got %d", rec.Code)
	}
}

func TestDLQRetry_DelegatesToProcessor(t *testing.T) {
	deps := testDeps()
	proc := deps.DLQProcessor.(*fakeDLQProcessor)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dlq/dlq-1/retry", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(proc.retried) != 1 || proc.retried[0] != "dlq-1" {
		t.Fatalf("expected retry to be recorded, got %+v", proc.retried)
	}
}

func TestDLQStats_ReturnsAggregates(t *testing.T) {
	router := NewRouter(testDeps())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCancelScheduledDelivery_DelegatesToScheduler(t *testing.T) {
	deps := testDeps()
	sched := deps.Schedule.(*fakeScheduleCanceler)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduled-deliveries/sched-1/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(sched.cancelled) != 1 || sched.cancelled[0] != "sched-1" {
		t.Fatalf("expected cancel to be recorded, got %+v", sched.cancelled)
	}
}

func TestRequeueAudit_DelegatesToWatchdog(t *testing.T) {
	deps := testDeps()
	wd := deps.Watchdog.(*fakeWatchdogRequeuer)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/audit-1/requeue", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(wd.requeued) != 1 || wd.requeued[0] != "audit-1" {
		t.Fatalf("expected requeue to be recorded, got %+v", wd.requeued)
	}
}
