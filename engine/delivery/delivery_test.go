package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/auth"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/ratelimit"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/transform"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/sandbox"
)

type fakeTokenStore struct{}

func (fakeTokenStore) UpdateTokenCache(ctx context.Context, id string, token domain.CachedToken) error {
	return nil
}

type fakeLookupStore struct{}

func (fakeLookupStore) GetByTypeAndTenant(ctx context.Context, lookupType, tenantID string) (domain.LookupTable, error) {
	return domain.LookupTable{}, errNotFound{}
}
func (fakeLookupStore) GetGlobal(ctx context.Context, lookupType string) (domain.LookupTable, error) {
	return domain.LookupTable{}, errNotFound{}
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type fakeTenants struct{}

func (fakeTenants) Ancestors(id string) []string { return nil }

type fakeRateStore struct{ allow bool }

func (f fakeRateStore) CheckAndIncrement(ctx context.Context, integrationID, tenantID string, now time.Time, spec domain.RateLimitSpec) (bool, domain.RateLimitWindow, error) {
	return f.allow, domain.RateLimitWindow{WindowStart: now}, nil
}

func newEngine(t *testing.T, allow bool) *Engine {
	t.Helper()
	tf := transform.New(sandbox.New(), transform.NewLookupResolver(fakeLookupStore{}, fakeTenants{}))
	ap := auth.New(http.DefaultClient, fakeTokenStore{}, nil)
	rl := ratelimit.New(fakeRateStore{allow: allow}, nil)
	return New(tf, ap, rl, sandbox.New(), http.DefaultClient, nil, nil)
}

func TestAttempt_SingleActionSuccess(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	e := newEngine(t, true)
	cfg := domain.IntegrationConfig{
		ID:         "int-1",
		TenantID:   "tenant-1",
		TargetURL:  server.URL,
		HTTPMethod: http.MethodPost,
		TimeoutMs:  2000,
		Transformation: domain.Transformation{
			Mode: domain.TransformSimple,
			Mappings: []domain.Mapping{
				{TargetPath: "patientId", SourcePath: "patient.id"},
			},
		},
	}
	payload := domain.NewPayload(map[string]any{"patient": map[string]any{"id": "p-1"}})

	out, err := e.Attempt(context.Background(), Request{TraceID: "trace-1", MessageID: "m-1", Config: cfg, Payload: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.ResponseStatus != http.StatusOK {
		t.Fatalf("expected 200, got %d", out.ResponseStatus)
	}
	if received["patientId"] != "p-1" {
		t.Fatalf("expected transformed body delivered, got %+v", received)
	}
	if out.LastCompletedActionIndex != 0 {
		t.Fatalf("expected action 0 completed, got %d", out.LastCompletedActionIndex)
	}
}

func TestAttempt_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := newEngine(t, true)
	cfg := domain.IntegrationConfig{
		ID: "int-1", TenantID: "tenant-1", TargetURL: server.URL, HTTPMethod: http.MethodPost, TimeoutMs: 2000,
		Transformation: domain.Transformation{Mode: domain.TransformPassthrough},
	}

	out, err := e.Attempt(context.Background(), Request{Config: cfg, Payload: domain.NewPayload(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Category != domain.CategoryServerError {
		t.Fatalf("expected SERVER_ERROR, got %s", out.Category)
	}
	if !out.Retryable {
		t.Fatal("expected retryable")
	}
}

func TestAttempt_ClientErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	e := newEngine(t, true)
	cfg := domain.IntegrationConfig{
		ID: "int-1", TenantID: "tenant-1", TargetURL: server.URL, HTTPMethod: http.MethodPost, TimeoutMs: 2000,
		Transformation: domain.Transformation{Mode: domain.TransformPassthrough},
	}

	out, err := e.Attempt(context.Background(), Request{Config: cfg, Payload: domain.NewPayload(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Category != domain.CategoryClientError {
		t.Fatalf("expected CLIENT_ERROR, got %s", out.Category)
	}
	if out.Retryable {
		t.Fatal("expected terminal (non-retryable)")
	}
}

func TestAttempt_RateLimitDenied(t *testing.T) {
	e := newEngine(t, false)
	cfg := domain.IntegrationConfig{
		ID: "int-1", TenantID: "tenant-1", TargetURL: "http://example.invalid", HTTPMethod: http.MethodPost,
		RateLimits:     domain.RateLimitSpec{Enabled: true, MaxRequests: 1, WindowSeconds: 60},
		Transformation: domain.Transformation{Mode: domain.TransformPassthrough},
	}

	out, err := e.Attempt(context.Background(), Request{Config: cfg, Payload: domain.NewPayload(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Category != domain.CategoryRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %s", out.Category)
	}
	if !out.Retryable {
		t.Fatal("expected retryable")
	}
}

func TestAttempt_MultiActionChain(t *testing.T) {
	var hits []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"step": r.URL.Path})
	}))
	defer server.Close()

	e := newEngine(t, true)
	cfg := domain.IntegrationConfig{
		ID: "int-1", TenantID: "tenant-1",
		Actions: []domain.Action{
			{Name: "first", TargetURL: server.URL + "/a", HTTPMethod: http.MethodPost, TimeoutMs: 2000,
				Transform: domain.Transformation{Mode: domain.TransformPassthrough}},
			{Name: "second", TargetURL: server.URL + "/b", HTTPMethod: http.MethodPost, TimeoutMs: 2000,
				Transform: domain.Transformation{Mode: domain.TransformPassthrough}},
		},
	}

	out, err := e.Attempt(context.Background(), Request{Config: cfg, Payload: domain.NewPayload(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if len(hits) != 2 || hits[0] != "/a" || hits[1] != "/b" {
		t.Fatalf("expected both actions to fire in order, got %v", hits)
	}
	if out.LastCompletedActionIndex != 1 {
		t.Fatalf("expected both actions completed, got %d", out.LastCompletedActionIndex)
	}
}

func TestAttempt_MultiActionAbortsOnNonRetriableFailure(t *testing.T) {
	var hits []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		if r.URL.Path == "/a" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := newEngine(t, true)
	cfg := domain.IntegrationConfig{
		ID: "int-1", TenantID: "tenant-1",
		Actions: []domain.Action{
			{Name: "first", TargetURL: server.URL + "/a", HTTPMethod: http.MethodPost, TimeoutMs: 2000,
				Transform: domain.Transformation{Mode: domain.TransformPassthrough}},
			{Name: "second", TargetURL: server.URL + "/b", HTTPMethod: http.MethodPost, TimeoutMs: 2000,
				Transform: domain.Transformation{Mode: domain.TransformPassthrough}},
		},
	}

	out, err := e.Attempt(context.Background(), Request{Config: cfg, Payload: domain.NewPayload(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Success {
		t.Fatal("expected failure")
	}
	if len(hits) != 1 {
		t.Fatalf("expected the chain to abort after action 0, got hits=%v", hits)
	}
	if out.LastCompletedActionIndex != -1 {
		t.Fatalf("expected no action completed, got %d", out.LastCompletedActionIndex)
	}
}

func TestAttempt_ValidationFailsWithoutTargetURL(t *testing.T) {
	e := newEngine(t, true)
	cfg := domain.IntegrationConfig{ID: "int-1", TenantID: "tenant-1"}

	out, err := e.Attempt(context.Background(), Request{Config: cfg, Payload: domain.NewPayload(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Category != domain.CategoryValidation {
		t.Fatalf("expected VALIDATION, got %s", out.Category)
	}
	if out.Retryable {
		t.Fatal("expected terminal")
	}
}

func TestAttempt_ResumesFromConfiguredAction(t *testing.T) {
	var hits []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := newEngine(t, true)
	cfg := domain.IntegrationConfig{
		ID: "int-1", TenantID: "tenant-1",
		Actions: []domain.Action{
			{Name: "first", TargetURL: server.URL + "/a", HTTPMethod: http.MethodPost, TimeoutMs: 2000,
				Transform: domain.Transformation{Mode: domain.TransformPassthrough}, Resumable: true},
			{Name: "second", TargetURL: server.URL + "/b", HTTPMethod: http.MethodPost, TimeoutMs: 2000,
				Transform: domain.Transformation{Mode: domain.TransformPassthrough}},
		},
	}

	out, err := e.Attempt(context.Background(), Request{Config: cfg, Payload: domain.NewPayload(nil), ResumeFromAction: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if len(hits) != 1 || hits[0] != "/b" {
		t.Fatalf("expected only the resumed action to fire, got %v", hits)
	}
}

func TestAttempt_CapturesRequestAndResponseSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Downstream", "ack")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	e := newEngine(t, true)
	cfg := domain.IntegrationConfig{
		ID: "int-1", TenantID: "tenant-1", TargetURL: server.URL, HTTPMethod: http.MethodPost, TimeoutMs: 2000,
		Transformation: domain.Transformation{Mode: domain.TransformPassthrough},
	}

	out, err := e.Attempt(context.Background(), Request{Config: cfg, Payload: domain.NewPayload(map[string]any{"a": 1})})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Request.URL != server.URL || out.Request.Method != http.MethodPost {
		t.Fatalf("expected request snapshot to record target and method, got %+v", out.Request)
	}
	if out.Response.StatusCode != http.StatusOK {
		t.Fatalf("expected response snapshot status 200, got %d", out.Response.StatusCode)
	}
	if out.Response.Headers["X-Downstream"] != "ack" {
		t.Fatalf("expected response headers captured, got %+v", out.Response.Headers)
	}
}
