package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/sandbox"
)

type fakeConfigs struct {
	list []domain.IntegrationConfig
}

func (f *fakeConfigs) ListForTenantAndEvent(ctx context.Context, tenantID, eventType string) ([]domain.IntegrationConfig, error) {
	return f.list, nil
}

type fakeTenants struct {
	ancestors map[string]string // child -> parent
}

func (f *fakeTenants) IsAncestor(ancestor, id string) bool {
	cur, ok := f.ancestors[id]
	for ok {
		if cur == ancestor {
			return true
		}
		cur, ok = f.ancestors[cur]
	}
	return false
}

func cfg(id, tenant, eventType string) domain.IntegrationConfig {
	return domain.IntegrationConfig{
		ID:        id,
		TenantID:  tenant,
		EventType: eventType,
		IsActive:  true,
		Scope:     domain.ScopeEntityOnly,
		CreatedAt: time.Unix(0, 0),
	}
}

func TestMatch_DirectTenant(t *testing.T) {
	configs := &fakeConfigs{list: []domain.IntegrationConfig{cfg("a", "tenant-1", "ADMIT")}}
	m := New(configs, &fakeTenants{}, sandbox.New(), nil)

	got, err := m.Match(context.Background(), Event{TenantID: "tenant-1", EventType: "ADMIT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Config.ID != "a" {
		t.Fatalf("expected match on a, got %+v", got)
	}
}

func TestMatch_WildcardEventType(t *testing.T) {
	configs := &fakeConfigs{list: []domain.IntegrationConfig{cfg("a", "tenant-1", "*")}}
	m := New(configs, &fakeTenants{}, sandbox.New(), nil)

	got, err := m.Match(context.Background(), Event{TenantID: "tenant-1", EventType: "DISCHARGE"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected wildcard match, got %+v", got)
	}
}

func TestMatch_IncludeChildrenScope(t *testing.T) {
	parent := cfg("a", "org-1", "ADMIT")
	parent.Scope = domain.ScopeIncludeChildren
	configs := &fakeConfigs{list: []domain.IntegrationConfig{parent}}
	tenants := &fakeTenants{ancestors: map[string]string{"clinic-1": "org-1"}}
	m := New(configs, tenants, sandbox.New(), nil)

	got, err := m.Match(context.Background(), Event{TenantID: "clinic-1", EventType: "ADMIT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected ancestor match, got %+v", got)
	}
}

func TestMatch_ExcludedChild(t *testing.T) {
	parent := cfg("a", "org-1", "ADMIT")
	parent.Scope = domain.ScopeIncludeChildren
	parent.ExcludedChildren = map[string]bool{"clinic-1": true}
	configs := &fakeConfigs{list: []domain.IntegrationConfig{parent}}
	tenants := &fakeTenants{ancestors: map[string]string{"clinic-1": "org-1"}}
	m := New(configs, tenants, sandbox.New(), nil)

	got, err := m.Match(context.Background(), Event{TenantID: "clinic-1", EventType: "ADMIT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no match for excluded child, got %+v", got)
	}
}

func TestMatch_EntityOnlyScopeExcludesDescendants(t *testing.T) {
	parent := cfg("a", "org-1", "ADMIT") // ScopeEntityOnly by default
	configs := &fakeConfigs{list: []domain.IntegrationConfig{parent}}
	tenants := &fakeTenants{ancestors: map[string]string{"clinic-1": "org-1"}}
	m := New(configs, tenants, sandbox.New(), nil)

	got, err := m.Match(context.Background(), Event{TenantID: "clinic-1", EventType: "ADMIT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no match for entity-only scope, got %+v", got)
	}
}

func TestMatch_ConditionScriptGatesMatch(t *testing.T) {
	accepts := cfg("a", "tenant-1", "ADMIT")
	accepts.Condition = "payload.priority === 'HIGH'"
	rejects := cfg("b", "tenant-1", "ADMIT")
	rejects.Condition = "payload.priority === 'LOW'"
	configs := &fakeConfigs{list: []domain.IntegrationConfig{accepts, rejects}}
	m := New(configs, &fakeTenants{}, sandbox.New(), nil)

	payload := domain.NewPayload(map[string]any{"priority": "HIGH"})
	got, err := m.Match(context.Background(), Event{TenantID: "tenant-1", EventType: "ADMIT", Payload: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Config.ID != "a" {
		t.Fatalf("expected only 'a' to match, got %+v", got)
	}
}

func TestMatch_ConditionScriptErrorFailsClosed(t *testing.T) {
	broken := cfg("a", "tenant-1", "ADMIT")
	broken.Condition = "this is not valid javascript {{{"
	configs := &fakeConfigs{list: []domain.IntegrationConfig{broken}}
	m := New(configs, &fakeTenants{}, sandbox.New(), nil)

	got, err := m.Match(context.Background(), Event{TenantID: "tenant-1", EventType: "ADMIT"})
	if err != nil {
		t.Fatalf("Match itself should not error on a bad condition: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected fail-closed exclusion, got %+v", got)
	}
}

func TestMatch_StableTieBreakOrder(t *testing.T) {
	older := cfg("z-newer-id", "tenant-1", "ADMIT")
	older.CreatedAt = time.Unix(100, 0)
	newer := cfg("a-older-id", "tenant-1", "ADMIT")
	newer.CreatedAt = time.Unix(200, 0)
	sameTime1 := cfg("b", "tenant-1", "ADMIT")
	sameTime1.CreatedAt = time.Unix(300, 0)
	sameTime2 := cfg("a", "tenant-1", "ADMIT")
	sameTime2.CreatedAt = time.Unix(300, 0)

	configs := &fakeConfigs{list: []domain.IntegrationConfig{newer, sameTime1, older, sameTime2}}
	m := New(configs, &fakeTenants{}, sandbox.New(), nil)

	got, err := m.Match(context.Background(), Event{TenantID: "tenant-1", EventType: "ADMIT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantOrder := []string{"z-newer-id", "a-older-id", "a", "b"}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d matches, got %d", len(wantOrder), len(got))
	}
	for i, id := range wantOrder {
		if got[i].Config.ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].Config.ID)
		}
	}
}

func TestMatch_InactiveExcluded(t *testing.T) {
	inactive := cfg("a", "tenant-1", "ADMIT")
	inactive.IsActive = false
	configs := &fakeConfigs{list: []domain.IntegrationConfig{inactive}}
	m := New(configs, &fakeTenants{}, sandbox.New(), nil)

	got, err := m.Match(context.Background(), Event{TenantID: "tenant-1", EventType: "ADMIT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected inactive config excluded, got %+v", got)
	}
}

func TestMatch_PropagatesListError(t *testing.T) {
	m := New(erroringConfigs{}, &fakeTenants{}, sandbox.New(), nil)
	_, err := m.Match(context.Background(), Event{TenantID: "tenant-1", EventType: "ADMIT"})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

type erroringConfigs struct{}

func (erroringConfigs) ListForTenantAndEvent(ctx context.Context, tenantID, eventType string) ([]domain.IntegrationConfig, error) {
	return nil, errors.New("db unavailable")
}
