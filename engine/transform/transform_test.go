package transform

import (
	"context"
	"database/sql"
	"testing"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/sandbox"
)

type fakeLookupStore struct {
	byTenant map[string]domain.LookupTable // key: type+"|"+tenantID
	global   map[string]domain.LookupTable // key: type
}

func (f *fakeLookupStore) GetByTypeAndTenant(ctx context.Context, lookupType, tenantID string) (domain.LookupTable, error) {
	if tbl, ok := f.byTenant[lookupType+"|"+tenantID]; ok {
		return tbl, nil
	}
	return domain.LookupTable{}, sql.ErrNoRows
}

func (f *fakeLookupStore) GetGlobal(ctx context.Context, lookupType string) (domain.LookupTable, error) {
	if tbl, ok := f.global[lookupType]; ok {
		return tbl, nil
	}
	return domain.LookupTable{}, sql.ErrNoRows
}

type fakeTenantChain struct {
	chain map[string][]string
}

func (f *fakeTenantChain) Ancestors(id string) []string { return f.chain[id] }

func newEngine() (*Engine, *fakeLookupStore) {
	store := &fakeLookupStore{byTenant: map[string]domain.LookupTable{}, global: map[string]domain.LookupTable{}}
	resolver := NewLookupResolver(store, &fakeTenantChain{chain: map[string][]string{"clinic-1": {"clinic-1", "org-1"}}})
	return New(sandbox.New(), resolver), store
}

func TestApply_Passthrough(t *testing.T) {
	e, _ := newEngine()
	payload := domain.NewPayload(map[string]any{"a": 1})
	out, err := e.Apply(context.Background(), Request{
		Transformation: domain.Transformation{Mode: domain.TransformPassthrough},
		Payload:        payload,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"] != 1 {
		t.Fatalf("expected passthrough payload, got %+v", out)
	}
}

func TestApply_SimpleMappingBasic(t *testing.T) {
	e, _ := newEngine()
	payload := domain.NewPayload(map[string]any{"patient": map[string]any{"name": "  Jane Doe  "}})
	xform := domain.Transformation{
		Mode: domain.TransformSimple,
		Mappings: []domain.Mapping{
			{SourcePath: "patient.name", TargetPath: "fullName", Transform: domain.XformTrim},
		},
		StaticFields: []domain.StaticField{{Key: "source", Value: "gateway"}},
	}
	out, err := e.Apply(context.Background(), Request{Transformation: xform, Payload: payload, TenantID: "clinic-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["fullName"] != "Jane Doe" {
		t.Fatalf("expected trimmed name, got %+v", out)
	}
	if out["source"] != "gateway" {
		t.Fatalf("expected static field, got %+v", out)
	}
}

func TestApply_SimpleMappingDefault(t *testing.T) {
	e, _ := newEngine()
	payload := domain.NewPayload(map[string]any{})
	xform := domain.Transformation{
		Mode: domain.TransformSimple,
		Mappings: []domain.Mapping{
			{SourcePath: "missing.field", TargetPath: "status", Transform: domain.XformDefault, DefaultValue: "UNKNOWN"},
		},
	}
	out, err := e.Apply(context.Background(), Request{Transformation: xform, Payload: payload, TenantID: "clinic-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status"] != "UNKNOWN" {
		t.Fatalf("expected default substitution, got %+v", out)
	}
}

func TestApply_SimpleMappingLookupWithHierarchy(t *testing.T) {
	e, store := newEngine()
	store.byTenant["visitType|org-1"] = domain.LookupTable{
		Type: "visitType", TenantID: "org-1",
		Entries: map[string]string{"IP": "INPATIENT"}, Unmapped: domain.UnmappedPassthrough,
	}
	payload := domain.NewPayload(map[string]any{"code": "IP"})
	xform := domain.Transformation{
		Mode: domain.TransformSimple,
		Mappings: []domain.Mapping{
			{SourcePath: "code", TargetPath: "visitType", Transform: domain.XformLookup, LookupType: "visitType"},
		},
	}
	out, err := e.Apply(context.Background(), Request{Transformation: xform, Payload: payload, TenantID: "clinic-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["visitType"] != "INPATIENT" {
		t.Fatalf("expected resolved lookup from ancestor tenant, got %+v", out)
	}
}

func TestApply_SimpleMappingLookupUnmappedReject(t *testing.T) {
	e, store := newEngine()
	store.byTenant["visitType|clinic-1"] = domain.LookupTable{
		Type: "visitType", TenantID: "clinic-1",
		Entries: map[string]string{}, Unmapped: domain.UnmappedReject,
	}
	payload := domain.NewPayload(map[string]any{"code": "XX"})
	xform := domain.Transformation{
		Mode: domain.TransformSimple,
		Mappings: []domain.Mapping{
			{SourcePath: "code", TargetPath: "visitType", Transform: domain.XformLookup, LookupType: "visitType"},
		},
	}
	_, err := e.Apply(context.Background(), Request{Transformation: xform, Payload: payload, TenantID: "clinic-1"})
	if err == nil {
		t.Fatal("expected error from UnmappedReject")
	}
}

func TestApply_PostTransformLookupPass(t *testing.T) {
	e, store := newEngine()
	store.global["payerCode"] = domain.LookupTable{
		Type: "payerCode", Entries: map[string]string{"BC": "BLUE_CROSS"}, Unmapped: domain.UnmappedPassthrough,
	}
	payload := domain.NewPayload(map[string]any{"payer": "BC"})
	xform := domain.Transformation{
		Mode: domain.TransformSimple,
		Mappings: []domain.Mapping{
			{SourcePath: "payer", TargetPath: "payerCode", Transform: domain.XformNone},
		},
	}
	out, err := e.Apply(context.Background(), Request{
		Transformation: xform,
		Lookups:        []domain.LookupConfig{{SourceField: "payerCode", TargetField: "payerName", Type: "payerCode"}},
		Payload:        payload,
		TenantID:       "clinic-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["payerName"] != "BLUE_CROSS" {
		t.Fatalf("expected post-transform lookup result, got %+v", out)
	}
}

func TestApply_ScriptMode(t *testing.T) {
	e, _ := newEngine()
	payload := domain.NewPayload(map[string]any{"value": 10})
	xform := domain.Transformation{
		Mode:   domain.TransformScript,
		Script: "return { doubled: payload.value * 2 };",
	}
	out, err := e.Apply(context.Background(), Request{Transformation: xform, Payload: payload, TenantID: "clinic-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doubled, ok := toFloat(out["doubled"])
	if !ok || doubled != 20 {
		t.Fatalf("expected doubled value 20, got %+v", out["doubled"])
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func TestApply_DateISOTransform(t *testing.T) {
	e, _ := newEngine()
	payload := domain.NewPayload(map[string]any{"dob": "2024-01-15"})
	xform := domain.Transformation{
		Mode: domain.TransformSimple,
		Mappings: []domain.Mapping{
			{SourcePath: "dob", TargetPath: "birthDate", Transform: domain.XformDateISO},
		},
	}
	out, err := e.Apply(context.Background(), Request{Transformation: xform, Payload: payload, TenantID: "clinic-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["birthDate"] != "2024-01-15T00:00:00Z" {
		t.Fatalf("expected ISO formatted date, got %+v", out)
	}
}
