package tenancy

import (
	"context"
	"testing"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

type fakeStore struct {
	tenants []domain.Tenant
	err     error
}

func (f *fakeStore) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	return f.tenants, f.err
}

func TestReload_BuildsWalkableIndex(t *testing.T) {
	store := &fakeStore{tenants: []domain.Tenant{
		{ID: "root", ParentID: ""},
		{ID: "child", ParentID: "root"},
		{ID: "grandchild", ParentID: "child"},
	}}
	idx := New(store, nil)

	if idx.IsAncestor("root", "grandchild") {
		t.Fatal("expected empty index before reload")
	}
	if err := idx.Reload(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !idx.IsAncestor("root", "grandchild") {
		t.Fatal("expected root to be an ancestor of grandchild after reload")
	}
	chain := idx.Ancestors("grandchild")
	want := []string{"grandchild", "child", "root"}
	if len(chain) != len(want) {
		t.Fatalf("unexpected chain: %v", chain)
	}
	for i, id := range want {
		if chain[i] != id {
			t.Fatalf("unexpected chain order: %v", chain)
		}
	}
}

func TestReload_PropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: errBoom{}}
	idx := New(store, nil)

	if err := idx.Reload(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
