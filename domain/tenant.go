package domain

// Tenant is a node in the hierarchical ownership tree (OrgUnit). Integration
// scope and lookup fallback both walk this tree; parents are resolved by id,
// never by pointer, to keep the model arena-safe under concurrent cache
// reloads.
type Tenant struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"` // "" = root
	Name     string `json:"name"`
}

// TenantIndex is an in-memory lookup over the tenant tree, built fresh on
// each config cache reload.
type TenantIndex struct {
	byID map[string]Tenant
}

// NewTenantIndex builds an index from a flat tenant list.
func NewTenantIndex(tenants []Tenant) *TenantIndex {
	idx := &TenantIndex{byID: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		idx.byID[t.ID] = t
	}
	return idx
}

// IsAncestor reports whether "ancestor" is "id" itself or an ancestor of it,
// walking parent links with cycle protection (a malformed tree cannot spin
// this forever).
func (idx *TenantIndex) IsAncestor(ancestor, id string) bool {
	seen := make(map[string]bool)
	cur := id
	for cur != "" {
		if cur == ancestor {
			return true
		}
		if seen[cur] {
			return false // cycle guard
		}
		seen[cur] = true
		t, ok := idx.byID[cur]
		if !ok {
			return false
		}
		cur = t.ParentID
	}
	return false
}

// Ancestors returns the chain from "id" up to the root, inclusive of "id",
// nearest first. Used by hierarchical lookup-table fallback.
func (idx *TenantIndex) Ancestors(id string) []string {
	var chain []string
	seen := make(map[string]bool)
	cur := id
	for cur != "" && !seen[cur] {
		chain = append(chain, cur)
		seen[cur] = true
		t, ok := idx.byID[cur]
		if !ok {
			break
		}
		cur = t.ParentID
	}
	return chain
}
