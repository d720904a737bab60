// Package matcher implements fan-out: given an inbound event, it selects
// every active integration that should see it, applying tenant hierarchy
// scope and a per-integration condition script.
package matcher

import (
	"context"
	"sort"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/sandbox"
)

// ConfigSource is the subset of store.ConfigCache the matcher depends on.
type ConfigSource interface {
	ListForTenantAndEvent(ctx context.Context, tenantID, eventType string) ([]domain.IntegrationConfig, error)
}

// TenantSource is the subset of domain.TenantIndex the matcher depends on.
type TenantSource interface {
	IsAncestor(ancestor, id string) bool
}

// Event is the minimal shape the matcher needs from an audited source event.
type Event struct {
	TenantID  string
	EventType string
	Payload   domain.Payload
	OrgID     string
}

// Match is one integration selected for an event, paired with the trace
// detail worth recording against the execution log.
type Match struct {
	Config domain.IntegrationConfig
	Detail string // e.g. "condition passed" / reason a near-miss was excluded, for callers that log candidates
}

// Matcher selects the integrations an event fans out to.
type Matcher struct {
	configs ConfigSource
	tenants TenantSource
	sandbox *sandbox.Runtime
	logger  *logging.Logger
}

// New creates a Matcher.
func New(configs ConfigSource, tenants TenantSource, rt *sandbox.Runtime, logger *logging.Logger) *Matcher {
	return &Matcher{configs: configs, tenants: tenants, sandbox: rt, logger: logger}
}

// Match implements spec §4.4: select every active integration whose tenant
// scope covers ev.TenantID and whose eventType matches (literal or "*"),
// then evaluate each candidate's condition script, denying (excluding) on
// any script error since a condition is fail-closed by policy. Candidates
// are returned in stable (createdAt, id) order, matching the store query's
// ordering.
func (m *Matcher) Match(ctx context.Context, ev Event) ([]Match, error) {
	candidates, err := m.configs.ListForTenantAndEvent(ctx, ev.TenantID, ev.EventType)
	if err != nil {
		return nil, err
	}

	inScope := make([]domain.IntegrationConfig, 0, len(candidates))
	for _, cfg := range candidates {
		if !cfg.IsActive {
			continue
		}
		if cfg.EventType != ev.EventType && cfg.EventType != "*" {
			continue
		}
		if !m.inTenantScope(cfg, ev.TenantID) {
			continue
		}
		inScope = append(inScope, cfg)
	}

	sort.SliceStable(inScope, func(i, j int) bool {
		if inScope[i].CreatedAt.Equal(inScope[j].CreatedAt) {
			return inScope[i].ID < inScope[j].ID
		}
		return inScope[i].CreatedAt.Before(inScope[j].CreatedAt)
	})

	matches := make([]Match, 0, len(inScope))
	for _, cfg := range inScope {
		if cfg.Condition == "" {
			matches = append(matches, Match{Config: cfg, Detail: "no condition"})
			continue
		}
		ok, err := m.evalCondition(ctx, cfg, ev)
		if err != nil {
			if m.logger != nil {
				m.logger.WithContext(ctx).WithFields(map[string]any{
					"integrationId": cfg.ID,
					"error":         err.Error(),
				}).Warn("condition script failed, excluding integration (fail-closed)")
			}
			continue
		}
		if !ok {
			continue
		}
		matches = append(matches, Match{Config: cfg, Detail: "condition passed"})
	}
	return matches, nil
}

// inTenantScope reports whether cfg's tenant covers eventTenant: either a
// direct match, or cfg's tenant is an ancestor of eventTenant with
// scope=INCLUDE_CHILDREN and eventTenant isn't explicitly excluded.
func (m *Matcher) inTenantScope(cfg domain.IntegrationConfig, eventTenant string) bool {
	if cfg.TenantID == eventTenant {
		return true
	}
	if cfg.Scope != domain.ScopeIncludeChildren {
		return false
	}
	if cfg.ExcludedChildren[eventTenant] {
		return false
	}
	return m.tenants.IsAncestor(cfg.TenantID, eventTenant)
}

// evalCondition runs cfg.Condition against ev, returning the script's
// truthiness. Any non-nil error (script error or non-boolean return) is the
// caller's signal to exclude the candidate.
func (m *Matcher) evalCondition(ctx context.Context, cfg domain.IntegrationConfig, ev Event) (bool, error) {
	res, err := m.sandbox.Run(ctx, sandbox.Request{
		Script:    cfg.Condition,
		Kind:      sandbox.KindCondition,
		Payload:   ev.Payload,
		EventType: ev.EventType,
		TenantID:  ev.TenantID,
		OrgID:     ev.OrgID,
	})
	if err != nil {
		return false, err
	}
	if res.Value == nil {
		return false, nil
	}
	return res.Value.ToBoolean(), nil
}
