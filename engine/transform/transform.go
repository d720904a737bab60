// Package transform implements C6: producing the outbound (or inbound
// response) body from a source payload, either via a declarative SIMPLE
// mapping set or a sandboxed SCRIPT.
package transform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/sandbox"
)

// Engine applies a Transformation to a payload.
type Engine struct {
	sandbox  *sandbox.Runtime
	lookups  *LookupResolver
}

// New creates a transform Engine.
func New(rt *sandbox.Runtime, lookups *LookupResolver) *Engine {
	return &Engine{sandbox: rt, lookups: lookups}
}

// Request describes one transform invocation.
type Request struct {
	Transformation domain.Transformation
	Lookups        []domain.LookupConfig // post-transform pass, SIMPLE mode only
	Payload        domain.Payload
	EventType      string
	TenantID       string
	OrgID          string
}

// Apply produces the output object per spec §4.6, dispatching on Mode.
func (e *Engine) Apply(ctx context.Context, req Request) (map[string]any, error) {
	switch req.Transformation.Mode {
	case domain.TransformPassthrough:
		return req.Payload.Raw(), nil

	case domain.TransformScript:
		return e.applyScript(ctx, req)

	case domain.TransformSimple:
		out, err := e.applySimple(ctx, req)
		if err != nil {
			return nil, err
		}
		return e.applyPostLookups(ctx, req, out)

	default:
		return nil, fmt.Errorf("transform: unknown mode %q", req.Transformation.Mode)
	}
}

func (e *Engine) applyScript(ctx context.Context, req Request) (map[string]any, error) {
	res, err := e.sandbox.Run(ctx, sandbox.Request{
		Script:    req.Transformation.Script,
		Kind:      sandbox.KindTransform,
		Payload:   req.Payload,
		EventType: req.EventType,
		TenantID:  req.TenantID,
		OrgID:     req.OrgID,
		Lookup: func(code, lookupType string) (string, error) {
			return e.lookups.Resolve(ctx, lookupType, req.TenantID, code)
		},
	})
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

func (e *Engine) applySimple(ctx context.Context, req Request) (map[string]any, error) {
	out := make(map[string]any)

	for _, m := range req.Transformation.Mappings {
		value, found := req.Payload.GetPath(m.SourcePath)
		value, err := e.applyMappingTransform(ctx, m, req.TenantID, value, found)
		if err != nil {
			return nil, fmt.Errorf("mapping %s -> %s: %w", m.SourcePath, m.TargetPath, err)
		}
		if value == nil {
			continue // undefined source with no substituting transform: omit the target field
		}
		if err := domain.SetPath(out, m.TargetPath, value); err != nil {
			return nil, fmt.Errorf("mapping %s -> %s: %w", m.SourcePath, m.TargetPath, err)
		}
	}

	for _, sf := range req.Transformation.StaticFields {
		if err := domain.SetPath(out, sf.Key, sf.Value); err != nil {
			return nil, fmt.Errorf("static field %s: %w", sf.Key, err)
		}
	}

	return out, nil
}

// applyMappingTransform applies one Mapping's unary transform to the
// resolved source value. isEmpty treats nil, "", and !found as equivalent
// for DEFAULT substitution, per spec §4.6 ("DEFAULT substitutes the given
// value iff source is null/empty").
func (e *Engine) applyMappingTransform(ctx context.Context, m domain.Mapping, tenantID string, value any, found bool) (any, error) {
	isEmpty := !found || value == nil || value == ""

	switch m.Transform {
	case domain.XformDefault:
		if isEmpty {
			return m.DefaultValue, nil
		}
		return value, nil

	case domain.XformTrim, domain.XformUpper, domain.XformLower, domain.XformDateISO, domain.XformLookup:
		if isEmpty {
			return nil, nil
		}
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		switch m.Transform {
		case domain.XformTrim:
			return strings.TrimSpace(s), nil
		case domain.XformUpper:
			return strings.ToUpper(s), nil
		case domain.XformLower:
			return strings.ToLower(s), nil
		case domain.XformDateISO:
			return toISODate(s)
		case domain.XformLookup:
			return e.lookups.Resolve(ctx, m.LookupType, tenantID, s)
		}
		return value, nil

	case domain.XformNone:
		fallthrough
	default:
		if isEmpty {
			return nil, nil
		}
		return value, nil
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"2006-01-02",
}

// toISODate parses s against a fixed list of common source formats and
// renders it as RFC3339 UTC.
func toISODate(s string) (string, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		} else {
			lastErr = err
		}
	}
	return "", fmt.Errorf("unrecognized date format %q: %w", s, lastErr)
}

// applyPostLookups runs the post-transform lookup pass for SIMPLE mode:
// for each configured LookupConfig, read sourceField from the transformed
// output, resolve it, and write to targetField (spec §4.6).
func (e *Engine) applyPostLookups(ctx context.Context, req Request, out map[string]any) (map[string]any, error) {
	payload := domain.NewPayload(out)
	for _, lc := range req.Lookups {
		value, found := payload.GetPath(lc.SourceField)
		if !found {
			continue
		}
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		resolved, err := e.lookups.Resolve(ctx, lc.Type, req.TenantID, s)
		if err != nil {
			return nil, fmt.Errorf("post-transform lookup %s: %w", lc.Type, err)
		}
		if err := domain.SetPath(out, lc.TargetField, resolved); err != nil {
			return nil, fmt.Errorf("post-transform lookup %s: %w", lc.Type, err)
		}
	}
	return out, nil
}
