// Package sandbox runs per-integration transform/condition/scheduling
// scripts in an isolated goja runtime with a fixed helper surface and a
// wall-clock timeout, never filesystem, network, or dynamic evaluation.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

// Kind selects the default timeout for a script invocation, and for
// KindTransform requires the result to be an object. Every kind gets the
// same helper surface.
type Kind string

const (
	KindTransform  Kind = "TRANSFORM"
	KindCondition  Kind = "CONDITION"
	KindScheduling Kind = "SCHEDULING"
)

// defaultTimeout returns each kind's default wall-clock budget (spec §4.5).
func (k Kind) defaultTimeout() time.Duration {
	switch k {
	case KindCondition:
		return 1 * time.Second
	case KindScheduling:
		return 2 * time.Second
	default:
		return 10 * time.Second
	}
}

// ErrScriptTimeout is returned when a script exceeds its wall-clock budget.
var ErrScriptTimeout = errors.New("sandbox: script execution timed out")

// LookupFunc resolves a hierarchical lookup table entry for the script's
// lookup(code, type) helper. The caller (engine/transform) owns tenant
// ancestry walking; the sandbox only exposes the resolved function.
type LookupFunc func(code, lookupType string) (string, error)

// Request describes one script invocation.
type Request struct {
	Script     string
	Kind       Kind
	Payload    domain.Payload
	EventType  string
	TenantID   string
	OrgID      string
	Timeout    time.Duration // overrides Kind.defaultTimeout() when > 0
	Lookup     LookupFunc
}

// Result carries a script's return value and any console.log output.
type Result struct {
	Output map[string]any
	Value  goja.Value
	Logs   []string
}

// Runtime executes scripts. One Runtime may be shared across goroutines;
// each Run call gets its own goja.Runtime (goja values aren't safe to share
// across runtimes, and a fresh VM per call keeps scripts isolated from each
// other).
type Runtime struct{}

// New creates a sandbox Runtime.
func New() *Runtime { return &Runtime{} }

// Run compiles and executes req.Script, enforcing the kind's wall-clock
// timeout. The script body runs as a function, so its result is the value
// it returns; for KindTransform that must be an object.
func (rt *Runtime) Run(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = req.Kind.defaultTimeout()
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	logs := make([]string, 0, 4)
	if err := bindConsole(vm, &logs); err != nil {
		return nil, err
	}
	bindForbiddenGlobals(vm)

	vm.Set("payload", req.Payload.Raw())
	vm.Set("context", map[string]any{
		"eventType": req.EventType,
		"tenantId":  req.TenantID,
		"orgId":     req.OrgID,
	})
	vm.Set("lookup", lookupBinding(req.Lookup))
	bindDateHelpers(vm)

	done := make(chan struct{})
	var (
		value goja.Value
		runErr error
	)

	go func() {
		defer close(done)
		if _, runErr = vm.RunString(wrapScript(req.Script)); runErr == nil {
			value = vm.Get("result")
		}
	}()

	select {
	case <-done:
		if runErr != nil {
			var iErr *goja.InterruptedError
			if errors.As(runErr, &iErr) {
				return nil, ErrScriptTimeout
			}
			return nil, fmt.Errorf("sandbox: script execution failed: %w", runErr)
		}
	case <-time.After(timeout):
		vm.Interrupt(ErrScriptTimeout)
		<-done
		return nil, ErrScriptTimeout
	case <-ctx.Done():
		vm.Interrupt(ctx.Err())
		<-done
		return nil, ctx.Err()
	}

	result := &Result{Value: value, Logs: logs}
	if req.Kind == KindTransform {
		out, err := exportObject(value)
		if err != nil {
			return nil, fmt.Errorf("sandbox: transform must return an object: %w", err)
		}
		result.Output = out
	}
	return result, nil
}

// wrapScript wraps the script body in a function and stores its return
// value in a top-level "result" binding, which Run reads back. A script
// yields a value only through a return statement; a bare final expression
// yields undefined.
func wrapScript(script string) string {
	return "var result = (function(){\n" + script + "\n})();"
}

func exportObject(v goja.Value) (map[string]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return map[string]any{}, nil
	}
	exported := v.Export()
	if m, ok := exported.(map[string]any); ok {
		return m, nil
	}
	return nil, fmt.Errorf("expected object, got %T", exported)
}

func bindConsole(vm *goja.Runtime, logs *[]string) error {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		*logs = append(*logs, fmt.Sprint(parts))
		return goja.Undefined()
	}
	if err := console.Set("log", logFn); err != nil {
		return err
	}
	if err := console.Set("warn", logFn); err != nil {
		return err
	}
	return vm.Set("console", console)
}

// bindForbiddenGlobals removes or shadows ambient capabilities goja would
// otherwise expose, so a script cannot reach the host process.
func bindForbiddenGlobals(vm *goja.Runtime) {
	for _, name := range []string{"require", "process", "eval", "Function", "fetch", "importScripts"} {
		vm.Set(name, goja.Undefined())
	}
}

func lookupBinding(fn LookupFunc) func(string, string) (string, error) {
	return func(code, lookupType string) (string, error) {
		if fn == nil {
			return code, nil
		}
		return fn(code, lookupType)
	}
}

func bindDateHelpers(vm *goja.Runtime) {
	now := func() int64 { return nowFunc().UnixMilli() }
	vm.Set("now", now)
	vm.Set("epoch", now)

	vm.Set("parseDate", func(s string) (int64, error) {
		t, err := parseFlexibleDate(s)
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil
	})
	vm.Set("toTimestamp", func(ms int64) string {
		return time.UnixMilli(ms).UTC().Format(time.RFC3339)
	})
	vm.Set("datetime", func(date, clock, tz string) (int64, error) {
		loc, err := loadLocation(tz)
		if err != nil {
			return 0, err
		}
		t, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+clock, loc)
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil
	})

	vm.Set("addMinutes", shiftFunc(time.Minute))
	vm.Set("addHours", shiftFunc(time.Hour))
	vm.Set("addDays", shiftFunc(24*time.Hour))
	vm.Set("subtractMinutes", shiftFunc(-time.Minute))
	vm.Set("subtractHours", shiftFunc(-time.Hour))
	vm.Set("subtractDays", shiftFunc(-24*time.Hour))
}

func shiftFunc(unit time.Duration) func(int64, float64) int64 {
	return func(ms int64, n float64) int64 {
		return time.UnixMilli(ms).Add(time.Duration(n * float64(unit))).UnixMilli()
	}
}

// nowFunc is overridable in tests; wall-clock by default.
var nowFunc = time.Now

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func parseFlexibleDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// ValidateScript compiles script without executing it, catching syntax
// errors at config-save time rather than first fire.
func ValidateScript(script string) error {
	_, err := goja.Compile("script.js", wrapScript(script), false)
	return err
}
