// Package delivery implements C9: the outbound (and inbound-proxy) delivery
// pipeline. One Attempt runs validation, rate-limiting, transform, auth and
// the HTTP dispatch for every action in a config's chain, recording a step
// per stage so the caller can append them to an ExecutionLog and route the
// outcome to C10's DLQ.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	svcerrors "github.com/varaprasadreddy9676/integration-control-plane/infrastructure/errors"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/metrics"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/resilience"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/sandbox"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/auth"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/ratelimit"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/transform"
)

// maxResponseSnippet bounds how much of a successful action's response body
// is retained on Outcome.ResponseBody.
const maxResponseSnippet = 4096

// HTTPClient is the subset of *http.Client the engine depends on.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Engine runs delivery attempts.
type Engine struct {
	transform *transform.Engine
	auth      *auth.Provider
	limiter   *ratelimit.Limiter
	sandbox   *sandbox.Runtime
	client    HTTPClient
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// New creates a delivery Engine.
func New(tf *transform.Engine, ap *auth.Provider, rl *ratelimit.Limiter, rt *sandbox.Runtime, client HTTPClient, m *metrics.Metrics, logger *logging.Logger) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Engine{
		transform: tf,
		auth:      ap,
		limiter:   rl,
		sandbox:   rt,
		client:    client,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		breakers:  make(map[string]*resilience.CircuitBreaker),
	}
}

// Request describes one delivery attempt.
type Request struct {
	TraceID   string
	MessageID string // stable id for HMAC signing and downstream idempotency
	Config    domain.IntegrationConfig
	Payload   domain.Payload

	// ResumeFromAction resumes a multi-action chain at this index instead of
	// index 0, used when the DLQ retries an attempt whose earlier actions
	// already completed and are marked Resumable.
	ResumeFromAction int
}

// ActionResult is the per-action outcome within a chain.
type ActionResult struct {
	Index      int
	Name       string
	Skipped    bool // condition evaluated false, or errored (fail-closed)
	StatusCode int
	Category   domain.ErrorCategory
	Error      string
}

// Outcome is the result of one Attempt.
type Outcome struct {
	Success                  bool
	Category                 domain.ErrorCategory
	Retryable                bool
	LastCompletedActionIndex int // -1 if no action completed
	FinalOutput              map[string]any
	ResponseStatus           int
	ResponseBody             []byte
	ActionResults            []ActionResult
	Steps                    []domain.Step
	Request                  domain.RequestSnapshot  // the last action attempted, for the ExecutionLog
	Response                 domain.ResponseSnapshot // zero value if the action never reached dispatch
}

// Attempt runs the pipeline once across every action in the chain. Every
// failure, including a malformed config (reported as VALIDATION_ERROR), is
// reported via Outcome; the returned error is always nil.
func (e *Engine) Attempt(ctx context.Context, req Request) (Outcome, error) {
	actions := req.Config.EffectiveActions()
	out := Outcome{LastCompletedActionIndex: -1}

	if err := validateActions(actions); err != nil {
		e.record(&out, domain.StepDeliver, domain.OutcomeFailure, "validation: "+err.Error())
		out.Category = domain.CategoryValidation
		out.Retryable = false
		return out, nil
	}

	start := req.ResumeFromAction
	if start < 0 || start >= len(actions) {
		start = 0
	}

	priorOutput := req.Payload.Raw()

	for i := start; i < len(actions); i++ {
		action := actions[i]
		result := ActionResult{Index: i, Name: action.Name}

		if i > 0 && action.Condition != "" {
			pass, err := e.evalCondition(ctx, action.Condition, priorOutput, req.Config)
			if err != nil {
				e.record(&out, domain.StepCondition, domain.OutcomeFailure,
					fmt.Sprintf("action[%d] condition error (fail-closed, skipped): %v", i, err))
				result.Skipped = true
				out.ActionResults = append(out.ActionResults, result)
				continue
			}
			if !pass {
				e.record(&out, domain.StepCondition, domain.OutcomeSkipped,
					fmt.Sprintf("action[%d] condition false", i))
				result.Skipped = true
				out.ActionResults = append(out.ActionResults, result)
				continue
			}
			e.record(&out, domain.StepCondition, domain.OutcomeSuccess, fmt.Sprintf("action[%d] condition passed", i))
		}

		decision, err := e.limiter.Check(ctx, req.Config.ID, req.Config.TenantID, req.Config.RateLimits)
		if err != nil {
			e.record(&out, domain.StepRateLimit, domain.OutcomeFailure, err.Error())
			out.Category = domain.CategoryUnknown
			out.Retryable = true
			return out, nil
		}
		if !decision.Allowed {
			e.record(&out, domain.StepRateLimit, domain.OutcomeFailure,
				fmt.Sprintf("denied, retry after %s", decision.RetryAfter))
			out.Category = domain.CategoryRateLimited
			out.Retryable = true
			result.Category = domain.CategoryRateLimited
			out.ActionResults = append(out.ActionResults, result)
			return out, nil
		}
		e.record(&out, domain.StepRateLimit, domain.OutcomeSuccess, "")

		transformed, err := e.transform.Apply(ctx, transform.Request{
			Transformation: action.Transform,
			Lookups:        req.Config.Lookups,
			Payload:        domain.NewPayload(priorOutput),
			EventType:      req.Config.EventType,
			TenantID:       req.Config.TenantID,
		})
		if err != nil {
			category := transformFailureCategory(action.Transform.Mode)
			e.record(&out, domain.StepTransform, domain.OutcomeFailure, err.Error())
			out.Category = category
			out.Retryable = category.Retryable()
			result.Category = category
			result.Error = err.Error()
			out.ActionResults = append(out.ActionResults, result)
			return out, nil
		}
		e.record(&out, domain.StepTransform, domain.OutcomeSuccess, "")

		body, err := json.Marshal(transformed)
		if err != nil {
			e.record(&out, domain.StepTransform, domain.OutcomeFailure, "marshal output: "+err.Error())
			out.Category = domain.CategoryTransform
			out.Retryable = false
			return out, nil
		}

		mutation, err := e.auth.Resolve(ctx, req.Config.ID, action.Auth, req.Config.Signing, body, req.MessageID)
		if err != nil {
			e.record(&out, domain.StepAuth, domain.OutcomeFailure, err.Error())
			out.Category = domain.CategoryAuth
			out.Retryable = true
			result.Category = domain.CategoryAuth
			result.Error = err.Error()
			out.ActionResults = append(out.ActionResults, result)
			return out, nil
		}
		e.record(&out, domain.StepAuth, domain.OutcomeSuccess, "")

		headers := mergedHeaders(action, mutation)
		method := action.HTTPMethod
		if method == "" {
			method = http.MethodPost
		}
		out.Request = domain.RequestSnapshot{URL: action.TargetURL, Method: method, Headers: headers, Body: string(body)}

		status, respHeaders, respBody, dispatchErr := e.dispatch(ctx, req.Config.ID, method, action, body, headers)
		out.Response = domain.ResponseSnapshot{StatusCode: status, Headers: headerMap(respHeaders), Body: string(respBody)}

		var category domain.ErrorCategory
		if errors.Is(dispatchErr, context.DeadlineExceeded) {
			category = domain.CategoryTimeout
		} else {
			category = svcerrors.Classify(dispatchErr, status)
		}
		result.StatusCode = status
		result.Category = category

		if dispatchErr != nil || status >= 400 {
			detail := fmt.Sprintf("action[%d] status=%d category=%s", i, status, category)
			if dispatchErr != nil {
				detail = fmt.Sprintf("%s err=%v", detail, dispatchErr)
				result.Error = dispatchErr.Error()
			}
			e.record(&out, domain.StepDeliver, domain.OutcomeFailure, detail)
			if e.metrics != nil {
				e.metrics.RecordDelivery(req.Config.ID, string(category), "failure", 0)
			}

			if invalidated, _ := e.auth.InvalidateOnExpiration(ctx, req.Config.ID, action.Auth.TokenExpirationDetection, respBody); invalidated {
				category = domain.CategoryAuth
				result.Category = category
			}

			out.Category = category
			out.Retryable = category.Retryable()
			out.ActionResults = append(out.ActionResults, result)
			return out, nil
		}

		e.record(&out, domain.StepDeliver, domain.OutcomeSuccess, fmt.Sprintf("action[%d] status=%d", i, status))
		if e.metrics != nil {
			e.metrics.RecordDelivery(req.Config.ID, "", "success", 0)
		}
		out.ActionResults = append(out.ActionResults, result)
		out.LastCompletedActionIndex = i

		nextOutput, perr := parseResponseBody(respBody)
		if perr == nil {
			priorOutput = nextOutput
		} else {
			priorOutput = map[string]any{}
		}
		out.ResponseStatus = status
		if len(respBody) > maxResponseSnippet {
			out.ResponseBody = respBody[:maxResponseSnippet]
		} else {
			out.ResponseBody = respBody
		}

		if req.Config.MultiActionDelayMs > 0 && i < len(actions)-1 {
			select {
			case <-ctx.Done():
				out.Category = domain.CategoryTimeout
				out.Retryable = true
				return out, nil
			case <-time.After(time.Duration(req.Config.MultiActionDelayMs) * time.Millisecond):
			}
		}
	}

	out.Success = true
	out.FinalOutput = priorOutput
	return out, nil
}

func (e *Engine) record(out *Outcome, name domain.StepName, outcome domain.StepOutcome, detail string) {
	out.Steps = append(out.Steps, domain.Step{Name: name, Outcome: outcome, Detail: detail, StartedAt: e.now()})
}

func (e *Engine) evalCondition(ctx context.Context, script string, priorOutput map[string]any, cfg domain.IntegrationConfig) (bool, error) {
	res, err := e.sandbox.Run(ctx, sandbox.Request{
		Script:    script,
		Kind:      sandbox.KindCondition,
		Payload:   domain.NewPayload(priorOutput),
		EventType: cfg.EventType,
		TenantID:  cfg.TenantID,
	})
	if err != nil {
		return false, err
	}
	if res.Value == nil {
		return false, nil
	}
	return res.Value.ToBoolean(), nil
}

// dispatch issues the HTTP request for one action, protected by a
// per-integration circuit breaker so a persistently failing downstream host
// stops being hammered by further attempts.
func (e *Engine) dispatch(ctx context.Context, integrationID, method string, action domain.Action, body []byte, headers map[string]string) (int, http.Header, []byte, error) {
	timeout := time.Duration(action.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var status int
	var respHeaders http.Header
	var respBody []byte

	breaker := e.breakerFor(integrationID)
	err := breaker.Execute(reqCtx, func() error {
		httpReq, err := http.NewRequestWithContext(reqCtx, method, action.TargetURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
		if httpReq.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		resp, err := e.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		respHeaders = resp.Header
		respBody, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if status >= 500 {
			return fmt.Errorf("downstream returned status %d", status)
		}
		return nil
	})

	if err != nil {
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			return 0, nil, nil, err
		}
		if status == 0 {
			return 0, nil, nil, err
		}
	}
	return status, respHeaders, respBody, nil
}

// mergedHeaders combines an action's static headers with the auth mutation's
// headers (signing, bearer tokens), the same precedence dispatch applies on
// the wire, for use in the request snapshot.
func mergedHeaders(action domain.Action, mutation auth.Mutation) map[string]string {
	out := make(map[string]string, len(action.Headers)+len(mutation.Headers))
	for k, v := range action.Headers {
		out[k] = v
	}
	for k, v := range mutation.Headers {
		out[k] = v
	}
	return out
}

func headerMap(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func (e *Engine) breakerFor(integrationID string) *resilience.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	if cb, ok := e.breakers[integrationID]; ok {
		return cb
	}
	cb := resilience.New(resilience.DefaultConfig())
	e.breakers[integrationID] = cb
	return cb
}

func validateActions(actions []domain.Action) error {
	if len(actions) == 0 {
		return fmt.Errorf("no actions configured")
	}
	for i, a := range actions {
		if a.TargetURL == "" {
			return fmt.Errorf("action[%d] %q: targetUrl is required", i, a.Name)
		}
	}
	return nil
}

func transformFailureCategory(mode domain.TransformMode) domain.ErrorCategory {
	if mode == domain.TransformScript {
		return domain.CategoryTransform
	}
	return domain.CategoryValidation
}

func parseResponseBody(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}
