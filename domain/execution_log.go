package domain

import "time"

// StepName enumerates the pipeline stages a trace passes through. Not every
// trace visits every step (e.g. a SKIPPED match never reaches transform).
type StepName string

const (
	StepIngest    StepName = "INGEST"
	StepMatch     StepName = "MATCH"
	StepCondition StepName = "CONDITION"
	StepTransform StepName = "TRANSFORM"
	StepAuth      StepName = "AUTH"
	StepRateLimit StepName = "RATE_LIMIT"
	StepDeliver   StepName = "DELIVER"
	StepSchedule  StepName = "SCHEDULE"
	StepDLQ       StepName = "DLQ"
)

// StepOutcome is the per-step result recorded for a trace.
type StepOutcome string

const (
	OutcomeSuccess StepOutcome = "SUCCESS"
	OutcomeFailure StepOutcome = "FAILURE"
	OutcomeSkipped StepOutcome = "SKIPPED"
)

// Step is one entry in an ExecutionLog's ordered timeline.
type Step struct {
	Name      StepName    `json:"name"`
	Outcome   StepOutcome `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
	StartedAt time.Time   `json:"startedAt"`
	GapMs     int64       `json:"gapMs"` // elapsed since the previous step's StartedAt; 0 for the first step
}

// TriggerType records what started a trace.
type TriggerType string

const (
	TriggerEvent    TriggerType = "EVENT"
	TriggerAPI      TriggerType = "API"
	TriggerSchedule TriggerType = "SCHEDULE"
)

// ExecutionStatus is an ExecutionLog's overall lifecycle state. Distinct from
// a single Step's StepOutcome: a trace stays "retrying" across several DLQ
// attempts before it finally lands on "success" or "failed".
type ExecutionStatus string

const (
	ExecutionPending  ExecutionStatus = "pending"
	ExecutionRetrying ExecutionStatus = "retrying"
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionFailed   ExecutionStatus = "failed"
)

// RequestSnapshot captures the outbound call's wire shape for an
// ExecutionLog's top-level request field. Headers and body are redacted and
// truncated the same way a delivery step's detail is (engine/executionlog).
type RequestSnapshot struct {
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ResponseSnapshot captures the downstream's response for an ExecutionLog's
// top-level response field.
type ResponseSnapshot struct {
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// ExecutionLog is the unified per-trace record tying together every step an
// event passed through, across C2-C12.
type ExecutionLog struct {
	TraceID       string           `json:"traceId"`
	MessageID     string           `json:"messageId,omitempty"`
	Direction     Direction        `json:"direction,omitempty"`
	TriggerType   TriggerType      `json:"triggerType,omitempty"`
	TenantID      string           `json:"tenantId"`
	IntegrationID string           `json:"integrationId,omitempty"`
	EventType     string           `json:"eventType"`
	Status        ExecutionStatus  `json:"status"`
	StartedAt     time.Time        `json:"startedAt"`
	FinishedAt    time.Time        `json:"finishedAt,omitempty"`
	DurationMs    int64            `json:"durationMs,omitempty"`
	Request       RequestSnapshot  `json:"request,omitempty"`
	Response      ResponseSnapshot `json:"response,omitempty"`
	Error         string           `json:"error,omitempty"`
	Steps         []Step           `json:"steps"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// AppendStep appends a step, computing GapMs relative to the previous step's
// StartedAt (0 for the first step in the timeline).
func (l *ExecutionLog) AppendStep(s Step) {
	if n := len(l.Steps); n > 0 {
		s.GapMs = s.StartedAt.Sub(l.Steps[n-1].StartedAt).Milliseconds()
	} else {
		s.GapMs = 0
	}
	l.Steps = append(l.Steps, s)
}

// LastOutcome returns the outcome of the most recent step, or "" if the
// timeline is empty.
func (l ExecutionLog) LastOutcome() StepOutcome {
	if len(l.Steps) == 0 {
		return ""
	}
	return l.Steps[len(l.Steps)-1].Outcome
}
