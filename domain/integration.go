package domain

import "time"

// Direction is the traffic shape of an integration.
type Direction string

const (
	DirectionOutbound  Direction = "OUTBOUND"
	DirectionInbound   Direction = "INBOUND"
	DirectionScheduled Direction = "SCHEDULED"
)

// Scope controls whether an integration covers only its own tenant or the
// whole subtree rooted at it.
type Scope string

const (
	ScopeEntityOnly      Scope = "ENTITY_ONLY"
	ScopeIncludeChildren Scope = "INCLUDE_CHILDREN"
)

// TransformMode selects how the outbound/response body is produced.
type TransformMode string

const (
	TransformPassthrough TransformMode = "PASSTHROUGH"
	TransformSimple      TransformMode = "SIMPLE"
	TransformScript      TransformMode = "SCRIPT"
)

// DeliveryMode controls whether a matched event fires immediately or is
// parked for a scheduling script to resolve a fire time.
type DeliveryMode string

const (
	DeliveryImmediate DeliveryMode = "IMMEDIATE"
	DeliveryDelayed   DeliveryMode = "DELAYED"
	DeliveryRecurring DeliveryMode = "RECURRING"
)

// AuthType enumerates the outbound/inbound credential resolution strategies.
type AuthType string

const (
	AuthNone   AuthType = "NONE"
	AuthAPIKey AuthType = "API_KEY"
	AuthBearer AuthType = "BEARER"
	AuthBasic  AuthType = "BASIC"
	AuthOAuth2 AuthType = "OAUTH2"
	AuthCustom AuthType = "CUSTOM"
	AuthHMAC   AuthType = "HMAC"
)

// OAuth2Grant selects the OAuth2 grant type used to mint a token.
type OAuth2Grant string

const (
	GrantClientCredentials OAuth2Grant = "client_credentials"
	GrantPassword          OAuth2Grant = "password"
)

// TokenExpirationDetection describes how to notice an expired token from a
// response body so the cache can be invalidated and the attempt retried.
type TokenExpirationDetection struct {
	Enabled       bool     `json:"enabled"`
	ResponsePath  string   `json:"responsePath"`
	MatchValues   []string `json:"matchValues"`
}

// OAuth2Spec configures an OAUTH2 auth strategy.
type OAuth2Spec struct {
	Grant              OAuth2Grant `json:"grant"`
	TokenURL           string      `json:"tokenUrl"`
	ClientID           string      `json:"clientId"`
	ClientSecret       string      `json:"clientSecret"`
	Username           string      `json:"username,omitempty"`
	Password           string      `json:"password,omitempty"`
	Scope              string      `json:"scope,omitempty"`
	TokenResponsePath  string      `json:"tokenResponsePath"`
	TokenExpiresInPath string      `json:"tokenExpiresInPath"`
	SafetyMarginSec    int         `json:"safetyMarginSec"`
}

// CustomAuthSpec configures an arbitrary token-minting request for the
// CUSTOM strategy.
type CustomAuthSpec struct {
	Method             string            `json:"method"`
	URL                string            `json:"url"`
	Headers            map[string]string `json:"headers"`
	Body               string            `json:"body"`
	TokenResponsePath  string            `json:"tokenResponsePath"`
	TokenExpiresInPath string            `json:"tokenExpiresInPath"`
	HeaderName         string            `json:"headerName"`
}

// CachedToken is the token-cache state embedded on an AuthSpec. Persisted on
// the integration row (not in-process memory) so it survives restarts and is
// visible to every worker.
type CachedToken struct {
	Token        string    `json:"cachedToken,omitempty"`
	ExpiresAt    time.Time `json:"tokenExpiresAt,omitempty"`
	LastFetched  time.Time `json:"tokenLastFetched,omitempty"`
}

// Valid reports whether the cached token may still be used at "at", applying
// the safety margin so a token is never used right up to its expiry edge.
func (c CachedToken) Valid(at time.Time, safetyMargin time.Duration) bool {
	if c.Token == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return at.Before(c.ExpiresAt.Add(-safetyMargin))
}

// AuthSpec is the full configuration for resolving outbound (or inbound)
// credentials.
type AuthSpec struct {
	Type                     AuthType                  `json:"type"`
	HeaderName               string                    `json:"headerName,omitempty"` // API_KEY
	APIKey                   string                    `json:"apiKey,omitempty"`
	Username                 string                    `json:"username,omitempty"` // BASIC
	Password                 string                    `json:"password,omitempty"`
	BearerToken              string                    `json:"bearerToken,omitempty"`
	OAuth2                   *OAuth2Spec               `json:"oauth2,omitempty"`
	Custom                   *CustomAuthSpec           `json:"custom,omitempty"`
	TokenExpirationDetection *TokenExpirationDetection `json:"tokenExpirationDetection,omitempty"`
	Cached                   CachedToken               `json:"-"`
}

// SigningSecret is one HMAC secret in an integration's rotation set.
type SigningSecret struct {
	Secret    string    `json:"secret"`
	Primary   bool      `json:"primary"`
	CreatedAt time.Time `json:"createdAt"`
}

// SigningSpec configures outbound HMAC body signing.
type SigningSpec struct {
	Enabled bool            `json:"enabled"`
	Secrets []SigningSecret `json:"secrets"` // len in [0,3]
}

// TransformTransform is a unary value transform applied during SIMPLE
// mapping.
type TransformTransform string

const (
	XformNone    TransformTransform = "NONE"
	XformTrim    TransformTransform = "TRIM"
	XformUpper   TransformTransform = "UPPER"
	XformLower   TransformTransform = "LOWER"
	XformDateISO TransformTransform = "DATE_ISO"
	XformDefault TransformTransform = "DEFAULT"
	XformLookup  TransformTransform = "LOOKUP"
)

// Mapping is one SIMPLE-mode field mapping.
type Mapping struct {
	TargetPath   string             `json:"targetPath"`
	SourcePath   string             `json:"sourcePath"`
	Transform    TransformTransform `json:"transform"`
	DefaultValue any                `json:"defaultValue,omitempty"`
	LookupType   string             `json:"lookupType,omitempty"`
}

// StaticField is a literal key/value emitted regardless of the source
// payload.
type StaticField struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Transformation configures how C6 produces the outbound/response body.
type Transformation struct {
	Mode         TransformMode `json:"mode"`
	Mappings     []Mapping     `json:"mappings,omitempty"`
	StaticFields []StaticField `json:"staticFields,omitempty"`
	Script       string        `json:"script,omitempty"`
}

// LookupConfig is a post-transform lookup pass entry (SIMPLE mode only).
type LookupConfig struct {
	SourceField string `json:"sourceField"`
	TargetField string `json:"targetField"`
	Type        string `json:"type"`
}

// RateLimitSpec configures the sliding window for an integration.
type RateLimitSpec struct {
	Enabled       bool `json:"enabled"`
	MaxRequests   int  `json:"maxRequests"`
	WindowSeconds int  `json:"windowSeconds"`
}

// Action is one step of a multi-action delivery chain. When Actions is
// non-empty on an IntegrationConfig, it is authoritative over the legacy
// single-action fields (TargetURL/HTTPMethod/...).
type Action struct {
	Name        string          `json:"name"`
	TargetURL   string          `json:"targetUrl"`
	HTTPMethod  string          `json:"httpMethod"`
	TimeoutMs   int             `json:"timeoutMs"`
	Headers     map[string]string `json:"headers,omitempty"`
	Auth        AuthSpec        `json:"auth"`
	Transform   Transformation  `json:"transformation"`
	Condition   string          `json:"condition,omitempty"` // script evaluated against prior action output; default always-run
	Resumable   bool            `json:"resumable,omitempty"`
}

// IntegrationConfig is the persisted configuration object describing how to
// handle a class of events or inbound requests.
type IntegrationConfig struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	IsActive  bool      `json:"isActive"`

	EventType string `json:"eventType"` // literal or "*"

	Scope            Scope           `json:"scope"`
	ExcludedChildren map[string]bool `json:"excludedChildren,omitempty"`

	TargetURL  string            `json:"targetUrl"`
	HTTPMethod string            `json:"httpMethod"`
	TimeoutMs  int               `json:"timeoutMs"`
	RetryCount int               `json:"retryCount"`
	Headers    map[string]string `json:"headers,omitempty"`

	Auth         AuthSpec  `json:"auth"`
	InboundAuth  *AuthSpec `json:"inboundAuth,omitempty"`

	Transformation Transformation `json:"transformation"`
	Lookups        []LookupConfig `json:"lookups,omitempty"`

	Condition string `json:"condition,omitempty"` // script; deny on error (fail-closed)

	RateLimits RateLimitSpec `json:"rateLimits"`
	Signing    SigningSpec   `json:"signing"`

	DeliveryMode      DeliveryMode `json:"deliveryMode"`
	SchedulingScript  string       `json:"schedulingScript,omitempty"`

	Actions []Action `json:"actions,omitempty"`

	MultiActionDelayMs int `json:"multiActionDelayMs,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UsesMultiAction reports whether the chained Actions list is authoritative
// over the legacy single-action fields.
func (c *IntegrationConfig) UsesMultiAction() bool {
	return len(c.Actions) > 0
}

// EffectiveActions returns the configured action chain, synthesizing a
// single action from the legacy fields when Actions is empty.
func (c *IntegrationConfig) EffectiveActions() []Action {
	if c.UsesMultiAction() {
		return c.Actions
	}
	return []Action{{
		Name:       "default",
		TargetURL:  c.TargetURL,
		HTTPMethod: c.HTTPMethod,
		TimeoutMs:  c.TimeoutMs,
		Headers:    c.Headers,
		Auth:       c.Auth,
		Transform:  c.Transformation,
	}}
}

// Validate checks the invariants from spec.md §3.
func (c *IntegrationConfig) Validate() error {
	if c.DeliveryMode != DeliveryImmediate && c.SchedulingScript == "" {
		return errInvalid("schedulingScript is required when deliveryMode is not IMMEDIATE")
	}
	if c.Direction == DirectionInbound && c.InboundAuth == nil {
		return errInvalid("inboundAuth is required when direction is INBOUND")
	}
	if len(c.Signing.Secrets) > 3 {
		return errInvalid("signing.secrets may hold at most 3 entries")
	}
	primaries := 0
	for _, s := range c.Signing.Secrets {
		if s.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		return errInvalid("at most one signing secret may be marked primary")
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func errInvalid(msg string) error { return validationError(msg) }

// PrimarySecret returns the primary signing secret, or the most recently
// created one when none is explicitly marked, matching the rotation
// invariant ("the primary is the most recently created").
func (s SigningSpec) PrimarySecret() (SigningSecret, bool) {
	if len(s.Secrets) == 0 {
		return SigningSecret{}, false
	}
	var best SigningSecret
	found := false
	for _, sec := range s.Secrets {
		if sec.Primary {
			return sec, true
		}
		if !found || sec.CreatedAt.After(best.CreatedAt) {
			best = sec
			found = true
		}
	}
	return best, found
}
