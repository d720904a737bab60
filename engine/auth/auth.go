// Package auth implements C7: resolving outbound (and inbound-proxy)
// credentials into a set of request header mutations, with token caching,
// single-flight refresh, and HMAC body signing.
package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	svcerrors "github.com/varaprasadreddy9676/integration-control-plane/infrastructure/errors"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
)

const defaultSafetyMargin = 5 * time.Minute

// TokenStore is the subset of store.ConfigCache the provider depends on to
// persist a freshly fetched token, bypassing the read-through cache.
type TokenStore interface {
	UpdateTokenCache(ctx context.Context, id string, token domain.CachedToken) error
}

// Mutation is the set of header values a caller must add to the outbound
// request to satisfy the resolved auth strategy.
type Mutation struct {
	Headers map[string]string
}

// Provider resolves AuthSpec/SigningSpec into request mutations.
type Provider struct {
	client *http.Client
	store  TokenStore
	logger *logging.Logger
	group  singleflight.Group
	now    func() time.Time
}

// New creates a Provider. client is used for OAUTH2/CUSTOM token fetches;
// a conservative default timeout is applied when client is nil.
func New(client *http.Client, store TokenStore, logger *logging.Logger) *Provider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Provider{client: client, store: store, logger: logger, now: time.Now}
}

// Resolve produces header mutations for one outbound call. integrationID
// keys the token cache and the single-flight group. body and messageID are
// only consulted for HMAC signing.
func (p *Provider) Resolve(ctx context.Context, integrationID string, spec domain.AuthSpec, signing domain.SigningSpec, body []byte, messageID string) (Mutation, error) {
	switch spec.Type {
	case domain.AuthNone, "":
		return Mutation{}, nil

	case domain.AuthAPIKey:
		header := spec.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		return Mutation{Headers: map[string]string{header: spec.APIKey}}, nil

	case domain.AuthBearer:
		return Mutation{Headers: map[string]string{"Authorization": "Bearer " + spec.BearerToken}}, nil

	case domain.AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(spec.Username + ":" + spec.Password))
		return Mutation{Headers: map[string]string{"Authorization": "Basic " + creds}}, nil

	case domain.AuthOAuth2:
		token, err := p.resolveToken(ctx, integrationID, spec.Cached, safetyMargin(spec), func() (string, time.Duration, error) {
			return p.fetchOAuth2Token(ctx, spec)
		})
		if err != nil {
			return Mutation{}, err
		}
		return Mutation{Headers: map[string]string{"Authorization": "Bearer " + token}}, nil

	case domain.AuthCustom:
		if spec.Custom == nil {
			return Mutation{}, svcerrors.InvalidInput("auth.custom", "custom auth requires a custom spec")
		}
		token, err := p.resolveToken(ctx, integrationID, spec.Cached, safetyMargin(spec), func() (string, time.Duration, error) {
			return p.fetchCustomToken(ctx, *spec.Custom)
		})
		if err != nil {
			return Mutation{}, err
		}
		header := spec.Custom.HeaderName
		if header == "" {
			header = "Authorization"
		}
		return Mutation{Headers: map[string]string{header: token}}, nil

	case domain.AuthHMAC:
		return p.signHMAC(signing, body, messageID, p.now())

	default:
		return Mutation{}, svcerrors.InvalidInput("auth.type", fmt.Sprintf("unknown auth type %q", spec.Type))
	}
}

func safetyMargin(spec domain.AuthSpec) time.Duration {
	if spec.OAuth2 != nil && spec.OAuth2.SafetyMarginSec > 0 {
		return time.Duration(spec.OAuth2.SafetyMarginSec) * time.Second
	}
	return defaultSafetyMargin
}

// resolveToken reuses spec.Cached when still valid, otherwise fetches a
// fresh token under a per-integration single-flight so concurrent deliveries
// for the same integration never issue more than one in-flight refresh, then
// persists it via TokenStore (bypassing the read-through config cache).
func (p *Provider) resolveToken(ctx context.Context, integrationID string, cached domain.CachedToken, margin time.Duration, fetch func() (string, time.Duration, error)) (string, error) {
	now := p.now()
	if cached.Valid(now, margin) {
		return cached.Token, nil
	}

	result, err, _ := p.group.Do(integrationID, func() (any, error) {
		token, expiresIn, err := fetch()
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.ErrCodeUnauthorized, "token fetch failed", http.StatusUnauthorized, err)
		}
		newCached := domain.CachedToken{
			Token:       token,
			ExpiresAt:   p.now().Add(expiresIn),
			LastFetched: p.now(),
		}
		if err := p.store.UpdateTokenCache(ctx, integrationID, newCached); err != nil {
			if p.logger != nil {
				p.logger.WithContext(ctx).WithFields(map[string]any{
					"integrationId": integrationID,
					"error":         err.Error(),
				}).Warn("failed to persist refreshed token, proceeding with in-memory value")
			}
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// InvalidateOnExpiration implements spec §4.7's expiration detection: if the
// response body's ResponsePath matches one of MatchValues (case-insensitive
// substring), the cached token is cleared so the next attempt re-fetches.
func (p *Provider) InvalidateOnExpiration(ctx context.Context, integrationID string, detection *domain.TokenExpirationDetection, responseBody []byte) (bool, error) {
	if detection == nil || !detection.Enabled {
		return false, nil
	}
	value, err := extractJSONPath(responseBody, detection.ResponsePath)
	if err != nil {
		return false, nil // unparsable/missing path: nothing to detect, not an error
	}
	lower := strings.ToLower(value)
	for _, candidate := range detection.MatchValues {
		if strings.Contains(lower, strings.ToLower(candidate)) {
			if err := p.store.UpdateTokenCache(ctx, integrationID, domain.CachedToken{}); err != nil {
				return true, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (p *Provider) fetchOAuth2Token(ctx context.Context, spec domain.AuthSpec) (string, time.Duration, error) {
	o := spec.OAuth2
	if o == nil {
		return "", 0, svcerrors.InvalidInput("auth.oauth2", "oauth2 auth requires an oauth2 spec")
	}

	form := url.Values{}
	switch o.Grant {
	case domain.GrantPassword:
		form.Set("grant_type", "password")
		form.Set("username", o.Username)
		form.Set("password", o.Password)
	default:
		form.Set("grant_type", "client_credentials")
	}
	form.Set("client_id", o.ClientID)
	form.Set("client_secret", o.ClientSecret)
	if o.Scope != "" {
		form.Set("scope", o.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	respBody, err := p.do(req)
	if err != nil {
		return "", 0, err
	}

	token, err := extractJSONPath(respBody, o.TokenResponsePath)
	if err != nil {
		return "", 0, fmt.Errorf("extract token from oauth2 response: %w", err)
	}
	expiresIn := parseExpiresIn(respBody, o.TokenExpiresInPath)
	return token, expiresIn, nil
}

func (p *Provider) fetchCustomToken(ctx context.Context, spec domain.CustomAuthSpec) (string, time.Duration, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, strings.NewReader(spec.Body))
	if err != nil {
		return "", 0, err
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && spec.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := p.do(req)
	if err != nil {
		return "", 0, err
	}

	token, err := extractJSONPath(respBody, spec.TokenResponsePath)
	if err != nil {
		return "", 0, fmt.Errorf("extract token from custom auth response: %w", err)
	}
	expiresIn := parseExpiresIn(respBody, spec.TokenExpiresInPath)
	return token, expiresIn, nil
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.ErrCodeNetwork, "token request failed", http.StatusBadGateway, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return respBody, nil
}

func parseExpiresIn(body []byte, path string) time.Duration {
	if path == "" {
		return time.Hour
	}
	value, err := extractJSONPath(body, path)
	if err != nil {
		return time.Hour
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Hour
	}
	return time.Duration(seconds) * time.Second
}

// extractJSONPath resolves a token-response path against a JSON body and
// stringifies the result. Plain dotted paths ("access_token", "data.token")
// are resolved with gjson, which is faster and tolerates a wider range of
// tokens than a full JSONPath grammar; bracketed/filter expressions
// ("$.tokens[0].value") fall back to jsonpath.
func extractJSONPath(body []byte, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty json path")
	}
	if !strings.ContainsAny(path, "[]$?*") {
		result := gjson.GetBytes(body, path)
		if !result.Exists() {
			return "", fmt.Errorf("path %q not found in response", path)
		}
		return result.String(), nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", err
	}
	result, err := jsonpath.Get(normalizeJSONPath(path), v)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(result), nil
}

func normalizeJSONPath(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	return "$." + path
}

// signHMAC implements spec §4.7's HMAC variant: sign "<messageId>.<unixTs>.<body>"
// with every active secret, emitting a space-separated list of signatures so
// a receiver holding any one active secret can verify.
func (p *Provider) signHMAC(signing domain.SigningSpec, body []byte, messageID string, ts time.Time) (Mutation, error) {
	if !signing.Enabled || len(signing.Secrets) == 0 {
		return Mutation{}, svcerrors.InvalidInput("signing.secrets", "hmac auth requires at least one active signing secret")
	}

	unixTS := ts.Unix()
	message := fmt.Sprintf("%s.%d.%s", messageID, unixTS, body)

	sigs := make([]string, 0, len(signing.Secrets))
	for _, secret := range signing.Secrets {
		mac := hmac.New(sha256.New, []byte(secret.Secret))
		mac.Write([]byte(message))
		sigs = append(sigs, "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	}

	return Mutation{Headers: map[string]string{
		"X-Integration-Id":        messageID,
		"X-Integration-Timestamp": strconv.FormatInt(unixTS, 10),
		"X-Integration-Signature": strings.Join(sigs, " "),
	}}, nil
}

// maxHMACSkew bounds how stale an inbound X-Integration-Timestamp may be
// before VerifyInbound rejects it as a replay.
const maxHMACSkew = 5 * time.Minute

// VerifyInbound authenticates an inbound proxy request against an
// integration's InboundAuth spec (spec §4.7's inbound direction: a caller
// must present the configured credential, not just any signed-in operator).
// signing is consulted only for AuthHMAC; body is the exact bytes the caller
// sent, read before any transformation.
func (p *Provider) VerifyInbound(r *http.Request, spec domain.AuthSpec, signing domain.SigningSpec, body []byte) error {
	switch spec.Type {
	case domain.AuthNone, "":
		return nil

	case domain.AuthAPIKey:
		header := spec.HeaderName
		if header == "" {
			header = "X-API-Key"
		}
		if spec.APIKey == "" || !constantTimeEqual(r.Header.Get(header), spec.APIKey) {
			return svcerrors.Unauthorized("invalid or missing API key")
		}
		return nil

	case domain.AuthBearer:
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if spec.BearerToken == "" || !constantTimeEqual(got, spec.BearerToken) {
			return svcerrors.Unauthorized("invalid or missing bearer token")
		}
		return nil

	case domain.AuthBasic:
		user, pass, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(user, spec.Username) || !constantTimeEqual(pass, spec.Password) {
			return svcerrors.Unauthorized("invalid basic auth credentials")
		}
		return nil

	case domain.AuthHMAC:
		return p.verifyHMAC(r, signing, body, p.now())

	default:
		return svcerrors.InvalidInput("inboundAuth.type", fmt.Sprintf("auth type %q is not a supported inbound verification strategy", spec.Type))
	}
}

func (p *Provider) verifyHMAC(r *http.Request, signing domain.SigningSpec, body []byte, now time.Time) error {
	if !signing.Enabled || len(signing.Secrets) == 0 {
		return svcerrors.InvalidInput("signing.secrets", "hmac inbound auth requires at least one active signing secret")
	}
	messageID := r.Header.Get("X-Integration-Id")
	tsRaw := r.Header.Get("X-Integration-Timestamp")
	sigHeader := r.Header.Get("X-Integration-Signature")
	if tsRaw == "" || sigHeader == "" {
		return svcerrors.Unauthorized("missing HMAC signature headers")
	}
	unixTS, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return svcerrors.Unauthorized("malformed signature timestamp")
	}
	ts := time.Unix(unixTS, 0)
	if ts.Before(now.Add(-maxHMACSkew)) || ts.After(now.Add(maxHMACSkew)) {
		return svcerrors.Unauthorized("signature timestamp outside allowed skew")
	}

	message := fmt.Sprintf("%s.%d.%s", messageID, unixTS, body)
	for _, candidate := range strings.Fields(sigHeader) {
		for _, secret := range signing.Secrets {
			mac := hmac.New(sha256.New, []byte(secret.Secret))
			mac.Write([]byte(message))
			want := "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
			if constantTimeEqual(candidate, want) {
				return nil
			}
		}
	}
	return svcerrors.Unauthorized("signature does not match any active secret")
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
