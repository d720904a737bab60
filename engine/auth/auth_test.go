package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

type fakeTokenStore struct {
	mu    sync.Mutex
	saved map[string]domain.CachedToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{saved: map[string]domain.CachedToken{}}
}

func (f *fakeTokenStore) UpdateTokenCache(ctx context.Context, id string, token domain.CachedToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[id] = token
	return nil
}

func TestResolve_None(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	m, err := p.Resolve(context.Background(), "int-1", domain.AuthSpec{Type: domain.AuthNone}, domain.SigningSpec{}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Headers) != 0 {
		t.Fatalf("expected no headers, got %+v", m.Headers)
	}
}

func TestResolve_APIKey(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	spec := domain.AuthSpec{Type: domain.AuthAPIKey, HeaderName: "X-Api-Key", APIKey: "secret123"}
	m, err := p.Resolve(context.Background(), "int-1", spec, domain.SigningSpec{}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Headers["X-Api-Key"] != "secret123" {
		t.Fatalf("expected api key header, got %+v", m.Headers)
	}
}

func TestResolve_Bearer(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	spec := domain.AuthSpec{Type: domain.AuthBearer, BearerToken: "tok"}
	m, err := p.Resolve(context.Background(), "int-1", spec, domain.SigningSpec{}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Headers["Authorization"] != "Bearer tok" {
		t.Fatalf("expected bearer header, got %+v", m.Headers)
	}
}

func TestResolve_Basic(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	spec := domain.AuthSpec{Type: domain.AuthBasic, Username: "user", Password: "pass"}
	m, err := p.Resolve(context.Background(), "int-1", spec, domain.SigningSpec{}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))
	if m.Headers["Authorization"] != want {
		t.Fatalf("expected %q, got %+v", want, m.Headers)
	}
}

func TestResolve_OAuth2_FetchesAndCaches(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "abc123", "expires_in": 3600})
	}))
	defer server.Close()

	store := newFakeTokenStore()
	p := New(server.Client(), store, nil)
	spec := domain.AuthSpec{
		Type: domain.AuthOAuth2,
		OAuth2: &domain.OAuth2Spec{
			Grant:              domain.GrantClientCredentials,
			TokenURL:           server.URL,
			ClientID:           "cid",
			ClientSecret:       "secret",
			TokenResponsePath:  "access_token",
			TokenExpiresInPath: "expires_in",
		},
	}

	m, err := p.Resolve(context.Background(), "int-1", spec, domain.SigningSpec{}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Headers["Authorization"] != "Bearer abc123" {
		t.Fatalf("expected fetched token, got %+v", m.Headers)
	}
	if atomic.LoadInt32(&fetches) != 1 {
		t.Fatalf("expected exactly one fetch, got %d", fetches)
	}

	saved := store.saved["int-1"]
	if saved.Token != "abc123" {
		t.Fatalf("expected token persisted to store, got %+v", saved)
	}
}

func TestResolve_OAuth2_ReusesValidCachedToken(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer server.Close()

	p := New(server.Client(), newFakeTokenStore(), nil)
	spec := domain.AuthSpec{
		Type: domain.AuthOAuth2,
		Cached: domain.CachedToken{
			Token:     "cached-token",
			ExpiresAt: time.Now().Add(time.Hour),
		},
		OAuth2: &domain.OAuth2Spec{TokenURL: server.URL, TokenResponsePath: "access_token"},
	}

	m, err := p.Resolve(context.Background(), "int-1", spec, domain.SigningSpec{}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Headers["Authorization"] != "Bearer cached-token" {
		t.Fatalf("expected cached token reused, got %+v", m.Headers)
	}
	if atomic.LoadInt32(&fetches) != 0 {
		t.Fatalf("expected no fetch when cache is valid, got %d", fetches)
	}
}

func TestResolve_HMAC(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	signing := domain.SigningSpec{
		Enabled: true,
		Secrets: []domain.SigningSecret{{Secret: "s1", Primary: true}, {Secret: "s2"}},
	}
	m, err := p.Resolve(context.Background(), "int-1", domain.AuthSpec{Type: domain.AuthHMAC}, signing, []byte(`{"a":1}`), "m-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Headers["X-Integration-Id"] != "m-1" {
		t.Fatalf("expected message id header, got %+v", m.Headers)
	}
	if m.Headers["X-Integration-Timestamp"] != "1700000000" {
		t.Fatalf("expected timestamp header, got %+v", m.Headers)
	}
	sigs := strings.Split(m.Headers["X-Integration-Signature"], " ")
	if len(sigs) != 2 {
		t.Fatalf("expected two signatures (one per secret), got %+v", sigs)
	}
	for _, s := range sigs {
		if !strings.HasPrefix(s, "v1,") {
			t.Errorf("expected v1-prefixed signature, got %q", s)
		}
	}
}

func TestResolve_HMAC_NoSecretsErrors(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	_, err := p.Resolve(context.Background(), "int-1", domain.AuthSpec{Type: domain.AuthHMAC}, domain.SigningSpec{Enabled: true}, []byte(`{}`), "m-1")
	if err == nil {
		t.Fatal("expected error with no active secrets")
	}
}

func TestInvalidateOnExpiration_Matches(t *testing.T) {
	store := newFakeTokenStore()
	store.saved["int-1"] = domain.CachedToken{Token: "stale", ExpiresAt: time.Now().Add(time.Hour)}
	p := New(nil, store, nil)

	detection := &domain.TokenExpirationDetection{
		Enabled:      true,
		ResponsePath: "error",
		MatchValues:  []string{"token_expired"},
	}
	body := []byte(`{"error":"TOKEN_EXPIRED"}`)

	invalidated, err := p.InvalidateOnExpiration(context.Background(), "int-1", detection, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !invalidated {
		t.Fatal("expected invalidation on matching response")
	}
	if store.saved["int-1"].Token != "" {
		t.Fatalf("expected cleared token, got %+v", store.saved["int-1"])
	}
}

func TestExtractJSONPath_PlainDottedPathUsesGjson(t *testing.T) {
	body := []byte(`{"data":{"token":"xyz"}}`)
	v, err := extractJSONPath(body, "data.token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "xyz" {
		t.Fatalf("expected xyz, got %q", v)
	}
}

func TestExtractJSONPath_BracketedPathUsesJSONPath(t *testing.T) {
	body := []byte(`{"tokens":[{"value":"first"},{"value":"second"}]}`)
	v, err := extractJSONPath(body, "$.tokens[1].value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "second" {
		t.Fatalf("expected second, got %q", v)
	}
}

func TestExtractJSONPath_MissingDottedPathErrors(t *testing.T) {
	body := []byte(`{"data":{}}`)
	if _, err := extractJSONPath(body, "data.token"); err == nil {
		t.Fatal("expected an error for a missing path")
	}
}

func TestInvalidateOnExpiration_NoMatch(t *testing.T) {
	store := newFakeTokenStore()
	store.saved["int-1"] = domain.CachedToken{Token: "still-good", ExpiresAt: time.Now().Add(time.Hour)}
	p := New(nil, store, nil)

	detection := &domain.TokenExpirationDetection{
		Enabled:      true,
		ResponsePath: "error",
		MatchValues:  []string{"token_expired"},
	}
	body := []byte(`{"error":"SOME_OTHER_ERROR"}`)

	invalidated, err := p.InvalidateOnExpiration(context.Background(), "int-1", detection, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invalidated {
		t.Fatal("expected no invalidation")
	}
	if store.saved["int-1"].Token != "still-good" {
		t.Fatalf("expected token preserved, got %+v", store.saved["int-1"])
	}
}

func TestVerifyInbound_APIKey(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	spec := domain.AuthSpec{Type: domain.AuthAPIKey, APIKey: "secret-key"}

	ok := httptest.NewRequest(http.MethodPost, "/", nil)
	ok.Header.Set("X-API-Key", "secret-key")
	if err := p.VerifyInbound(ok, spec, domain.SigningSpec{}, nil); err != nil {
		t.Fatalf("expected valid api key to pass, got %v", err)
	}

	bad := httptest.NewRequest(http.MethodPost, "/", nil)
	bad.Header.Set("X-API-Key", "wrong")
	if err := p.VerifyInbound(bad, spec, domain.SigningSpec{}, nil); err == nil {
		t.Fatal("expected invalid api key to be rejected")
	}
}

func TestVerifyInbound_Bearer(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	spec := domain.AuthSpec{Type: domain.AuthBearer, BearerToken: "tok-123"}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer tok-123")
	if err := p.VerifyInbound(r, spec, domain.SigningSpec{}, nil); err != nil {
		t.Fatalf("expected valid bearer token to pass, got %v", err)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/", nil)
	r2.Header.Set("Authorization", "Bearer nope")
	if err := p.VerifyInbound(r2, spec, domain.SigningSpec{}, nil); err == nil {
		t.Fatal("expected invalid bearer token to be rejected")
	}
}

func TestVerifyInbound_Basic(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	spec := domain.AuthSpec{Type: domain.AuthBasic, Username: "user", Password: "pass"}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.SetBasicAuth("user", "pass")
	if err := p.VerifyInbound(r, spec, domain.SigningSpec{}, nil); err != nil {
		t.Fatalf("expected valid basic auth to pass, got %v", err)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/", nil)
	r2.SetBasicAuth("user", "wrong")
	if err := p.VerifyInbound(r2, spec, domain.SigningSpec{}, nil); err == nil {
		t.Fatal("expected invalid basic auth to be rejected")
	}
}

func TestVerifyInbound_None(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := p.VerifyInbound(r, domain.AuthSpec{Type: domain.AuthNone}, domain.SigningSpec{}, nil); err != nil {
		t.Fatalf("expected NONE auth to always pass, got %v", err)
	}
}

func TestVerifyInbound_HMAC(t *testing.T) {
	p := New(nil, newFakeTokenStore(), nil)
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	signing := domain.SigningSpec{Enabled: true, Secrets: []domain.SigningSecret{{Secret: "s1", Primary: true}}}
	body := []byte(`{"a":1}`)

	mac := hmac.New(sha256.New, []byte("s1"))
	mac.Write([]byte("m-1.1700000000." + string(body)))
	sig := "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-Integration-Id", "m-1")
	r.Header.Set("X-Integration-Timestamp", "1700000000")
	r.Header.Set("X-Integration-Signature", sig)
	if err := p.VerifyInbound(r, domain.AuthSpec{Type: domain.AuthHMAC}, signing, body); err != nil {
		t.Fatalf("expected matching signature to pass, got %v", err)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/", nil)
	r2.Header.Set("X-Integration-Id", "m-1")
	r2.Header.Set("X-Integration-Timestamp", "1700000000")
	r2.Header.Set("X-Integration-Signature", "v1,bogus")
	if err := p.VerifyInbound(r2, domain.AuthSpec{Type: domain.AuthHMAC}, signing, body); err == nil {
		t.Fatal("expected mismatched signature to be rejected")
	}
}
