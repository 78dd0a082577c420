package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

// The internal job routes are invoked by Cloud Scheduler with a Google-signed
// identity token. These tests stand up a fake JWKS endpoint and mint tokens
// the way the scheduler would.

const (
	jobsAudience    = "https://api.greenbasket.example/internal"
	googleIssuer    = "https://accounts.google.com"
	iapIssuer       = "https://cloud.google.com/iap"
	schedulerKeyID  = "scheduler-key"
	schedulerEmail  = "jobs-invoker@greenbasket.iam.gserviceaccount.com"
	frozenUnixClock = 1_700_000_000
)

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

type verificationRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (m *verificationRecorder) RecordVerification(_ context.Context, _ string, _ bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
}

func (m *verificationRecorder) lastReason(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reasons) == 0 {
		t.Fatal("no verification recorded")
	}
	return m.reasons[len(m.reasons)-1]
}

type schedulerFixture struct {
	validator  *OIDCValidator
	metrics    *verificationRecorder
	signingKey *rsa.PrivateKey
	now        time.Time
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     schedulerKeyID,
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=600")
		if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
			t.Fatalf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(jwks.Close)

	now := time.Unix(frozenUnixClock, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	metrics := &verificationRecorder{}
	validator := NewOIDCValidator(
		NewJWKSCache(jwks.URL,
			WithJWKSLogger(discardLogger{}),
			WithJWKSClock(func() time.Time { return now }),
		),
		WithOIDCLogger(discardLogger{}),
		WithOIDCMetrics(metrics),
		WithOIDCClock(func() time.Time { return now }),
	)
	return &schedulerFixture{validator: validator, metrics: metrics, signingKey: key, now: now}
}

func (f *schedulerFixture) mintToken(t *testing.T, audience, issuer string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":   []string{audience},
		"iss":   issuer,
		"sub":   "113811118330916540000",
		"email": schedulerEmail,
		"exp":   float64(f.now.Add(time.Hour).Unix()),
		"iat":   float64(f.now.Unix()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = schedulerKeyID
	signed, err := token.SignedString(f.signingKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRequireOIDCAcceptsSchedulerToken(t *testing.T) {
	fixture := newSchedulerFixture(t)
	token := fixture.mintToken(t, jobsAudience, googleIssuer)
	middleware := fixture.validator.RequireOIDC(jobsAudience, []string{googleIssuer})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/orders/expire", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok || identity.Email != schedulerEmail {
			t.Fatalf("service identity = %+v, ok = %v", identity, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if reason := fixture.metrics.lastReason(t); reason != "ok" {
		t.Fatalf("verification reason = %q, want ok", reason)
	}
}

func TestRequireOIDCAcceptsIAPAssertionHeader(t *testing.T) {
	fixture := newSchedulerFixture(t)
	iapAudience := "/projects/123/global/backendServices/456"
	token := fixture.mintToken(t, iapAudience, iapIssuer)
	middleware := fixture.validator.RequireOIDC(iapAudience, []string{iapIssuer})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/orders/expire", nil)
	req.Header.Set("X-Goog-Iap-Jwt-Assertion", token)

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
}

func TestRequireOIDCRejectsBadTokens(t *testing.T) {
	cases := []struct {
		name       string
		audience   string
		issuer     string
		wantReason string
	}{
		{"audience mismatch", "https://some-other-service.example", googleIssuer, "audience_mismatch"},
		{"untrusted issuer", jobsAudience, "https://issuer.evil.example", "issuer_mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newSchedulerFixture(t)
			token := fixture.mintToken(t, tc.audience, tc.issuer)
			middleware := fixture.validator.RequireOIDC(jobsAudience, []string{googleIssuer})

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/jobs/orders/expire", nil)
			req.Header.Set("Authorization", "Bearer "+token)

			middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler should not be called")
			})).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rr.Code)
			}
			if reason := fixture.metrics.lastReason(t); reason != tc.wantReason {
				t.Fatalf("verification reason = %q, want %q", reason, tc.wantReason)
			}
		})
	}
}

func TestRequireOIDCReportsJWKSOutage(t *testing.T) {
	fixture := newSchedulerFixture(t)
	token := fixture.mintToken(t, jobsAudience, googleIssuer)
	fixture.validator.cache.url = "http://127.0.0.1:65535/jwks"
	middleware := fixture.validator.RequireOIDC(jobsAudience, []string{googleIssuer})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/orders/expire", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if reason := fixture.metrics.lastReason(t); reason != "jwks_unavailable" {
		t.Fatalf("verification reason = %q, want jwks_unavailable", reason)
	}
}

func TestJWKSCacheFetchesOnce(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     schedulerKeyID,
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}

	var mu sync.Mutex
	var fetches int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetches++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=3600")
		if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
			t.Fatalf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	cache := NewJWKSCache(server.URL,
		WithJWKSLogger(discardLogger{}),
		WithJWKSClock(func() time.Time { return time.Unix(frozenUnixClock, 0) }),
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		got, err := cache.Key(ctx, schedulerKeyID)
		if err != nil {
			t.Fatalf("cache.Key call %d: %v", i+1, err)
		}
		if _, ok := got.(*rsa.PublicKey); !ok {
			t.Fatalf("key type = %T, want *rsa.PublicKey", got)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if fetches != 1 {
		t.Fatalf("jwks fetches = %d, want 1", fetches)
	}
}
