package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/testkit/accountfakes"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/worker"
)

const testPassword = "Str0ng!Secret#"

type testServer struct {
	handler  http.Handler
	accounts *accountfakes.AccountStore
	comms    *accountfakes.CommunicationStore
	email    *accountfakes.EmailSender
	svc      *application.Service
	now      time.Time
	checks   map[string]ReadinessCheck
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		accounts: accountfakes.NewAccountStore(),
		comms:    accountfakes.NewCommunicationStore(),
		email:    &accountfakes.EmailSender{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		checks:   map[string]ReadinessCheck{},
	}
	clock := func() time.Time { return ts.now }
	signer, err := security.NewEphemeralJWTSigner("http-kid", "accounts-test")
	require.NoError(t, err)
	signer.WithClock(clock)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	ts.svc = application.NewService(application.Dependencies{
		Config:         application.Config{PublicBaseURL: "https://accounts.example.com"},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Accounts:       ts.accounts,
		TokenLog:       accountfakes.NewTokenLogStore(),
		Recovery:       accountfakes.NewRecoveryStore(),
		Communications: ts.comms,
		Revocations:    accountfakes.NewRevocationStore(),
		RateLimits:     accountfakes.NewRateLimiter(),
		Hasher:         security.NewBcryptHasher(bcrypt.MinCost),
		Tokens:         signer,
		Email:          ts.email,
		Publisher:      &accountfakes.Publisher{},
		ResetQueue:     worker.NewQueue[application.PasswordResetJob]("password_reset", 1),
		WebhookQueue:   worker.NewQueue[domain.DeliveryUpdate]("email_webhook", 4),
		Metrics:        metrics,
		Clock:          clock,
	})
	ts.handler = NewRouter(NewHandler(ts.svc, metrics, ts.checks), promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) registerAndLogin(t *testing.T, email string) application.TokenResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/accounts/v1/register", `{"email":"`+email+`","password":"`+testPassword+`","given_name":"Ada"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/oauth/token", `{"grant_type":"password","username":"`+email+`","password":"`+testPassword+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tokens application.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	return tokens
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = ts.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.checks["postgres"] = func(context.Context) error { return errors.New("connection refused") }
	rec = ts.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_READY", decodeError(t, rec).Code)
}

func TestRegisterReturnsAccountID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/accounts/v1/register", `{"email":"ada@example.com","password":"`+testPassword+`"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Status string                       `json:"status"`
		Data   application.RegisterResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, int64(1), body.Data.AccountID)
	assert.Len(t, ts.accounts.OutboxMessages(), 1)

	rec = ts.do(t, http.MethodPost, "/accounts/v1/register", `{"email":"ada@example.com","password":"`+testPassword+`"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/accounts/v1/register", `{"email":"bob@example.com","password":"weak"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/accounts/v1/register", `{"email":"bob@example.com","unknown":true}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenEndpointPasswordAndRefreshGrants(t *testing.T) {
	ts := newTestServer(t)
	tokens := ts.registerAndLogin(t, "ada@example.com")
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.NotEmpty(t, tokens.RefreshToken)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tokens.RefreshToken}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var rotated application.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)
}

func TestTokenFailuresShareOneBody(t *testing.T) {
	ts := newTestServer(t)
	tokens := ts.registerAndLogin(t, "ada@example.com")

	rec := ts.do(t, http.MethodPost, "/oauth/token", `{"grant_type":"refresh_token","refresh_token":"`+tokens.RefreshToken+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	reused := ts.do(t, http.MethodPost, "/oauth/token", `{"grant_type":"refresh_token","refresh_token":"`+tokens.RefreshToken+`"}`, "")
	garbage := ts.do(t, http.MethodPost, "/oauth/token", `{"grant_type":"refresh_token","refresh_token":"garbage"}`, "")

	assert.Equal(t, http.StatusUnauthorized, reused.Code)
	assert.Equal(t, http.StatusUnauthorized, garbage.Code)
	assert.JSONEq(t, garbage.Body.String(), reused.Body.String())
}

func TestTokenEndpointRejectsUnsupportedGrant(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/oauth/token", `{"grant_type":"client_credentials"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_GRANT_TYPE", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/oauth/token", `{"grant_type":"password","username":"nobody@example.com","password":"x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, rec).Code)
}

func TestMeRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)
	tokens := ts.registerAndLogin(t, "ada@example.com")

	rec := ts.do(t, http.MethodGet, "/accounts/v1/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/accounts/v1/me", "", tokens.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/accounts/v1/me", "", tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data application.AccountView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ada@example.com", body.Data.Email)
}

func TestRevokeAllSignsOutEverySession(t *testing.T) {
	ts := newTestServer(t)
	tokens := ts.registerAndLogin(t, "ada@example.com")

	ts.now = ts.now.Add(2 * time.Second)
	rec := ts.do(t, http.MethodPost, "/oauth/revoke-all", "", tokens.AccessToken)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/accounts/v1/me", "", tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(t, http.MethodPost, "/oauth/token", `{"grant_type":"refresh_token","refresh_token":"`+tokens.RefreshToken+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetRequestAnswersUniformlyAndShedsLoad(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/accounts/v1/password/reset-request", `{"email":"ghost@example.com"}`, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/accounts/v1/password/reset-request", `{"email":"ghost@example.com"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "SERVICE_BUSY", decodeError(t, rec).Code)
}

func TestAdminRoutesRequirePermission(t *testing.T) {
	ts := newTestServer(t)
	tokens := ts.registerAndLogin(t, "ada@example.com")

	rec := ts.do(t, http.MethodPost, "/admin/v1/accounts/1/permissions", `{"permission":"reports:read"}`, tokens.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/admin/v1/accounts/abc/unlock", "", tokens.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmailWebhookQueuesUpdate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/webhooks/v1/email/ses", `{"communication_id":"0195f3c4-1c2d-7000-8000-000000000001","status":"delivered"}`, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/webhooks/v1/email/ses", `{"communication_id":"x","status":"delivered"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJWKSAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/.well-known/jwks.json", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "http-kid", jwks.Keys[0]["kid"])

	rec = ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "account_service_http_responses_total")
}

func TestBearerTokenFromHeader(t *testing.T) {
	token, err := bearerTokenFromHeader("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bear"} {
		_, err := bearerTokenFromHeader(header)
		assert.Error(t, err, header)
	}
}

func TestMapDomainError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrTokenReuseDetected, http.StatusUnauthorized, "UNAUTHORIZED"},
		{domain.ErrAccountLocked, http.StatusForbidden, "ACCOUNT_LOCKED"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{domain.ErrServiceBusy, http.StatusTooManyRequests, "SERVICE_BUSY"},
		{domain.ErrInvalidTransition, http.StatusConflict, "INVALID_STATE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		status, code, _ := mapDomainError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
