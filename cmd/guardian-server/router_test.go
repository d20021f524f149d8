package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/internal/totp"
	"github.com/MrEthical07/guardian/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const routerPassword = "correct-horse-battery"

type testServer struct {
	engine  *guardian.Engine
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := guardian.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef01234567")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.IPThrottle.MaxAttempts = 4
	cfg.Metrics.Enabled = true

	store := memory.New(
		domain.Role{Name: "USER", Privileges: []string{"profile:read"}},
		domain.Role{Name: "ADMIN", Privileges: []string{"profile:read", "accounts:manage"}},
	)
	engine, err := guardian.New().
		WithConfig(cfg).
		WithStore(store).
		WithRedis(rdb).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testServer{engine: engine, handler: newRouter(engine, zap.NewNop(), true)}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "198.51.100.7:40000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) loginAs(t *testing.T, email string) tokenResponse {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": routerPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRegisterLoginAndProfile(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "Ann@Example.com", "password": routerPassword})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var acct accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.Equal(t, "ann@example.com", acct.Email)
	assert.Equal(t, []string{"USER"}, acct.Roles)

	rec = s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "ann@example.com", "password": routerPassword})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "x@example.com", "password": routerPassword, "role": "ADMIN"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	pair := s.loginAs(t, "ann@example.com")
	assert.Equal(t, "Bearer", pair.TokenType)

	rec = s.do(t, http.MethodGet, "/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "profile:read")

	rec = s.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidationErrorsListFields(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request", body.Error)
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "password")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLockoutOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "bob@example.com", "password": routerPassword})

	bad := map[string]string{"email": "bob@example.com", "password": "wrong-password"}
	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/auth/login", "", bad)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "bob@example.com", "password": routerPassword})
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A fourth failure from the same address reaches the throttle limit.
	rec = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodPost, "/auth/login", "", bad)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRefreshAndLogout(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "cy@example.com", "password": routerPassword})
	pair := s.loginAs(t, "cy@example.com")

	rec := s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var next tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))

	rec = s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/refresh", next.RefreshToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))

	rec = s.do(t, http.MethodPost, "/auth/logout", latest.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/me", latest.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResetPasswordEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "dee@example.com", "password": routerPassword})
	pair := s.loginAs(t, "dee@example.com")

	rec := s.do(t, http.MethodPost, "/me/password", pair.AccessToken, map[string]string{"password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/me/password", pair.AccessToken, map[string]string{"password": "an-entirely-new-passphrase"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/me", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTOTPEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "gus@example.com", "password": routerPassword})
	pair := s.loginAs(t, "gus@example.com")

	rec := s.do(t, http.MethodPost, "/me/totp/enable", pair.AccessToken, map[string]string{"code": "123456"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/me/totp/setup", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var setup map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &setup))
	assert.Contains(t, setup["uri"], "otpauth://totp/")

	otp := totp.New(totp.Config{Issuer: "guardian"})
	now := time.Now()
	code, err := otp.Code(setup["secret"], now)
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/me/totp/enable", pair.AccessToken, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/me/totp", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":true}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "gus@example.com", "password": routerPassword})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "totp_required")

	// The code that enabled the factor cannot be spent again.
	body := map[string]string{"email": "gus@example.com", "password": routerPassword, "code": code}
	rec = s.do(t, http.MethodPost, "/auth/login/totp", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "totp_invalid")

	next, err := otp.Code(setup["secret"], now.Add(30*time.Second))
	require.NoError(t, err)
	body["code"] = next
	rec = s.do(t, http.MethodPost, "/auth/login/totp", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fresh tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fresh))

	rec = s.do(t, http.MethodDelete, "/me/totp", fresh.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	s.loginAs(t, "gus@example.com")
}

func TestBlockedAddressWinsOverValidation(t *testing.T) {
	s := newTestServer(t)
	bad := map[string]string{"email": "nobody@example.com", "password": "wrong-password"}
	for i := 0; i < 4; i++ {
		s.do(t, http.MethodPost, "/auth/login", "", bad)
	}

	rec := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	_, err := s.engine.RegisterByAdmin(t.Context(), guardian.RegisterRequest{Email: "root@example.com", Password: routerPassword, Role: "ADMIN"})
	require.NoError(t, err)
	s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "eve@example.com", "password": routerPassword})

	user := s.loginAs(t, "eve@example.com")
	rec := s.do(t, http.MethodGet, "/admin/stats", user.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := s.loginAs(t, "root@example.com")

	rec = s.do(t, http.MethodPost, "/admin/accounts/eve@example.com/lock", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Locked)

	rec = s.do(t, http.MethodGet, "/admin/accounts/locked", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eve@example.com")

	rec = s.do(t, http.MethodGet, "/admin/stats", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":2,"locked":1}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/admin/accounts/eve@example.com/unlock", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s.loginAs(t, "eve@example.com")

	rec = s.do(t, http.MethodPost, "/admin/accounts/nobody@example.com/unlock", admin.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/addresses/198.51.100.7", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"blocked":false`)

	rec = s.do(t, http.MethodDelete, "/admin/addresses/198.51.100.7/block", admin.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/security-report", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"SigningAlgorithm":"hs256"`)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "fay@example.com", "password": routerPassword})

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "guardian_")
}

func TestRecovererAnswers500(t *testing.T) {
	h := recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
