package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/talentdesk/internal/config"
	"github.com/mbd888/talentdesk/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminSecret = "test-admin-secret-0123456789"

const testSeed = `
modules:
  - name: crm
    category: sales
    default_limits: {seats: 3}
  - name: talent_pool
    category: recruiting
plans:
  - id: plan_starter
    name: Starter
    price_monthly: 49
    permissions:
      - module: crm
        enabled: true
        limits: {seats: 5}
      - module: talent_pool
        enabled: false
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(testSeed), 0o600))
	return &config.Config{
		Port:                       "0",
		Env:                        "development",
		LogLevel:                   "error",
		LogFormat:                  "json",
		AdminSecret:                testAdminSecret,
		AccessCheckTimeout:         time.Second,
		ResolverConsultOverrides:   true,
		QueryCacheTTL:              time.Minute,
		SeedFile:                   seed,
		SubscriptionExpiryInterval: time.Hour,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(t), WithLogger(logging.Discard()), WithVersion("test"))
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

type call struct {
	method string
	path   string
	body   any
	key    string
	admin  bool
}

func do(t *testing.T, s *Server, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	if c.admin {
		req.Header.Set("X-Admin-Secret", testAdminSecret)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

// createTenant creates a tenant as admin and returns its id and member key.
func createTenant(t *testing.T, s *Server, slug string) (string, string) {
	t.Helper()
	w, body := do(t, s, call{method: "POST", path: "/v1/tenants", admin: true,
		body: map[string]any{"name": "Tenant " + slug, "slug": slug}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tenant := body["tenant"].(map[string]any)
	return tenant["id"].(string), body["apiKey"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, call{method: "GET", path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])

	w, _ = do(t, s, call{method: "GET", path: "/health/live"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, call{method: "GET", path: "/health/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready before Run")

	s.ready.Store(true)
	w, _ = do(t, s, call{method: "GET", path: "/health/ready"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health/live", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w, _ := do(t, s, call{method: "GET", path: "/metrics"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "talentdesk_")
}

func TestCatalogRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	_, key := createTenant(t, s, "acme")

	w, _ := do(t, s, call{method: "GET", path: "/v1/modules"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := do(t, s, call{method: "GET", path: "/v1/modules", key: key})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"], "seeded modules")

	w, body = do(t, s, call{method: "GET", path: "/v1/plans/plan_starter/summary", key: key})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, body["summary"])
}

func TestAccessFollowsSubscription(t *testing.T) {
	s := newTestServer(t)
	tenantID, key := createTenant(t, s, "acme")
	accessPath := "/v1/tenants/" + tenantID + "/modules/crm/access"

	w, body := do(t, s, call{method: "GET", path: accessPath, key: key})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	acc := body["access"].(map[string]any)
	assert.Equal(t, false, acc["hasAccess"])
	assert.Equal(t, "no_subscription", acc["reason"])

	w, _ = do(t, s, call{method: "POST", path: "/v1/tenants/" + tenantID + "/subscription", admin: true,
		body: map[string]any{"planId": "plan_starter"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// The cached denial was invalidated by the subscription write.
	w, body = do(t, s, call{method: "GET", path: accessPath, key: key})
	require.Equal(t, http.StatusOK, w.Code)
	acc = body["access"].(map[string]any)
	assert.Equal(t, true, acc["hasAccess"])
	assert.Equal(t, "granted_by_plan", acc["reason"])

	w, body = do(t, s, call{method: "GET", path: "/v1/tenants/" + tenantID + "/modules/talent_pool/access", key: key})
	require.Equal(t, http.StatusOK, w.Code)
	acc = body["access"].(map[string]any)
	assert.Equal(t, false, acc["hasAccess"])
	assert.Equal(t, "disabled_by_plan", acc["reason"])
}

func TestTenantGuard(t *testing.T) {
	s := newTestServer(t)
	_, keyA := createTenant(t, s, "alpha")
	tenantB, _ := createTenant(t, s, "beta")

	w, _ := do(t, s, call{method: "GET", path: "/v1/tenants/" + tenantB + "/modules", key: keyA})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, s, call{method: "GET", path: "/v1/tenants/" + tenantB, key: keyA})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, s, call{method: "GET", path: "/v1/tenants/" + tenantB + "/modules", admin: true})
	assert.Equal(t, http.StatusOK, w.Code, "admins see every tenant")
}

func TestAdminRoutesRejectMembers(t *testing.T) {
	s := newTestServer(t)
	tenantID, key := createTenant(t, s, "acme")

	w, _ := do(t, s, call{method: "POST", path: "/v1/tenants/" + tenantID + "/subscription", key: key,
		body: map[string]any{"planId": "plan_starter"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, s, call{method: "GET", path: "/v1/tenants", key: key})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMalformedModuleParam(t *testing.T) {
	s := newTestServer(t)
	tenantID, key := createTenant(t, s, "acme")
	w, _ := do(t, s, call{method: "GET", path: "/v1/tenants/" + tenantID + "/modules/Bad-Name/access", key: key})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthEvents(t *testing.T) {
	s := newTestServer(t)

	w, body := do(t, s, call{method: "POST", path: "/v1/auth/events", admin: true,
		body: map[string]any{"event": "SIGNED_OUT"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["cleared"])

	w, body = do(t, s, call{method: "POST", path: "/v1/auth/events", admin: true,
		body: map[string]any{"event": "USER_UPDATED"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["cleared"])

	w, _ = do(t, s, call{method: "POST", path: "/v1/auth/events", admin: true,
		body: map[string]any{"event": "PASSWORD_RECOVERY"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, call{method: "POST", path: "/v1/auth/events",
		body: map[string]any{"event": "SIGNED_OUT"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReinit(t *testing.T) {
	s := newTestServer(t)
	require.True(t, s.bootstrap.Initialized())

	w, body := do(t, s, call{method: "POST", path: "/v1/admin/reinit", admin: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := body["result"].(map[string]any)
	assert.Equal(t, true, res["initialized"])
	assert.EqualValues(t, 2, res["attempt"])
	assert.Len(t, res["steps"], 2)
}

func TestBootstrapFailureDegradesHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	s, err := New(cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)

	w, body := do(t, s, call{method: "GET", path: "/health"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)
	w, _ := do(t, s, call{method: "GET", path: "/v1/nonexistent", admin: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://app:secret@db:5432/talentdesk")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "app:")
	assert.Contains(t, masked, "@db:5432/talentdesk")
	assert.Equal(t, "***", maskDSN("://bad"))
}
