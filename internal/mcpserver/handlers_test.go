package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/talentdesk/internal/retry"
)

// --- Test helpers ---

var fastRetry = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewClient(Config{APIURL: ts.URL, APIKey: "sk_test_key", TenantID: "ten_default"}).WithRetry(fastRetry)
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "sk_secret123"})
	_, err := client.ListModules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden", "message": "not your tenant"})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "bad"})
	_, err := client.CheckAccess(context.Background(), "ten_a", "crm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "not your tenant")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "k"}).WithRetry(fastRetry)
	_, err := client.ListModules(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k"}).WithRetry(fastRetry)
	_, err := client.ListModules(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_RetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "backend_unavailable", "message": "try later"})
			return
		}
		_, _ = w.Write([]byte(`{"modules":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "k"}).WithRetry(fastRetry)
	_, err := client.ListModules(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_DoesNotRetryClientErrorsOrPosts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		status := http.StatusForbidden
		if r.Method == http.MethodPost {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"error": "x", "message": "no"})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "k"}).WithRetry(fastRetry)
	_, err := client.ListModules(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = client.ProfileCompleteness(context.Background(), map[string]any{"name": "A"}, nil)
	require.Error(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "k"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ListModules(ctx)
	require.Error(t, err)
}

func TestClient_CheckAccessPath(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"access":{}}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.CheckAccess(context.Background(), "ten_a", "talent_matching")
	require.NoError(t, err)
	assert.Equal(t, "/v1/tenants/ten_a/modules/talent_matching/access", gotPath)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleCheckModuleAccess_Granted(t *testing.T) {
	var gotPath string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]any{"access": map[string]any{
			"moduleName":       "talent_matching",
			"hasAccess":        true,
			"reason":           "granted_by_plan",
			"subscriptionType": "tenant",
			"plan":             map[string]any{"id": "plan_pro", "name": "Professional"},
			"effectiveLimits":  map[string]any{"monthly_matches": 500, "seats": -1},
		}})
	}))
	defer cleanup()

	res, err := h.HandleCheckModuleAccess(context.Background(), makeRequest(map[string]any{"module": "talent_matching"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "/v1/tenants/ten_default/modules/talent_matching/access", gotPath)

	text := resultText(t, res)
	assert.Contains(t, text, "Talent Matching")
	assert.Contains(t, text, "GRANTED")
	assert.Contains(t, text, "granted_by_plan")
	assert.Contains(t, text, "Professional")
	assert.Contains(t, text, "monthly matches: 500")
	assert.Contains(t, text, "seats: unlimited")
}

func TestHandleCheckModuleAccess_Denied(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tenants/ten_other/modules/crm/access", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"access": map[string]any{
			"moduleName": "crm", "hasAccess": false, "reason": "no_subscription",
		}})
	}))
	defer cleanup()

	res, err := h.HandleCheckModuleAccess(context.Background(),
		makeRequest(map[string]any{"module": "crm", "tenant_id": "ten_other"}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "DENIED")
	assert.Contains(t, text, "no_subscription")
}

func TestHandleCheckModuleAccess_MissingModule(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	res, err := h.HandleCheckModuleAccess(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleCheckModuleAccess_NoTenant(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	h := NewHandlers(NewClient(Config{APIURL: ts.URL, APIKey: "k"}))

	res, err := h.HandleCheckModuleAccess(context.Background(), makeRequest(map[string]any{"module": "crm"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "tenant_id is required")
}

func TestHandleCheckModuleAccess_BackendError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "backend_unavailable", "message": "access: subscription lookup failed",
		})
	}))
	defer cleanup()

	res, err := h.HandleCheckModuleAccess(context.Background(), makeRequest(map[string]any{"module": "crm"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "503")
}

func TestHandleListTenantModules(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tenants/ten_default/modules", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"modules": []map[string]any{
			{"moduleName": "crm", "hasAccess": true, "reason": "granted_by_plan"},
			{"moduleName": "reports", "hasAccess": false, "reason": "disabled_by_plan"},
		}})
	}))
	defer cleanup()

	res, err := h.HandleListTenantModules(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "[yes] Crm")
	assert.Contains(t, text, "[no ] Reports (disabled_by_plan)")
}

func TestHandlePlanPermissionSummary(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/plans/plan_pro/summary", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"summary": map[string]any{
			"planId": "plan_pro", "totalModules": 4, "enabledModules": 3, "enabledPercentage": 75,
			"keyLimitations": []string{"Crm: seats 5"},
			"moduleDetails": []map[string]any{
				{"name": "crm", "label": "Crm", "isEnabled": true},
				{"name": "reports", "label": "Reports", "isEnabled": false},
			},
		}})
	}))
	defer cleanup()

	res, err := h.HandlePlanPermissionSummary(context.Background(), makeRequest(map[string]any{"plan_id": "plan_pro"}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "3 of 4 modules enabled (75%)")
	assert.Contains(t, text, "Crm: seats 5")
	assert.Contains(t, text, "Enabled: Crm")
	assert.NotContains(t, text, "Enabled: Crm, Reports")
}

func TestHandlePlanPermissionSummary_MissingPlan(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	res, err := h.HandlePlanPermissionSummary(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleListModules(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"modules": []map[string]any{
			{"name": "talent_matching", "category": "recruiting", "description": "AI shortlist",
				"defaultLimits": map[string]any{"monthly_matches": 50}},
		}})
	}))
	defer cleanup()

	res, err := h.HandleListModules(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "1. Talent Matching (talent_matching) [recruiting]")
	assert.Contains(t, text, "AI shortlist")
	assert.Contains(t, text, "monthly matches: 50")
}

func TestHandleListModules_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"modules": []any{}})
	}))
	defer cleanup()

	res, err := h.HandleListModules(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No active modules.", resultText(t, res))
}

func TestHandleProfileCompleteness(t *testing.T) {
	var got map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"completeness": map[string]any{
			"score": 50, "completedFields": []string{"first_name"}, "missingFields": []string{"email"}, "totalFields": 2,
		}})
	}))
	defer cleanup()

	res, err := h.HandleProfileCompleteness(context.Background(), makeRequest(map[string]any{
		"profile": map[string]any{"first_name": "Ada"},
		"fields":  []any{"first_name", "email"},
	}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "50% (1 of 2 fields)")
	assert.Contains(t, text, "Missing: email")
	assert.Equal(t, []any{"first_name", "email"}, got["fields"])
}

func TestHandleProfileCompleteness_BadProfile(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	res, err := h.HandleProfileCompleteness(context.Background(), makeRequest(map[string]any{"profile": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNewMCPServer(t *testing.T) {
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080", APIKey: "sk_x"}))
}
