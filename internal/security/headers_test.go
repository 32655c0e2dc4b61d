package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(h)
	r.Any("/v1/modules", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/v1/modules", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(), "GET", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	checks := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	}
	for header, want := range checks {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("Content-Security-Policy = %q", csp)
	}
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("plain HTTP got HSTS %q", hsts)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  string
		credentials bool
	}{
		{"listed origin", []string{"https://app.example"}, "https://app.example", "https://app.example", true},
		{"unlisted origin", []string{"https://app.example"}, "https://evil.example", "", false},
		{"wildcard", []string{"*"}, "https://any.example", "https://any.example", false},
		{"empty list", nil, "https://any.example", "https://any.example", false},
		{"no origin header", []string{"https://app.example"}, "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(CORSMiddleware(tc.allowed), "GET", tc.origin)
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tc.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tc.credentials {
				t.Errorf("credentials = %v, want %v", got, tc.credentials)
			}
			if tc.wantOrigin == "" {
				return
			}
			if h := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(h, "X-Tenant-ID") {
				t.Errorf("Allow-Headers = %q, missing X-Tenant-ID", h)
			}
			if m := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(m, "PATCH") {
				t.Errorf("Allow-Methods = %q, missing PATCH", m)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := serve(CORSMiddleware([]string{"https://app.example"}), "OPTIONS", "https://app.example")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

type origins map[string][]string

func (o origins) AllowedOrigins(_ context.Context, tenantID string) []string { return o[tenantID] }

func TestTenantCORSMiddleware(t *testing.T) {
	lookup := origins{"ten_a": {"https://alpha.example"}}
	tenantOf := func(c *gin.Context) string { return c.GetHeader("X-Tenant-ID") }
	global := []string{"https://app.example"}

	tests := []struct {
		name        string
		tenantID    string
		origin      string
		wantOrigin  string
		credentials bool
	}{
		{"tenant origin", "ten_a", "https://alpha.example", "https://alpha.example", true},
		{"origin of another tenant", "ten_b", "https://alpha.example", "", false},
		{"no tenant", "", "https://alpha.example", "", false},
		{"global list wins", "ten_a", "https://app.example", "https://app.example", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORSMiddleware(global), TenantCORSMiddleware(lookup, tenantOf))
			r.GET("/v1/modules", func(c *gin.Context) { c.Status(http.StatusOK) })
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/v1/modules", nil)
			req.Header.Set("Origin", tc.origin)
			if tc.tenantID != "" {
				req.Header.Set("X-Tenant-ID", tc.tenantID)
			}
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tc.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tc.credentials {
				t.Errorf("credentials = %v, want %v", got, tc.credentials)
			}
		})
	}
}
