package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/talentdesk/internal/retry"
)

// Config holds the configuration for connecting to the talentdesk API.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	APIKey   string // API key, e.g. "sk_..."
	TenantID string // Default tenant when a tool call names none
}

// Client is a pure HTTP client for the talentdesk API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: retry.DefaultPolicy,
	}
}

// WithRetry sets how GET requests are retried on gateway errors.
func (c *Client) WithRetry(p retry.Policy) *Client {
	c.retry = p
	return c
}

// DefaultTenant is the tenant used when a tool call omits tenant_id.
func (c *Client) DefaultTenant() string {
	return c.cfg.TenantID
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
// GETs are retried on transport errors and 502/503/504, which the access
// endpoints use for "could not decide".
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if method != http.MethodGet {
		return c.doOnce(ctx, method, path, query, body)
	}
	var out json.RawMessage
	err := c.retry.Do(ctx, "api "+path, func(ctx context.Context) error {
		raw, err := c.doOnce(ctx, method, path, query, body)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && !se.retryable() {
				return retry.Permanent(err)
			}
			return err
		}
		out = raw
		return nil
	})
	return out, err
}

// statusError is an API error response.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.code, e.msg)
}

func (e *statusError) retryable() bool {
	switch e.code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, &statusError{code: resp.StatusCode, msg: apiErr.Message}
		}
		return nil, &statusError{code: resp.StatusCode, msg: string(respBody)}
	}

	return json.RawMessage(respBody), nil
}

// CheckAccess resolves one module for a tenant.
func (c *Client) CheckAccess(ctx context.Context, tenantID, module string) (json.RawMessage, error) {
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/modules/" + url.PathEscape(module) + "/access"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// TenantModules lists every catalog module with the tenant's decision.
func (c *Client) TenantModules(ctx context.Context, tenantID string) (json.RawMessage, error) {
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/modules"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// PlanSummary returns what a plan grants across the catalog.
func (c *Client) PlanSummary(ctx context.Context, planID string) (json.RawMessage, error) {
	path := "/v1/plans/" + url.PathEscape(planID) + "/summary"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// ListModules returns the active catalog.
func (c *Client) ListModules(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/modules", nil, nil)
}

// ProfileCompleteness scores a candidate profile.
func (c *Client) ProfileCompleteness(ctx context.Context, entity map[string]any, fields []string) (json.RawMessage, error) {
	body := map[string]any{"entity": entity}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/candidates/completeness", nil, body)
}
