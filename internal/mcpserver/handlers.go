package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/talentdesk/internal/access"
	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/completeness"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

func (h *Handlers) tenant(req mcp.CallToolRequest) string {
	if t := req.GetString("tenant_id", ""); t != "" {
		return t
	}
	return h.client.DefaultTenant()
}

// HandleCheckModuleAccess resolves one module for a tenant.
func (h *Handlers) HandleCheckModuleAccess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	module := req.GetString("module", "")
	if module == "" {
		return mcp.NewToolResultError("module is required"), nil
	}
	tenantID := h.tenant(req)
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required (no default tenant configured)"), nil
	}

	raw, err := h.client.CheckAccess(ctx, tenantID, module)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check access: %v", err)), nil
	}

	var resp struct {
		Access access.Access `json:"access"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse access decision: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAccess(tenantID, &resp.Access)), nil
}

// HandleListTenantModules lists the tenant's decision for every module.
func (h *Handlers) HandleListTenantModules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := h.tenant(req)
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required (no default tenant configured)"), nil
	}

	raw, err := h.client.TenantModules(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tenant modules: %v", err)), nil
	}

	var resp struct {
		Modules []access.Access `json:"modules"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse modules: %v", err)), nil
	}
	if len(resp.Modules) == 0 {
		return mcp.NewToolResultText("No modules in the catalog."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Modules for tenant %s:\n\n", tenantID)
	for _, a := range resp.Modules {
		mark := "no "
		if a.HasAccess {
			mark = "yes"
		}
		fmt.Fprintf(&sb, "  [%s] %s (%s)\n", mark, catalog.Label(a.ModuleName), a.Reason)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandlePlanPermissionSummary describes what a plan grants.
func (h *Handlers) HandlePlanPermissionSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := req.GetString("plan_id", "")
	if planID == "" {
		return mcp.NewToolResultError("plan_id is required"), nil
	}

	raw, err := h.client.PlanSummary(ctx, planID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get plan summary: %v", err)), nil
	}

	var resp struct {
		Summary catalog.Summary `json:"summary"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse plan summary: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSummary(&resp.Summary)), nil
}

// HandleListModules lists the active catalog.
func (h *Handlers) HandleListModules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListModules(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list modules: %v", err)), nil
	}

	var resp struct {
		Modules []catalog.Module `json:"modules"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse modules: %v", err)), nil
	}
	if len(resp.Modules) == 0 {
		return mcp.NewToolResultText("No active modules."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d module(s):\n\n", len(resp.Modules))
	for i, m := range resp.Modules {
		fmt.Fprintf(&sb, "%d. %s (%s)", i+1, m.Label(), m.Name)
		if m.Category != "" {
			fmt.Fprintf(&sb, " [%s]", m.Category)
		}
		sb.WriteString("\n")
		if m.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", m.Description)
		}
		if len(m.DefaultLimits) > 0 {
			fmt.Fprintf(&sb, "   Default limits: %s\n", formatLimits(m.DefaultLimits))
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleProfileCompleteness scores a candidate profile.
func (h *Handlers) HandleProfileCompleteness(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	profile, ok := args["profile"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("profile must be a JSON object"), nil
	}
	var fields []string
	if list, ok := args["fields"].([]any); ok {
		for _, f := range list {
			if s, ok := f.(string); ok && s != "" {
				fields = append(fields, s)
			}
		}
	}

	raw, err := h.client.ProfileCompleteness(ctx, profile, fields)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to score profile: %v", err)), nil
	}

	var resp struct {
		Completeness completeness.Result `json:"completeness"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse completeness: %v", err)), nil
	}

	r := resp.Completeness
	var sb strings.Builder
	fmt.Fprintf(&sb, "Profile completeness: %d%% (%d of %d fields)\n",
		r.Score, len(r.CompletedFields), r.TotalFields)
	if len(r.MissingFields) > 0 {
		fmt.Fprintf(&sb, "Missing: %s\n", strings.Join(r.MissingFields, ", "))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatAccess(tenantID string, a *access.Access) string {
	var sb strings.Builder
	verdict := "DENIED"
	if a.HasAccess {
		verdict = "GRANTED"
	}
	fmt.Fprintf(&sb, "Access to %s for tenant %s: %s\n", catalog.Label(a.ModuleName), tenantID, verdict)
	fmt.Fprintf(&sb, "  Reason: %s\n", a.Reason)
	if a.Plan != nil {
		fmt.Fprintf(&sb, "  Plan: %s (%s)\n", a.Plan.Name, a.Plan.ID)
	}
	if a.SubscriptionType != "" {
		fmt.Fprintf(&sb, "  Via: %s\n", a.SubscriptionType)
	}
	if a.Override != nil && a.Override.ExpiresAt != nil {
		fmt.Fprintf(&sb, "  Override expires: %s\n", a.Override.ExpiresAt.Format("2006-01-02 15:04 MST"))
	}
	if len(a.EffectiveLimits) > 0 {
		fmt.Fprintf(&sb, "  Limits: %s\n", formatLimits(a.EffectiveLimits))
	}
	return sb.String()
}

func formatSummary(s *catalog.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan %s: %d of %d modules enabled (%d%%)\n",
		s.PlanID, s.EnabledModules, s.TotalModules, s.EnabledPercentage)
	if len(s.KeyLimitations) > 0 {
		sb.WriteString("Key limitations:\n")
		for _, l := range s.KeyLimitations {
			fmt.Fprintf(&sb, "  - %s\n", l)
		}
	}
	var enabled []string
	for _, d := range s.ModuleDetails {
		if d.IsEnabled {
			enabled = append(enabled, d.Label)
		}
	}
	if len(enabled) > 0 {
		fmt.Fprintf(&sb, "Enabled: %s\n", strings.Join(enabled, ", "))
	}
	return sb.String()
}

func formatLimits(l catalog.Limits) string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprintf("%d", l[k])
		if l[k] == catalog.Unlimited {
			v = "unlimited"
		}
		parts = append(parts, catalog.LimitKey(k)+": "+v)
	}
	return strings.Join(parts, ", ")
}
