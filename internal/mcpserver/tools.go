package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the talentdesk MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckModuleAccess = mcp.NewTool("check_module_access",
	mcp.WithDescription(
		"Check whether a tenant may use a business module (e.g. 'crm', 'talent_matching'). "+
			"Returns the decision, the reason (plan grant, override, no subscription, ...) "+
			"and the effective usage limits when access is granted."),
	mcp.WithString("module",
		mcp.Required(),
		mcp.Description("Module name in snake_case, e.g. 'talent_matching'")),
	mcp.WithString("tenant_id",
		mcp.Description("Tenant to check. Defaults to the tenant this server was configured with.")),
)

var ToolListTenantModules = mcp.NewTool("list_tenant_modules",
	mcp.WithDescription(
		"List every catalog module with the tenant's access decision. "+
			"Use this to answer 'what can this tenant use?'"),
	mcp.WithString("tenant_id",
		mcp.Description("Tenant to list. Defaults to the tenant this server was configured with.")),
)

var ToolPlanPermissionSummary = mcp.NewTool("plan_permission_summary",
	mcp.WithDescription(
		"Summarize what a subscription plan includes: how many modules are enabled, "+
			"the percentage of the catalog covered and the headline limits."),
	mcp.WithString("plan_id",
		mcp.Required(),
		mcp.Description("Plan identifier, e.g. 'plan_professional'")),
)

var ToolListModules = mcp.NewTool("list_modules",
	mcp.WithDescription(
		"List the active module catalog with categories and default limits."),
)

var ToolProfileCompleteness = mcp.NewTool("profile_completeness",
	mcp.WithDescription(
		"Score how complete a candidate profile is (0-100) and list the missing fields. "+
			"Uses the standard candidate field list unless fields are given."),
	mcp.WithObject("profile",
		mcp.Required(),
		mcp.Description("The candidate profile as a JSON object, e.g. {\"first_name\": \"Ada\", \"email\": \"ada@example.com\"}")),
	mcp.WithArray("fields",
		mcp.Description("Optional list of field names to check instead of the default list"),
		mcp.Items(map[string]any{"type": "string"})),
)
