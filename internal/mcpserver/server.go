package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// NewMCPServer creates a configured MCP server with all talentdesk tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("talentdesk", Version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolCheckModuleAccess, h.HandleCheckModuleAccess)
	s.AddTool(ToolListTenantModules, h.HandleListTenantModules)
	s.AddTool(ToolPlanPermissionSummary, h.HandlePlanPermissionSummary)
	s.AddTool(ToolListModules, h.HandleListModules)
	s.AddTool(ToolProfileCompleteness, h.HandleProfileCompleteness)

	return s
}
