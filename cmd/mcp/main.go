// talentdesk MCP server: exposes module-access tools to LLM clients over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/talentdesk/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:   envOrDefault("TALENTDESK_API_URL", "http://localhost:8080"),
		APIKey:   os.Getenv("TALENTDESK_API_KEY"),
		TenantID: os.Getenv("TALENTDESK_TENANT_ID"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "TALENTDESK_API_KEY is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
