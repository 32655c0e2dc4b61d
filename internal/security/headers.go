// Package security provides response hardening and CORS middleware for the
// talentdesk API.
package security

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeadersMiddleware adds security headers to all responses. The API serves
// only JSON, so the content policy forbids everything.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

var corsHeaders = strings.Join([]string{
	"Authorization", "Content-Type", "X-API-Key", "X-Admin-Secret", "X-Request-ID", "X-Tenant-ID",
}, ", ")

// CORSMiddleware handles CORS for API endpoints. An empty list allows every
// origin without credentials.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimSpace(o)] = true
	}
	wildcard := len(allowedOrigins) == 0 || origins["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || origins[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", corsHeaders)
			c.Header("Access-Control-Max-Age", "86400")
			// Wildcard plus credentials would let any site act as the user.
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// TenantOrigins supplies the extra origins a tenant has allowed.
type TenantOrigins interface {
	AllowedOrigins(ctx context.Context, tenantID string) []string
}

// TenantCORSMiddleware admits origins a tenant registered for its own keys.
// It runs after auth so the key's tenant is known, and only adds headers
// when CORSMiddleware has not already admitted the origin. Preflights are
// answered by CORSMiddleware alone.
func TenantCORSMiddleware(lookup TenantOrigins, tenantOf func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || c.Writer.Header().Get("Access-Control-Allow-Origin") != "" {
			c.Next()
			return
		}
		tenantID := tenantOf(c)
		if tenantID == "" {
			c.Next()
			return
		}
		if slices.Contains(lookup.AllowedOrigins(c.Request.Context(), tenantID), origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Next()
	}
}
