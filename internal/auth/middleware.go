package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the key for storing API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyUserID is the key for storing the authenticated user
	ContextKeyUserID = "authUserID"
	// ContextKeyTenantID is the key for storing the tenant the key is bound to
	ContextKeyTenantID = "authTenantID"
	// ContextKeyAdmin marks requests that passed the admin secret check
	ContextKeyAdmin = "authAdmin"

	// AdminActor is the actor recorded for writes made with the admin secret.
	AdminActor = "admin"
)

// Token returns the raw credential presented with the request, if any.
func Token(c *gin.Context) string {
	if v := c.GetHeader("Authorization"); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}

// Middleware extracts and validates API key from request.
// Invalid keys do not abort; downstream guards decide.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := Token(c); raw != "" {
			key, err := m.ValidateKey(c.Request.Context(), raw)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyUserID, key.UserID)
				c.Set(ContextKeyTenantID, key.TenantID)
			}
		}
		c.Next()
	}
}

// AdminSecret marks requests presenting the configured X-Admin-Secret as
// admin without aborting others, so handlers outside admin-only groups can
// still recognise operators. An empty secret marks nothing.
func AdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given := c.GetHeader("X-Admin-Secret")
		if secret != "" && given != "" && subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1 {
			c.Set(ContextKeyAdmin, true)
		}
		c.Next()
	}
}

// RequireAuth middleware rejects requests without valid auth
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) && !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin accepts the X-Admin-Secret header or an admin-role key.
// With no secret configured (demo mode) any authenticated caller passes.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if !IsAuthenticated(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "API key required.",
				})
				return
			}
			c.Next()
			return
		}

		if key, ok := GetAPIKey(c); ok && key.IsAdmin() {
			c.Next()
			return
		}
		given := c.GetHeader("X-Admin-Secret")
		if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin access required",
			})
			return
		}
		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

// RequireTenant rejects callers whose key is bound to a different tenant
// than the :param route parameter. Admins pass.
func RequireTenant(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAdmin(c) {
			c.Next()
			return
		}
		key, ok := GetAPIKey(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		if key.TenantID == "" || key.TenantID != c.Param(paramName) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "key is not bound to this tenant",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	key, ok := v.(*APIKey)
	return key, ok
}

// GetUserID returns the authenticated user, or "".
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetTenantID returns the tenant the caller's key is bound to, or "".
func GetTenantID(c *gin.Context) string {
	return c.GetString(ContextKeyTenantID)
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}

// IsAdmin reports whether the caller presented the admin secret or an
// admin-role key.
func IsAdmin(c *gin.Context) bool {
	if c.GetBool(ContextKeyAdmin) {
		return true
	}
	key, ok := GetAPIKey(c)
	return ok && key.IsAdmin()
}

// ActorID identifies who is performing a write: the key's user, or
// AdminActor for admin-secret requests. Empty when unauthenticated.
func ActorID(c *gin.Context) string {
	if uid := GetUserID(c); uid != "" {
		return uid
	}
	if c.GetBool(ContextKeyAdmin) {
		return AdminActor
	}
	return ""
}
