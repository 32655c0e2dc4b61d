package access

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/talentdesk/internal/auth"
	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/logging"
	"github.com/mbd888/talentdesk/internal/querycache"
)

// Handler provides HTTP endpoints for access decisions and overrides.
type Handler struct {
	resolver  *Resolver
	overrides *OverrideService
	cache     *querycache.Cache
}

// NewHandler creates a new access handler. cache may be nil.
func NewHandler(resolver *Resolver, overrides *OverrideService, cache *querycache.Cache) *Handler {
	return &Handler{resolver: resolver, overrides: overrides, cache: cache}
}

// RegisterTenantRoutes sets up routes readable by the tenant's own keys.
func (h *Handler) RegisterTenantRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/modules", h.ListModuleAccess)
	r.GET("/tenants/:id/modules/:module/access", h.CheckAccess)
	r.GET("/tenants/:id/module-stats", h.GetStats)
	r.GET("/tenants/:id/overrides", h.ListOverrides)
}

// RegisterAdminRoutes sets up override mutations.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/overrides", h.EnableOverride)
	r.POST("/overrides/:id/disable", h.DisableOverride)
}

// ListModuleAccess handles GET /v1/tenants/:id/modules
func (h *Handler) ListModuleAccess(c *gin.Context) {
	tenantID := c.Param("id")
	key := querycache.MakeKey(querycache.IdentityFrom(c), querycache.ViewTenantModules, tenantID)

	decisions, err := querycache.Load(c.Request.Context(), h.cache, key, func(ctx context.Context) ([]*Access, error) {
		return h.resolver.CheckAll(ctx, tenantID)
	})
	if err != nil {
		writeBackendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": decisions, "count": len(decisions)})
}

// CheckAccess handles GET /v1/tenants/:id/modules/:module/access
func (h *Handler) CheckAccess(c *gin.Context) {
	tenantID, moduleName := c.Param("id"), c.Param("module")
	key := querycache.MakeKey(querycache.IdentityFrom(c), querycache.ViewUnifiedModuleAccess, tenantID, moduleName)

	acc, err := querycache.Load(c.Request.Context(), h.cache, key, func(ctx context.Context) (*Access, error) {
		return h.resolver.Check(ctx, tenantID, moduleName)
	})
	if err != nil {
		writeBackendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": acc})
}

// GetStats handles GET /v1/tenants/:id/module-stats
func (h *Handler) GetStats(c *gin.Context) {
	tenantID := c.Param("id")
	key := querycache.MakeKey(querycache.IdentityFrom(c), querycache.ViewModuleAccessStats, tenantID)

	stats, err := querycache.Load(c.Request.Context(), h.cache, key, func(ctx context.Context) (*Stats, error) {
		return h.resolver.Stats(ctx, tenantID)
	})
	if err != nil {
		writeBackendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// ListOverrides handles GET /v1/tenants/:id/overrides
func (h *Handler) ListOverrides(c *gin.Context) {
	list, err := h.overrides.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		logging.L(c.Request.Context()).Error("list overrides failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list overrides"})
		return
	}
	if list == nil {
		list = []*Assignment{}
	}
	c.JSON(http.StatusOK, gin.H{"overrides": list, "count": len(list)})
}

// EnableOverrideRequest is the body of POST /v1/tenants/:id/overrides.
type EnableOverrideRequest struct {
	ModuleID  string         `json:"moduleId" binding:"required"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Limits    catalog.Limits `json:"limits,omitempty"`
}

// EnableOverride handles POST /v1/tenants/:id/overrides (admin only).
func (h *Handler) EnableOverride(c *gin.Context) {
	var req EnableOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "moduleId required"})
		return
	}

	a, err := h.overrides.EnableWithLimits(c.Request.Context(), auth.ActorID(c), c.Param("id"), req.ModuleID, req.ExpiresAt, req.Limits)
	if err != nil {
		writeOverrideError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"override": a})
}

// DisableOverride handles POST /v1/overrides/:id/disable (admin only).
func (h *Handler) DisableOverride(c *gin.Context) {
	a, err := h.overrides.Disable(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeOverrideError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"override": a})
}

// writeBackendError keeps "could not decide" distinct from "denied": a
// denial is a 200 with hasAccess=false, a failed lookup is 503/504.
func writeBackendError(c *gin.Context, err error) {
	var be *BackendError
	if errors.As(err, &be) && be.Timeout {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "backend_timeout", "message": "access check timed out"})
		return
	}
	logging.L(c.Request.Context()).Error("access check failed", "error", err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend_error", "message": "access could not be determined"})
}

func writeOverrideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth_required", "message": "an authenticated actor is required"})
	case errors.Is(err, ErrTenantRequired), errors.Is(err, ErrModuleRequired), errors.Is(err, ErrAlreadyExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, catalog.ErrModuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "module_not_found", "message": "module not found"})
	case errors.Is(err, ErrAssignmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "override_not_found", "message": "override not found"})
	default:
		logging.L(c.Request.Context()).Error("override write failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update override"})
	}
}
