package catalog

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/talentdesk/internal/idgen"
	"github.com/mbd888/talentdesk/internal/logging"
	"github.com/mbd888/talentdesk/internal/querycache"
)

// Handler provides HTTP endpoints for the module catalog and plans.
type Handler struct {
	store      Store
	summarizer *Summarizer
	cache      *querycache.Cache
	inv        querycache.Invalidator
}

// NewHandler creates a new catalog handler. cache may be nil.
func NewHandler(store Store, cache *querycache.Cache) *Handler {
	return &Handler{store: store, summarizer: NewSummarizer(store), cache: cache}
}

// WithInvalidator sets where permission changes are announced.
func (h *Handler) WithInvalidator(inv querycache.Invalidator) *Handler {
	h.inv = inv
	return h
}

// RegisterRoutes sets up read-only catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/modules", h.ListModules)
	r.GET("/plans", h.ListPlans)
	r.GET("/plans/:id", h.GetPlan)
	r.GET("/plans/:id/summary", h.GetSummary)
}

// RegisterAdminRoutes sets up catalog mutations.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/plans/:id/permissions/:module", h.SetPermission)
}

// ListModules handles GET /v1/modules
func (h *Handler) ListModules(c *gin.Context) {
	activeOnly := c.Query("all") != "true"
	modules, err := h.store.ListModules(c.Request.Context(), activeOnly)
	if err != nil {
		logging.L(c.Request.Context()).Error("list modules failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list modules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": modules, "count": len(modules)})
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.store.ListPlans(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("list plans failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list plans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

// GetPlan handles GET /v1/plans/:id
func (h *Handler) GetPlan(c *gin.Context) {
	ctx := c.Request.Context()
	plan, err := h.store.GetPlan(ctx, c.Param("id"))
	if errors.Is(err, ErrPlanNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found", "message": "plan not found"})
		return
	}
	if err != nil {
		logging.L(ctx).Error("get plan failed", "plan_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load plan"})
		return
	}
	perms, err := h.store.ListPermissions(ctx, plan.ID)
	if err != nil {
		logging.L(ctx).Error("list permissions failed", "plan_id", plan.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load plan permissions"})
		return
	}
	if perms == nil {
		perms = []*Permission{}
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "permissions": perms})
}

// GetSummary handles GET /v1/plans/:id/summary
func (h *Handler) GetSummary(c *gin.Context) {
	ctx := c.Request.Context()
	planID := c.Param("id")

	if _, err := h.store.GetPlan(ctx, planID); err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found", "message": "plan not found"})
			return
		}
		logging.L(ctx).Error("get plan failed", "plan_id", planID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to get plan"})
		return
	}

	key := querycache.MakeKey(querycache.IdentityFrom(c), querycache.ViewPlanSummary, planID)
	sum, err := querycache.Load(ctx, h.cache, key, func(ctx context.Context) (*Summary, error) {
		return h.summarizer.Summarize(ctx, planID)
	})
	if err != nil {
		logging.L(ctx).Error("plan summary failed", "plan_id", planID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to summarize plan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

// SetPermissionRequest is the body of PUT /v1/plans/:id/permissions/:module.
type SetPermissionRequest struct {
	IsEnabled *bool  `json:"isEnabled" binding:"required"`
	Limits    Limits `json:"limits"`
}

// SetPermission handles PUT /v1/plans/:id/permissions/:module (admin only).
// A plan permission change can alter access for every tenant on the plan,
// so access views are dropped for all tenants.
func (h *Handler) SetPermission(c *gin.Context) {
	ctx := c.Request.Context()

	var req SetPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "isEnabled required"})
		return
	}

	now := time.Now().UTC()
	perm := &Permission{
		ID:         idgen.WithPrefix("perm_"),
		PlanID:     c.Param("id"),
		ModuleName: c.Param("module"),
		IsEnabled:  *req.IsEnabled,
		Limits:     req.Limits,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if perm.Limits == nil {
		perm.Limits = Limits{}
	}

	err := h.store.UpsertPermission(ctx, perm)
	switch {
	case err == nil:
	case errors.Is(err, ErrPlanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found", "message": "plan not found"})
		return
	case errors.Is(err, ErrModuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "module_not_found", "message": "module not found"})
		return
	default:
		logging.L(ctx).Error("upsert permission failed", "plan_id", perm.PlanID, "module", perm.ModuleName, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update permission"})
		return
	}

	if h.inv != nil {
		views := append([]string{querycache.ViewPlanSummary}, querycache.AccessViews...)
		h.inv.InvalidateViews(ctx, "", views...)
	}
	logging.L(ctx).Info("plan permission updated",
		"plan_id", perm.PlanID, "module", perm.ModuleName, "enabled", perm.IsEnabled)
	c.JSON(http.StatusOK, gin.H{"permission": perm})
}
