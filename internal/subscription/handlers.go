package subscription

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/logging"
	"github.com/mbd888/talentdesk/internal/querycache"
)

// Handler provides HTTP endpoints for tenant subscriptions.
type Handler struct {
	service *Service
	cache   *querycache.Cache
}

// NewHandler creates a new subscription handler. cache may be nil.
func NewHandler(service *Service, cache *querycache.Cache) *Handler {
	return &Handler{service: service, cache: cache}
}

// RegisterTenantRoutes sets up routes readable by the tenant's own keys.
func (h *Handler) RegisterTenantRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/subscription", h.GetSubscription)
	r.GET("/tenants/:id/subscriptions", h.ListSubscriptions)
}

// RegisterAdminRoutes sets up subscription mutations.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/subscription", h.Subscribe)
	r.POST("/tenants/:id/subscription/cancel", h.Cancel)
}

// GetSubscription handles GET /v1/tenants/:id/subscription
func (h *Handler) GetSubscription(c *gin.Context) {
	tenantID := c.Param("id")
	key := querycache.MakeKey(querycache.IdentityFrom(c), querycache.ViewTenantSubscription, tenantID)

	sub, err := querycache.Load(c.Request.Context(), h.cache, key, func(ctx context.Context) (*Subscription, error) {
		return h.service.Active(ctx, tenantID)
	})
	if errors.Is(err, ErrNoActiveSubscription) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_active_subscription", "message": "tenant has no active subscription"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("get subscription failed", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// ListSubscriptions handles GET /v1/tenants/:id/subscriptions
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list subscriptions"})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// Subscribe handles POST /v1/tenants/:id/subscription (admin only).
func (h *Handler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "planId required"})
		return
	}
	req.TenantID = c.Param("id")

	sub, err := h.service.Subscribe(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// Cancel handles POST /v1/tenants/:id/subscription/cancel (admin only).
func (h *Handler) Cancel(c *gin.Context) {
	sub, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrActiveExists):
		c.JSON(http.StatusConflict, gin.H{"error": "active_exists", "message": "tenant already has an active subscription; pass replace=true to switch plans"})
	case errors.Is(err, ErrNoActiveSubscription):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_active_subscription", "message": "tenant has no active subscription"})
	case errors.Is(err, catalog.ErrPlanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found", "message": "plan not found"})
	case errors.Is(err, ErrPlanInactive):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "plan_inactive", "message": "plan is not active"})
	case errors.Is(err, ErrInvalidBillingCycle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_billing_cycle", "message": "billingCycle must be monthly or annually"})
	default:
		logging.L(c.Request.Context()).Error("subscription write failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update subscription"})
	}
}
