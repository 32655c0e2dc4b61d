package tenant

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/talentdesk/internal/auth"
	"github.com/mbd888/talentdesk/internal/idgen"
	"github.com/mbd888/talentdesk/internal/logging"
	"github.com/mbd888/talentdesk/internal/pagination"
	"github.com/mbd888/talentdesk/internal/validation"
)

// Handler provides HTTP endpoints for tenant management.
type Handler struct {
	store   Store
	authMgr *auth.Manager
	now     func() time.Time
}

// NewHandler creates a new tenant handler. authMgr may be nil, in which
// case new tenants get no admin key.
func NewHandler(store Store, authMgr *auth.Manager) *Handler {
	return &Handler{store: store, authMgr: authMgr, now: time.Now}
}

// RegisterAdminRoutes sets up operator-only tenant routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.CreateTenant)
	r.GET("/tenants", h.ListTenants)
	r.PATCH("/tenants/:id/status", h.SetStatus)
}

// RegisterProtectedRoutes sets up tenant routes that require API key auth.
// Admins and keys bound to the tenant may use them.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id", h.GetTenant)
	r.PATCH("/tenants/:id", h.UpdateTenant)
}

// CreateTenantRequest is the body of POST /v1/tenants.
type CreateTenantRequest struct {
	Name             string `json:"name" binding:"required"`
	Slug             string `json:"slug" binding:"required"`
	StripeCustomerID string `json:"stripeCustomerId"`
}

// CreateTenant handles POST /v1/tenants (admin only).
func (h *Handler) CreateTenant(c *gin.Context) {
	ctx := c.Request.Context()
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and slug required"})
		return
	}

	req.Slug = validation.NormalizeSlug(req.Slug)
	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.Slug("slug", req.Slug),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}

	now := h.now().UTC()
	t := &Tenant{
		ID:               idgen.WithPrefix("ten_"),
		Name:             validation.SanitizeString(req.Name, validation.MaxNameLength),
		Slug:             req.Slug,
		StripeCustomerID: req.StripeCustomerID,
		Status:           StatusActive,
		Settings:         DefaultSettings(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.store.Create(ctx, t); err != nil {
		switch {
		case errors.Is(err, ErrSlugTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use"})
		case errors.Is(err, ErrCustomerTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "customer_taken", "message": "stripe customer already bound to a tenant"})
		default:
			logging.L(ctx).Error("create tenant failed", "slug", t.Slug, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create tenant"})
		}
		return
	}
	logging.L(ctx).Info("tenant created", "tenant_id", t.ID, "slug", t.Slug, "actor", auth.ActorID(c))

	if h.authMgr == nil {
		c.JSON(http.StatusCreated, gin.H{"tenant": t})
		return
	}

	// The first key is a member key bound to the tenant, not a platform admin key.
	rawKey, key, err := h.authMgr.GenerateKey(ctx, auth.KeySpec{
		UserID:   "tenant-admin:" + t.ID,
		TenantID: t.ID,
		Role:     auth.RoleMember,
		Name:     "Tenant admin key",
	})
	if err != nil {
		logging.L(ctx).Warn("tenant key generation failed", "tenant_id", t.ID, "error", err)
		c.JSON(http.StatusCreated, gin.H{
			"tenant":  t,
			"warning": "Tenant created but key generation failed. Use the admin API to issue keys.",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tenant":  t,
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// ListTenants handles GET /v1/tenants?cursor=&limit=
func (h *Handler) ListTenants(c *gin.Context) {
	ctx := c.Request.Context()
	params, err := pagination.ParseParams(c.Query("cursor"), c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	tenants, err := h.store.List(ctx, params.After, params.Limit+1)
	if err != nil {
		logging.L(ctx).Error("list tenants failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list tenants"})
		return
	}
	page, next, hasMore := pagination.ComputePage(tenants, params.Limit, func(t *Tenant) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	c.JSON(http.StatusOK, gin.H{"tenants": page, "count": len(page), "nextCursor": next, "hasMore": hasMore})
}

// GetTenant handles GET /v1/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	t, ok := h.loadOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// UpdateTenantRequest is the body of PATCH /v1/tenants/:id.
type UpdateTenantRequest struct {
	Name             *string   `json:"name"`
	StripeCustomerID *string   `json:"stripeCustomerId"`
	Settings         *Settings `json:"settings"`
}

// UpdateTenant handles PATCH /v1/tenants/:id
func (h *Handler) UpdateTenant(c *gin.Context) {
	ctx := c.Request.Context()
	t, ok := h.loadOwned(c)
	if !ok {
		return
	}

	var req UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	admin := auth.IsAdmin(c)
	if req.Name != nil {
		name := validation.SanitizeString(*req.Name, validation.MaxNameLength)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name must not be empty"})
			return
		}
		t.Name = name
	}
	if req.StripeCustomerID != nil {
		// Billing linkage decides who a webhook is applied to.
		if !admin {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "billing changes require admin"})
			return
		}
		t.StripeCustomerID = *req.StripeCustomerID
	}
	if req.Settings != nil {
		// Tenants may set their CORS origins; the rate limit is operator-controlled.
		t.Settings.AllowedOrigins = req.Settings.AllowedOrigins
		if admin && req.Settings.RateLimitRPM > 0 {
			t.Settings.RateLimitRPM = req.Settings.RateLimitRPM
		}
	}
	t.UpdatedAt = h.now().UTC()

	if err := h.store.Update(ctx, t); err != nil {
		if errors.Is(err, ErrCustomerTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "customer_taken", "message": "stripe customer already bound to a tenant"})
			return
		}
		logging.L(ctx).Error("update tenant failed", "tenant_id", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// SetStatus handles PATCH /v1/tenants/:id/status (admin only).
func (h *Handler) SetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	var req struct {
		Status Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "status must be active, suspended or cancelled"})
		return
	}

	t, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	prev := t.Status
	t.Status = req.Status
	t.UpdatedAt = h.now().UTC()
	if err := h.store.Update(ctx, t); err != nil {
		logging.L(ctx).Error("set tenant status failed", "tenant_id", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}
	logging.L(ctx).Info("tenant status changed", "tenant_id", t.ID, "from", prev, "to", t.Status, "actor", auth.ActorID(c))
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// loadOwned fetches the :id tenant and checks the caller may see it.
func (h *Handler) loadOwned(c *gin.Context) (*Tenant, bool) {
	id := c.Param("id")
	if !auth.IsAdmin(c) && auth.GetTenantID(c) != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your tenant"})
		return nil, false
	}
	t, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.writeLookupError(c, err)
		return nil, false
	}
	return t, true
}

func (h *Handler) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return
	}
	logging.L(c.Request.Context()).Error("get tenant failed", "tenant_id", c.Param("id"), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load tenant"})
}
