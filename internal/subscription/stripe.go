package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/metrics"
)

const (
	maxWebhookBody = 64 << 10

	// Metadata keys set on Stripe subscriptions at checkout.
	metaTenantID = "tenant_id"
	metaPlanID   = "plan_id"
)

var errMissingMetadata = errors.New("subscription: stripe subscription lacks tenant_id/plan_id metadata")

// CustomerLookup maps a Stripe customer onto its tenant.
type CustomerLookup interface {
	TenantForCustomer(ctx context.Context, customerID string) (string, error)
}

// StripeWebhook keeps subscriptions in sync with Stripe's
// customer.subscription.* events.
type StripeWebhook struct {
	service   *Service
	secret    string
	customers CustomerLookup
	logger    *slog.Logger
}

// NewStripeWebhook creates the webhook handler. secret is the endpoint's
// signing secret (whsec_...).
func NewStripeWebhook(service *Service, secret string, logger *slog.Logger) *StripeWebhook {
	return &StripeWebhook{service: service, secret: secret, logger: logger}
}

// WithCustomers resolves the tenant from the Stripe customer when a
// subscription carries no tenant_id metadata.
func (w *StripeWebhook) WithCustomers(customers CustomerLookup) *StripeWebhook {
	w.customers = customers
	return w
}

// RegisterRoutes sets up the webhook route. It must not sit behind API key
// auth; requests are authenticated by their signature.
func (w *StripeWebhook) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/billing/stripe/webhook", w.Handle)
}

// Handle handles POST /v1/billing/stripe/webhook.
func (w *StripeWebhook) Handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		metrics.StripeEventsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large", "message": "webhook body too large"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), w.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.StripeEventsTotal.WithLabelValues("bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "webhook signature verification failed"})
		return
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
	default:
		metrics.StripeEventsTotal.WithLabelValues("ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	var ss stripe.Subscription
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &ss) != nil {
		metrics.StripeEventsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": "event does not carry a subscription"})
		return
	}

	w.fillTenant(c.Request.Context(), &ss)
	update, err := ExternalUpdateFromStripe(&ss)
	if err != nil {
		// Not ours to sync; acknowledging stops Stripe retrying.
		metrics.StripeEventsTotal.WithLabelValues("ignored").Inc()
		w.logger.Warn("stripe subscription ignored", "event_id", event.ID, "subscription", ss.ID, "error", err)
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	sub, err := w.service.Sync(c.Request.Context(), update)
	switch {
	case err == nil:
	case errors.Is(err, ErrActiveExists):
		metrics.StripeEventsTotal.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "active_exists", "message": err.Error()})
		return
	case errors.Is(err, catalog.ErrPlanNotFound), errors.Is(err, ErrPlanInactive):
		metrics.StripeEventsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown_plan", "message": err.Error()})
		return
	default:
		metrics.StripeEventsTotal.WithLabelValues("error").Inc()
		w.logger.Error("stripe sync failed", "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to sync subscription"})
		return
	}

	metrics.StripeEventsTotal.WithLabelValues("synced").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true, "subscription": sub})
}

func (w *StripeWebhook) fillTenant(ctx context.Context, ss *stripe.Subscription) {
	if w.customers == nil || ss.Metadata[metaTenantID] != "" || ss.Customer == nil || ss.Customer.ID == "" {
		return
	}
	tenantID, err := w.customers.TenantForCustomer(ctx, ss.Customer.ID)
	if err != nil {
		w.logger.Debug("stripe customer has no tenant", "customer", ss.Customer.ID, "error", err)
		return
	}
	if ss.Metadata == nil {
		ss.Metadata = map[string]string{}
	}
	ss.Metadata[metaTenantID] = tenantID
}

// ExternalUpdateFromStripe maps a Stripe subscription onto an update.
func ExternalUpdateFromStripe(ss *stripe.Subscription) (ExternalUpdate, error) {
	tenantID, planID := ss.Metadata[metaTenantID], ss.Metadata[metaPlanID]
	if ss.ID == "" || tenantID == "" || planID == "" {
		return ExternalUpdate{}, errMissingMetadata
	}

	u := ExternalUpdate{
		ExternalID:   ss.ID,
		TenantID:     tenantID,
		PlanID:       planID,
		Status:       statusFromStripe(ss.Status),
		BillingCycle: BillingMonthly,
		StartsAt:     unixOrNow(ss.StartDate),
	}
	switch {
	case ss.EndedAt > 0:
		t := time.Unix(ss.EndedAt, 0).UTC()
		u.EndsAt = &t
	case ss.CancelAt > 0:
		t := time.Unix(ss.CancelAt, 0).UTC()
		u.EndsAt = &t
	}
	if ss.Items != nil && len(ss.Items.Data) > 0 {
		if p := ss.Items.Data[0].Price; p != nil && p.Recurring != nil && p.Recurring.Interval == "year" {
			u.BillingCycle = BillingAnnually
		}
	}
	return u, nil
}

func statusFromStripe(s stripe.SubscriptionStatus) Status {
	switch s {
	case "active", "trialing":
		return StatusActive
	case "canceled":
		return StatusCancelled
	case "incomplete_expired":
		return StatusExpired
	default:
		return StatusInactive
	}
}

func unixOrNow(sec int64) time.Time {
	if sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
