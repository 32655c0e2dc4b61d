package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/idgen"
	"github.com/mbd888/talentdesk/internal/metrics"
	"github.com/mbd888/talentdesk/internal/querycache"
)

// PlanLookup resolves plans for validation.
type PlanLookup interface {
	GetPlan(ctx context.Context, id string) (*catalog.Plan, error)
}

// Service manages subscription lifecycles. Every status change invalidates
// the tenant's access views.
type Service struct {
	store  Store
	plans  PlanLookup
	inv    querycache.Invalidator
	locks  *tenantLocks
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a subscription service.
func NewService(store Store, plans PlanLookup, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		plans:  plans,
		locks:  newTenantLocks(),
		logger: logger,
		now:    time.Now,
	}
}

// WithInvalidator sets where view invalidations are sent.
func (s *Service) WithInvalidator(inv querycache.Invalidator) *Service {
	s.inv = inv
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// SubscribeRequest describes a new subscription.
type SubscribeRequest struct {
	TenantID     string       `json:"tenantId"`
	PlanID       string       `json:"planId" binding:"required"`
	BillingCycle BillingCycle `json:"billingCycle"`
	StartsAt     *time.Time   `json:"startsAt,omitempty"`
	EndsAt       *time.Time   `json:"endsAt,omitempty"`
	ExternalID   string       `json:"externalId,omitempty"`
	// Replace moves an existing active subscription to inactive instead of
	// failing with ErrActiveExists.
	Replace bool `json:"replace"`
}

// Subscribe creates an active subscription for the tenant.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	if req.TenantID == "" {
		return nil, ErrTenantRequired
	}
	unlock, err := s.locks.lock(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.subscribe(ctx, req)
}

func (s *Service) subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	if req.BillingCycle == "" {
		req.BillingCycle = BillingMonthly
	}
	if !req.BillingCycle.Valid() {
		return nil, ErrInvalidBillingCycle
	}

	plan, err := s.plans.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}

	now := s.now()
	sub := &Subscription{
		ID:           idgen.WithPrefix("sub_"),
		TenantID:     req.TenantID,
		PlanID:       plan.ID,
		Status:       StatusActive,
		BillingCycle: req.BillingCycle,
		StartsAt:     now,
		EndsAt:       req.EndsAt,
		ExternalID:   req.ExternalID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.StartsAt != nil {
		sub.StartsAt = *req.StartsAt
	}

	var prev *Subscription
	if req.Replace {
		prev, err = s.store.ReplaceActive(ctx, sub)
	} else {
		err = s.store.Create(ctx, sub)
	}
	if err != nil {
		return nil, err
	}

	if prev != nil {
		metrics.SubscriptionTransitionsTotal.WithLabelValues(string(StatusInactive)).Inc()
	}
	metrics.SubscriptionTransitionsTotal.WithLabelValues(string(StatusActive)).Inc()
	s.logger.Info("subscription activated",
		"tenant_id", sub.TenantID, "plan_id", sub.PlanID, "subscription_id", sub.ID, "replaced", prev != nil)
	s.invalidate(ctx, sub.TenantID)
	return sub, nil
}

// Active returns the tenant's active subscription.
func (s *Service) Active(ctx context.Context, tenantID string) (*Subscription, error) {
	return s.store.GetActive(ctx, tenantID)
}

// History returns every subscription of the tenant, newest first.
func (s *Service) History(ctx context.Context, tenantID string) ([]*Subscription, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

// Cancel moves the tenant's active subscription to cancelled.
func (s *Service) Cancel(ctx context.Context, tenantID string) (*Subscription, error) {
	unlock, err := s.locks.lock(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	active, err := s.store.GetActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.setStatus(ctx, active.ID, StatusCancelled)
}

// SetStatus moves one subscription to status.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*Subscription, error) {
	return s.setStatus(ctx, id, status)
}

func (s *Service) setStatus(ctx context.Context, id string, status Status) (*Subscription, error) {
	sub, err := s.store.UpdateStatus(ctx, id, status, s.now())
	if err != nil {
		return nil, err
	}
	metrics.SubscriptionTransitionsTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("subscription status changed",
		"tenant_id", sub.TenantID, "subscription_id", sub.ID, "status", string(status))
	s.invalidate(ctx, sub.TenantID)
	return sub, nil
}

// ExpireDue moves every active subscription past its end date to expired
// and returns how many were expired.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	due, err := s.store.ListDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("subscription: list due: %w", err)
	}
	count := 0
	for _, sub := range due {
		if _, err := s.expire(ctx, sub); err != nil {
			s.logger.Warn("failed to expire subscription", "subscription_id", sub.ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func (s *Service) expire(ctx context.Context, sub *Subscription) (*Subscription, error) {
	unlock, err := s.locks.lock(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.setStatus(ctx, sub.ID, StatusExpired)
}

// ExternalUpdate is a subscription state reported by the billing provider.
type ExternalUpdate struct {
	ExternalID   string
	TenantID     string
	PlanID       string
	Status       Status
	BillingCycle BillingCycle
	StartsAt     time.Time
	EndsAt       *time.Time
}

// Sync applies a billing provider update. The newest row linked to the
// external id is updated in place when the plan is unchanged; otherwise a
// new row is written (replacing the tenant's active subscription when the
// update is active).
func (s *Service) Sync(ctx context.Context, u ExternalUpdate) (*Subscription, error) {
	if !u.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	unlock, err := s.locks.lock(ctx, u.TenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.store.GetByExternalID(ctx, u.ExternalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil && existing.PlanID == u.PlanID {
		if existing.Status == u.Status {
			return existing, nil
		}
		return s.setStatus(ctx, existing.ID, u.Status)
	}

	if u.Status == StatusActive {
		return s.subscribe(ctx, SubscribeRequest{
			TenantID: u.TenantID, PlanID: u.PlanID, BillingCycle: u.BillingCycle,
			StartsAt: &u.StartsAt, EndsAt: u.EndsAt, ExternalID: u.ExternalID, Replace: true,
		})
	}

	now := s.now()
	sub := &Subscription{
		ID:           idgen.WithPrefix("sub_"),
		TenantID:     u.TenantID,
		PlanID:       u.PlanID,
		Status:       u.Status,
		BillingCycle: u.BillingCycle,
		StartsAt:     u.StartsAt,
		EndsAt:       u.EndsAt,
		ExternalID:   u.ExternalID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if sub.BillingCycle == "" {
		sub.BillingCycle = BillingMonthly
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.inv == nil {
		return
	}
	views := append([]string{querycache.ViewTenantSubscription}, querycache.AccessViews...)
	s.inv.InvalidateViews(ctx, tenantID, views...)
}
