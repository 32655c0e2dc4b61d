// Package subscription links tenants to plans.
//
// A tenant has at most one active subscription. The rule is enforced where
// rows are written: creating or activating a second active subscription
// fails with ErrActiveExists, and ReplaceActive swaps plans atomically.
package subscription

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound             = errors.New("subscription: not found")
	ErrNoActiveSubscription = errors.New("subscription: tenant has no active subscription")
	ErrActiveExists         = errors.New("subscription: tenant already has an active subscription")
	ErrDuplicateID          = errors.New("subscription: id already exists")
	ErrInvalidStatus        = errors.New("subscription: invalid status")
	ErrInvalidBillingCycle  = errors.New("subscription: invalid billing cycle")
	ErrPlanInactive         = errors.New("subscription: plan is not active")
	ErrTenantRequired       = errors.New("subscription: tenant id required")
)

// Status is a subscription's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// BillingCycle is how often a subscription is billed.
type BillingCycle string

const (
	BillingMonthly  BillingCycle = "monthly"
	BillingAnnually BillingCycle = "annually"
)

// Valid reports whether b is a known billing cycle.
func (b BillingCycle) Valid() bool {
	return b == BillingMonthly || b == BillingAnnually
}

// Subscription links a tenant to a plan.
type Subscription struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenantId"`
	PlanID       string       `json:"planId"`
	Status       Status       `json:"status"`
	BillingCycle BillingCycle `json:"billingCycle"`
	StartsAt     time.Time    `json:"startsAt"`
	EndsAt       *time.Time   `json:"endsAt,omitempty"`
	ExternalID   string       `json:"externalId,omitempty"` // billing provider subscription id
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// IsActive reports whether the subscription is in the active state.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// Due reports whether an active subscription has reached its end date.
func (s *Subscription) Due(now time.Time) bool {
	return s.IsActive() && s.EndsAt != nil && !s.EndsAt.After(now)
}

// Store persists subscriptions.
type Store interface {
	// Create inserts a subscription. ErrActiveExists if it is active and the
	// tenant already has an active one.
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	// GetActive returns ErrNoActiveSubscription when the tenant has none.
	GetActive(ctx context.Context, tenantID string) (*Subscription, error)
	// GetByExternalID returns the newest subscription carrying externalID.
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// ListByTenant returns the tenant's subscriptions, newest first.
	ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error)
	// UpdateStatus moves a subscription to status. Activating fails with
	// ErrActiveExists when another active subscription exists. Leaving the
	// active state stamps EndsAt with at if it is unset or later.
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (*Subscription, error)
	// ReplaceActive moves the tenant's current active subscription (if any)
	// to inactive and inserts s as active, atomically. Returns the previous
	// active subscription or nil.
	ReplaceActive(ctx context.Context, s *Subscription) (*Subscription, error)
	// ListDue returns active subscriptions whose EndsAt is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*Subscription, error)
}
