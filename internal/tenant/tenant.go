// Package tenant is the registry of organisations using talentdesk. Plans
// and module access live in the catalog and subscription packages; a tenant
// here carries identity, lifecycle status and per-tenant API settings.
package tenant

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound   = errors.New("tenant: not found")
	ErrSlugTaken        = errors.New("tenant: slug already taken")
	ErrCustomerTaken    = errors.New("tenant: stripe customer already bound to another tenant")
	ErrInvalidStatus    = errors.New("tenant: invalid status")
	ErrCustomerNotFound = errors.New("tenant: no tenant for stripe customer")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// DefaultRateLimitRPM applies when a tenant has no explicit limit.
const DefaultRateLimitRPM = 600

// Settings stores configurable tenant limits.
type Settings struct {
	RateLimitRPM   int      `json:"rateLimitRpm"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// DefaultSettings returns the settings given to new tenants.
func DefaultSettings() Settings {
	return Settings{RateLimitRPM: DefaultRateLimitRPM}
}

// Tenant represents an organisation using the platform.
type Tenant struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	StripeCustomerID string    `json:"stripeCustomerId,omitempty"`
	Status           Status    `json:"status"`
	Settings         Settings  `json:"settings"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Directory answers tenant lookups for other packages.
type Directory struct {
	store Store
}

// NewDirectory wraps a tenant store.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// TenantForCustomer maps a Stripe customer ID onto the tenant it belongs to.
func (d *Directory) TenantForCustomer(ctx context.Context, customerID string) (string, error) {
	t, err := d.store.GetByStripeCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// RateLimitRPM returns the tenant's request budget per minute, or 0 when the
// tenant is unknown or not active.
func (d *Directory) RateLimitRPM(ctx context.Context, tenantID string) int {
	t, err := d.store.Get(ctx, tenantID)
	if err != nil || t.Status != StatusActive {
		return 0
	}
	if t.Settings.RateLimitRPM <= 0 {
		return DefaultRateLimitRPM
	}
	return t.Settings.RateLimitRPM
}

// AllowedOrigins returns the browser origins the tenant registered, or nil
// when the tenant is unknown or not active.
func (d *Directory) AllowedOrigins(ctx context.Context, tenantID string) []string {
	t, err := d.store.Get(ctx, tenantID)
	if err != nil || t.Status != StatusActive {
		return nil
	}
	return t.Settings.AllowedOrigins
}
