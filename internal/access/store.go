package access

import (
	"context"
	"time"
)

// AssignmentStore persists tenant module overrides.
type AssignmentStore interface {
	Create(ctx context.Context, a *Assignment) error
	Get(ctx context.Context, id string) (*Assignment, error)
	// SetEnabled flips is_enabled and returns the updated row.
	SetEnabled(ctx context.Context, id string, enabled bool, at time.Time) (*Assignment, error)
	// ListByTenant returns the tenant's assignments, newest first.
	ListByTenant(ctx context.Context, tenantID string) ([]*Assignment, error)
	// FindActive returns the newest enabled, unexpired assignment for the
	// tenant and module, or ErrNoActiveOverride.
	FindActive(ctx context.Context, tenantID, moduleID string, now time.Time) (*Assignment, error)
}
