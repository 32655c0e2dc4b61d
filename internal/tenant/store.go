package tenant

import (
	"context"

	"github.com/mbd888/talentdesk/internal/pagination"
)

// Store persists tenant data.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	// List returns up to limit tenants after the cursor, ordered by
	// (created_at, id). A nil cursor starts from the oldest tenant.
	List(ctx context.Context, after *pagination.Cursor, limit int) ([]*Tenant, error)
}
