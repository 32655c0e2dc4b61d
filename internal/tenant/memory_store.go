package tenant

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/talentdesk/internal/pagination"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu        sync.RWMutex
	tenants   map[string]*Tenant // by ID
	slugs     map[string]string  // slug → ID
	customers map[string]string  // stripe customer → ID
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]*Tenant),
		slugs:     make(map[string]string),
		customers: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[t.Slug]; exists {
		return ErrSlugTaken
	}
	if t.StripeCustomerID != "" {
		if _, exists := m.customers[t.StripeCustomerID]; exists {
			return ErrCustomerTaken
		}
		m.customers[t.StripeCustomerID] = t.ID
	}

	m.tenants[t.ID] = copyTenant(t)
	m.slugs[t.Slug] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return copyTenant(t), nil
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return copyTenant(m.tenants[id]), nil
}

func (m *MemoryStore) GetByStripeCustomer(_ context.Context, customerID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.customers[customerID]
	if !ok || customerID == "" {
		return nil, ErrCustomerNotFound
	}
	return copyTenant(m.tenants[id]), nil
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.tenants[t.ID]
	if !ok {
		return ErrTenantNotFound
	}
	if t.StripeCustomerID != old.StripeCustomerID {
		if owner, taken := m.customers[t.StripeCustomerID]; taken && owner != t.ID {
			return ErrCustomerTaken
		}
		delete(m.customers, old.StripeCustomerID)
		if t.StripeCustomerID != "" {
			m.customers[t.StripeCustomerID] = t.ID
		}
	}
	// Slugs are immutable.
	cp := copyTenant(t)
	cp.Slug = old.Slug
	m.tenants[t.ID] = cp
	return nil
}

func (m *MemoryStore) List(_ context.Context, after *pagination.Cursor, limit int) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		if after.Precedes(t.CreatedAt, t.ID) {
			out = append(out, copyTenant(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyTenant(t *Tenant) *Tenant {
	cp := *t
	if t.Settings.AllowedOrigins != nil {
		cp.Settings.AllowedOrigins = append([]string(nil), t.Settings.AllowedOrigins...)
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
