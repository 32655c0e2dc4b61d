package subscription

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory subscription store for demo/development.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription
	order []string // IDs in insertion order
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(s)
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySub(s), nil
}

func (m *MemoryStore) GetActive(_ context.Context, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.activeLocked(tenantID); s != nil {
		return copySub(s), nil
	}
	return nil, ErrNoActiveSubscription
}

func (m *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if externalID == "" {
		return nil, ErrNotFound
	}
	for i := len(m.order) - 1; i >= 0; i-- {
		if s := m.subs[m.order[i]]; s.ExternalID == externalID {
			return copySub(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for i := len(m.order) - 1; i >= 0; i-- {
		if s := m.subs[m.order[i]]; s.TenantID == tenantID {
			out = append(out, copySub(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, at time.Time) (*Subscription, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if status == StatusActive && !s.IsActive() {
		if m.activeLocked(s.TenantID) != nil {
			return nil, ErrActiveExists
		}
	}
	applyStatus(s, status, at)
	return copySub(s), nil
}

func (m *MemoryStore) ReplaceActive(_ context.Context, s *Subscription) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.subs[s.ID]; dup {
		return nil, ErrDuplicateID
	}
	s.Status = StatusActive
	var prevCopy *Subscription
	if prev := m.activeLocked(s.TenantID); prev != nil {
		applyStatus(prev, StatusInactive, s.CreatedAt)
		prevCopy = copySub(prev)
	}
	m.subs[s.ID] = copySub(s)
	m.order = append(m.order, s.ID)
	return prevCopy, nil
}

func (m *MemoryStore) ListDue(_ context.Context, now time.Time) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subs {
		if s.Due(now) {
			out = append(out, copySub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.Before(*out[j].EndsAt) })
	return out, nil
}

func (m *MemoryStore) insertLocked(s *Subscription) error {
	if s.IsActive() && m.activeLocked(s.TenantID) != nil {
		return ErrActiveExists
	}
	if _, dup := m.subs[s.ID]; dup {
		return ErrDuplicateID
	}
	m.subs[s.ID] = copySub(s)
	m.order = append(m.order, s.ID)
	return nil
}

func (m *MemoryStore) activeLocked(tenantID string) *Subscription {
	for _, s := range m.subs {
		if s.TenantID == tenantID && s.IsActive() {
			return s
		}
	}
	return nil
}

// applyStatus mutates s in place the same way the Postgres UPDATE does.
func applyStatus(s *Subscription, status Status, at time.Time) {
	if s.IsActive() && status != StatusActive && (s.EndsAt == nil || s.EndsAt.After(at)) {
		t := at
		s.EndsAt = &t
	}
	s.Status = status
	s.UpdatedAt = at
}

func copySub(s *Subscription) *Subscription {
	cp := *s
	if s.EndsAt != nil {
		t := *s.EndsAt
		cp.EndsAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
