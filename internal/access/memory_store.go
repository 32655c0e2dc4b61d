package access

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errDuplicateAssignment = errors.New("access: assignment id already exists")

// MemoryStore is an in-memory assignment store for demo/development.
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]*Assignment
	order       []string // insertion order
}

// NewMemoryStore creates a new in-memory assignment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[string]*Assignment)}
}

func (m *MemoryStore) Create(_ context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.assignments[a.ID]; exists {
		return errDuplicateAssignment
	}
	m.assignments[a.ID] = copyAssignment(a)
	m.order = append(m.order, a.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	return copyAssignment(a), nil
}

func (m *MemoryStore) SetEnabled(_ context.Context, id string, enabled bool, at time.Time) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	a.IsEnabled = enabled
	a.UpdatedAt = at
	return copyAssignment(a), nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Assignment
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.assignments[m.order[i]]
		if a.TenantID == tenantID {
			out = append(out, copyAssignment(a))
		}
	}
	return out, nil
}

func (m *MemoryStore) FindActive(_ context.Context, tenantID, moduleID string, now time.Time) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.assignments[m.order[i]]
		if a.TenantID == tenantID && a.ModuleID == moduleID && a.Active(now) {
			return copyAssignment(a), nil
		}
	}
	return nil, ErrNoActiveOverride
}

func copyAssignment(a *Assignment) *Assignment {
	cp := *a
	if a.Limits != nil {
		cp.Limits = a.Limits.Clone()
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

var _ AssignmentStore = (*MemoryStore)(nil)
