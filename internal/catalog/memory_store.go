package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory catalog store for demo/development.
type MemoryStore struct {
	mu          sync.RWMutex
	modules     map[string]*Module     // by name
	moduleOrder []string               // names in insertion order
	plans       map[string]*Plan       // by ID
	planOrder   []string               // IDs in insertion order
	permissions map[string]*Permission // by planID + "/" + moduleName
	permOrder   []string
}

// NewMemoryStore creates a new in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modules:     make(map[string]*Module),
		plans:       make(map[string]*Plan),
		permissions: make(map[string]*Permission),
	}
}

func (m *MemoryStore) CreateModule(_ context.Context, mod *Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.modules[mod.Name]; exists {
		return ErrModuleExists
	}
	m.modules[mod.Name] = copyModule(mod)
	m.moduleOrder = append(m.moduleOrder, mod.Name)
	return nil
}

func (m *MemoryStore) GetModule(_ context.Context, name string) (*Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mod, ok := m.modules[name]
	if !ok {
		return nil, ErrModuleNotFound
	}
	return copyModule(mod), nil
}

func (m *MemoryStore) GetModuleByID(_ context.Context, id string) (*Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mod := range m.modules {
		if mod.ID == id {
			return copyModule(mod), nil
		}
	}
	return nil, ErrModuleNotFound
}

func (m *MemoryStore) ListModules(_ context.Context, activeOnly bool) ([]*Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Module, 0, len(m.moduleOrder))
	for _, name := range m.moduleOrder {
		mod := m.modules[name]
		if activeOnly && !mod.IsActive {
			continue
		}
		out = append(out, copyModule(mod))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (m *MemoryStore) CreatePlan(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plans[p.ID]; exists {
		return ErrPlanExists
	}
	cp := *p
	m.plans[p.ID] = &cp
	m.planOrder = append(m.planOrder, p.ID)
	return nil
}

func (m *MemoryStore) GetPlan(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPlans(_ context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Plan, 0, len(m.planOrder))
	for _, id := range m.planOrder {
		cp := *m.plans[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) UpsertPermission(_ context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[p.PlanID]; !ok {
		return ErrPlanNotFound
	}
	if _, ok := m.modules[p.ModuleName]; !ok {
		return ErrModuleNotFound
	}

	key := permKey(p.PlanID, p.ModuleName)
	if existing, ok := m.permissions[key]; ok {
		// Keep the original identity on replace.
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		m.permOrder = append(m.permOrder, key)
	}
	m.permissions[key] = copyPermission(p)
	return nil
}

func (m *MemoryStore) GetPermission(_ context.Context, planID, moduleName string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.permissions[permKey(planID, moduleName)]
	if !ok {
		return nil, ErrPermissionNotFound
	}
	return copyPermission(p), nil
}

func (m *MemoryStore) ListPermissions(_ context.Context, planID string) ([]*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Permission
	for _, key := range m.permOrder {
		p := m.permissions[key]
		if p.PlanID == planID {
			out = append(out, copyPermission(p))
		}
	}
	return out, nil
}

func permKey(planID, moduleName string) string {
	return planID + "/" + moduleName
}

func copyModule(m *Module) *Module {
	cp := *m
	if m.DefaultLimits != nil {
		cp.DefaultLimits = m.DefaultLimits.Clone()
	}
	return &cp
}

func copyPermission(p *Permission) *Permission {
	cp := *p
	if p.Limits != nil {
		cp.Limits = p.Limits.Clone()
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
