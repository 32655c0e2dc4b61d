package catalog

import "context"

// Store persists the module catalog, plans and plan permissions.
type Store interface {
	CreateModule(ctx context.Context, m *Module) error
	GetModule(ctx context.Context, name string) (*Module, error)
	GetModuleByID(ctx context.Context, id string) (*Module, error)
	// ListModules returns modules in catalog order (sort order, then creation).
	ListModules(ctx context.Context, activeOnly bool) ([]*Module, error)

	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)

	// UpsertPermission inserts or replaces the (PlanID, ModuleName) row.
	UpsertPermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, planID, moduleName string) (*Permission, error)
	ListPermissions(ctx context.Context, planID string) ([]*Permission, error)
}
