package querycache

import "context"

// View names. Tenant-scoped views take the tenant ID as their first key
// argument so they can be invalidated per tenant.
const (
	ViewTenantModules       = "tenant-modules"
	ViewModuleAccessStats   = "module-access-stats"
	ViewUnifiedModuleAccess = "unified-module-access"
	ViewPlanSummary         = "plan-permission-summary"
	ViewTenantSubscription  = "tenant-subscription"
)

// AccessViews are the views that depend on a tenant's module access. Any
// write that can change access must invalidate all of them.
var AccessViews = []string{
	ViewTenantModules,
	ViewModuleAccessStats,
	ViewUnifiedModuleAccess,
}

// Invalidator drops cached views. An empty tenantID means every tenant.
type Invalidator interface {
	InvalidateViews(ctx context.Context, tenantID string, views ...string)
}

// Fanout forwards invalidations to several invalidators in order.
type Fanout []Invalidator

// InvalidateViews implements Invalidator.
func (f Fanout) InvalidateViews(ctx context.Context, tenantID string, views ...string) {
	for _, inv := range f {
		if inv != nil {
			inv.InvalidateViews(ctx, tenantID, views...)
		}
	}
}

var _ Invalidator = Fanout(nil)
