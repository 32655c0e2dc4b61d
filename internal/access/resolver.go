package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/logging"
	"github.com/mbd888/talentdesk/internal/metrics"
	"github.com/mbd888/talentdesk/internal/subscription"
	"github.com/mbd888/talentdesk/internal/traces"
)

// DefaultTimeout bounds a single access check.
const DefaultTimeout = 15 * time.Second

// SubscriptionSource yields a tenant's active subscription.
type SubscriptionSource interface {
	GetActive(ctx context.Context, tenantID string) (*subscription.Subscription, error)
}

// CatalogSource is the part of the catalog the resolver reads.
type CatalogSource interface {
	GetPlan(ctx context.Context, id string) (*catalog.Plan, error)
	GetModule(ctx context.Context, name string) (*catalog.Module, error)
	GetPermission(ctx context.Context, planID, moduleName string) (*catalog.Permission, error)
	ListModules(ctx context.Context, activeOnly bool) ([]*catalog.Module, error)
}

// Resolver answers module access checks.
type Resolver struct {
	subs      SubscriptionSource
	catalog   CatalogSource
	overrides AssignmentStore // nil: overrides are not consulted
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewResolver creates a resolver that decides from plans only. Use
// WithOverrides to let tenant overrides take precedence.
func NewResolver(subs SubscriptionSource, cat CatalogSource, logger *slog.Logger) *Resolver {
	return &Resolver{
		subs:    subs,
		catalog: cat,
		timeout: DefaultTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// WithOverrides makes active assignments in store win over the plan.
func (r *Resolver) WithOverrides(store AssignmentStore) *Resolver {
	r.overrides = store
	return r
}

// WithTimeout sets the per-check deadline. Zero disables it.
func (r *Resolver) WithTimeout(d time.Duration) *Resolver {
	r.timeout = d
	return r
}

// tenantState is what the ladder learned before reaching the module step.
// A non-empty reason means the ladder stopped there.
type tenantState struct {
	tenantID string
	sub      *subscription.Subscription
	plan     *catalog.Plan
	reason   Reason
}

// Check decides whether tenantID may use moduleName. Missing rows give a
// negative decision; failed lookups give a *BackendError and a nil Access.
func (r *Resolver) Check(ctx context.Context, tenantID, moduleName string) (*Access, error) {
	start := time.Now()
	ctx, cancel := r.bound(ctx)
	defer cancel()
	ctx, span := traces.StartSpan(ctx, "access.Check", traces.TenantID(tenantID), traces.ModuleName(moduleName))
	defer span.End()
	defer func() { metrics.AccessCheckDuration.Observe(time.Since(start).Seconds()) }()

	st, err := r.loadTenant(ctx, tenantID)
	if err != nil {
		return nil, r.fail(ctx, span, err)
	}
	var mod *catalog.Module
	if st.reason == "" {
		if mod, err = r.module(ctx, moduleName); err != nil {
			return nil, r.fail(ctx, span, err)
		}
	}
	acc, err := r.decide(ctx, st, moduleName, mod)
	if err != nil {
		return nil, r.fail(ctx, span, err)
	}
	r.record(ctx, span, acc)
	return acc, nil
}

// CheckAll decides access to every active catalog module for the tenant,
// in catalog order. The subscription and plan are read once.
func (r *Resolver) CheckAll(ctx context.Context, tenantID string) ([]*Access, error) {
	start := time.Now()
	ctx, cancel := r.bound(ctx)
	defer cancel()
	ctx, span := traces.StartSpan(ctx, "access.CheckAll", traces.TenantID(tenantID))
	defer span.End()
	defer func() { metrics.AccessCheckDuration.Observe(time.Since(start).Seconds()) }()

	modules, err := r.catalog.ListModules(ctx, true)
	if err != nil {
		return nil, r.fail(ctx, span, backendError("catalog", err))
	}
	st, err := r.loadTenant(ctx, tenantID)
	if err != nil {
		return nil, r.fail(ctx, span, err)
	}

	out := make([]*Access, 0, len(modules))
	for _, m := range modules {
		acc, err := r.decide(ctx, st, m.Name, m)
		if err != nil {
			return nil, r.fail(ctx, span, err)
		}
		r.record(ctx, nil, acc)
		out = append(out, acc)
	}
	return out, nil
}

func (r *Resolver) loadTenant(ctx context.Context, tenantID string) (*tenantState, error) {
	st := &tenantState{tenantID: tenantID}
	if tenantID == "" {
		st.reason = ReasonNoTenant
		return st, nil
	}

	sub, err := r.subs.GetActive(ctx, tenantID)
	switch {
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		st.reason = ReasonNoSubscription
		return st, nil
	case err != nil:
		return nil, backendError("subscription", err)
	}
	st.sub = sub

	plan, err := r.catalog.GetPlan(ctx, sub.PlanID)
	switch {
	case errors.Is(err, catalog.ErrPlanNotFound):
		st.reason = ReasonPlanMissing
		return st, nil
	case err != nil:
		return nil, backendError("plan", err)
	}
	st.plan = plan
	return st, nil
}

// module looks up catalog metadata. An unknown module is nil, not an error.
func (r *Resolver) module(ctx context.Context, name string) (*catalog.Module, error) {
	mod, err := r.catalog.GetModule(ctx, name)
	if errors.Is(err, catalog.ErrModuleNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, backendError("module", err)
	}
	return mod, nil
}

// decide runs the module step of the ladder. mod may be nil.
func (r *Resolver) decide(ctx context.Context, st *tenantState, moduleName string, mod *catalog.Module) (*Access, error) {
	acc := &Access{
		TenantID:     st.tenantID,
		ModuleName:   moduleName,
		Subscription: st.sub,
		Plan:         st.plan,
	}
	if st.reason != "" {
		acc.Reason = st.reason
		return acc, nil
	}

	perm, err := r.catalog.GetPermission(ctx, st.plan.ID, moduleName)
	switch {
	case errors.Is(err, catalog.ErrPermissionNotFound):
		perm = nil
	case err != nil:
		return nil, backendError("permission", err)
	}

	var defaults catalog.Limits
	if mod != nil {
		defaults = mod.DefaultLimits
	}

	if r.overrides != nil && mod != nil {
		ov, err := r.overrides.FindActive(ctx, st.tenantID, mod.ID, r.now())
		switch {
		case err == nil:
			acc.HasAccess = true
			acc.Reason = ReasonOverrideEnabled
			acc.SubscriptionType = SubscriptionTypeOverride
			acc.Override = ov
			acc.Module = moduleAccess(moduleName, mod, perm)
			acc.Module.IsEnabled = true
			acc.EffectiveLimits = catalog.MergeLimits(defaults, permissionLimits(perm), ov.Limits)
			return acc, nil
		case !errors.Is(err, ErrNoActiveOverride):
			return nil, backendError("override", err)
		}
	}

	if perm == nil {
		acc.Reason = ReasonModuleNotProvisioned
		return acc, nil
	}

	acc.Module = moduleAccess(moduleName, mod, perm)
	acc.SubscriptionType = SubscriptionTypeTenant
	acc.Reason = ReasonDisabledByPlan
	if perm.IsEnabled {
		acc.Reason = ReasonGrantedByPlan
		acc.EffectiveLimits = catalog.MergeLimits(defaults, perm.Limits)
	}
	acc.HasAccess = acc.Reason.Granted()
	return acc, nil
}

func moduleAccess(name string, mod *catalog.Module, perm *catalog.Permission) *ModuleAccess {
	ma := &ModuleAccess{Name: name, Label: catalog.Label(name)}
	if mod != nil {
		ma.ID = mod.ID
	}
	if perm != nil {
		ma.IsEnabled = perm.IsEnabled
		ma.Limits = perm.Limits
	}
	return ma
}

func permissionLimits(perm *catalog.Permission) catalog.Limits {
	if perm == nil {
		return nil
	}
	return perm.Limits
}

func (r *Resolver) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Resolver) record(ctx context.Context, span trace.Span, acc *Access) {
	metrics.AccessChecksTotal.WithLabelValues(string(acc.Reason)).Inc()
	if span != nil {
		span.SetAttributes(traces.Reason(string(acc.Reason)))
		if acc.Plan != nil {
			span.SetAttributes(traces.PlanID(acc.Plan.ID))
		}
	}
	logging.L(ctx).Debug("access decided",
		"tenant_id", acc.TenantID, "module", acc.ModuleName,
		"has_access", acc.HasAccess, "reason", acc.Reason)
}

func (r *Resolver) fail(ctx context.Context, span trace.Span, err error) error {
	stage := "unknown"
	var be *BackendError
	if errors.As(err, &be) {
		stage = be.Stage
	}
	metrics.AccessCheckErrorsTotal.WithLabelValues(stage).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Warn("access check failed", "stage", stage, "error", err,
		"request_id", logging.RequestID(ctx))
	return err
}
