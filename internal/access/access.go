// Package access decides whether a tenant may use a catalog module.
//
// A decision walks a fixed ladder: no tenant, no active subscription, plan
// missing, then the per-module answer. The per-module answer comes from an
// active tenant override when one exists, and otherwise from the plan's
// permission row. Lookups that find nothing produce a negative decision;
// lookups that fail produce a BackendError so callers can tell "denied"
// apart from "could not decide".
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/subscription"
)

// Errors
var (
	ErrAuthRequired       = errors.New("access: authenticated actor required")
	ErrTenantRequired     = errors.New("access: tenant id required")
	ErrModuleRequired     = errors.New("access: module id required")
	ErrAssignmentNotFound = errors.New("access: assignment not found")
	ErrNoActiveOverride   = errors.New("access: no active override")
	ErrAlreadyExpired     = errors.New("access: expiry is in the past")
)

// Reason explains an access decision.
type Reason string

const (
	ReasonNoTenant             Reason = "no_tenant"
	ReasonNoSubscription       Reason = "no_subscription"
	ReasonPlanMissing          Reason = "plan_missing"
	ReasonModuleNotProvisioned Reason = "module_not_provisioned"
	ReasonDisabledByPlan       Reason = "disabled_by_plan"
	ReasonGrantedByPlan        Reason = "granted_by_plan"
	ReasonOverrideEnabled      Reason = "override_enabled"
)

// Granted reports whether the reason grants access.
func (r Reason) Granted() bool {
	return r == ReasonGrantedByPlan || r == ReasonOverrideEnabled
}

// Subscription types reported on a decision.
const (
	SubscriptionTypeTenant   = "tenant"
	SubscriptionTypeOverride = "override"
)

// ModuleAccess is the module as granted to the tenant.
// Limits is the stored permission limits, unmerged.
type ModuleAccess struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Label     string         `json:"label"`
	IsEnabled bool           `json:"isEnabled"`
	Limits    catalog.Limits `json:"limits"`
}

// Access is one access decision.
type Access struct {
	TenantID         string                     `json:"tenantId,omitempty"`
	ModuleName       string                     `json:"moduleName"`
	HasAccess        bool                       `json:"hasAccess"`
	Module           *ModuleAccess              `json:"module"`
	Plan             *catalog.Plan              `json:"plan"`
	Subscription     *subscription.Subscription `json:"subscription"`
	SubscriptionType string                     `json:"subscriptionType,omitempty"`
	Reason           Reason                     `json:"reason"`
	Override         *Assignment                `json:"override,omitempty"`
	// EffectiveLimits layers module defaults, plan limits and override
	// limits. Only set when access is granted.
	EffectiveLimits catalog.Limits `json:"effectiveLimits,omitempty"`
}

// BackendError reports a lookup that failed, as opposed to one that found
// nothing.
type BackendError struct {
	Stage   string // subscription, plan, permission, module, override, catalog
	Timeout bool
	Err     error
}

func (e *BackendError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("access: %s lookup timed out: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("access: %s lookup failed: %v", e.Stage, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func backendError(stage string, err error) *BackendError {
	return &BackendError{
		Stage:   stage,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// Assignment is a per-tenant module override written by an operator.
// Disabling keeps the row.
type Assignment struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	ModuleID   string         `json:"moduleId"`
	IsEnabled  bool           `json:"isEnabled"`
	AssignedBy string         `json:"assignedBy"`
	Limits     catalog.Limits `json:"limits,omitempty"`
	ExpiresAt  *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Active reports whether the assignment is enabled and not expired at now.
func (a *Assignment) Active(now time.Time) bool {
	return a.IsEnabled && (a.ExpiresAt == nil || now.Before(*a.ExpiresAt))
}
