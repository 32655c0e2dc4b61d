package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/idgen"
	"github.com/mbd888/talentdesk/internal/metrics"
	"github.com/mbd888/talentdesk/internal/querycache"
	"github.com/mbd888/talentdesk/internal/traces"
)

// ModuleLookup validates module IDs on enable.
type ModuleLookup interface {
	GetModuleByID(ctx context.Context, id string) (*catalog.Module, error)
}

// OverrideService writes tenant module overrides. Successful writes
// invalidate the tenant's access views; failed writes invalidate nothing.
type OverrideService struct {
	store   AssignmentStore
	modules ModuleLookup
	inv     querycache.Invalidator
	logger  *slog.Logger
	now     func() time.Time
}

// NewOverrideService creates an override service. modules may be nil to skip
// module validation.
func NewOverrideService(store AssignmentStore, modules ModuleLookup, logger *slog.Logger) *OverrideService {
	return &OverrideService{
		store:   store,
		modules: modules,
		logger:  logger,
		now:     time.Now,
	}
}

// WithInvalidator sets where view invalidations are sent.
func (s *OverrideService) WithInvalidator(inv querycache.Invalidator) *OverrideService {
	s.inv = inv
	return s
}

// Enable grants moduleID to tenantID until expiresAt (nil = no expiry).
// actorID is recorded as assigned_by and must be non-empty.
func (s *OverrideService) Enable(ctx context.Context, actorID, tenantID, moduleID string, expiresAt *time.Time) (*Assignment, error) {
	return s.EnableWithLimits(ctx, actorID, tenantID, moduleID, expiresAt, nil)
}

// EnableWithLimits is Enable with tenant-specific limits layered over the
// module defaults and the plan limits.
func (s *OverrideService) EnableWithLimits(ctx context.Context, actorID, tenantID, moduleID string, expiresAt *time.Time, limits catalog.Limits) (*Assignment, error) {
	ctx, span := traces.StartSpan(ctx, "access.EnableOverride", traces.TenantID(tenantID), traces.ModuleID(moduleID))
	defer span.End()

	if actorID == "" {
		return nil, s.reject(span, "enable", "auth_required", ErrAuthRequired)
	}
	if tenantID == "" {
		return nil, s.reject(span, "enable", "invalid", ErrTenantRequired)
	}
	if moduleID == "" {
		return nil, s.reject(span, "enable", "invalid", ErrModuleRequired)
	}

	now := s.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, s.reject(span, "enable", "invalid", ErrAlreadyExpired)
	}
	if s.modules != nil {
		if _, err := s.modules.GetModuleByID(ctx, moduleID); err != nil {
			return nil, s.reject(span, "enable", "error", err)
		}
	}

	a := &Assignment{
		ID:         idgen.WithPrefix("tma_"),
		TenantID:   tenantID,
		ModuleID:   moduleID,
		IsEnabled:  true,
		AssignedBy: actorID,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if limits != nil {
		a.Limits = limits.Clone()
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, s.reject(span, "enable", "error", fmt.Errorf("access: enable override: %w", err))
	}

	s.invalidate(ctx, tenantID)
	metrics.OverrideMutationsTotal.WithLabelValues("enable", "ok").Inc()
	span.SetAttributes(traces.AssignmentID(a.ID))
	s.logger.Info("module override enabled",
		"assignment_id", a.ID, "tenant_id", tenantID, "module_id", moduleID, "actor", actorID)
	return a, nil
}

// Disable turns an override off. The row is kept for history.
func (s *OverrideService) Disable(ctx context.Context, assignmentID string) (*Assignment, error) {
	ctx, span := traces.StartSpan(ctx, "access.DisableOverride", traces.AssignmentID(assignmentID))
	defer span.End()

	a, err := s.store.SetEnabled(ctx, assignmentID, false, s.now().UTC())
	if err != nil {
		return nil, s.reject(span, "disable", "error", fmt.Errorf("access: disable override: %w", err))
	}

	s.invalidate(ctx, a.TenantID)
	metrics.OverrideMutationsTotal.WithLabelValues("disable", "ok").Inc()
	span.SetAttributes(traces.TenantID(a.TenantID))
	s.logger.Info("module override disabled",
		"assignment_id", a.ID, "tenant_id", a.TenantID, "module_id", a.ModuleID)
	return a, nil
}

// List returns the tenant's overrides, newest first.
func (s *OverrideService) List(ctx context.Context, tenantID string) ([]*Assignment, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

func (s *OverrideService) invalidate(ctx context.Context, tenantID string) {
	if s.inv != nil {
		s.inv.InvalidateViews(ctx, tenantID, querycache.AccessViews...)
	}
}

func (s *OverrideService) reject(span trace.Span, op, result string, err error) error {
	metrics.OverrideMutationsTotal.WithLabelValues(op, result).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
