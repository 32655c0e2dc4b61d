//go:build integration

package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/testutil"
)

func TestPostgresAssignmentStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, catalog.NewPostgresStore(db).CreateModule(ctx, &catalog.Module{
		ID: "mod_crm", Name: "crm", IsActive: true, CreatedAt: now,
	}))
	s := NewPostgresStore(db)

	expired := now.Add(-time.Minute)
	older := &Assignment{ID: "asg_1", TenantID: "ten_a", ModuleID: "mod_crm", IsEnabled: true,
		AssignedBy: "ops", Limits: catalog.Limits{"seats": 2}, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)}
	newer := &Assignment{ID: "asg_2", TenantID: "ten_a", ModuleID: "mod_crm", IsEnabled: true,
		AssignedBy: "ops", Limits: catalog.Limits{"seats": 9}, CreatedAt: now, UpdatedAt: now}
	stale := &Assignment{ID: "asg_3", TenantID: "ten_a", ModuleID: "mod_crm", IsEnabled: true,
		AssignedBy: "ops", ExpiresAt: &expired, CreatedAt: now.Add(time.Second), UpdatedAt: now.Add(time.Second)}
	for _, a := range []*Assignment{older, newer, stale} {
		require.NoError(t, s.Create(ctx, a))
	}

	assert.ErrorIs(t, s.Create(ctx, &Assignment{ID: "asg_4", TenantID: "ten_a", ModuleID: "mod_ghost",
		AssignedBy: "ops", CreatedAt: now, UpdatedAt: now}), catalog.ErrModuleNotFound)

	got, err := s.FindActive(ctx, "ten_a", "mod_crm", now)
	require.NoError(t, err)
	assert.Equal(t, "asg_2", got.ID)
	assert.Equal(t, int64(9), got.Limits["seats"])

	disabled, err := s.SetEnabled(ctx, "asg_2", false, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, disabled.IsEnabled)

	got, err = s.FindActive(ctx, "ten_a", "mod_crm", now)
	require.NoError(t, err)
	assert.Equal(t, "asg_1", got.ID)

	_, err = s.FindActive(ctx, "ten_b", "mod_crm", now)
	assert.ErrorIs(t, err, ErrNoActiveOverride)

	_, err = s.SetEnabled(ctx, "asg_ghost", true, now)
	assert.ErrorIs(t, err, ErrAssignmentNotFound)

	list, err := s.ListByTenant(ctx, "ten_a")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "asg_3", list[0].ID)
}
