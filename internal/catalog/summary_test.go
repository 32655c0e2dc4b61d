package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCatalog(t *testing.T, names ...string) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	for _, n := range names {
		require.NoError(t, s.CreateModule(ctx, newModule(n, 0)))
	}
	require.NoError(t, s.CreatePlan(ctx, &Plan{ID: "P", Name: "Plan P", IsActive: true}))
	return s
}

func TestSummarize_Scenario(t *testing.T) {
	ctx := context.Background()
	s := seedCatalog(t, "crm", "reports", "billing")
	require.NoError(t, s.UpsertPermission(ctx, &Permission{ID: "1", PlanID: "P", ModuleName: "crm", IsEnabled: true, Limits: Limits{"seats": 5}}))
	require.NoError(t, s.UpsertPermission(ctx, &Permission{ID: "2", PlanID: "P", ModuleName: "reports", IsEnabled: false}))

	sum, err := NewSummarizer(s).Summarize(ctx, "P")
	require.NoError(t, err)

	assert.Equal(t, "P", sum.PlanID)
	assert.Equal(t, 3, sum.TotalModules)
	assert.Equal(t, 1, sum.EnabledModules)
	assert.Equal(t, 33, sum.EnabledPercentage)
	assert.Equal(t, []string{"5 seats"}, sum.KeyLimitations)
	assert.Equal(t, []ModuleDetail{
		{Name: "crm", Label: "Crm", IsEnabled: true, Limits: Limits{"seats": 5}},
		{Name: "reports", Label: "Reports", IsEnabled: false, Limits: Limits{}},
		{Name: "billing", Label: "Billing", IsEnabled: false, Limits: Limits{}},
	}, sum.ModuleDetails)
}

func TestSummarize_NoPermissions(t *testing.T) {
	s := seedCatalog(t, "crm", "reports")
	sum, err := NewSummarizer(s).Summarize(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalModules)
	assert.Equal(t, 0, sum.EnabledModules)
	assert.Equal(t, 0, sum.EnabledPercentage)
	assert.Empty(t, sum.KeyLimitations)
	assert.NotNil(t, sum.KeyLimitations)
}

func TestSummarize_EmptyCatalog(t *testing.T) {
	s := seedCatalog(t)
	sum, err := NewSummarizer(s).Summarize(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 0, sum.TotalModules)
	assert.Equal(t, 0, sum.EnabledPercentage)
	assert.Empty(t, sum.ModuleDetails)
}

func TestSummarize_InactiveModulesExcluded(t *testing.T) {
	ctx := context.Background()
	s := seedCatalog(t, "crm")
	old := newModule("legacy", 0)
	old.IsActive = false
	require.NoError(t, s.CreateModule(ctx, old))
	require.NoError(t, s.UpsertPermission(ctx, &Permission{ID: "1", PlanID: "P", ModuleName: "legacy", IsEnabled: true}))

	sum, err := NewSummarizer(s).Summarize(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalModules)
	assert.Equal(t, 0, sum.EnabledModules)
}

func TestBuildSummary_KeyLimitationsCapped(t *testing.T) {
	modules := []*Module{newModule("crm", 0), newModule("reports", 0)}
	perms := []*Permission{
		{PlanID: "P", ModuleName: "crm", IsEnabled: true, Limits: Limits{"seats": 5, "contacts": 1000}},
		{PlanID: "P", ModuleName: "reports", IsEnabled: true, Limits: Limits{"monthly_reports": 10, "exports": 2}},
	}
	sum := BuildSummary("P", modules, perms)
	assert.Equal(t, []string{"1000 contacts", "5 seats", "2 exports"}, sum.KeyLimitations)
	assert.Equal(t, 100, sum.EnabledPercentage)
}

func TestBuildSummary_UnlimitedLimit(t *testing.T) {
	modules := []*Module{newModule("crm", 0)}
	perms := []*Permission{
		{PlanID: "P", ModuleName: "crm", IsEnabled: true, Limits: Limits{"seats": Unlimited, "contacts": 500}},
	}
	sum := BuildSummary("P", modules, perms)
	assert.Equal(t, []string{"500 contacts", "unlimited seats"}, sum.KeyLimitations)
	assert.Equal(t, Unlimited, sum.ModuleDetails[0].Limits["seats"], "details keep the stored value")
}

func TestBuildSummary_Properties(t *testing.T) {
	for n := 0; n <= 7; n++ {
		for enabled := 0; enabled <= n; enabled++ {
			modules := make([]*Module, n)
			var perms []*Permission
			for i := range modules {
				name := fmt.Sprintf("m%d", i)
				modules[i] = newModule(name, 0)
				if i < enabled {
					perms = append(perms, &Permission{ModuleName: name, IsEnabled: true, Limits: Limits{"seats": int64(i)}})
				}
			}
			sum := BuildSummary("P", modules, perms)

			assert.Equal(t, n, sum.TotalModules)
			assert.Equal(t, enabled, sum.EnabledModules)
			assert.LessOrEqual(t, sum.EnabledModules, sum.TotalModules)
			assert.GreaterOrEqual(t, sum.EnabledPercentage, 0)
			assert.LessOrEqual(t, sum.EnabledPercentage, 100)
			assert.LessOrEqual(t, len(sum.KeyLimitations), MaxKeyLimitations)
			assert.Len(t, sum.ModuleDetails, n)
		}
	}
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) ListPermissions(context.Context, string) ([]*Permission, error) {
	return nil, f.err
}

func TestSummarize_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	s := failingStore{MemoryStore: seedCatalog(t, "crm"), err: boom}
	sum, err := NewSummarizer(s).Summarize(context.Background(), "P")
	assert.Nil(t, sum)
	assert.ErrorIs(t, err, boom)
}
