package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/talentdesk/internal/pagination"
)

func newTenant(id, slug string, created time.Time) *Tenant {
	return &Tenant{
		ID:        id,
		Name:      "Tenant " + id,
		Slug:      slug,
		Status:    StatusActive,
		Settings:  DefaultSettings(),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tn := newTenant("ten_1", "acme", now)
	tn.StripeCustomerID = "cus_acme"
	tn.Settings.AllowedOrigins = []string{"https://acme.example"}
	require.NoError(t, store.Create(ctx, tn))

	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "Tenant ten_1", got.Name)

	// Returned values are copies.
	got.Settings.AllowedOrigins[0] = "https://evil.example"
	again, _ := store.Get(ctx, "ten_1")
	assert.Equal(t, "https://acme.example", again.Settings.AllowedOrigins[0])

	got, err = store.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "ten_1", got.ID)

	got, err = store.GetByStripeCustomer(ctx, "cus_acme")
	require.NoError(t, err)
	assert.Equal(t, "ten_1", got.ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	_, err = store.GetBySlug(ctx, "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	_, err = store.GetByStripeCustomer(ctx, "cus_missing")
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	assert.ErrorIs(t, store.Create(ctx, newTenant("ten_2", "acme", now)), ErrSlugTaken)
	dup := newTenant("ten_3", "other", now)
	dup.StripeCustomerID = "cus_acme"
	assert.ErrorIs(t, store.Create(ctx, dup), ErrCustomerTaken)

	assert.ErrorIs(t, store.Update(ctx, newTenant("missing", "x", now)), ErrTenantNotFound)
}

func TestMemoryStore_UpdateRebindsCustomer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := newTenant("ten_a", "alpha", now)
	a.StripeCustomerID = "cus_a"
	require.NoError(t, store.Create(ctx, a))
	b := newTenant("ten_b", "beta", now)
	require.NoError(t, store.Create(ctx, b))

	b.StripeCustomerID = "cus_a"
	assert.ErrorIs(t, store.Update(ctx, b), ErrCustomerTaken)

	a.StripeCustomerID = "cus_a2"
	a.Slug = "renamed"
	require.NoError(t, store.Update(ctx, a))
	_, err := store.GetByStripeCustomer(ctx, "cus_a")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
	got, err := store.GetByStripeCustomer(ctx, "cus_a2")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Slug, "slug is immutable")
}

func TestMemoryStore_ListPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newTenant("ten_c", "gamma", t0.Add(time.Minute))))
	require.NoError(t, store.Create(ctx, newTenant("ten_b", "beta", t0)))
	require.NoError(t, store.Create(ctx, newTenant("ten_a", "alpha", t0)))

	all, err := store.List(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"ten_a", "ten_b", "ten_c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	page, err := store.List(ctx, &pagination.Cursor{CreatedAt: t0, ID: "ten_a"}, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "ten_b", page[0].ID)
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusActive.Valid())
	assert.True(t, StatusSuspended.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, Status("deleted").Valid())
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dir := NewDirectory(store)

	a := newTenant("ten_a", "alpha", now)
	a.StripeCustomerID = "cus_a"
	a.Settings.RateLimitRPM = 120
	a.Settings.AllowedOrigins = []string{"https://alpha.example"}
	require.NoError(t, store.Create(ctx, a))

	b := newTenant("ten_b", "beta", now)
	b.Settings.RateLimitRPM = 0
	require.NoError(t, store.Create(ctx, b))

	s := newTenant("ten_s", "suspended", now)
	s.Status = StatusSuspended
	require.NoError(t, store.Create(ctx, s))

	id, err := dir.TenantForCustomer(ctx, "cus_a")
	require.NoError(t, err)
	assert.Equal(t, "ten_a", id)
	_, err = dir.TenantForCustomer(ctx, "cus_x")
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	assert.Equal(t, 120, dir.RateLimitRPM(ctx, "ten_a"))
	assert.Equal(t, DefaultRateLimitRPM, dir.RateLimitRPM(ctx, "ten_b"))
	assert.Zero(t, dir.RateLimitRPM(ctx, "ten_s"))
	assert.Zero(t, dir.RateLimitRPM(ctx, "missing"))

	assert.Equal(t, []string{"https://alpha.example"}, dir.AllowedOrigins(ctx, "ten_a"))
	assert.Empty(t, dir.AllowedOrigins(ctx, "ten_b"))
	assert.Nil(t, dir.AllowedOrigins(ctx, "ten_s"))
}
