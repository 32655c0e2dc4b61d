package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = Identity{UserID: "alice", SessionFingerprint: "s1", TenantID: "t1"}
	bob   = Identity{UserID: "bob", SessionFingerprint: "s2", TenantID: "t1"}
)

func TestMakeKey_IdentityParts(t *testing.T) {
	k := MakeKey(alice, ViewTenantModules, "t1")
	assert.Equal(t, []string{"tenant-modules", "t1", "alice", "s1", "t1"}, k.Parts())

	anon := MakeKey(Identity{}, ViewPlanSummary, "plan_1")
	assert.Equal(t, []string{"plan-permission-summary", "plan_1", AnonymousUser, NoSession, NoTenant}, anon.Parts())
}

func TestMakeKey_DifferentIdentitiesNeverCollide(t *testing.T) {
	ids := []Identity{
		alice,
		bob,
		{UserID: "alice", SessionFingerprint: "s2", TenantID: "t1"},
		{UserID: "alice", SessionFingerprint: "s1", TenantID: "t2"},
		{},
	}
	seen := map[string]Identity{}
	for _, id := range ids {
		s := MakeKey(id, ViewTenantModules, "t1").String()
		prev, dup := seen[s]
		require.False(t, dup, "%+v collides with %+v", id, prev)
		seen[s] = id
	}
}

func TestKeyString_SeparatorsInParts(t *testing.T) {
	a := MakeKey(Identity{UserID: "a,b"}, "v")
	b := MakeKey(Identity{UserID: "a", SessionFingerprint: "b"}, "v")
	assert.NotEqual(t, a.String(), b.String())
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "", Fingerprint(""))
	assert.Equal(t, "", Fingerprint("Bearer "))
	assert.Equal(t, Fingerprint("tok"), Fingerprint("Bearer tok"))
	assert.NotEqual(t, Fingerprint("tok1"), Fingerprint("tok2"))
	assert.Len(t, Fingerprint("tok"), 16)
}

func TestCache_GetOrLoad(t *testing.T) {
	c := NewCache(time.Minute)
	ctx := context.Background()
	key := MakeKey(alice, ViewTenantModules, "t1")

	var calls int
	load := func(context.Context) (any, error) {
		calls++
		return "v1", nil
	}

	v, err := c.GetOrLoad(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	v, err = c.GetOrLoad(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, 1, calls)
}

func TestCache_ErrorsNotCached(t *testing.T) {
	c := NewCache(time.Minute)
	ctx := context.Background()
	key := MakeKey(alice, ViewTenantModules, "t1")

	_, err := c.GetOrLoad(ctx, key, func(context.Context) (any, error) {
		return nil, errors.New("db down")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	v, err := Load(ctx, c, key, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCache_TTL(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	key := MakeKey(alice, ViewTenantModules, "t1")
	c.Set(key, 1)
	_, ok := c.Get(key)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestCache_IdentityIsolation(t *testing.T) {
	c := NewCache(time.Minute)
	ctx := context.Background()

	_, err := c.GetOrLoad(ctx, MakeKey(alice, ViewTenantModules, "t1"), func(context.Context) (any, error) {
		return "alice-view", nil
	})
	require.NoError(t, err)

	v, err := c.GetOrLoad(ctx, MakeKey(bob, ViewTenantModules, "t1"), func(context.Context) (any, error) {
		return "bob-view", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bob-view", v)
}

func TestCache_InvalidateViews(t *testing.T) {
	c := NewCache(time.Minute)
	ctx := context.Background()

	c.Set(MakeKey(alice, ViewTenantModules, "t1"), 1)
	c.Set(MakeKey(bob, ViewTenantModules, "t1"), 2)
	c.Set(MakeKey(alice, ViewTenantModules, "t2"), 3)
	c.Set(MakeKey(alice, ViewModuleAccessStats, "t1"), 4)
	c.Set(MakeKey(alice, ViewPlanSummary, "plan_1"), 5)

	c.InvalidateViews(ctx, "t1", AccessViews...)

	_, ok := c.Get(MakeKey(alice, ViewTenantModules, "t1"))
	assert.False(t, ok)
	_, ok = c.Get(MakeKey(bob, ViewTenantModules, "t1"))
	assert.False(t, ok)
	_, ok = c.Get(MakeKey(alice, ViewModuleAccessStats, "t1"))
	assert.False(t, ok)
	_, ok = c.Get(MakeKey(alice, ViewTenantModules, "t2"))
	assert.True(t, ok)
	_, ok = c.Get(MakeKey(alice, ViewPlanSummary, "plan_1"))
	assert.True(t, ok)

	c.InvalidateViews(ctx, "", ViewTenantModules)
	_, ok = c.Get(MakeKey(alice, ViewTenantModules, "t2"))
	assert.False(t, ok)
}

func TestCache_InvalidationDuringLoadIsNotStored(t *testing.T) {
	c := NewCache(time.Minute)
	ctx := context.Background()
	key := MakeKey(alice, ViewTenantModules, "t1")

	v, err := c.GetOrLoad(ctx, key, func(context.Context) (any, error) {
		// A write lands while the read is in flight.
		c.InvalidateViews(ctx, "t1", ViewTenantModules)
		return "stale", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", v)

	v, err = c.GetOrLoad(ctx, key, func(context.Context) (any, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestCache_ConcurrentLoadsCoalesce(t *testing.T) {
	c := NewCache(time.Minute)
	ctx := context.Background()
	key := MakeKey(alice, ViewTenantModules, "t1")

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(ctx, key, load)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	_, ok := c.Get(key)
	assert.True(t, ok)
}

func TestCache_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	c := NewCache(time.Minute)
	key := MakeKey(alice, ViewTenantModules, "t1")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	load := func(ctx context.Context) (any, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return "v", nil
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctxA, key, load)
		errA <- err
	}()
	<-started

	type result struct {
		v   any
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), key, load)
		resB <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared load")
	}

	close(release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, "v", r.v)
	case <-time.After(time.Second):
		t.Fatal("second caller never got a result")
	}
	_, ok := c.Get(key)
	assert.True(t, ok, "the shared load is still stored")
}

func TestFanout(t *testing.T) {
	a := NewCache(time.Minute)
	b := NewCache(time.Minute)
	a.Set(MakeKey(alice, ViewTenantModules, "t1"), 1)
	b.Set(MakeKey(bob, ViewTenantModules, "t1"), 2)

	Fanout{a, nil, b}.InvalidateViews(context.Background(), "t1", ViewTenantModules)
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0, b.Len())
}
