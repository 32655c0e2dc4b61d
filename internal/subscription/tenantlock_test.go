package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantLocks_MutualExclusion(t *testing.T) {
	l := newTenantLocks()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.lock(context.Background(), "t1")
			require.NoError(t, err)
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestTenantLocks_ContextCancelled(t *testing.T) {
	l := newTenantLocks()
	unlock, err := l.lock(context.Background(), "t1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.lock(ctx, "t1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := l.lock(context.Background(), "t1")
	require.NoError(t, err)
	again()
}

func TestService_ConcurrentSubscribeKeepsOneActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.Subscribe(ctx, SubscribeRequest{TenantID: "t1", PlanID: "plan_basic", Replace: true})
		}()
	}
	wg.Wait()

	history, err := env.svc.History(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, history, 10)
	active := 0
	for _, s := range history {
		if s.Status == StatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}
