package subscription

import (
	"context"
	"hash/fnv"
)

const lockShards = 256

// tenantLocks serializes subscription writes per tenant so read-then-write
// paths (Stripe sync, cancel) cannot interleave. Keys hash onto a fixed pool
// of channel mutexes, so memory stays bounded and waiters can give up when
// their context ends.
type tenantLocks struct {
	shards [lockShards]chan struct{}
}

func newTenantLocks() *tenantLocks {
	l := &tenantLocks{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
		l.shards[i] <- struct{}{}
	}
	return l
}

// lock acquires the tenant's shard. The returned func releases it.
func (l *tenantLocks) lock(ctx context.Context, tenantID string) (func(), error) {
	ch := l.shards[shardOf(tenantID)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % lockShards
}
