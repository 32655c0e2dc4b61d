package querycache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mbd888/talentdesk/internal/metrics"
)

// DefaultTTL is used when NewCache is given a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// maxLoadTime bounds a shared load, which outlives any single caller.
const maxLoadTime = 30 * time.Second

// Cache is a TTL cache of view results keyed by Key.
//
// Every invalidation bumps a generation counter. A load that started under
// an older generation still returns its value to its callers but is not
// stored, and concurrent loads only coalesce within one generation. This
// keeps reads issued after an invalidation from seeing pre-write data.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	ttl        time.Duration
	generation uint64
	group      singleflight.Group
	now        func() time.Time
}

type entry struct {
	key     Key
	value   any
	expires time.Time
}

// NewCache creates an empty cache.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key if present and fresh.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key.String()]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	c.entries[key.String()] = &entry{key: key, value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrLoad returns the cached value for key or calls load once for all
// concurrent callers. Errors are never cached.
//
// The shared load runs detached from the caller that started it, so one
// caller going away does not fail the others. Each caller still stops
// waiting when its own ctx is done.
func (c *Cache) GetOrLoad(ctx context.Context, key Key, load func(context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		metrics.QueryCacheEventsTotal.WithLabelValues("hit").Inc()
		return v, nil
	}
	metrics.QueryCacheEventsTotal.WithLabelValues("miss").Inc()

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	k := key.String()
	ch := c.group.DoChan(strconv.FormatUint(gen, 10)+"|"+k, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), maxLoadTime)
		defer cancel()
		v, err := load(lctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.entries[k] = &entry{key: key, value: v, expires: c.now().Add(c.ttl)}
		} else {
			metrics.QueryCacheEventsTotal.WithLabelValues("stale_drop").Inc()
		}
		c.mu.Unlock()
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// Load is a typed wrapper around GetOrLoad. A nil cache calls load directly.
func Load[T any](ctx context.Context, c *Cache, key Key, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	v, err := c.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// InvalidateViews drops every entry of the named views whose tenant argument
// is tenantID, across all identities. An empty tenantID drops the views for
// every tenant.
func (c *Cache) InvalidateViews(_ context.Context, tenantID string, views ...string) {
	want := make(map[string]bool, len(views))
	for _, v := range views {
		want[v] = true
	}
	n := c.removeWhere(func(k Key) bool {
		return want[k.Base] && (tenantID == "" || k.viewTenant() == tenantID)
	})
	metrics.QueryCacheEventsTotal.WithLabelValues("invalidate").Add(float64(n))
}

// InvalidateMatching drops entries owned by the user+session of owner whose
// key contains any of substrs. A nil owner matches every identity.
func (c *Cache) InvalidateMatching(owner *Identity, substrs ...string) int {
	var ownerKey string
	if owner != nil {
		ownerKey = owner.sessionKey()
	}
	n := c.removeWhere(func(k Key) bool {
		if owner != nil && k.Identity.sessionKey() != ownerKey {
			return false
		}
		for _, s := range substrs {
			if k.Contains(s) {
				return true
			}
		}
		return false
	})
	metrics.QueryCacheEventsTotal.WithLabelValues("invalidate").Add(float64(n))
	return n
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.generation++
	c.mu.Unlock()
	metrics.QueryCacheEventsTotal.WithLabelValues("clear").Inc()
}

// Sweep evicts expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) removeWhere(match func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	n := 0
	for k, e := range c.entries {
		if match(e.key) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

var _ Invalidator = (*Cache)(nil)
