package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/talentdesk/internal/logging"
)

// AuthEvent is an authentication state change reported by a client or by
// the key management endpoints.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// Clears reports whether the event must drop the whole cache.
func (e AuthEvent) Clears() bool {
	switch e {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed:
		return true
	}
	return false
}

// tenantScopedMarkers select the entries dropped on a tenant switch.
var tenantScopedMarkers = []string{"tenant", "report", "form"}

// Sessions applies the cache policy tied to authentication: auth state
// changes clear everything, and a user moving to another tenant loses their
// tenant-scoped entries.
type Sessions struct {
	cache *Cache

	mu         sync.Mutex
	lastTenant map[string]lastSeen
}

type lastSeen struct {
	tenantID string
	at       time.Time
}

// NewSessions creates a session tracker over cache.
func NewSessions(cache *Cache) *Sessions {
	return &Sessions{cache: cache, lastTenant: make(map[string]lastSeen)}
}

// HandleAuthEvent clears the cache for sign-in, sign-out and token refresh.
// It returns whether the cache was cleared.
func (s *Sessions) HandleAuthEvent(ctx context.Context, event AuthEvent) bool {
	if !event.Clears() {
		return false
	}
	s.cache.Clear()
	s.mu.Lock()
	s.lastTenant = make(map[string]lastSeen)
	s.mu.Unlock()
	logging.L(ctx).Info("query cache cleared", "event", string(event))
	return true
}

// Observe records the tenant a user+session is currently acting in. When
// it differs from the previously observed tenant, that user's tenant-scoped
// entries are invalidated and true is returned.
func (s *Sessions) Observe(ctx context.Context, id Identity) bool {
	id = id.Normalize()
	sk := id.sessionKey()

	s.mu.Lock()
	last, seen := s.lastTenant[sk]
	s.lastTenant[sk] = lastSeen{tenantID: id.TenantID, at: s.cache.now()}
	s.mu.Unlock()

	prev := last.tenantID
	if !seen || prev == id.TenantID {
		return false
	}
	n := s.cache.InvalidateMatching(&id, tenantScopedMarkers...)
	logging.L(ctx).Info("tenant switch invalidated cache",
		"user_id", id.UserID, "from", prev, "to", id.TenantID, "entries", n)
	return true
}

// Sweep forgets sessions not observed for longer than the cache TTL, by
// which time none of their entries can still be cached. It returns how many
// were dropped.
func (s *Sessions) Sweep() int {
	cutoff := s.cache.now().Add(-s.cache.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, last := range s.lastTenant {
		if last.at.Before(cutoff) {
			delete(s.lastTenant, k)
			n++
		}
	}
	return n
}
