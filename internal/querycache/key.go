// Package querycache caches read views (module access, plan summaries,
// subscriptions) under keys namespaced by user, session and tenant, so a
// result computed for one identity is never served to another.
package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Placeholders used when an identity component is missing.
const (
	AnonymousUser = "anonymous"
	NoSession     = "no-session"
	NoTenant      = "no-tenant"
)

// Identity is who a cached value was computed for.
type Identity struct {
	UserID             string `json:"userId"`
	SessionFingerprint string `json:"sessionFingerprint"`
	TenantID           string `json:"tenantId"`
}

// Normalize fills empty components with their placeholders.
func (id Identity) Normalize() Identity {
	if id.UserID == "" {
		id.UserID = AnonymousUser
	}
	if id.SessionFingerprint == "" {
		id.SessionFingerprint = NoSession
	}
	if id.TenantID == "" {
		id.TenantID = NoTenant
	}
	return id
}

// sessionKey identifies the user+session pair, ignoring tenant.
func (id Identity) sessionKey() string {
	n := id.Normalize()
	return n.UserID + "\x00" + n.SessionFingerprint
}

// Fingerprint derives a stable, non-reversible session fingerprint from a
// bearer token. An empty token has no fingerprint.
func Fingerprint(token string) string {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// Key is a composite cache key: a view name, view arguments, then the
// normalized identity.
type Key struct {
	Base     string
	Extras   []string
	Identity Identity
}

// MakeKey builds the key for view base with arguments extras, as seen by id.
func MakeKey(id Identity, base string, extras ...string) Key {
	return Key{
		Base:     base,
		Extras:   append([]string(nil), extras...),
		Identity: id.Normalize(),
	}
}

// Parts returns [base, extras..., userID, sessionFingerprint, tenantID].
func (k Key) Parts() []string {
	parts := make([]string, 0, len(k.Extras)+4)
	parts = append(parts, k.Base)
	parts = append(parts, k.Extras...)
	id := k.Identity.Normalize()
	return append(parts, id.UserID, id.SessionFingerprint, id.TenantID)
}

// String encodes the key unambiguously; parts containing separators cannot
// collide with other part boundaries.
func (k Key) String() string {
	b, _ := json.Marshal(k.Parts())
	return string(b)
}

// Contains reports whether any key part contains substr.
func (k Key) Contains(substr string) bool {
	for _, p := range k.Parts() {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

// viewTenant is the tenant a view is about: its first argument.
func (k Key) viewTenant() string {
	if len(k.Extras) == 0 {
		return ""
	}
	return k.Extras[0]
}
