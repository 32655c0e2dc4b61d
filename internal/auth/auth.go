// Package auth provides API authentication for TalentDesk.
//
// Authentication model:
//   - Catalog reads are public
//   - Tenant reads require an API key bound to that tenant (or an admin)
//   - Catalog writes, overrides and subscription changes require an admin
//
// Every key is bound to a user, a tenant and a role. Issuing, revoking and
// rotating keys are auth events: they are forwarded to the configured sink
// so identity-scoped caches can be dropped.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/talentdesk/internal/logging"
	"github.com/mbd888/talentdesk/internal/querycache"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrKeyNotFound   = errors.New("API key not found")
	ErrInvalidRole   = errors.New("invalid role")
)

// Role is what a key may do.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// APIKey represents an API key
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"` // SHA256 hash of key (stored)
	UserID    string     `json:"userId"`
	TenantID  string     `json:"tenantId,omitempty"`
	Role      Role       `json:"role"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// IsAdmin reports whether the key carries the admin role.
func (k *APIKey) IsAdmin() bool {
	return k.Role == RoleAdmin
}

// Store persists API keys
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	Get(ctx context.Context, id string) (*APIKey, error)
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	ListByUser(ctx context.Context, userID string) ([]*APIKey, error)
	Revoke(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, at time.Time) error
}

// EventSink receives auth events.
type EventSink interface {
	HandleAuthEvent(ctx context.Context, event querycache.AuthEvent) bool
}

// KeySpec describes a key to issue.
type KeySpec struct {
	UserID    string     `json:"userId"`
	TenantID  string     `json:"tenantId"`
	Role      Role       `json:"role"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Manager handles authentication
type Manager struct {
	store  Store
	events EventSink
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// WithEvents forwards key lifecycle events to sink.
func (m *Manager) WithEvents(sink EventSink) *Manager {
	m.events = sink
	return m
}

// Store returns the underlying key store.
func (m *Manager) Store() Store {
	return m.store
}

// GenerateKey issues a new API key.
// Returns the raw key (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, spec KeySpec) (rawKey string, key *APIKey, err error) {
	if spec.Role == "" {
		spec.Role = RoleMember
	}
	if !spec.Role.Valid() {
		return "", nil, ErrInvalidRole
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	rawKey = "sk_" + hex.EncodeToString(b)

	key = &APIKey{
		ID:        "ak_" + hex.EncodeToString(b[:8]),
		Hash:      hashKey(rawKey),
		UserID:    strings.TrimSpace(spec.UserID),
		TenantID:  strings.TrimSpace(spec.TenantID),
		Role:      spec.Role,
		Name:      spec.Name,
		CreatedAt: time.Now(),
		ExpiresAt: spec.ExpiresAt,
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}

	m.emit(ctx, querycache.EventSignedIn)
	return rawKey, key, nil
}

// ValidateKey validates an API key and returns the key metadata
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}
	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Last-used tracking is best effort.
	go func(id string) {
		if err := m.store.Touch(context.Background(), id, time.Now()); err != nil {
			logging.L(ctx).Debug("api key touch failed", "key_id", id, "error", err)
		}
	}(key.ID)

	return key, nil
}

// ListKeys returns all keys for a user
func (m *Manager) ListKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	return m.store.ListByUser(ctx, userID)
}

// RevokeKey revokes one of userID's keys.
func (m *Manager) RevokeKey(ctx context.Context, keyID, userID string) error {
	key, err := m.store.Get(ctx, keyID)
	if err != nil || key.UserID != userID || key.Revoked {
		return ErrKeyNotFound
	}
	if err := m.store.Revoke(ctx, keyID); err != nil {
		return err
	}
	m.emit(ctx, querycache.EventSignedOut)
	return nil
}

// RotateKey revokes keyID and issues a replacement with the same binding.
func (m *Manager) RotateKey(ctx context.Context, keyID, userID string) (string, *APIKey, error) {
	old, err := m.store.Get(ctx, keyID)
	if err != nil || old.UserID != userID || old.Revoked {
		return "", nil, ErrKeyNotFound
	}
	if err := m.store.Revoke(ctx, keyID); err != nil {
		return "", nil, err
	}
	raw, key, err := m.GenerateKey(ctx, KeySpec{
		UserID:    old.UserID,
		TenantID:  old.TenantID,
		Role:      old.Role,
		Name:      old.Name,
		ExpiresAt: old.ExpiresAt,
	})
	if err != nil {
		return "", nil, err
	}
	m.emit(ctx, querycache.EventTokenRefreshed)
	return raw, key, nil
}

func (m *Manager) emit(ctx context.Context, event querycache.AuthEvent) {
	if m.events != nil {
		m.events.HandleAuthEvent(ctx, event)
	}
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
