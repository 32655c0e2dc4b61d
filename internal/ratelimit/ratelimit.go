// Package ratelimit provides token-bucket rate limiting middleware. Requests
// are bucketed per tenant when the caller's key is bound to one, otherwise
// per API key or client IP.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/talentdesk/internal/auth"
	"github.com/mbd888/talentdesk/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the default budget per key
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
	}
}

// TenantBudgets supplies per-tenant requests-per-minute. A non-positive
// answer falls back to the configured default.
type TenantBudgets interface {
	RateLimitRPM(ctx context.Context, tenantID string) int
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg     Config
	budgets TenantBudgets
	mu      sync.Mutex
	clients map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a new rate limiter and starts its cleanup loop.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// WithTenantBudgets makes tenant buckets use each tenant's own budget.
func (l *Limiter) WithTenantBudgets(b TenantBudgets) *Limiter {
	l.budgets = b
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-2 * time.Minute)
			for key, b := range l.clients {
				if b.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow checks if a request should be allowed under the default budget.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, l.cfg.RequestsPerMinute)
}

// AllowN checks a request against a bucket refilling at rpm per minute.
// The burst scales with rpm so large budgets are not capped by the default burst.
func (l *Limiter) AllowN(key string, rpm int) bool {
	if rpm <= 0 {
		rpm = l.cfg.RequestsPerMinute
	}
	burst := float64(l.cfg.BurstSize)
	if scaled := float64(rpm) / 6; scaled > burst {
		burst = scaled
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[key]
	if !ok {
		l.clients[key] = &bucket{tokens: burst - 1, lastCheck: now}
		return true
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * float64(rpm) / 60.0
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Middleware returns a Gin middleware that rate limits. It must run after
// auth.Middleware so tenant and key bindings are visible. Admin requests
// are not limited.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.IsAdmin(c) {
			c.Next()
			return
		}

		kind, key, rpm := "ip", "ip:"+c.ClientIP(), 0
		if tenantID := auth.GetTenantID(c); tenantID != "" {
			kind, key = "tenant", "tenant:"+tenantID
			if l.budgets != nil {
				rpm = l.budgets.RateLimitRPM(c.Request.Context(), tenantID)
			}
		} else if k, ok := auth.GetAPIKey(c); ok {
			kind, key = "key", "key:"+k.ID
		}

		if !l.AllowN(key, rpm) {
			metrics.RateLimitedTotal.WithLabelValues(kind).Inc()
			c.Header("Retry-After", strconv.Itoa(1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}
