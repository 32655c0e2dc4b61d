package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("ACCESS_CHECK_TIMEOUT", "")
	t.Setenv("RESOLVER_CONSULT_OVERRIDES", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultAccessCheckTimeout, cfg.AccessCheckTimeout)
	assert.Equal(t, DefaultQueryCacheTTL, cfg.QueryCacheTTL)
	assert.True(t, cfg.ResolverConsultOverrides)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ACCESS_CHECK_TIMEOUT", "20s")
	t.Setenv("RESOLVER_CONSULT_OVERRIDES", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://admin.example.com, https://app.example.com,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 20*time.Second, cfg.AccessCheckTimeout)
	assert.False(t, cfg.ResolverConsultOverrides)
	assert.Equal(t, []string{"https://admin.example.com", "https://app.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("QUERY_CACHE_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultQueryCacheTTL, cfg.QueryCacheTTL)
}

func TestLoad_ProductionRequiresAdminSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Port:                       "8080",
		Env:                        "development",
		AccessCheckTimeout:         time.Second,
		QueryCacheTTL:              time.Minute,
		SubscriptionExpiryInterval: time.Hour,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"non-numeric port", func(c *Config) { c.Port = "http" }, "PORT must be numeric"},
		{"short admin secret", func(c *Config) { c.AdminSecret = "short" }, "at least 16"},
		{"zero timeout", func(c *Config) { c.AccessCheckTimeout = 0 }, "ACCESS_CHECK_TIMEOUT"},
		{"zero ttl", func(c *Config) { c.QueryCacheTTL = 0 }, "QUERY_CACHE_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
