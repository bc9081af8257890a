package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, BackendRedis, cfg.QueueBackend)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, time.Duration(0), cfg.LateGrace)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Empty(t, cfg.DeliveryURL)
	assert.Empty(t, cfg.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.DeliveryTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SIGNING_KEY", "a-long-production-secret")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("TIMEZONE", "Asia/Kolkata")
	t.Setenv("LATE_GRACE", "5m")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("DELIVERY_URL", "http://mailer.local")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://portal.college.edu, https://admin.college.edu,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDev())
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Minute, cfg.LateGrace)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, "http://mailer.local", cfg.DeliveryURL)
	assert.Equal(t, "cache:6380", cfg.Redis().Addr)
	assert.Equal(t, 3, cfg.Redis().DB)
	assert.Equal(t, []string{"https://portal.college.edu", "https://admin.college.edu"}, cfg.CORSOrigins)
	assert.Equal(t, "Asia/Kolkata", cfg.Location.String())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"short key outside dev": {"APP_ENV": "prod", "JWT_SIGNING_KEY": "short"},
		"unknown store":         {"STORE_BACKEND": "mysql"},
		"unknown queue":         {"QUEUE_BACKEND": "kafka"},
		"bad timezone":          {"TIMEZONE": "Mars/Olympus"},
		"local timezone":        {"TIMEZONE": "Local"},
		"negative grace":        {"LATE_GRACE": "-1m"},
		"zero delivery timeout": {"DELIVERY_TIMEOUT": "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
