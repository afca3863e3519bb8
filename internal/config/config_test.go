package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/courier-one/notification-dispatch/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "notifications", cfg.Mongo.Database)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, []int{408, 429, 500, 502, 503, 504}, cfg.Provider.RetryableStatusCodes)
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Equal(t, 300*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 300*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 0.2, cfg.Retry.JitterRatio)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROVIDER_RETRYABLE_STATUS_CODES", "500, 503")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("EMAIL_PROVIDER_BASE_URL", "https://email.example.com")
	t.Setenv("CACHE_BACKEND", "LRU")
	t.Setenv("PROVIDER_TIMEOUT_MS", "2500")
	t.Setenv("WORKER_SHUTDOWN_TIMEOUT", "5s")

	cfg := Load()

	assert.Equal(t, []int{500, 503}, cfg.Provider.RetryableStatusCodes)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "https://email.example.com", cfg.Provider.Endpoint(domain.ChannelEmail).BaseURL)
	assert.Empty(t, cfg.Provider.Endpoint(domain.ChannelSMS).BaseURL)
	assert.Equal(t, "lru", cfg.Cache.Backend)
	assert.Equal(t, 2500*time.Millisecond, cfg.Provider.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Worker.ShutdownTimeout)
}

func TestLoad_BadCSVFallsBack(t *testing.T) {
	t.Setenv("PROVIDER_RETRYABLE_STATUS_CODES", "500,abc")

	cfg := Load()

	assert.Equal(t, []int{408, 429, 500, 502, 503, 504}, cfg.Provider.RetryableStatusCodes)
}
