package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/courier-one/notification-dispatch/internal/domain"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Mongo    MongoConfig
	Provider ProviderConfig
	Cache    CacheConfig
	Retry    RetryConfig
	Worker   WorkerConfig
}

type AppConfig struct {
	Env      string
	LogLevel string
}

type ServerConfig struct {
	Port            string
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// ProviderEndpoint is the per-channel routing target
type ProviderEndpoint struct {
	BaseURL string
	APIKey  string
}

type ProviderConfig struct {
	Endpoints            map[domain.Channel]ProviderEndpoint
	Timeout              time.Duration
	RetryableStatusCodes []int
	CallbackToken        string
}

// Endpoint returns the routing config for a channel; unknown channels get
// an empty endpoint, which the provider client reports as unconfigured.
func (p ProviderConfig) Endpoint(ch domain.Channel) ProviderEndpoint {
	return p.Endpoints[ch]
}

type CacheConfig struct {
	Backend         string // none | lru | memcache | redis
	TTL             time.Duration
	LRUSize         int
	MemcacheHost    string
	MemcachePort    int
	MemcacheTimeout time.Duration
	RedisURL        string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64
}

type WorkerConfig struct {
	PollInterval    time.Duration
	Port            string
	ShutdownTimeout time.Duration
}

// Load creates a new Config from environment variables. A local .env file
// is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		App: AppConfig{
			Env:      getEnv("APP_ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:            getEnv("APP_PORT", "8000"),
			CORSOrigins:     getCSVEnv("CORS_ORIGINS", nil),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Mongo: MongoConfig{
			URI:            getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:       getEnv("MONGODB_DB", "notifications"),
			ConnectTimeout: getDurationEnv("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
		},
		Provider: ProviderConfig{
			Endpoints: map[domain.Channel]ProviderEndpoint{
				domain.ChannelEmail: {
					BaseURL: getEnv("EMAIL_PROVIDER_BASE_URL", ""),
					APIKey:  getEnv("EMAIL_PROVIDER_API_KEY", ""),
				},
				domain.ChannelSMS: {
					BaseURL: getEnv("SMS_PROVIDER_BASE_URL", ""),
					APIKey:  getEnv("SMS_PROVIDER_API_KEY", ""),
				},
				domain.ChannelPush: {
					BaseURL: getEnv("PUSH_PROVIDER_BASE_URL", ""),
					APIKey:  getEnv("PUSH_PROVIDER_API_KEY", ""),
				},
			},
			Timeout:              time.Duration(getIntEnv("PROVIDER_TIMEOUT_MS", 5000)) * time.Millisecond,
			RetryableStatusCodes: getIntCSVEnv("PROVIDER_RETRYABLE_STATUS_CODES", []int{408, 429, 500, 502, 503, 504}),
			CallbackToken:        getEnv("PROVIDER_CALLBACK_TOKEN", ""),
		},
		Cache: CacheConfig{
			Backend:         strings.ToLower(getEnv("CACHE_BACKEND", "none")),
			TTL:             time.Duration(getIntEnv("CACHE_TTL_SECONDS", 300)) * time.Second,
			LRUSize:         getIntEnv("CACHE_LRU_SIZE", 2048),
			MemcacheHost:    getEnv("MEMCACHE_HOST", "localhost"),
			MemcachePort:    getIntEnv("MEMCACHE_PORT", 11211),
			MemcacheTimeout: time.Duration(getIntEnv("MEMCACHE_TIMEOUT_MS", 200)) * time.Millisecond,
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Retry: RetryConfig{
			MaxAttempts: getIntEnv("RETRY_MAX_ATTEMPTS", 5),
			BaseDelay:   getDurationEnv("RETRY_BASE_DELAY", 2*time.Second),
			MaxDelay:    getDurationEnv("RETRY_MAX_DELAY", 300*time.Second),
			JitterRatio: getFloatEnv("RETRY_JITTER_RATIO", 0.2),
		},
		Worker: WorkerConfig{
			PollInterval:    getDurationEnv("WORKER_POLL_INTERVAL", 500*time.Millisecond),
			Port:            getEnv("WORKER_PORT", "8001"),
			ShutdownTimeout: getDurationEnv("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getCSVEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getIntCSVEnv(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	out := make([]int, 0)
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
