package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// MinSigningSecretBytes is the floor for the HMAC signing secret. Boot fails
// below it.
const MinSigningSecretBytes = 32

// Hasher parameter floors. Configuring below these fails at boot so the
// hasher can never be silently weakened.
const (
	MinHashMemoryKiB   = 64 * 1024
	MinHashTimeCost    = 3
	MinHashParallelism = 4
)

// Config holds all application configuration, resolved once at boot and
// read-only afterwards.
type Config struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`

	DatabaseURL string `mapstructure:"database_url"`
	RedisAddr   string `mapstructure:"redis_addr"`
	AMQPURL     string `mapstructure:"amqp_url"`
	SentryDSN   string `mapstructure:"sentry_dsn"`

	SigningSecret string        `mapstructure:"signing_secret"`
	AccessTTL     time.Duration `mapstructure:"-"`
	RefreshTTL    time.Duration `mapstructure:"-"`
	ResetTTL      time.Duration `mapstructure:"-"`

	HashMemoryKiB   uint32 `mapstructure:"hash_memory_kib"`
	HashTimeCost    uint32 `mapstructure:"hash_time_cost"`
	HashParallelism uint8  `mapstructure:"hash_parallelism"`

	RateLimitEnabled bool `mapstructure:"rate_limit_enabled"`
	AuditLogEnabled  bool `mapstructure:"audit_log_enabled"`

	CORSAllowedOrigins []string `mapstructure:"-"`

	// RequestTimeout is the per-request deadline inherited by every store
	// call.
	RequestTimeout time.Duration `mapstructure:"-"`
}

// envKeys maps viper keys to the environment variables that feed them. The
// bare names are the recognized configuration surface; CLAVIS_-prefixed
// variants take precedence when both are set.
var envKeys = map[string][]string{
	"env":                  {"CLAVIS_ENV", "APP_ENV"},
	"port":                 {"CLAVIS_PORT", "PORT"},
	"database_url":         {"CLAVIS_DATABASE_URL", "DATABASE_URL"},
	"redis_addr":           {"CLAVIS_REDIS_ADDR", "REDIS_ADDR"},
	"amqp_url":             {"CLAVIS_AMQP_URL", "AMQP_URL"},
	"sentry_dsn":           {"CLAVIS_SENTRY_DSN", "SENTRY_DSN"},
	"signing_secret":       {"CLAVIS_SIGNING_SECRET", "SIGNING_SECRET"},
	"access_ttl_seconds":   {"CLAVIS_ACCESS_TTL_SECONDS", "ACCESS_TTL_SECONDS"},
	"refresh_ttl_seconds":  {"CLAVIS_REFRESH_TTL_SECONDS", "REFRESH_TTL_SECONDS"},
	"reset_ttl_seconds":    {"CLAVIS_RESET_TTL_SECONDS", "RESET_TTL_SECONDS"},
	"hash_memory_kib":      {"CLAVIS_HASH_MEMORY_KIB", "HASH_MEMORY_KIB"},
	"hash_time_cost":       {"CLAVIS_HASH_TIME_COST", "HASH_TIME_COST"},
	"hash_parallelism":     {"CLAVIS_HASH_PARALLELISM", "HASH_PARALLELISM"},
	"rate_limit_enabled":   {"CLAVIS_RATE_LIMIT_ENABLED", "RATE_LIMIT_ENABLED"},
	"audit_log_enabled":    {"CLAVIS_AUDIT_LOG_ENABLED", "AUDIT_LOG_ENABLED"},
	"cors_allowed_origins": {"CLAVIS_CORS_ALLOWED_ORIGINS", "CORS_ALLOWED_ORIGINS"},
	"request_timeout_ms":   {"CLAVIS_REQUEST_TIMEOUT_MS", "REQUEST_TIMEOUT_MS"},
}

// Load reads configuration from the environment and validates it.
// It fails fast: a service that boots with a short secret or a weakened
// hasher is worse than one that refuses to start.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("port", 8080)
	v.SetDefault("access_ttl_seconds", 3600)
	v.SetDefault("refresh_ttl_seconds", 604800)
	v.SetDefault("reset_ttl_seconds", 900)
	v.SetDefault("hash_memory_kib", 65536)
	v.SetDefault("hash_time_cost", 3)
	v.SetDefault("hash_parallelism", 4)
	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("audit_log_enabled", true)
	v.SetDefault("request_timeout_ms", 5000)

	for key, envs := range envKeys {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.AccessTTL = time.Duration(v.GetInt("access_ttl_seconds")) * time.Second
	cfg.RefreshTTL = time.Duration(v.GetInt("refresh_ttl_seconds")) * time.Second
	cfg.ResetTTL = time.Duration(v.GetInt("reset_ttl_seconds")) * time.Second
	cfg.RequestTimeout = time.Duration(v.GetInt("request_timeout_ms")) * time.Millisecond
	cfg.CORSAllowedOrigins = splitOrigins(v.GetString("cors_allowed_origins"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate enforces the boot invariants.
func (c *Config) Validate() error {
	if len(c.SigningSecret) < MinSigningSecretBytes {
		return fmt.Errorf("SIGNING_SECRET must be at least %d bytes, got %d", MinSigningSecretBytes, len(c.SigningSecret))
	}
	if c.HashMemoryKiB < MinHashMemoryKiB {
		return fmt.Errorf("HASH_MEMORY_KIB below floor %d: %d", MinHashMemoryKiB, c.HashMemoryKiB)
	}
	if c.HashTimeCost < MinHashTimeCost {
		return fmt.Errorf("HASH_TIME_COST below floor %d: %d", MinHashTimeCost, c.HashTimeCost)
	}
	if c.HashParallelism < MinHashParallelism {
		return fmt.Errorf("HASH_PARALLELISM below floor %d: %d", MinHashParallelism, c.HashParallelism)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ResetTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.IsProduction() && slices.Contains(c.CORSAllowedOrigins, "*") {
		return errors.New("CORS_ALLOWED_ORIGINS must not contain a wildcard in production")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
