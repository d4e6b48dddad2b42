// Package config is the single configuration object the gateway consumes
// at startup (spec §6): listener binding, auth/permissions, rate limiting,
// heartbeat, backpressure, connection limits, and the ambient audit/logging
// surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/permissions"
	"github.com/relaygate/gateway/internal/procedures"
	"github.com/relaygate/gateway/internal/rules"
	"github.com/relaygate/gateway/internal/store"
)

// AuthConfig controls session sourcing and RBAC (spec §4.9, §6).
type AuthConfig struct {
	Validate    auth.Validator // external token validator, option (a)
	BuiltIn     *auth.BuiltinUserStore // built-in user store, option (b)
	Sessions    *auth.JWTManager // backs Validate when it wraps a JWTManager; lets auth.logout revoke server-side
	AdminSecret string
	Required    bool // when false, unauthenticated requests are allowed
	Permissions *permissions.Evaluator
	SessionTTL  time.Duration
}

// RateLimitConfig controls the sliding-window limiter (spec §4.4).
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	Redis       *redis.Client // optional distributed backing store (§2b)
}

// HeartbeatConfig controls per-connection liveness (spec §4.5).
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration // documented, not separately enforced (§4.5)
}

// BackpressureConfig controls the push drop threshold (spec §4.6).
type BackpressureConfig struct {
	MaxBufferedBytes int
	HighWaterMark    float64
}

// ConnectionLimitsConfig controls per-connection caps (spec §6).
type ConnectionLimitsConfig struct {
	MaxSubscriptionsPerConnection int
}

// AuditConfig enables the audit log collaborator (spec §2a, §4.10).
type AuditConfig struct {
	Enabled         bool
	DSN             string // Postgres connection string, lib/pq
	QueueSize       int
	SensitiveFields []string
}

// LoggingConfig controls the ambient zerolog logger (spec §2a).
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// Config is the single configuration object the gateway consumes at
// startup (spec §6).
type Config struct {
	Store       store.Store
	Rules       rules.Engine           // optional; nil means rules.* returns RULES_NOT_AVAILABLE
	Procedures  procedures.Orchestrator // optional; nil means procedures.* returns UNKNOWN_OPERATION

	Host string
	Port int
	Path string

	MaxPayloadBytes   int64
	ExposeErrorDetails bool
	DevMode            bool // relaxes HTTP security headers for local development
	AllowedOrigins     []string // nil means any origin is allowed
	MaxConnectionsPerIP int

	Auth               AuthConfig
	RateLimit          RateLimitConfig
	Heartbeat          HeartbeatConfig
	Backpressure       BackpressureConfig
	ConnectionLimits   ConnectionLimitsConfig
	Audit              AuditConfig
	Logging            LoggingConfig
}

// Validate checks the configuration is internally consistent before the
// listener starts.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("gateway: Store is required")
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 1 << 20 // 1 MiB
	}
	if c.ConnectionLimits.MaxSubscriptionsPerConnection <= 0 {
		c.ConnectionLimits.MaxSubscriptionsPerConnection = 100
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = 30 * time.Second
	}
	if c.Backpressure.MaxBufferedBytes <= 0 {
		c.Backpressure.MaxBufferedBytes = 1 << 20
	}
	if c.Backpressure.HighWaterMark <= 0 {
		c.Backpressure.HighWaterMark = 0.8
	}
	if c.Auth.Permissions == nil {
		c.Auth.Permissions = &permissions.Evaluator{Default: permissions.DefaultAllow}
	}
	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = 24 * time.Hour
	}
	if c.Auth.Validate == nil && c.Auth.BuiltIn == nil && c.Auth.Required {
		return fmt.Errorf("gateway: auth.required is true but neither Validate nor BuiltIn is configured")
	}
	return nil
}

// RequiresAuth reports whether the welcome frame should advertise
// requiresAuth: true (spec §4.2) -- auth is configured and not optional.
func (c *Config) RequiresAuth() bool {
	return c.Auth.Required && (c.Auth.Validate != nil || c.Auth.BuiltIn != nil)
}

// ConfigFromEnv assembles a Config from environment variables, mirroring
// the teacher's cmd/main.go getEnv/getEnvInt helpers. The Store and Rules
// collaborators are not env-configurable (they are Go values, wired by the
// caller) and must be set on the returned Config before use.
func ConfigFromEnv() *Config {
	return &Config{
		Host:                getEnv("GATEWAY_HOST", "0.0.0.0"),
		Port:                getEnvInt("GATEWAY_PORT", 8080),
		Path:                getEnv("GATEWAY_PATH", "/"),
		MaxPayloadBytes:     int64(getEnvInt("GATEWAY_MAX_PAYLOAD_BYTES", 1<<20)),
		ExposeErrorDetails:  getEnvBool("GATEWAY_EXPOSE_ERROR_DETAILS", false),
		DevMode:             getEnvBool("GATEWAY_DEV_MODE", false),
		MaxConnectionsPerIP: getEnvInt("GATEWAY_MAX_CONNECTIONS_PER_IP", 50),
		Auth: AuthConfig{
			Required:   getEnvBool("GATEWAY_AUTH_REQUIRED", false),
			SessionTTL: getEnvDuration("GATEWAY_SESSION_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: getEnvInt("GATEWAY_RATE_LIMIT_MAX", 0),
			Window:      getEnvDuration("GATEWAY_RATE_LIMIT_WINDOW", time.Minute),
		},
		Heartbeat: HeartbeatConfig{
			Interval: getEnvDuration("GATEWAY_HEARTBEAT_INTERVAL", 30*time.Second),
			Timeout:  getEnvDuration("GATEWAY_HEARTBEAT_TIMEOUT", 30*time.Second),
		},
		Backpressure: BackpressureConfig{
			MaxBufferedBytes: getEnvInt("GATEWAY_BACKPRESSURE_MAX_BYTES", 1<<20),
			HighWaterMark:    getEnvFloat("GATEWAY_BACKPRESSURE_HIGH_WATER_MARK", 0.8),
		},
		ConnectionLimits: ConnectionLimitsConfig{
			MaxSubscriptionsPerConnection: getEnvInt("GATEWAY_MAX_SUBSCRIPTIONS_PER_CONNECTION", 100),
		},
		Audit: AuditConfig{
			Enabled:   getEnvBool("GATEWAY_AUDIT_ENABLED", false),
			DSN:       getEnv("GATEWAY_AUDIT_DSN", ""),
			QueueSize: getEnvInt("GATEWAY_AUDIT_QUEUE_SIZE", 1024),
		},
		Logging: LoggingConfig{
			Level:  getEnv("GATEWAY_LOG_LEVEL", "info"),
			Pretty: getEnvBool("GATEWAY_LOG_PRETTY", false),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
