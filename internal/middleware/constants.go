package middleware

import "time"

const (
	// DefaultMaxAttempts is the per-minute budget StrictMiddleware applies
	// to sensitive endpoints (e.g. admin bootstrap) by default.
	DefaultMaxAttempts = 5

	// CleanupInterval is how often RateLimiter's per-key map is pruned.
	CleanupInterval = 5 * time.Minute
)
