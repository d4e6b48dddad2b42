// Package cache provides Redis-based caching for Relaygate.
//
// This file defines standardized cache key naming conventions shared by the
// session store and the distributed rate limiter.
package cache

import "fmt"

// Key prefixes for different resource types
const (
	PrefixSession   = "session"
	PrefixRateLimit = "ratelimit"
)

// Session cache keys
func SessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", PrefixSession, sessionID)
}

func UserSessionsKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:list", PrefixSession, userID)
}

func AllSessionsKey() string {
	return fmt.Sprintf("%s:all", PrefixSession)
}

// RateLimitKey returns the Redis key holding the sliding-window counter bucket
// for the given limiter key (user id or remote address).
func RateLimitKey(key string) string {
	return fmt.Sprintf("%s:%s", PrefixRateLimit, key)
}

// RateLimitPattern matches every distributed rate-limit counter, for cleanup.
func RateLimitPattern() string {
	return fmt.Sprintf("%s:*", PrefixRateLimit)
}
