// Package auth provides authentication and authorization mechanisms for Relaygate.
// This file implements server-side session tracking in Redis: every issued
// token carries a session id (the jti claim) mirrored here with a matching
// TTL, so logout, per-user revocation, and a restart-wide session wipe are
// all a key delete away instead of requiring token-level state.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/relaygate/gateway/internal/cache"
)

// SessionStore manages server-side session tracking in Redis.
type SessionStore struct {
	cache *cache.Cache
}

// SessionData represents a stored session.
type SessionData struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// NewSessionStore creates a new session store.
func NewSessionStore(cache *cache.Cache) *SessionStore {
	return &SessionStore{
		cache: cache,
	}
}

// GenerateSessionID creates a cryptographically random session ID.
func GenerateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSession stores a new session in Redis.
func (s *SessionStore) CreateSession(ctx context.Context, session *SessionData, ttl time.Duration) error {
	if !s.cache.IsEnabled() {
		return nil
	}
	return s.cache.Set(ctx, cache.SessionKey(session.SessionID), session, ttl)
}

// GetSession retrieves a session from Redis.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*SessionData, error) {
	if !s.cache.IsEnabled() {
		return nil, nil
	}
	var session SessionData
	if err := s.cache.Get(ctx, cache.SessionKey(sessionID), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ValidateSession checks if a session exists and is valid.
func (s *SessionStore) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if !s.cache.IsEnabled() {
		return true, nil
	}
	return s.cache.Exists(ctx, cache.SessionKey(sessionID))
}

// DeleteSession removes a session from Redis (logout).
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if !s.cache.IsEnabled() {
		return nil
	}
	return s.cache.Delete(ctx, cache.SessionKey(sessionID))
}

// DeleteUserSessions removes all sessions for a specific user.
func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) error {
	if !s.cache.IsEnabled() {
		return nil
	}
	pattern := fmt.Sprintf("%s:user:%s:*", cache.PrefixSession, userID)
	return s.cache.DeletePattern(ctx, pattern)
}

// ClearAllSessions removes all sessions from Redis (force all users to re-login).
func (s *SessionStore) ClearAllSessions(ctx context.Context) error {
	if !s.cache.IsEnabled() {
		return nil
	}
	pattern := fmt.Sprintf("%s:*", cache.PrefixSession)
	return s.cache.DeletePattern(ctx, pattern)
}

// RefreshSession extends the TTL of an existing session.
func (s *SessionStore) RefreshSession(ctx context.Context, sessionID string, newExpiresAt time.Time) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.ExpiresAt = newExpiresAt

	ttl := time.Until(newExpiresAt)
	if ttl <= 0 {
		return s.DeleteSession(ctx, sessionID)
	}
	return s.cache.Set(ctx, cache.SessionKey(sessionID), session, ttl)
}

// IsEnabled returns whether session tracking is enabled.
func (s *SessionStore) IsEnabled() bool {
	return s.cache != nil && s.cache.IsEnabled()
}
