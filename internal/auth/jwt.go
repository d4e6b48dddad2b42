// Package auth provides authentication and authorization mechanisms for Relaygate.
// This file implements JWT authentication using HMAC-SHA256 signing: login
// issues a token via GenerateToken, the client presents it in auth.login's
// token field, and ValidateToken verifies signature, algorithm,
// expiration and not-before before trusting its claims.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/relaygate/gateway/internal/cache"
	"github.com/relaygate/gateway/internal/logger"
)

// JWTConfig holds JWT configuration. SecretKey must be cryptographically
// random and at least 256 bits; load it from the environment rather than
// hardcoding it.
type JWTConfig struct {
	SecretKey     string
	Issuer        string
	TokenDuration time.Duration
}

// Claims are Relaygate's custom JWT claims. The payload is base64-encoded,
// not encrypted, so it must never carry passwords, secrets, or other
// sensitive data beyond identity and role.
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Role     string   `json:"role"`
	Groups   []string `json:"groups,omitempty"`

	jwt.RegisteredClaims
}

// JWTManager handles JWT token operations.
type JWTManager struct {
	config       *JWTConfig
	sessionStore *SessionStore
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(config *JWTConfig) *JWTManager {
	if config.TokenDuration == 0 {
		config.TokenDuration = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "relaygate"
	}
	return &JWTManager{
		config: config,
	}
}

// SetSessionStore sets the session store for server-side session tracking.
func (m *JWTManager) SetSessionStore(store *SessionStore) {
	m.sessionStore = store
}

// NewJWTManagerWithSessions creates a new JWT manager with session tracking.
func NewJWTManagerWithSessions(config *JWTConfig, cacheClient *cache.Cache) *JWTManager {
	manager := NewJWTManager(config)
	manager.sessionStore = NewSessionStore(cacheClient)
	return manager
}

// GetSessionStore returns the session store.
func (m *JWTManager) GetSessionStore() *SessionStore {
	return m.sessionStore
}

// GenerateToken generates a new signed JWT for a user.
func (m *JWTManager) GenerateToken(userID, username, email, role string, groups []string) (string, error) {
	return m.GenerateTokenWithContext(context.Background(), userID, username, email, role, groups, "", "")
}

// GenerateTokenWithContext generates a new JWT token and, when a session
// store is configured, records the session for later revocation.
func (m *JWTManager) GenerateTokenWithContext(ctx context.Context, userID, username, email, role string, groups []string, ipAddress, userAgent string) (string, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.TokenDuration)

	sessionID, err := GenerateSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}

	claims := &Claims{
		UserID:   userID,
		Username: username,
		Email:    email,
		Role:     role,
		Groups:   groups,

		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Issuer:    m.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	// Explicitly HS256: never accept "alg": "none" or an asymmetric method.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(m.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	if m.sessionStore != nil && m.sessionStore.IsEnabled() {
		session := &SessionData{
			SessionID: sessionID,
			UserID:    userID,
			Username:  username,
			Role:      role,
			CreatedAt: now,
			ExpiresAt: expiresAt,
			IPAddress: ipAddress,
			UserAgent: userAgent,
		}

		if err := m.sessionStore.CreateSession(ctx, session, m.config.TokenDuration); err != nil {
			logger.Security().Warn().Err(err).Str("sessionId", sessionID).Msg("failed to store session")
		}
	}

	return tokenString, nil
}

// InvalidateSession invalidates a session by its ID (logout).
func (m *JWTManager) InvalidateSession(ctx context.Context, sessionID string) error {
	if m.sessionStore == nil {
		return nil
	}
	return m.sessionStore.DeleteSession(ctx, sessionID)
}

// InvalidateUserSessions invalidates all sessions for a user.
func (m *JWTManager) InvalidateUserSessions(ctx context.Context, userID string) error {
	if m.sessionStore == nil {
		return nil
	}
	return m.sessionStore.DeleteUserSessions(ctx, userID)
}

// ValidateSession checks if a session is valid (exists in the session store).
func (m *JWTManager) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if m.sessionStore == nil {
		return true, nil
	}
	return m.sessionStore.ValidateSession(ctx, sessionID)
}

// ClearAllSessions clears all sessions (forces re-login on restart).
func (m *JWTManager) ClearAllSessions(ctx context.Context) error {
	if m.sessionStore == nil {
		return nil
	}
	return m.sessionStore.ClearAllSessions(ctx)
}

// ValidateToken parses and validates a JWT, rejecting anything not signed
// with HMAC to block algorithm-substitution attacks ("none" or RS256 with
// the HMAC secret reused as an RSA public key).
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.SecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// refreshWindow bounds how early a token may be renewed: a token with more
// than 7 days of validity left is refused. Each refresh issues a token with
// the full configured TokenDuration, so refreshes can be chained.
const refreshWindow = 7 * 24 * time.Hour

// RefreshToken validates tokenString and, if it falls within the refresh
// window, issues a new token carrying the same claims with fresh timestamps.
func (m *JWTManager) RefreshToken(tokenString string) (string, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}

	timeRemaining := time.Until(claims.ExpiresAt.Time)
	if timeRemaining < 0 {
		return "", errors.New("token has already expired")
	}
	if timeRemaining > refreshWindow {
		return "", errors.New("token not eligible for refresh yet (more than 7 days remaining)")
	}

	return m.GenerateToken(claims.UserID, claims.Username, claims.Email, claims.Role, claims.Groups)
}

// ExtractUserID fully validates a token and returns its user ID.
func (m *JWTManager) ExtractUserID(tokenString string) (string, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// GetTokenDuration returns the configured token duration.
func (m *JWTManager) GetTokenDuration() time.Duration {
	return m.config.TokenDuration
}
