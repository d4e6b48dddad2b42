// Package auth provides authentication and authorization mechanisms for Relaygate.
// This file implements secure token generation and hashing for the gateway's
// one long-lived credential type: bootstrap-admin API tokens. bcrypt is used
// for these (intentionally slow, appropriate for a token validated rarely);
// a SHA256 path is also provided for callers that need fast, high-frequency
// lookups instead, such as short-lived session tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// TokenHasher handles secure token generation and hashing.
type TokenHasher struct {
	bcryptCost int
}

// NewTokenHasher creates a new token hasher.
func NewTokenHasher() *TokenHasher {
	return &TokenHasher{
		bcryptCost: bcrypt.DefaultCost,
	}
}

// GenerateSecureToken generates a cryptographically secure random token.
// Returns the plain token (for giving to the user) and the bcrypt hash (for
// storage).
func (t *TokenHasher) GenerateSecureToken(length int) (plainToken string, hashedToken string, err error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random token: %w", err)
	}
	plainToken = base64.URLEncoding.EncodeToString(bytes)

	hashedToken, err = t.HashToken(plainToken)
	if err != nil {
		return "", "", err
	}
	return plainToken, hashedToken, nil
}

// HashToken hashes a token using bcrypt for secure storage.
func (t *TokenHasher) HashToken(token string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(token), t.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hashedBytes), nil
}

// VerifyToken verifies a plain token against a bcrypt hash.
func (t *TokenHasher) VerifyToken(plainToken, hashedToken string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(plainToken))
	return err == nil
}

// HashTokenSHA256 hashes a token for fast, high-frequency lookups. Weaker
// than bcrypt against brute force, acceptable only for tokens that are
// themselves high-entropy and short-lived.
func (t *TokenHasher) HashTokenSHA256(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.URLEncoding.EncodeToString(hash[:])
}

// VerifyTokenSHA256 verifies a token against a SHA256 hash.
func (t *TokenHasher) VerifyTokenSHA256(plainToken, hashedToken string) bool {
	return t.HashTokenSHA256(plainToken) == hashedToken
}

// GenerateSessionToken generates a session-specific token (32 bytes of
// entropy) with its fast SHA256 hash.
func (t *TokenHasher) GenerateSessionToken() (plainToken string, hashedToken string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate session token: %w", err)
	}
	plainToken = base64.URLEncoding.EncodeToString(bytes)
	hashedToken = t.HashTokenSHA256(plainToken)
	return plainToken, hashedToken, nil
}

// GenerateAPIToken generates a long-lived API token (48 bytes of entropy)
// with its bcrypt hash.
func (t *TokenHasher) GenerateAPIToken() (plainToken string, hashedToken string, err error) {
	bytes := make([]byte, 48)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API token: %w", err)
	}
	plainToken = base64.URLEncoding.EncodeToString(bytes)

	hashedToken, err = t.HashToken(plainToken)
	if err != nil {
		return "", "", err
	}
	return plainToken, hashedToken, nil
}
