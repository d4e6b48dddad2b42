package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *JWTManager {
	return NewJWTManager(&JWTConfig{
		SecretKey:     "test-secret-key-at-least-32-bytes-long",
		Issuer:        "relaygate-test",
		TokenDuration: time.Hour,
	})
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := testManager()

	tok, err := m.GenerateToken("u1", "alice", "alice@example.com", "admin", []string{"team-a"})
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := m.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, []string{"team-a"}, claims.Groups)
	assert.Equal(t, "relaygate-test", claims.Issuer)
}

func TestValidateToken_RejectsTampered(t *testing.T) {
	m := testManager()
	tok, err := m.GenerateToken("u1", "alice", "alice@example.com", "user", nil)
	require.NoError(t, err)

	_, err = m.ValidateToken(tok + "x")
	assert.Error(t, err)
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	m := testManager()
	tok, err := m.GenerateToken("u1", "alice", "alice@example.com", "user", nil)
	require.NoError(t, err)

	other := NewJWTManager(&JWTConfig{SecretKey: "a-different-secret-key-32-bytes!"})
	_, err = other.ValidateToken(tok)
	assert.Error(t, err)
}

func TestExtractUserID(t *testing.T) {
	m := testManager()
	tok, err := m.GenerateToken("u42", "bob", "bob@example.com", "user", nil)
	require.NoError(t, err)

	id, err := m.ExtractUserID(tok)
	require.NoError(t, err)
	assert.Equal(t, "u42", id)
}

func TestRefreshToken_TooEarly(t *testing.T) {
	m := NewJWTManager(&JWTConfig{
		SecretKey:     "test-secret-key-at-least-32-bytes-long",
		TokenDuration: 8 * 24 * time.Hour, // more than 7 days left, outside the refresh window
	})
	tok, err := m.GenerateToken("u1", "alice", "alice@example.com", "user", nil)
	require.NoError(t, err)

	_, err = m.RefreshToken(tok)
	assert.Error(t, err)
}

func TestRefreshToken_WithinWindow(t *testing.T) {
	m := NewJWTManager(&JWTConfig{
		SecretKey:     "test-secret-key-at-least-32-bytes-long",
		TokenDuration: 6 * 24 * time.Hour, // inside the 7-day refresh window
	})
	tok, err := m.GenerateToken("u1", "alice", "alice@example.com", "operator", []string{"team-a"})
	require.NoError(t, err)

	refreshed, err := m.RefreshToken(tok)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed)

	claims, err := m.ValidateToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "operator", claims.Role)
}

func TestGetTokenDuration(t *testing.T) {
	m := testManager()
	assert.Equal(t, time.Hour, m.GetTokenDuration())
}

func TestNewJWTManager_Defaults(t *testing.T) {
	m := NewJWTManager(&JWTConfig{SecretKey: "x"})
	assert.Equal(t, "relaygate", m.config.Issuer)
	assert.Equal(t, 24*time.Hour, m.config.TokenDuration)
}
