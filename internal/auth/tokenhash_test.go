package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenHasher_GenerateAndVerify(t *testing.T) {
	h := NewTokenHasher()

	plain, hashed, err := h.GenerateAPIToken()
	require.NoError(t, err)
	assert.NotEmpty(t, plain)
	assert.NotEmpty(t, hashed)
	assert.True(t, h.VerifyToken(plain, hashed))
	assert.False(t, h.VerifyToken("wrong-token", hashed))
}

func TestTokenHasher_SessionToken(t *testing.T) {
	h := NewTokenHasher()

	plain, hashed, err := h.GenerateSessionToken()
	require.NoError(t, err)
	assert.True(t, h.VerifyTokenSHA256(plain, hashed))
	assert.False(t, h.VerifyTokenSHA256("wrong-token", hashed))
}

func TestTokenHasher_GenerateSecureToken(t *testing.T) {
	h := NewTokenHasher()

	plain, hashed, err := h.GenerateSecureToken(24)
	require.NoError(t, err)
	assert.NotEmpty(t, plain)
	assert.True(t, h.VerifyToken(plain, hashed))
}
