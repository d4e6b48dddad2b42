package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/cache"
)

func disabledCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.Config{Enabled: false})
	require.NoError(t, err)
	return c
}

func TestSessionStore_DisabledIsNoOp(t *testing.T) {
	store := NewSessionStore(disabledCache(t))
	assert.False(t, store.IsEnabled())

	ctx := context.Background()
	sess := &SessionData{SessionID: "s1", UserID: "u1"}

	require.NoError(t, store.CreateSession(ctx, sess, time.Hour))

	ok, err := store.ValidateSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok, "session tracking disabled treats every session as valid")

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	require.NoError(t, store.DeleteUserSessions(ctx, "u1"))
	require.NoError(t, store.ClearAllSessions(ctx))
}

func TestGenerateSessionID_Unique(t *testing.T) {
	a, err := GenerateSessionID()
	require.NoError(t, err)
	b, err := GenerateSessionID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64) // 32 bytes hex-encoded
}
