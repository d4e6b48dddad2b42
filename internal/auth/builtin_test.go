package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinUserStore_LoginSuccess(t *testing.T) {
	store, err := NewBuiltinUserStore("")
	require.NoError(t, err)

	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	store.CreateUser(&User{UserID: "u1", Username: "alice", PasswordHash: hash, Roles: []string{"user"}})

	sess, err := store.Login("alice", "correct-horse-battery-staple", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, []string{"user"}, sess.Roles)
}

func TestBuiltinUserStore_LoginWrongPassword(t *testing.T) {
	store, err := NewBuiltinUserStore("")
	require.NoError(t, err)

	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	store.CreateUser(&User{UserID: "u1", Username: "alice", PasswordHash: hash})

	_, err = store.Login("alice", "wrong-password", "", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBuiltinUserStore_LoginUnknownUser(t *testing.T) {
	store, err := NewBuiltinUserStore("")
	require.NoError(t, err)

	_, err = store.Login("nobody", "whatever", "", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBuiltinUserStore_BootstrapAdmin(t *testing.T) {
	store, err := NewBuiltinUserStore("bootstrap-secret")
	require.NoError(t, err)

	hash, err := HashPassword("initial-password")
	require.NoError(t, err)

	user, apiToken, err := store.BootstrapAdmin("bootstrap-secret", "root", hash)
	require.NoError(t, err)
	assert.Equal(t, "root", user.UserID)
	assert.Equal(t, []string{"admin"}, user.Roles)
	assert.NotEmpty(t, apiToken)

	sess, err := store.LoginWithAPIToken(apiToken, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "root", sess.UserID)
	assert.Equal(t, []string{"admin"}, sess.Roles)
}

func TestBuiltinUserStore_BootstrapAdmin_WrongSecret(t *testing.T) {
	store, err := NewBuiltinUserStore("bootstrap-secret")
	require.NoError(t, err)

	_, _, err = store.BootstrapAdmin("wrong-secret", "root", "hash")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBuiltinUserStore_BootstrapAdmin_NotConfigured(t *testing.T) {
	store, err := NewBuiltinUserStore("")
	require.NoError(t, err)

	_, _, err = store.BootstrapAdmin("anything", "root", "hash")
	assert.Error(t, err)
}

func TestBuiltinUserStore_LoginWithAPIToken_Invalid(t *testing.T) {
	store, err := NewBuiltinUserStore("bootstrap-secret")
	require.NoError(t, err)

	hash, err := HashPassword("initial-password")
	require.NoError(t, err)
	_, _, err = store.BootstrapAdmin("bootstrap-secret", "root", hash)
	require.NoError(t, err)

	_, err = store.LoginWithAPIToken("not-a-real-token", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
