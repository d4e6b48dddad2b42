package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_NilWhenUnconfigured(t *testing.T) {
	var l *Limiter
	d := l.Consume(context.Background(), "any")
	assert.True(t, d.Allowed)
}

func TestLimiter_ZeroConfigDisabled(t *testing.T) {
	l := New(Config{})
	assert.Nil(t, l)
}

func TestLimiter_AllowsUpToMax(t *testing.T) {
	l := New(Config{MaxRequests: 3, Window: time.Minute})
	require.NotNil(t, l)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d := l.Consume(ctx, "ip:1.2.3.4")
		assert.True(t, d.Allowed, "request %d should be allowed", i)
	}
	d := l.Consume(ctx, "ip:1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfterMs, int64(0))
	assert.LessOrEqual(t, d.RetryAfterMs, time.Minute.Milliseconds())
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: time.Minute})
	ctx := context.Background()
	assert.True(t, l.Consume(ctx, "userA").Allowed)
	assert.False(t, l.Consume(ctx, "userA").Allowed)
	assert.True(t, l.Consume(ctx, "userB").Allowed, "a fresh key is not affected by another key's usage")
}
