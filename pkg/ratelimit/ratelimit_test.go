package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurst(t *testing.T) {
	tb := NewTokenBucket(1, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.Equal(t, 0, tb.GetRemaining())
	assert.True(t, tb.GetResetTime().After(time.Now()))
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(0.1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tb.Wait(ctx))
}

func TestRegistryLazyFactory(t *testing.T) {
	created := 0
	r := NewRegistry(func(name string) RateLimiter {
		created++
		return NewTokenBucket(100, 10)
	})
	require.NoError(t, r.Wait(context.Background(), "live"))
	require.NoError(t, r.Wait(context.Background(), "live"))
	assert.Equal(t, 1, created)

	r.Set("demo", NewTokenBucket(1, 1))
	assert.NotNil(t, r.Get("demo"))
	assert.Equal(t, 1, created)

	empty := NewRegistry(nil)
	assert.NoError(t, empty.Wait(context.Background(), "x"))
}
