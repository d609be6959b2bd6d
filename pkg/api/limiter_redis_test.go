package api

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// TestRedisLimiter_Integration requires a running Redis on localhost:6379.
func TestRedisLimiter_Integration(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	limiter := NewRedisLimiterWithClient(rdb, 1, 1)
	key := "test-" + uuid.NewString()

	allowed, err := limiter.Allow(context.Background(), key)
	require.NoError(t, err)
	require.True(t, allowed, "fresh bucket")

	allowed, err = limiter.Allow(context.Background(), key)
	require.NoError(t, err)
	require.False(t, allowed, "burst exhausted")

	time.Sleep(1100 * time.Millisecond)
	allowed, err = limiter.Allow(context.Background(), key)
	require.NoError(t, err)
	require.True(t, allowed, "refilled")
}
