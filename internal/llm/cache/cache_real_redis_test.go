//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
)

// setupRedisContainer starts a throwaway Redis and returns a connected client.
func setupRedisContainer(t *testing.T) *redis.Client {
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestCache_RealRedis(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()

	m, err := NewCacheMiddlewareWithRedis(ctx, configuration.CacheConfig{Enabled: true, TTL: time.Minute}, client)
	require.NoError(t, err)

	calls := 0
	h := m.Wrap(countingHandler(&calls))
	req := cacheRequest()
	req.IdempotencyKey = "integration"

	_, err = h.Handle(ctx, req)
	require.NoError(t, err)
	resp, err := h.Handle(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "5", resp.Content)

	ttl, err := client.TTL(ctx, "llm:t1:integration").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
