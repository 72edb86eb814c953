// Package cache stores successful LLM responses in Redis keyed by the
// request's idempotency key, so identical prompts are answered once.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

const (
	defaultPoolSize   = 10
	connectionTimeout = 5 * time.Second
)

// Client is the subset of the go-redis API the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Middleware caches responses in Redis. Redis failures never fail a request.
type Middleware struct {
	client  Client
	ttl     time.Duration
	enabled bool
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewCacheMiddlewareWithRedis creates the cache middleware. When client is nil
// and caching is enabled a client is dialed from cfg; if Redis does not answer
// a ping the cache is disabled and requests pass straight through.
func NewCacheMiddlewareWithRedis(ctx context.Context, cfg configuration.CacheConfig, client Client) (*Middleware, error) {
	logger := slog.Default().With("component", "cache")

	if client == nil && cfg.Enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: defaultPoolSize,
		})

		timeoutCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		defer cancel()

		if err := rc.Ping(timeoutCtx).Err(); err != nil {
			logger.Warn("Redis connection failed, cache disabled", "error", err)
			cfg.Enabled = false
		}
		client = rc
	}

	return &Middleware{
		client:  client,
		ttl:     cfg.TTL,
		enabled: cfg.Enabled && client != nil,
		logger:  logger,
	}, nil
}

// Wrap implements transport.Middleware.
func (c *Middleware) Wrap(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if !c.enabled {
			return next.Handle(ctx, req)
		}

		key, err := c.buildKey(ctx, req)
		if err != nil {
			c.logger.Warn("cache key validation failed", "error", err)
			return next.Handle(ctx, req)
		}

		cached, err := c.get(ctx, key)
		switch {
		case err == nil:
			c.hits.Add(1)
			c.logger.Debug("cache hit", "key", key, "deployment", req.Deployment)
			return cached, nil
		case errors.Is(err, redis.Nil):
			c.misses.Add(1)
		default:
			c.errors.Add(1)
			c.logger.Warn("cache get error", "error", err, "key", key)
		}

		resp, err := next.Handle(ctx, req)
		if err != nil {
			return nil, err
		}

		if setErr := c.set(ctx, key, resp, req); setErr != nil {
			c.errors.Add(1)
			c.logger.Warn("cache set error", "error", setErr, "key", key)
		}
		return resp, nil
	})
}
