package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

// buildKey uses the caller's idempotency key when present and otherwise
// derives one from the canonical request payload.
func (c *Middleware) buildKey(ctx context.Context, req *transport.Request) (string, error) {
	tenant := req.TenantID
	if tenant == "" {
		tenant = transport.ExtractTenantID(ctx)
	}

	if req.IdempotencyKey != "" {
		return transport.CacheKey(tenant, transport.IdemKey(req.IdempotencyKey)), nil
	}

	keyed := *req
	keyed.TenantID = tenant
	idem, err := transport.GenerateIdemKey(&keyed)
	if err != nil {
		return "", err
	}
	return transport.CacheKey(tenant, idem), nil
}

// get returns redis.Nil for misses and for corrupted entries, which are removed.
func (c *Middleware) get(ctx context.Context, key string) (*transport.Response, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var entry transport.IdempotentCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Error("cache unmarshal error", "error", err, "key", key)
		_ = c.client.Del(ctx, key).Err()
		return nil, redis.Nil
	}

	return entryToResponse(&entry), nil
}

func (c *Middleware) set(ctx context.Context, key string, resp *transport.Response, req *transport.Request) error {
	data, err := json.Marshal(responseToEntry(resp, req))
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func responseToEntry(resp *transport.Response, req *transport.Request) *transport.IdempotentCacheEntry {
	essential := make(map[string]string)
	for _, h := range []string{"Content-Type", "Apim-Request-Id", "X-Request-Id"} {
		if v := resp.Headers.Get(h); v != "" {
			essential[h] = v
		}
	}

	return &transport.IdempotentCacheEntry{
		Provider:        req.Provider,
		Deployment:      req.Deployment,
		Content:         resp.Content,
		FinishReason:    string(resp.FinishReason),
		RequestIDs:      resp.ProviderRequestIDs,
		ResponseHeaders: essential,
		Usage:           resp.Usage,
		StoredAtUnixMs:  time.Now().UnixMilli(),
	}
}

func entryToResponse(entry *transport.IdempotentCacheEntry) *transport.Response {
	headers := make(http.Header, len(entry.ResponseHeaders))
	for k, v := range entry.ResponseHeaders {
		headers.Set(k, v)
	}

	return &transport.Response{
		Content:            entry.Content,
		FinishReason:       domain.FinishReason(entry.FinishReason),
		ProviderRequestIDs: entry.RequestIDs,
		Usage:              entry.Usage,
		Headers:            headers,
	}
}
