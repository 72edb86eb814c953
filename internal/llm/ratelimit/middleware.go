// Package ratelimit throttles LLM calls with an in-memory token bucket per
// tenant and deployment.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

var (
	errInvalidRate  = errors.New("tokens_per_second must be greater than 0")
	errInvalidBurst = errors.New("burst_size must be greater than 0")
)

// Limiter holds one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      configuration.RateLimitConfig
	logger   *slog.Logger
}

// NewLimiter validates cfg and returns an empty Limiter.
func NewLimiter(cfg configuration.RateLimitConfig) (*Limiter, error) {
	if cfg.TokensPerSecond <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInvalidRate, cfg.TokensPerSecond)
	}
	if cfg.BurstSize <= 0 {
		return nil, fmt.Errorf("%w, got %d", errInvalidBurst, cfg.BurstSize)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
		logger:   slog.Default().With("component", "ratelimit"),
	}, nil
}

// NewRateLimitMiddleware returns a middleware that rejects calls exceeding the
// configured rate with a *RateLimitError carrying a retry hint.
func NewRateLimitMiddleware(cfg configuration.RateLimitConfig) (transport.Middleware, error) {
	l, err := NewLimiter(cfg)
	if err != nil {
		return nil, err
	}
	return l.Wrap, nil
}

// Wrap implements transport.Middleware.
func (l *Limiter) Wrap(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if err := l.Check(buildKey(req)); err != nil {
			l.logger.Debug("local rate limit exceeded", "deployment", req.Deployment, "error", err)
			return nil, err
		}
		return next.Handle(ctx, req)
	})
}

// buildKey scopes limits to tenant:provider:deployment.
func buildKey(req *transport.Request) string {
	return fmt.Sprintf("%s:%s:%s", req.TenantID, req.Provider, req.Deployment)
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.TokensPerSecond), l.cfg.BurstSize)
		l.limiters[key] = lim
	}
	return lim
}

// Check consumes a token for key or reports when one will be available.
func (l *Limiter) Check(key string) error {
	lim := l.limiterFor(key)
	if lim.Allow() {
		return nil
	}

	// Reserve and cancel to learn the delay without consuming capacity.
	reservation := lim.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	retryAfter := int(math.Ceil(delay.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &llmerrors.RateLimitError{
		Provider:   "local",
		Limit:      int(l.cfg.TokensPerSecond),
		RetryAfter: retryAfter,
		LocalLimit: true,
	}
}
