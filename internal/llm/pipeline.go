// Package llm assembles the resilient handler pipeline that evaluator flows
// use for every Azure OpenAI call.
//
// Call-level middleware runs once per logical call:
//   - observability (logging, metrics)
//   - recording (record/replay)
//   - cache (Redis)
//   - circuit breaker
//
// Retry wraps the attempt-level stack, which holds the local rate limiter and
// the HTTP handler itself.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-flowevals/internal/llm/cache"
	"github.com/ahrav/go-flowevals/internal/llm/circuitbreaker"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	"github.com/ahrav/go-flowevals/internal/llm/observability"
	"github.com/ahrav/go-flowevals/internal/llm/providers"
	"github.com/ahrav/go-flowevals/internal/llm/ratelimit"
	"github.com/ahrav/go-flowevals/internal/llm/retry"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
	"github.com/ahrav/go-flowevals/internal/recording"
)

// HTTP transport tuning for the default client.
const (
	DefaultMaxIdleConns       = 100
	DefaultIdleTimeoutSeconds = 90
	DefaultTLSTimeoutSeconds  = 10
)

// Pipeline is a transport.Handler composed from configuration.
type Pipeline struct {
	handler  transport.Handler
	retry    *retry.Middleware
	cache    *cache.Middleware
	breakers *circuitbreaker.Breakers
	metrics  *observability.Metrics
	mode     recording.Mode
}

// Option customizes NewPipeline.
type Option func(*pipelineOptions)

type pipelineOptions struct {
	httpClient  *http.Client
	credential  azcore.TokenCredential
	registerer  prometheus.Registerer
	logger      *slog.Logger
	redis       cache.Client
	storage     *recording.Storage
	mode        *recording.Mode
	recordFile  string
	baseHandler transport.Handler
}

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *pipelineOptions) { o.httpClient = c }
}

// WithTokenCredential enables Entra ID authentication for connections that ask for it.
func WithTokenCredential(cred azcore.TokenCredential) Option {
	return func(o *pipelineOptions) { o.credential = cred }
}

// WithRegisterer registers pipeline metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *pipelineOptions) { o.registerer = reg }
}

// WithLogger sets the logger used by the observability middleware.
func WithLogger(l *slog.Logger) Option {
	return func(o *pipelineOptions) { o.logger = l }
}

// WithRedisClient supplies the cache client instead of dialing cfg.Cache.RedisAddr.
func WithRedisClient(c cache.Client) Option {
	return func(o *pipelineOptions) { o.redis = c }
}

// WithRecording overrides the recording mode and file from configuration.
// A nil storage gets a fresh one.
func WithRecording(storage *recording.Storage, mode recording.Mode, file string) Option {
	return func(o *pipelineOptions) {
		o.storage = storage
		o.mode = &mode
		o.recordFile = file
	}
}

// WithBaseHandler replaces the HTTP handler at the bottom of the chain.
func WithBaseHandler(h transport.Handler) Option {
	return func(o *pipelineOptions) { o.baseHandler = h }
}

// NewPipeline builds the handler chain described by cfg.
func NewPipeline(ctx context.Context, cfg *configuration.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	var o pipelineOptions
	for _, opt := range opts {
		opt(&o)
	}

	mode, err := recording.ParseMode(cfg.Recording.Mode)
	if err != nil {
		return nil, fmt.Errorf("invalid recording config: %w", err)
	}
	file := cfg.Recording.File
	if o.mode != nil {
		mode, file = *o.mode, o.recordFile
	}
	storage := o.storage
	if storage == nil {
		storage = recording.NewStorage()
	}

	base := o.baseHandler
	if base == nil {
		var routerOpts []providers.RouterOption
		if o.credential != nil {
			routerOpts = append(routerOpts, providers.WithAzureOptions(providers.WithTokenCredential(o.credential)))
		}
		router, err := providers.NewRouter(cfg.Providers, routerOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize router: %w", err)
		}
		base = transport.NewHTTPHandler(httpClient(cfg, o.httpClient), router)
	}

	p := &Pipeline{mode: mode}

	// Attempt-level middleware runs on every retry attempt.
	var attempt []transport.Middleware
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewLimiter(cfg.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		attempt = append(attempt, limiter.Wrap)
	}

	p.retry, err = retry.New(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}
	retried := p.retry.Wrap(transport.Chain(base, attempt...))

	// Call-level middleware runs once per logical call.
	p.metrics = observability.NewMetrics(o.registerer)
	call := []transport.Middleware{
		observability.NewLoggingMiddleware(cfg.Observability, o.logger, p.metrics),
		recording.NewMiddleware(storage, mode, file),
	}

	if cfg.Cache.Enabled || o.redis != nil {
		p.cache, err = cache.NewCacheMiddlewareWithRedis(ctx, cfg.Cache, o.redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		call = append(call, p.cache.Wrap)
	}

	if cfg.CircuitBreaker.Enabled {
		p.breakers = circuitbreaker.New(cfg.CircuitBreaker)
		call = append(call, p.breakers.Wrap)
	}

	p.handler = transport.Chain(retried, call...)
	return p, nil
}

func httpClient(cfg *configuration.Config, override *http.Client) *http.Client {
	if override != nil {
		return override
	}
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          DefaultMaxIdleConns,
			IdleConnTimeout:       DefaultIdleTimeoutSeconds * time.Second,
			TLSHandshakeTimeout:   DefaultTLSTimeoutSeconds * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.HTTPTimeout,
	}
}

// Handle implements transport.Handler.
func (p *Pipeline) Handle(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return p.handler.Handle(ctx, req)
}

// RecordingMode reports the active record/replay mode.
func (p *Pipeline) RecordingMode() recording.Mode { return p.mode }

// RetryStats returns retry counters.
func (p *Pipeline) RetryStats() retry.Stats { return p.retry.Stats() }

// CacheStats returns cache counters, or a zero value when caching is off.
func (p *Pipeline) CacheStats() cache.Stats {
	if p.cache == nil {
		return cache.Stats{}
	}
	return p.cache.Stats()
}

// BreakerState returns the circuit state for a deployment. It reports
// closed when the breaker is disabled.
func (p *Pipeline) BreakerState(provider, deployment string) circuitbreaker.CircuitState {
	if p.breakers == nil {
		return circuitbreaker.StateClosed
	}
	return p.breakers.State(provider, deployment)
}
