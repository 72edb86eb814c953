package configuration

import (
	"time"
)

// Provider identifiers used as keys in Config.Providers.
const (
	ProviderAzureOpenAI = "azure_openai"
)

// HTTP and connection constants.
const (
	DefaultHTTPTimeoutSeconds = 60
)

// Retry and circuit breaker constants.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxElapsedTime    = 2 * time.Minute
	DefaultInitialInterval   = 500 * time.Millisecond
	DefaultMaxInterval       = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultFailureThreshold  = 5
	DefaultSuccessThreshold  = 2
	DefaultOpenTimeout       = 30 * time.Second
)

// Rate limiting constants.
const (
	DefaultTokensPerSecond = 10
	DefaultBurstSize       = 20
)

// Cache and observability constants.
const (
	DefaultCacheTTL    = 24 * time.Hour
	DefaultMetricsAddr = ":9090"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// DefaultConfig returns configuration with production defaults. The cache is
// off until a Redis address is supplied.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Providers: map[string]ProviderConfig{
			ProviderAzureOpenAI: {},
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			MaxElapsedTime:  DefaultMaxElapsedTime,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: DefaultSuccessThreshold,
			OpenTimeout:      DefaultOpenTimeout,
			HalfOpenProbes:   1,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			TokensPerSecond: DefaultTokensPerSecond,
			BurstSize:       DefaultBurstSize,
		},
		Cache: CacheConfig{
			Enabled: false,
			TTL:     DefaultCacheTTL,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsAddr:    DefaultMetricsAddr,
			LogLevel:       DefaultLogLevel,
			LogFormat:      DefaultLogFormat,
			RedactPrompts:  true,
		},
	}
}
