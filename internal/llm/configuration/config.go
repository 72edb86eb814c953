// Package configuration holds the settings for the LLM pipeline, the
// record/replay shim, and the trace store.
package configuration

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the configuration for every LLM call made by an evaluator flow.
type Config struct {
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`
	HTTPClient  *http.Client  `json:"-" yaml:"-"`

	// Providers are keyed by provider name, e.g. "azure_openai".
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`

	Retry          RetryConfig          `json:"retry" yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	Cache          CacheConfig          `json:"cache" yaml:"cache"`
	Observability  ObservabilityConfig  `json:"observability" yaml:"observability"`
	Recording      RecordingConfig      `json:"recording" yaml:"recording"`
	TraceStore     TraceStoreConfig     `json:"trace_store" yaml:"trace_store"`
}

// ProviderConfig holds endpoint and credentials for a provider. Per-request
// connections on transport.Request take precedence over these values.
type ProviderConfig struct {
	Endpoint   string            `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	APIKey     string            `json:"-" yaml:"api_key"` // Sensitive, not serialized
	APIVersion string            `json:"api_version" yaml:"api_version"`
	Timeout    time.Duration     `json:"timeout" yaml:"timeout"`
	Headers    map[string]string `json:"headers" yaml:"headers"`
}

// RetryConfig controls exponential backoff with jitter for failed calls.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	MaxElapsedTime  time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier" validate:"gte=1"`
	UseJitter       bool          `json:"use_jitter" yaml:"use_jitter"`
}

// CircuitBreakerConfig controls the per-deployment breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold" validate:"gte=1"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout"`
	HalfOpenProbes   int           `json:"half_open_probes" yaml:"half_open_probes" validate:"gte=1"`
}

// RateLimitConfig configures the in-memory token bucket per deployment.
type RateLimitConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	TokensPerSecond float64 `json:"tokens_per_second" yaml:"tokens_per_second" validate:"gt=0"`
	BurstSize       int     `json:"burst_size" yaml:"burst_size" validate:"gte=1"`
}

// CacheConfig controls the Redis response cache.
type CacheConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	TTL           time.Duration `json:"ttl" yaml:"ttl"`
	RedisAddr     string        `json:"redis_addr" yaml:"redis_addr" validate:"required_if=Enabled true"`
	RedisPassword string        `json:"-" yaml:"redis_password"` // Sensitive field excluded from JSON.
	RedisDB       int           `json:"redis_db" yaml:"redis_db"`
}

// ObservabilityConfig controls metrics and logging.
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr" yaml:"metrics_addr"`
	LogLevel       string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat      string `json:"log_format" yaml:"log_format" validate:"omitempty,oneof=json text"`
	RedactPrompts  bool   `json:"redact_prompts" yaml:"redact_prompts"`
}

// RecordingConfig selects the record/replay mode and the record file.
type RecordingConfig struct {
	// Mode is "record", "replay", or empty for live calls.
	Mode string `json:"mode" yaml:"mode" validate:"omitempty,oneof=record replay"`
	File string `json:"file" yaml:"file" validate:"required_with=Mode"`
}

// TraceStoreConfig locates the Cosmos DB container and blob container that
// receive persisted spans.
type TraceStoreConfig struct {
	CosmosEndpoint  string `json:"cosmos_endpoint" yaml:"cosmos_endpoint" validate:"omitempty,url"`
	Database        string `json:"database" yaml:"database" validate:"required_with=CosmosEndpoint"`
	Container       string `json:"container" yaml:"container" validate:"required_with=CosmosEndpoint"`
	BlobServiceURL  string `json:"blob_service_url" yaml:"blob_service_url" validate:"omitempty,url"`
	BlobContainer   string `json:"blob_container" yaml:"blob_container" validate:"required_with=BlobServiceURL"`
	BlobBaseURI     string `json:"blob_base_uri" yaml:"blob_base_uri"`
	CreatedByObject string `json:"created_by" yaml:"created_by"`
}

// Enabled reports whether both stores are configured.
func (t TraceStoreConfig) Enabled() bool {
	return t.CosmosEndpoint != "" && t.BlobServiceURL != ""
}
