// Package errors defines the typed failures produced along the LLM pipeline
// and the classification rules used to decide whether a call is retried.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType categorizes LLM operation failures for retry classification.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates a 429 or a local limiter rejection (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates network connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates the Azure OpenAI service is unavailable (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeCircuitBreaker indicates circuit breaker protection activated (retryable).
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"

	// ErrorTypeValidation indicates input validation failed.
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeContent indicates content blocked by the provider's content filter.
	ErrorTypeContent ErrorType = "content_filtered"

	// ErrorTypeAuth indicates authentication failed.
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates insufficient permissions.
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeQuota indicates account quota exceeded.
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeRecording indicates a replay lookup found no recorded result.
	ErrorTypeRecording ErrorType = "recording_missing"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common LLM operation errors.
var (
	ErrProviderUnavailable = errors.New("provider service unavailable")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrCircuitBreakerOpen  = errors.New("circuit breaker open")
	ErrCacheMiss           = errors.New("cache miss")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrInvalidResponse     = errors.New("invalid provider response")
	ErrMaxRetriesExceeded  = errors.New("maximum retries exceeded")
)

// ProviderError captures structured error responses from Azure OpenAI.
// Includes HTTP status codes, provider error codes, and retry timing.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // Retry-After header value in seconds
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the error type is transient.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// GetRetryAfter implements the retry package's RetryAfterProvider.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError provides rate limit context for backoff calculation.
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"` // Seconds to wait before retry
	Limit      int    `json:"limit"`
	LocalLimit bool   `json:"local_limit"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// GetRetryAfter implements the retry package's RetryAfterProvider.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// CircuitBreakerError indicates the breaker for a deployment rejected the call.
type CircuitBreakerError struct {
	Provider   string `json:"provider"`
	Deployment string `json:"deployment"`
	State      string `json:"state"`    // "open" or "half-open"
	ResetAt    int64  `json:"reset_at"` // Unix timestamp when breaker might close
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s/%s", e.State, e.Provider, e.Deployment)
}

// Unwrap lets callers match ErrCircuitBreakerOpen.
func (e *CircuitBreakerError) Unwrap() error { return ErrCircuitBreakerOpen }

// ValidationError captures input validation failures with field context.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsRetryableError determines if an error warrants another attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.ShouldRetry()
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}

	if errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	type statusCoder interface {
		StatusCode() int
	}
	if sc, ok := err.(statusCoder); ok {
		code := sc.StatusCode()
		return code == http.StatusTooManyRequests ||
			code == http.StatusRequestTimeout ||
			code == http.StatusGatewayTimeout ||
			code >= 500
	}

	// Unknown errors are not retried.
	return false
}

// IsRateLimitError identifies rate limiting errors for backoff handling.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.Type == ErrorTypeRateLimit
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Type == ErrorTypeRateLimit
	}

	return errors.Is(err, ErrRateLimitExceeded)
}

// GetRetryAfter extracts the retry-after hint in seconds, or 0.
func GetRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.RetryAfter
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.RetryAfter
	}

	return 0
}
