package errors

import (
	"errors"
	"strings"
)

// ClassifyLLMError transforms a pipeline error into a WorkflowError.
// Typed errors win over sentinels, which win over message patterns.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	var existing *WorkflowError
	if errors.As(err, &existing) {
		return existing
	}

	if workflowErr := classifyTypedErrors(err); workflowErr != nil {
		return workflowErr
	}

	if workflowErr := classifySentinelErrors(err); workflowErr != nil {
		return workflowErr
	}

	return classifyStringPatternErrors(err)
}

// classifyTypedErrors handles strongly-typed error classification.
// Processes ProviderError, RateLimitError, CircuitBreakerError and
// ValidationError with retry guidance and context details.
func classifyTypedErrors(err error) *WorkflowError {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return &WorkflowError{
			Type:      providerErr.Type,
			Message:   providerErr.Message,
			Code:      providerErr.Code,
			Retryable: providerErr.IsRetryable(),
			Details: map[string]any{
				"provider":    providerErr.Provider,
				"status_code": providerErr.StatusCode,
			},
			Cause: err,
		}
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   rateLimitErr.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details: map[string]any{
				"provider":    rateLimitErr.Provider,
				"retry_after": rateLimitErr.RetryAfter,
				"local":       rateLimitErr.LocalLimit,
			},
			Cause: err,
		}
	}

	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return &WorkflowError{
			Type:      ErrorTypeCircuitBreaker,
			Message:   cbErr.Error(),
			Code:      "CIRCUIT_BREAKER",
			Retryable: true,
			Details: map[string]any{
				"provider":   cbErr.Provider,
				"deployment": cbErr.Deployment,
				"state":      cbErr.State,
			},
			Cause: err,
		}
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &WorkflowError{
			Type:      ErrorTypeValidation,
			Message:   valErr.Error(),
			Code:      "VALIDATION",
			Retryable: false,
			Details:   map[string]any{"field": valErr.Field},
			Cause:     err,
		}
	}

	return nil
}

// classifySentinelErrors handles sentinel error classification using
// errors.Is for rate limits, open circuits, provider availability and
// exhausted retries.
func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   err.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrCircuitBreakerOpen):
		return &WorkflowError{
			Type:      ErrorTypeCircuitBreaker,
			Message:   err.Error(),
			Code:      "CIRCUIT_BREAKER",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrProviderUnavailable):
		return &WorkflowError{
			Type:      ErrorTypeProvider,
			Message:   err.Error(),
			Code:      "PROVIDER_UNAVAILABLE",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrMaxRetriesExceeded):
		return &WorkflowError{
			Type:      ErrorTypeProvider,
			Message:   err.Error(),
			Code:      "MAX_RETRIES",
			Retryable: false,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	}

	return nil
}

// classifyStringPatternErrors falls back to message matching for untyped errors.
func classifyStringPatternErrors(err error) *WorkflowError {
	errMsg := strings.ToLower(err.Error())

	wf := &WorkflowError{
		Details: map[string]any{"original_error": err.Error()},
		Cause:   err,
	}
	switch {
	case strings.Contains(errMsg, "rate limit"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeRateLimit, "Rate limit exceeded", "RATE_LIMIT", true
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeTimeout, "Request timeout", "TIMEOUT", true
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "authentication"):
		wf.Type, wf.Message, wf.Code = ErrorTypeAuth, "Authentication failed", "AUTH_FAILED"
	case strings.Contains(errMsg, "forbidden") || strings.Contains(errMsg, "permission"):
		wf.Type, wf.Message, wf.Code = ErrorTypePermission, "Permission denied", "PERMISSION_DENIED"
	case strings.Contains(errMsg, "quota"):
		wf.Type, wf.Message, wf.Code = ErrorTypeQuota, "Quota exceeded", "QUOTA_EXCEEDED"
	case strings.Contains(errMsg, "network") || strings.Contains(errMsg, "connection"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeNetwork, "Network error", "NETWORK_ERROR", true
	default:
		wf.Type, wf.Message, wf.Code = ErrorTypeUnknown, "Unknown error", "UNKNOWN"
	}
	return wf
}
