package errors

import "fmt"

// WorkflowError carries the classification of a failure across the activity
// boundary: retry guidance, a stable code, and structured details for logs.
type WorkflowError struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details"`
	Cause     error          `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As compatibility.
func (e *WorkflowError) Unwrap() error { return e.Cause }

// ShouldRetry returns the explicit retry recommendation.
func (e *WorkflowError) ShouldRetry() bool { return e.Retryable }

// IsRetryable determines retry eligibility from the type alone.
func (e *WorkflowError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider, ErrorTypeCircuitBreaker:
		return true
	default:
		return false
	}
}
