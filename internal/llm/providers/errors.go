package providers

import (
	"errors"
	"net/http"
	"strings"

	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
)

// Provider adapter errors.
var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrMissingEndpoint      = errors.New("no endpoint configured")
	ErrMissingDeployment    = errors.New("no deployment specified")
	ErrMissingCredential    = errors.New("no api key or token credential configured")
)

// ServerErrorStatusThreshold defines the HTTP status code threshold for server errors.
const ServerErrorStatusThreshold = 500

// classifyErrorType determines ErrorType from HTTP status and provider error codes.
// Azure reports content filtering as a 400 with code "content_filter", which
// must not be retried.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "content_filter"):
		return llmerrors.ErrorTypeContent
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return llmerrors.ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return llmerrors.ErrorTypeTimeout
	case strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "unauthorized"):
		return llmerrors.ErrorTypeAuth
	case strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden"):
		return llmerrors.ErrorTypePermission
	case strings.Contains(lowerCode, "quota"):
		return llmerrors.ErrorTypeQuota
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest, http.StatusNotFound:
		return llmerrors.ErrorTypeValidation
	default:
		if statusCode >= ServerErrorStatusThreshold {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}
