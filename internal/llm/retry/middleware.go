// Package retry retries transient LLM failures with exponential backoff and
// full jitter, honoring provider Retry-After guidance.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

var (
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
	errMaxElapsedTimeInvalid  = errors.New("maxElapsedTime must be >= 0")

	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
)

// RetryAfterProvider is implemented by errors that carry a server-suggested delay.
type RetryAfterProvider interface {
	GetRetryAfter() time.Duration
}

// Middleware is a retry middleware with inspectable statistics.
type Middleware struct {
	config configuration.RetryConfig
	logger *slog.Logger
	stats  *retryStats
	sleep  func(context.Context, time.Duration) error
}

// NewRetryMiddlewareWithConfig validates cfg and returns the retry middleware.
func NewRetryMiddlewareWithConfig(cfg configuration.RetryConfig) (transport.Middleware, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return m.Wrap, nil
}

// New validates cfg and constructs a Middleware.
func New(cfg configuration.RetryConfig) (*Middleware, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}
	if cfg.MaxElapsedTime < 0 {
		return nil, fmt.Errorf("%w, got %v", errMaxElapsedTimeInvalid, cfg.MaxElapsedTime)
	}

	return &Middleware{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		stats:  &retryStats{},
		sleep:  sleepContext,
	}, nil
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wrap implements transport.Middleware.
func (r *Middleware) Wrap(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, err)
		}

		var lastErr error
		startTime := time.Now()
		maxAttempts := r.config.MaxAttempts
		attempts := 0

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			attempts = attempt
			resp, err := next.Handle(ctx, req)
			r.stats.totalAttempts.Add(1)

			if err == nil {
				if attempt > 1 {
					r.stats.successfulRetries.Add(1)
					r.logger.Info("request succeeded after retry",
						"attempt", attempt,
						"provider", req.Provider,
						"deployment", req.Deployment)
				} else {
					r.stats.successfulFirstAttempts.Add(1)
				}
				return resp, nil
			}

			if !isRetryable(err) {
				r.logger.Debug("non-retryable error",
					"error", err,
					"attempt", attempt,
					"deployment", req.Deployment)
				return nil, err
			}
			lastErr = err

			if attempt == maxAttempts {
				break
			}

			backoff := r.calculateBackoff(attempt, err)
			if r.config.MaxElapsedTime > 0 && time.Since(startTime)+backoff > r.config.MaxElapsedTime {
				r.logger.Warn("max elapsed time exceeded",
					"elapsed", time.Since(startTime),
					"attempts", attempt,
					"last_error", err)
				break
			}
			r.stats.recordBackoff(backoff)

			r.logger.Debug("retrying after backoff",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
				"deployment", req.Deployment)

			if err := r.sleep(ctx, backoff); err != nil {
				return nil, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, err)
			}
		}

		r.stats.failedRetries.Add(1)
		return nil, fmt.Errorf("%w after %d attempts: %w", llmerrors.ErrMaxRetriesExceeded, attempts, lastErr)
	})
}

// isRetryable classifies errors. Circuit breaker rejections are not retried
// here because the breaker already decided the deployment is unhealthy.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var circuitBreakerErr *llmerrors.CircuitBreakerError
	if errors.As(err, &circuitBreakerErr) {
		return false
	}

	var rateLimitErr *llmerrors.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var providerErr *llmerrors.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.IsRetryable()
	}

	var workflowErr *llmerrors.WorkflowError
	if errors.As(err, &workflowErr) {
		return workflowErr.Retryable
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, llmerrors.ErrCircuitBreakerOpen) {
		return false
	}
	if errors.Is(err, llmerrors.ErrRateLimitExceeded) || errors.Is(err, llmerrors.ErrProviderUnavailable) {
		return true
	}

	if isNetworkError(err) {
		return true
	}

	var provider RetryAfterProvider
	return errors.As(err, &provider)
}

// isNetworkError detects connectivity failures by type, then by message.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return isNetworkErrorByString(urlErr.Err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return isNetworkErrorByString(err.Error())
}

// networkErrorIndicators are pre-lowercased connectivity failure fragments.
var networkErrorIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"eof",
}

// isNetworkErrorByString checks for network errors using string patterns.
func isNetworkErrorByString(errStr string) bool {
	lowered := strings.ToLower(errStr)
	for _, indicator := range networkErrorIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}
