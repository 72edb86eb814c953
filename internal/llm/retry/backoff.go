package retry

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
)

// calculateBackoff returns the provider's Retry-After when present and
// otherwise the jittered exponential delay for attempt.
func (r *Middleware) calculateBackoff(attempt int, err error) time.Duration {
	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		if d := provider.GetRetryAfter(); d > 0 {
			return d
		}
	}
	return ExponentialBackoff(attempt, r.config)
}

// ExponentialBackoff calculates retry delays using exponential backoff with
// optional full jitter. Returns zero for non-positive attempt numbers.
func ExponentialBackoff(attempt int, config configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := config.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	multiplier := config.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if config.MaxInterval > 0 && backoff > config.MaxInterval {
			backoff = config.MaxInterval
			break
		}
	}

	if config.UseJitter {
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		return time.Duration(jitterMs) * time.Millisecond
	}

	return backoff
}
