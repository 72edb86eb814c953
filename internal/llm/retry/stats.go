package retry

import (
	"sync/atomic"
	"time"
)

type retryStats struct {
	totalAttempts           atomic.Int64
	successfulRetries       atomic.Int64
	failedRetries           atomic.Int64
	successfulFirstAttempts atomic.Int64
	maxBackoff              atomic.Int64 // nanoseconds
}

// Stats is a snapshot of retry activity for one middleware instance.
type Stats struct {
	TotalAttempts     int64         `json:"total_attempts"`
	SuccessfulRetries int64         `json:"successful_retries"`
	FailedRetries     int64         `json:"failed_retries"`
	AverageAttempts   float64       `json:"average_attempts"`
	MaxBackoff        time.Duration `json:"max_backoff"`
}

// recordBackoff raises maxBackoff to backoff when it is larger.
func (s *retryStats) recordBackoff(backoff time.Duration) {
	n := backoff.Nanoseconds()
	for {
		current := s.maxBackoff.Load()
		if n <= current || s.maxBackoff.CompareAndSwap(current, n) {
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (r *Middleware) Stats() Stats {
	total := r.stats.totalAttempts.Load()
	succeeded := r.stats.successfulRetries.Load()
	failed := r.stats.failedRetries.Load()
	first := r.stats.successfulFirstAttempts.Load()

	avg := 1.0
	if requests := first + succeeded + failed; requests > 0 {
		avg = float64(total) / float64(requests)
	}

	return Stats{
		TotalAttempts:     total,
		SuccessfulRetries: succeeded,
		FailedRetries:     failed,
		AverageAttempts:   avg,
		MaxBackoff:        time.Duration(r.stats.maxBackoff.Load()),
	}
}
