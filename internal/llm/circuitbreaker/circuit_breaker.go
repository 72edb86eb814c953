// Package circuitbreaker stops sending calls to a deployment that keeps
// failing, then probes it after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int32

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a limited number of probes.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker is the state machine for one provider:deployment pair.
type breaker struct {
	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// Breakers holds a breaker per provider:deployment.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	cfg      configuration.CircuitBreakerConfig
	now      func() time.Time
	logger   *slog.Logger
}

// New returns an empty breaker registry.
func New(cfg configuration.CircuitBreakerConfig) *Breakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = configuration.DefaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = configuration.DefaultSuccessThreshold
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breakers{
		breakers: make(map[string]*breaker),
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("component", "circuit_breaker"),
	}
}

// NewCircuitBreakerMiddleware returns the breaker as a transport.Middleware.
func NewCircuitBreakerMiddleware(cfg configuration.CircuitBreakerConfig) transport.Middleware {
	return New(cfg).Wrap
}

func key(provider, deployment string) string { return provider + ":" + deployment }

func (b *Breakers) get(k string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.breakers[k]
	if !ok {
		br = &breaker{}
		b.breakers[k] = br
	}
	return br
}

// State reports the current state for provider and deployment.
func (b *Breakers) State(provider, deployment string) CircuitState {
	br := b.get(key(provider, deployment))
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.state
}

// Wrap implements transport.Middleware.
func (b *Breakers) Wrap(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		br := b.get(key(req.Provider, req.Deployment))

		probe, err := b.allow(br, req)
		if err != nil {
			return nil, err
		}

		resp, err := next.Handle(ctx, req)
		b.record(br, req, probe, err)
		return resp, err
	})
}

// allow decides whether the call may proceed and whether it is a probe.
func (b *Breakers) allow(br *breaker, req *transport.Request) (bool, error) {
	br.mu.Lock()
	defer br.mu.Unlock()

	switch br.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(br.openedAt) < b.cfg.OpenTimeout {
			return false, b.rejection(br, req)
		}
		b.transition(br, req, StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if br.probes >= b.cfg.HalfOpenProbes {
			return false, b.rejection(br, req)
		}
		br.probes++
		return true, nil
	default:
		return false, fmt.Errorf("unknown circuit state %d", br.state)
	}
}

func (b *Breakers) rejection(br *breaker, req *transport.Request) error {
	return &llmerrors.CircuitBreakerError{
		Provider:   req.Provider,
		Deployment: req.Deployment,
		State:      br.state.String(),
		ResetAt:    br.openedAt.Add(b.cfg.OpenTimeout).Unix(),
	}
}

func (b *Breakers) record(br *breaker, req *transport.Request, probe bool, err error) {
	br.mu.Lock()
	defer br.mu.Unlock()

	if probe && br.probes > 0 {
		br.probes--
	}

	if countsAsFailure(err) {
		br.successes = 0
		br.failures++
		if br.state == StateHalfOpen || br.failures >= b.cfg.FailureThreshold {
			br.openedAt = b.now()
			b.transition(br, req, StateOpen)
		}
		return
	}

	switch br.state {
	case StateHalfOpen:
		br.successes++
		if br.successes >= b.cfg.SuccessThreshold {
			b.transition(br, req, StateClosed)
		}
	case StateClosed:
		br.failures = 0
	}
}

func (b *Breakers) transition(br *breaker, req *transport.Request, to CircuitState) {
	if br.state == to {
		return
	}
	b.logger.Info("circuit state change",
		"provider", req.Provider,
		"deployment", req.Deployment,
		"from", br.state.String(),
		"to", to.String())
	br.state = to
	br.failures, br.successes, br.probes = 0, 0, 0
}

// countsAsFailure treats only transient upstream failures as breaker
// failures. Bad requests and local throttling say nothing about health.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var rlErr *llmerrors.RateLimitError
	if errors.As(err, &rlErr) && rlErr.LocalLimit {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return llmerrors.ClassifyLLMError(err).IsRetryable()
}
