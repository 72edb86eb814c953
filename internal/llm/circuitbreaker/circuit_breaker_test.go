package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var upstreamDown = &llmerrors.ProviderError{Provider: "azure_openai", StatusCode: 503, Type: llmerrors.ErrorTypeProvider}

func setup(t *testing.T) (*Breakers, *fakeClock, *error, transport.Handler, *int) {
	t.Helper()
	b := New(configuration.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
		HalfOpenProbes:   1,
	})
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b.now = clock.now

	var next error
	calls := 0
	h := b.Wrap(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls++
		if next != nil {
			return nil, next
		}
		return &transport.Response{Content: "ok"}, nil
	}))
	return b, clock, &next, h, &calls
}

func TestBreakerLifecycle(t *testing.T) {
	b, clock, next, h, calls := setup(t)
	req := &transport.Request{Provider: "azure_openai", Deployment: "gpt-4"}
	ctx := context.Background()

	*next = upstreamDown
	for i := 0; i < 2; i++ {
		_, err := h.Handle(ctx, req)
		require.ErrorIs(t, err, upstreamDown)
	}
	assert.Equal(t, StateOpen, b.State("azure_openai", "gpt-4"))

	_, err := h.Handle(ctx, req)
	var cbErr *llmerrors.CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "open", cbErr.State)
	assert.Equal(t, 2, *calls)

	// Other deployments are unaffected.
	_, err = h.Handle(ctx, &transport.Request{Provider: "azure_openai", Deployment: "gpt-35"})
	require.ErrorIs(t, err, upstreamDown)

	clock.advance(time.Minute)
	*next = nil
	_, err = h.Handle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State("azure_openai", "gpt-4"))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, clock, next, h, _ := setup(t)
	req := &transport.Request{Provider: "azure_openai", Deployment: "gpt-4"}
	ctx := context.Background()

	*next = upstreamDown
	_, _ = h.Handle(ctx, req)
	_, _ = h.Handle(ctx, req)
	require.Equal(t, StateOpen, b.State("azure_openai", "gpt-4"))

	clock.advance(2 * time.Minute)
	_, err := h.Handle(ctx, req)
	require.ErrorIs(t, err, upstreamDown)
	assert.Equal(t, StateOpen, b.State("azure_openai", "gpt-4"))
}

func TestCountsAsFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", upstreamDown, true},
		{"auth", &llmerrors.ProviderError{Type: llmerrors.ErrorTypeAuth}, false},
		{"content filter", &llmerrors.ProviderError{Type: llmerrors.ErrorTypeContent}, false},
		{"local throttling", &llmerrors.RateLimitError{LocalLimit: true}, false},
		{"remote throttling", &llmerrors.ProviderError{Type: llmerrors.ErrorTypeRateLimit}, true},
		{"cancelled", context.Canceled, false},
		{"unknown", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countsAsFailure(tt.err))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
