package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

func request() *transport.Request {
	return &transport.Request{
		Provider:   "azure_openai",
		Deployment: "gpt-4",
		Messages:   []transport.Message{{Role: transport.RoleUser, Content: "secret question about Tokyo"}},
	}
}

func TestLoggingMiddleware_Success(t *testing.T) {
	tests := []struct {
		name        string
		redact      bool
		wantPrompt  bool
		wantContent bool
	}{
		{name: "redacted", redact: true},
		{name: "verbose", redact: false, wantPrompt: true, wantContent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)

			mw := NewLoggingMiddleware(configuration.ObservabilityConfig{RedactPrompts: tt.redact}, logger, metrics)
			h := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
				return &transport.Response{
					Content:      "model said 5",
					FinishReason: domain.FinishStop,
					Usage:        transport.NormalizedUsage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11},
					Replayed:     true,
				}, nil
			}))

			req := request()
			_, err := h.Handle(transport.WithTraceID(context.Background(), "trace-9"), req)
			require.NoError(t, err)

			assert.Equal(t, "trace-9", req.TraceID)
			assert.Equal(t, transport.DefaultTenantID, req.TenantID)

			out := buf.String()
			assert.Contains(t, out, "LLM request started")
			assert.Contains(t, out, "LLM request completed")
			assert.Equal(t, tt.wantPrompt, bytes.Contains(buf.Bytes(), []byte("secret question")))
			assert.Equal(t, tt.wantContent, bytes.Contains(buf.Bytes(), []byte("model said 5")))

			assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests.WithLabelValues("azure_openai", "gpt-4")), 1e-9)
			assert.InDelta(t, 10, testutil.ToFloat64(metrics.tokens.WithLabelValues("azure_openai", "gpt-4", "prompt")), 1e-9)
			assert.InDelta(t, 1, testutil.ToFloat64(metrics.replayed.WithLabelValues("azure_openai", "gpt-4")), 1e-9)
			assert.Equal(t, 1, testutil.CollectAndCount(metrics.latency))
		})
	}
}

func TestLoggingMiddleware_Error(t *testing.T) {
	var buf bytes.Buffer
	metrics := NewMetrics(nil)
	mw := NewLoggingMiddleware(configuration.ObservabilityConfig{RedactPrompts: true},
		slog.New(slog.NewTextHandler(&buf, nil)), metrics)

	provErr := &llmerrors.ProviderError{Provider: "azure_openai", StatusCode: 429, Type: llmerrors.ErrorTypeRateLimit}
	h := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, provErr
	}))

	_, err := h.Handle(context.Background(), request())
	require.ErrorIs(t, err, provErr)
	assert.Contains(t, buf.String(), "error_type=rate_limit")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.errors.WithLabelValues("azure_openai", "gpt-4", "rate_limit")), 1e-9)
}

func TestLoggingMiddleware_NilMetrics(t *testing.T) {
	mw := NewLoggingMiddleware(configuration.ObservabilityConfig{}, nil, nil)
	h := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{Content: "ok"}, nil
	}))
	_, err := h.Handle(context.Background(), request())
	require.NoError(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
