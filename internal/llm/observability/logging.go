package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

// ContentTruncationLimit caps how much response content is logged.
const ContentTruncationLimit = 200

// LoggingMiddleware logs every request and records metrics. Prompt text is
// replaced by its length unless redaction is disabled.
type LoggingMiddleware struct {
	logger        *slog.Logger
	metrics       *Metrics
	redactPrompts bool
}

// NewLoggingMiddleware returns the observability middleware. Either of logger
// and metrics may be nil.
func NewLoggingMiddleware(cfg configuration.ObservabilityConfig, logger *slog.Logger, metrics *Metrics) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	lm := &LoggingMiddleware{
		logger:        logger.With("component", "llm"),
		metrics:       metrics,
		redactPrompts: cfg.RedactPrompts,
	}
	return lm.Middleware
}

// Middleware implements transport.Middleware.
func (m *LoggingMiddleware) Middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if req.TraceID == "" {
			req.TraceID = transport.ExtractTraceID(ctx)
		}
		if req.TenantID == "" {
			req.TenantID = transport.ExtractTenantID(ctx)
		}

		m.logRequest(ctx, req)
		if m.metrics != nil {
			m.metrics.Requests.WithLabelValues(req.Provider, req.Deployment).Inc()
		}

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		duration := time.Since(start)

		if m.metrics != nil {
			m.metrics.latency.WithLabelValues(req.Provider, req.Deployment).Observe(duration.Seconds())
		}

		if err != nil {
			m.handleError(ctx, req, err, duration)
			return nil, err
		}
		m.handleSuccess(ctx, req, resp, duration)
		return resp, nil
	})
}

func (m *LoggingMiddleware) logRequest(ctx context.Context, req *transport.Request) {
	fields := []any{
		"request_id", req.TraceID,
		"provider", req.Provider,
		"deployment", req.Deployment,
		"tenant_id", req.TenantID,
		"messages", len(req.Messages),
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature,
	}

	promptLen := 0
	for _, msg := range req.Messages {
		promptLen += len(msg.Content)
	}
	if m.redactPrompts {
		fields = append(fields, "prompt_length", promptLen)
	} else {
		fields = append(fields, "messages_content", req.Messages)
	}

	m.logger.InfoContext(ctx, "LLM request started", fields...)
}

func (m *LoggingMiddleware) handleError(ctx context.Context, req *transport.Request, err error, d time.Duration) {
	wf := llmerrors.ClassifyLLMError(err)
	if m.metrics != nil {
		m.metrics.errors.WithLabelValues(req.Provider, req.Deployment, string(wf.Type)).Inc()
	}
	m.logger.ErrorContext(ctx, "LLM request failed",
		"request_id", req.TraceID,
		"deployment", req.Deployment,
		"error", err,
		"error_type", wf.Type,
		"retryable", wf.Retryable,
		"duration_ms", d.Milliseconds())
}

func (m *LoggingMiddleware) handleSuccess(ctx context.Context, req *transport.Request, resp *transport.Response, d time.Duration) {
	if m.metrics != nil && resp != nil {
		labels := []string{req.Provider, req.Deployment}
		m.metrics.tokens.WithLabelValues(append(labels, "prompt")...).Add(float64(resp.Usage.PromptTokens))
		m.metrics.tokens.WithLabelValues(append(labels, "completion")...).Add(float64(resp.Usage.CompletionTokens))
		if resp.Replayed {
			m.metrics.replayed.WithLabelValues(labels...).Inc()
		}
	}

	fields := []any{
		"request_id", req.TraceID,
		"deployment", req.Deployment,
		"duration_ms", d.Milliseconds(),
	}
	if resp != nil {
		fields = append(fields,
			"finish_reason", resp.FinishReason,
			"total_tokens", resp.Usage.TotalTokens,
			"replayed", resp.Replayed)
		if !m.redactPrompts {
			fields = append(fields, "content", truncate(resp.Content, ContentTruncationLimit))
		}
	}
	m.logger.InfoContext(ctx, "LLM request completed", fields...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
