// Package events defines the envelope evaluation activities emit and the
// sinks that receive it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event types emitted by evaluation activities.
const (
	TypeEvaluationCompleted = "evaluation.completed"
	TypeEvaluationFailed    = "evaluation.failed"
)

// Envelope wraps an event payload with routing and idempotency metadata.
type Envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Source  string `json:"source"`
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is stable across activity retries of the same work.
	IdempotencyKey string `json:"idempotency_key"`

	TenantID   string `json:"tenant_id"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`

	Payload json.RawMessage `json:"payload"`
}

// EventSink receives envelopes. Append is best effort: callers log failures
// and carry on.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every envelope.
type NoOpEventSink struct{}

// Append implements EventSink.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink returns a sink that discards envelopes.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}

// LogEventSink writes each envelope as a structured log record.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink returns a sink logging to logger, or the default logger when nil.
func NewLogEventSink(logger *slog.Logger) *LogEventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger.With("component", "events")}
}

// Append implements EventSink.
func (s *LogEventSink) Append(ctx context.Context, e Envelope) error {
	s.logger.InfoContext(ctx, "event",
		"id", e.ID,
		"type", e.Type,
		"source", e.Source,
		"idempotency_key", e.IdempotencyKey,
		"workflow_id", e.WorkflowID,
		"payload", string(e.Payload))
	return nil
}
