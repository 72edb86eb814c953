// Package activity holds the infrastructure shared by Temporal activities:
// workflow context extraction, best-effort event emission, and logging and
// heartbeats that also work outside an activity context.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-flowevals/pkg/events"
)

// Event emission retry settings.
const (
	emitMaxAttempts = 2
	emitRetryDelay  = 200 * time.Millisecond
)

// Fallback identifiers used when no activity info is available.
const (
	testWorkflowID = "550e8400-e29b-41d4-a716-446655440000"
	testActivityID = "test-activity"
	defaultTenant  = "default"
)

// WorkflowContext identifies the workflow execution running an activity.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	TenantID   string
	ActivityID string
}

// BaseActivities is embedded by activity structs.
type BaseActivities struct {
	eventSink events.EventSink
}

// NewBaseActivities returns BaseActivities emitting to sink. A nil sink
// disables emission.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{eventSink: sink}
}

// GetWorkflowContext reads execution details from the activity info. Outside
// an activity, where GetInfo panics, it returns a fixed workflow id and a
// random run id.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	var wfCtx WorkflowContext

	func() {
		defer func() {
			if r := recover(); r != nil {
				wfCtx.WorkflowID = testWorkflowID
				wfCtx.RunID = "test-run-" + uuid.New().String()[:8]
				wfCtx.TenantID = defaultTenant
				wfCtx.ActivityID = testActivityID
			}
		}()

		info := activity.GetInfo(ctx)
		wfCtx.WorkflowID = info.WorkflowExecution.ID
		wfCtx.RunID = info.WorkflowExecution.RunID
		wfCtx.ActivityID = info.ActivityID
		wfCtx.TenantID = defaultTenant
	}()

	return wfCtx
}

// EmitEventSafe appends envelope to the sink, retrying once. Failures are
// logged, never returned.
func (b *BaseActivities) EmitEventSafe(ctx context.Context, envelope events.Envelope, description string) {
	if b.eventSink == nil {
		return
	}

	var lastErr error
	for attempt := 0; attempt < emitMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(emitRetryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, fmt.Sprintf("Event emission cancelled: %s", description),
					"event_type", envelope.Type)
				return
			}
		}

		if err := b.eventSink.Append(ctx, envelope); err != nil {
			lastErr = err
			continue
		}

		SafeLog(ctx, fmt.Sprintf("Event emitted: %s", description),
			"event_type", envelope.Type,
			"idempotency_key", envelope.IdempotencyKey)
		return
	}

	SafeLogError(ctx, fmt.Sprintf("Failed to emit %s after %d attempts", description, emitMaxAttempts),
		"event_type", envelope.Type,
		"error", lastErr)
}

// RecordHeartbeat records a heartbeat when ctx is an activity context.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs at info level through the activity logger. Outside an
// activity it does nothing.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat records an activity heartbeat. Outside an activity it does
// nothing.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() { _ = recover() }()
	activity.RecordHeartbeat(ctx, details...)
}
