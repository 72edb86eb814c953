package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-flowevals/pkg/activity"
	"github.com/ahrav/go-flowevals/pkg/evaluators"
	"github.com/ahrav/go-flowevals/pkg/events"
)

const (
	eventSource  = "evaluation-activity"
	eventVersion = "1.0.0"
)

// EvaluateInput names an evaluator and the row it scores.
type EvaluateInput struct {
	Evaluator string           `json:"evaluator"`
	Input     evaluators.Input `json:"input"`
}

// EvaluateOutput carries the scores of one evaluation. Scores that came back
// NaN are stored as nil and listed in Unscored so the output stays
// JSON-encodable.
type EvaluateOutput struct {
	Evaluator  string         `json:"evaluator"`
	Scores     map[string]any `json:"scores"`
	Unscored   []string       `json:"unscored,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Activities runs registered evaluators.
type Activities struct {
	activity.BaseActivities
	registry *Registry
}

// NewActivities returns Activities backed by registry.
func NewActivities(base activity.BaseActivities, registry *Registry) *Activities {
	return &Activities{BaseActivities: base, registry: registry}
}

// Evaluate runs the named evaluator on one input.
func (a *Activities) Evaluate(ctx context.Context, in EvaluateInput) (EvaluateOutput, error) {
	name := strings.TrimSpace(in.Evaluator)
	if name == "" {
		return EvaluateOutput{}, nonRetryable(ErrorTypeValidation, ErrUnknownEvaluator, "evaluator name is required")
	}
	fn, err := a.registry.Lookup(name)
	if err != nil {
		return EvaluateOutput{}, nonRetryable(ErrorTypeUnknown, err, "unknown evaluator")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	a.RecordHeartbeat(ctx, "evaluating "+name)

	start := time.Now()
	result, err := fn(ctx, in.Input)
	elapsed := time.Since(start)
	if err != nil {
		activity.SafeLogError(ctx, "evaluation failed", "evaluator", name, "error", err)
		a.emit(ctx, wfCtx, events.TypeEvaluationFailed, in, map[string]any{"evaluator": name, "error": err.Error()})
		return EvaluateOutput{}, classify(err)
	}

	out := EvaluateOutput{
		Evaluator:  name,
		Scores:     make(map[string]any, len(result)),
		DurationMs: elapsed.Milliseconds(),
	}
	for k, v := range result {
		if f, ok := v.(float64); ok && math.IsNaN(f) {
			out.Scores[k] = nil
			out.Unscored = append(out.Unscored, k)
			continue
		}
		out.Scores[k] = v
	}
	slices.Sort(out.Unscored)

	activity.SafeLog(ctx, "evaluation completed", "evaluator", name, "metrics", slices.Sorted(maps.Keys(out.Scores)), "duration_ms", out.DurationMs)
	a.emit(ctx, wfCtx, events.TypeEvaluationCompleted, in, out)
	return out, nil
}

func (a *Activities) emit(ctx context.Context, wfCtx activity.WorkflowContext, eventType string, in EvaluateInput, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		activity.SafeLogError(ctx, "encode event payload", "error", err)
		return
	}
	a.EmitEventSafe(ctx, events.Envelope{
		ID:             uuid.New().String(),
		Type:           eventType,
		Source:         eventSource,
		Version:        eventVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: idempotencyKey(wfCtx, eventType, in),
		TenantID:       wfCtx.TenantID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        raw,
	}, eventType)
}

// idempotencyKey is stable for the same workflow, event type, evaluator and input.
func idempotencyKey(wfCtx activity.WorkflowContext, eventType string, in EvaluateInput) string {
	raw, _ := json.Marshal(in)
	name := fmt.Sprintf("%s|%s|%s", wfCtx.WorkflowID, eventType, raw)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
