package trace

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ahrav/go-flowevals/internal/flow"
)

// Span kinds and event names used for flow runs.
const (
	KindInternal = "SpanKind.INTERNAL"

	EventInputs = "promptflow.function.inputs"
	EventOutput = "promptflow.function.output"

	AttrPayload   = "payload"
	AttrSpanType  = "span_type"
	AttrFunction  = "function"
	AttrSessionID = "session_id"

	StatusOK    = "STATUS_CODE_OK"
	StatusError = "STATUS_CODE_ERROR"
)

// FromRun converts a flow run into a root span plus one child span per node.
// The resource is shared by every span.
func FromRun(run *flow.RunInfo, sessionID string, resource map[string]any) []Span {
	traceID := hexID(run.RunID, 32)
	rootID := hexID(run.RunID, 16)

	spans := make([]Span, 0, len(run.Nodes)+1)
	spans = append(spans, Span{
		Name:       run.Flow,
		Context:    map[string]any{ContextTraceID: traceID, ContextSpanID: rootID},
		Kind:       KindInternal,
		StartTime:  timestamp(run.StartTime),
		EndTime:    timestamp(run.EndTime),
		Status:     status(run.Error),
		Attributes: map[string]any{AttrSpanType: "Flow", AttrFunction: run.Flow, AttrSessionID: sessionID},
		Events:     ioEvents(run.StartTime, run.EndTime, run.Inputs, run.Outputs),
		Resource:   resource,
		SessionID:  sessionID,
		SpanID:     rootID,
	})

	for _, n := range run.Nodes {
		spanType := "Function"
		if len(n.APICalls) > 0 && n.APICalls[0].Type == flow.CallTypeLLM {
			spanType = "LLM"
		}
		id := hexID(n.RunID, 16)
		spans = append(spans, Span{
			Name:         n.Node,
			Context:      map[string]any{ContextTraceID: traceID, ContextSpanID: id},
			Kind:         KindInternal,
			ParentSpanID: rootID,
			StartTime:    timestamp(n.StartTime),
			EndTime:      timestamp(n.EndTime),
			Status:       status(n.Error),
			Attributes:   map[string]any{AttrSpanType: spanType, AttrFunction: n.Node, AttrSessionID: sessionID},
			Events:       ioEvents(n.StartTime, n.EndTime, n.Inputs, n.Output),
			Resource:     resource,
			SessionID:    sessionID,
			SpanID:       id,
		})
	}
	return spans
}

func ioEvents(start, end time.Time, inputs map[string]any, output any) []map[string]any {
	var events []map[string]any
	if len(inputs) > 0 {
		events = append(events, event(EventInputs, start, inputs))
	}
	if output != nil {
		events = append(events, event(EventOutput, end, output))
	}
	return events
}

func event(name string, at time.Time, payload any) map[string]any {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`null`)
	}
	return map[string]any{
		EventName:       name,
		EventTimestamp:  timestamp(at),
		EventAttributes: map[string]any{AttrPayload: string(raw)},
	}
}

func status(errMsg string) map[string]any {
	if errMsg == "" {
		return map[string]any{"status_code": StatusOK}
	}
	return map[string]any{"status_code": StatusError, "description": errMsg}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// hexID strips dashes from a uuid and keeps the first n hex characters.
func hexID(id string, n int) string {
	h := strings.ReplaceAll(id, "-", "")
	if len(h) > n {
		return h[:n]
	}
	return h
}
