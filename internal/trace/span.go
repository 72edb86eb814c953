// Package trace defines the span records produced by flow runs.
package trace

// Span document field names.
const (
	FieldName       = "name"
	FieldContext    = "context"
	FieldKind       = "kind"
	FieldParentID   = "parent_id"
	FieldStartTime  = "start_time"
	FieldEndTime    = "end_time"
	FieldStatus     = "status"
	FieldAttributes = "attributes"
	FieldEvents     = "events"
	FieldLinks      = "links"
	FieldResource   = "resource"
)

// Span context field names.
const (
	ContextTraceID = "trace_id"
	ContextSpanID  = "span_id"
)

// Span event field names.
const (
	EventName       = "name"
	EventTimestamp  = "timestamp"
	EventAttributes = "attributes"
)

// Span is one traced operation.
type Span struct {
	Name         string
	Context      map[string]any
	Kind         string
	ParentSpanID string
	StartTime    string
	EndTime      string
	Status       map[string]any
	Attributes   map[string]any
	Events       []map[string]any
	Links        []map[string]any
	Resource     map[string]any
	SessionID    string
	SpanID       string
}

// TraceID returns context.trace_id, or "" when absent.
func (s Span) TraceID() string {
	id, _ := s.Context[ContextTraceID].(string)
	return id
}
