// Package transport defines the normalized request/response types and the
// composable handler pipeline that every LLM call made by a flow goes through.
package transport

import (
	"net/http"
	"time"

	"github.com/ahrav/go-flowevals/internal/domain"
)

// OperationType differentiates the kinds of calls flowing through the pipeline.
// Affects cache key namespacing, metrics labeling, and recording behavior.
type OperationType string

const (
	// OpChat is a chat completion issued by an llm flow node.
	OpChat OperationType = "chat"

	// OpCompletion is a legacy text completion.
	OpCompletion OperationType = "completion"
)

// Role identifies the author of a chat message.
type Role string

// Chat roles understood by the providers.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request represents a normalized request for an LLM deployment.
// Contains everything a provider adapter needs to build the HTTP call as well
// as the template provenance the recording middleware hashes on.
type Request struct {
	// Operation type affects routing, metrics, and caching.
	Operation OperationType `json:"operation"`

	// Provider identifies which adapter the router picks.
	Provider string `json:"provider"`

	// Deployment is the Azure OpenAI deployment name.
	Deployment string `json:"deployment"`

	// Connection overrides the adapter's configured endpoint and credentials.
	Connection domain.ModelConfig `json:"-"`

	// TenantID enables per-tenant isolation in the cache.
	TenantID string `json:"tenant_id"`

	Messages []Message `json:"messages"`

	// Generation parameters control model behavior.
	MaxTokens   int64    `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`

	// PromptTemplate is the unrendered jinja2 source of the prompt.
	PromptTemplate string `json:"prompt_template,omitempty"`

	// TemplateInputs are the values the template was rendered with.
	TemplateInputs map[string]any `json:"template_inputs,omitempty"`

	// Control fields for resilience and observability.
	Timeout        time.Duration     `json:"timeout"`
	IdempotencyKey string            `json:"idempotency_key"`
	TraceID        string            `json:"trace_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Response represents normalized output from any provider.
type Response struct {
	// Content is the first choice's message content.
	Content string `json:"content"`

	FinishReason domain.FinishReason `json:"finish_reason"`

	// ProviderRequestIDs enables cross-system correlation.
	ProviderRequestIDs []string `json:"provider_request_ids"`

	Usage NormalizedUsage `json:"usage"`

	// Replayed is set when the content came from a recording rather than a live call.
	Replayed bool `json:"replayed,omitempty"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`

	// RawBody preserves the original response for audit.
	RawBody []byte `json:"raw_body,omitempty"`
}

// NormalizedUsage provides consistent usage metrics across all providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
