package domain

// FinishReason indicates why a chat completion stopped producing tokens.
type FinishReason string

const (
	// FinishStop means the model reached a natural stop or a stop sequence.
	FinishStop FinishReason = "stop"

	// FinishLength means the max_tokens limit truncated the output.
	FinishLength FinishReason = "length"

	// FinishContentFilter means the provider's content filter removed output.
	FinishContentFilter FinishReason = "content_filter"

	// FinishToolUse means the model requested a tool call.
	FinishToolUse FinishReason = "tool_use"
)
