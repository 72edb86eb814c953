package transport

import (
	"errors"

	"github.com/ahrav/go-flowevals/internal/domain"
)

// Provider response validation errors.
var (
	ErrNilResponse          = errors.New("nil response")
	ErrEmptyResponseContent = errors.New("empty response content")
	ErrNegativeTokenCount   = errors.New("negative token count")
)

// validateResponse checks that a parsed provider response is usable by a flow node.
// Empty content is accepted only when the provider filtered the output or
// requested a tool call, both of which the node handles explicitly.
func validateResponse(resp *Response) error {
	if resp == nil {
		return ErrNilResponse
	}

	if resp.Content == "" &&
		resp.FinishReason != domain.FinishToolUse &&
		resp.FinishReason != domain.FinishContentFilter {
		return ErrEmptyResponseContent
	}

	if resp.Usage.TotalTokens < 0 || resp.Usage.PromptTokens < 0 || resp.Usage.CompletionTokens < 0 {
		return ErrNegativeTokenCount
	}

	return nil
}
