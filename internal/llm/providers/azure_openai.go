// Package providers adapts the normalized transport request to concrete
// LLM provider APIs.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

// CognitiveServicesScope is the Entra ID scope for Azure OpenAI data-plane calls.
const CognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

// AzureOpenAIAdapter implements transport.ProviderAdapter for Azure OpenAI
// chat completion deployments.
type AzureOpenAIAdapter struct {
	config     configuration.ProviderConfig
	credential azcore.TokenCredential
}

// AzureOption configures an AzureOpenAIAdapter.
type AzureOption func(*AzureOpenAIAdapter)

// WithTokenCredential authenticates with Entra ID bearer tokens when the
// connection has no API key.
func WithTokenCredential(cred azcore.TokenCredential) AzureOption {
	return func(a *AzureOpenAIAdapter) { a.credential = cred }
}

// NewAzureOpenAIAdapter creates an adapter whose config supplies defaults for
// requests that carry no connection of their own.
func NewAzureOpenAIAdapter(cfg configuration.ProviderConfig, opts ...AzureOption) *AzureOpenAIAdapter {
	if cfg.APIVersion == "" {
		cfg.APIVersion = domain.DefaultAPIVersion
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	a := &AzureOpenAIAdapter{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider name.
func (a *AzureOpenAIAdapter) Name() string { return ProviderAzureOpenAI }

// resolve merges the request connection over the adapter defaults.
func (a *AzureOpenAIAdapter) resolve(req *transport.Request) domain.ModelConfig {
	conn := req.Connection
	if conn.APIBase == "" {
		conn.APIBase = a.config.Endpoint
	}
	if conn.APIKey == "" && !conn.UseEntraID {
		conn.APIKey = a.config.APIKey
	}
	if conn.APIVersion == "" {
		conn.APIVersion = a.config.APIVersion
	}
	return conn.WithDefaults()
}

// Build constructs the chat/completions request for the deployment.
func (a *AzureOpenAIAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	if req.Operation != transport.OpChat {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, req.Operation)
	}
	if req.Deployment == "" {
		return nil, ErrMissingDeployment
	}

	conn := a.resolve(req)
	if conn.APIBase == "" {
		return nil, ErrMissingEndpoint
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		conn.APIBase, url.PathEscape(req.Deployment), url.QueryEscape(conn.APIVersion))

	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	body := map[string]any{
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.Seed != nil {
		body["seed"] = *req.Seed
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	switch {
	case conn.APIKey != "":
		httpReq.Header.Set("api-key", conn.APIKey)
	case a.credential != nil:
		tok, err := a.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{CognitiveServicesScope}})
		if err != nil {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok.Token)
	default:
		return nil, ErrMissingCredential
	}

	if req.TraceID != "" {
		httpReq.Header.Set("x-ms-client-request-id", req.TraceID)
	}
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

type chatCompletion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Parse extracts the first choice and usage from a chat completion response.
func (a *AzureOpenAIAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAzureError(httpResp.StatusCode, httpResp.Header, body)
	}

	var resp chatCompletion
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrInvalidResponse, err)
	}

	var content string
	var finishReason domain.FinishReason
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = mapFinishReason(resp.Choices[0].FinishReason)
	}

	var requestIDs []string
	for _, h := range []string{"apim-request-id", "x-request-id"} {
		if id := httpResp.Header.Get(h); id != "" {
			requestIDs = append(requestIDs, id)
		}
	}

	return &transport.Response{
		Content:            content,
		FinishReason:       finishReason,
		ProviderRequestIDs: requestIDs,
		Usage: transport.NormalizedUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Headers: httpResp.Header,
		RawBody: body,
	}, nil
}

func mapFinishReason(reason string) domain.FinishReason {
	switch reason {
	case "length":
		return domain.FinishLength
	case "content_filter":
		return domain.FinishContentFilter
	case "tool_calls", "function_call":
		return domain.FinishToolUse
	default:
		return domain.FinishStop
	}
}

// parseAzureError converts an error body into a ProviderError.
func parseAzureError(statusCode int, header http.Header, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	provErr := &llmerrors.ProviderError{
		Provider:   ProviderAzureOpenAI,
		StatusCode: statusCode,
		Message:    string(body),
		RetryAfter: retryAfterSeconds(header),
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		provErr.Message = errResp.Error.Message
		provErr.Code = errResp.Error.Code
	}
	provErr.Type = classifyErrorType(statusCode, provErr.Code)
	return provErr
}

// retryAfterSeconds reads Retry-After or Azure's retry-after-ms, rounding up.
func retryAfterSeconds(h http.Header) int {
	if h == nil {
		return 0
	}
	if v := h.Get("Retry-After"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			return s
		}
	}
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return (ms + 999) / 1000
		}
	}
	return 0
}
