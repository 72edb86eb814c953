package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
)

type staticCredential struct {
	token  string
	err    error
	scopes []string
}

func (c *staticCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.scopes = opts.Scopes
	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}
	return azcore.AccessToken{Token: c.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func chatRequest() *transport.Request {
	seed := int64(7)
	return &transport.Request{
		Operation:  transport.OpChat,
		Provider:   ProviderAzureOpenAI,
		Deployment: "gpt-4",
		Connection: domain.NewModelConfig("https://conn.openai.azure.com/", "conn-key"),
		Messages: []transport.Message{
			{Role: transport.RoleSystem, Content: "You are a grader."},
			{Role: transport.RoleUser, Content: "Rate this."},
		},
		MaxTokens: 1,
		Seed:      &seed,
		TraceID:   "trace-1",
	}
}

func TestAzureOpenAIAdapter_Build(t *testing.T) {
	tests := []struct {
		name       string
		config     configuration.ProviderConfig
		cred       *staticCredential
		mutate     func(*transport.Request)
		wantURL    string
		wantHeader map[string]string
		wantErr    error
	}{
		{
			name:    "request connection wins",
			config:  configuration.ProviderConfig{Endpoint: "https://cfg.openai.azure.com", APIKey: "cfg-key"},
			wantURL: "https://conn.openai.azure.com/openai/deployments/gpt-4/chat/completions?api-version=2023-07-01-preview",
			wantHeader: map[string]string{
				"api-key":                "conn-key",
				"x-ms-client-request-id": "trace-1",
			},
		},
		{
			name:   "falls back to configured endpoint and key",
			config: configuration.ProviderConfig{Endpoint: "https://cfg.openai.azure.com/", APIKey: "cfg-key", APIVersion: "2024-02-01"},
			mutate: func(r *transport.Request) {
				r.Connection = domain.ModelConfig{}
			},
			wantURL:    "https://cfg.openai.azure.com/openai/deployments/gpt-4/chat/completions?api-version=2024-02-01",
			wantHeader: map[string]string{"api-key": "cfg-key"},
		},
		{
			name:   "entra id bearer token",
			config: configuration.ProviderConfig{},
			cred:   &staticCredential{token: "tok"},
			mutate: func(r *transport.Request) {
				r.Connection = domain.ModelConfig{APIBase: "https://conn.openai.azure.com", UseEntraID: true}
			},
			wantURL:    "https://conn.openai.azure.com/openai/deployments/gpt-4/chat/completions?api-version=2023-07-01-preview",
			wantHeader: map[string]string{"Authorization": "Bearer tok"},
		},
		{
			name:    "unsupported operation",
			mutate:  func(r *transport.Request) { r.Operation = transport.OpCompletion },
			wantErr: ErrUnsupportedOperation,
		},
		{
			name:    "missing deployment",
			mutate:  func(r *transport.Request) { r.Deployment = "" },
			wantErr: ErrMissingDeployment,
		},
		{
			name:    "missing endpoint",
			mutate:  func(r *transport.Request) { r.Connection = domain.ModelConfig{} },
			wantErr: ErrMissingEndpoint,
		},
		{
			name: "missing credential",
			mutate: func(r *transport.Request) {
				r.Connection = domain.ModelConfig{APIBase: "https://conn.openai.azure.com"}
			},
			wantErr: ErrMissingCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []AzureOption
			if tt.cred != nil {
				opts = append(opts, WithTokenCredential(tt.cred))
			}
			adapter := NewAzureOpenAIAdapter(tt.config, opts...)
			req := chatRequest()
			if tt.mutate != nil {
				tt.mutate(req)
			}

			httpReq, err := adapter.Build(context.Background(), req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, http.MethodPost, httpReq.Method)
			assert.Equal(t, tt.wantURL, httpReq.URL.String())
			for k, v := range tt.wantHeader {
				assert.Equal(t, v, httpReq.Header.Get(k), k)
			}
			if tt.cred != nil {
				assert.Equal(t, []string{CognitiveServicesScope}, tt.cred.scopes)
			}

			raw, err := io.ReadAll(httpReq.Body)
			require.NoError(t, err)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Len(t, body["messages"], 2)
			assert.EqualValues(t, 1, body["max_tokens"])
			assert.EqualValues(t, 7, body["seed"])
			assert.NotContains(t, body, "top_p")
		})
	}
}

func TestAzureOpenAIAdapter_BuildTokenError(t *testing.T) {
	adapter := NewAzureOpenAIAdapter(configuration.ProviderConfig{},
		WithTokenCredential(&staticCredential{err: errors.New("no login")}))
	req := chatRequest()
	req.Connection = domain.ModelConfig{APIBase: "https://x.openai.azure.com", UseEntraID: true}

	_, err := adapter.Build(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no login")
}

func newResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestAzureOpenAIAdapter_Parse(t *testing.T) {
	adapter := NewAzureOpenAIAdapter(configuration.ProviderConfig{})

	t.Run("success", func(t *testing.T) {
		h := http.Header{}
		h.Set("apim-request-id", "apim-1")
		body := `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"5"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":120,"completion_tokens":1,"total_tokens":121}}`

		resp, err := adapter.Parse(newResponse(http.StatusOK, body, h))
		require.NoError(t, err)
		assert.Equal(t, "5", resp.Content)
		assert.Equal(t, domain.FinishStop, resp.FinishReason)
		assert.Equal(t, []string{"apim-1"}, resp.ProviderRequestIDs)
		assert.Equal(t, int64(121), resp.Usage.TotalTokens)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := adapter.Parse(newResponse(http.StatusOK, "{", nil))
		require.ErrorIs(t, err, llmerrors.ErrInvalidResponse)
	})

	errTests := []struct {
		name      string
		status    int
		body      string
		header    http.Header
		wantType  llmerrors.ErrorType
		wantRetry int
	}{
		{
			name:      "throttled with retry-after-ms",
			status:    http.StatusTooManyRequests,
			body:      `{"error":{"code":"429","message":"Requests to the deployment have exceeded the rate limit"}}`,
			header:    http.Header{"Retry-After-Ms": []string{"1500"}},
			wantType:  llmerrors.ErrorTypeRateLimit,
			wantRetry: 2,
		},
		{
			name:     "content filter",
			status:   http.StatusBadRequest,
			body:     `{"error":{"code":"content_filter","message":"filtered"}}`,
			wantType: llmerrors.ErrorTypeContent,
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"code":"401","message":"Access denied due to invalid subscription key"}}`,
			wantType: llmerrors.ErrorTypeAuth,
		},
		{
			name:     "server error with plain body",
			status:   http.StatusServiceUnavailable,
			body:     "upstream unavailable",
			wantType: llmerrors.ErrorTypeProvider,
		},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adapter.Parse(newResponse(tt.status, tt.body, tt.header))
			var provErr *llmerrors.ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.wantType, provErr.Type)
			assert.Equal(t, tt.status, provErr.StatusCode)
			assert.Equal(t, tt.wantRetry, provErr.RetryAfter)
		})
	}
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, domain.FinishLength, mapFinishReason("length"))
	assert.Equal(t, domain.FinishContentFilter, mapFinishReason("content_filter"))
	assert.Equal(t, domain.FinishToolUse, mapFinishReason("tool_calls"))
	assert.Equal(t, domain.FinishStop, mapFinishReason(""))
}

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   llmerrors.ErrorType
	}{
		{http.StatusTooManyRequests, "", llmerrors.ErrorTypeRateLimit},
		{http.StatusBadRequest, "content_filter", llmerrors.ErrorTypeContent},
		{http.StatusBadRequest, "", llmerrors.ErrorTypeValidation},
		{http.StatusNotFound, "DeploymentNotFound", llmerrors.ErrorTypeValidation},
		{http.StatusForbidden, "", llmerrors.ErrorTypePermission},
		{http.StatusGatewayTimeout, "", llmerrors.ErrorTypeTimeout},
		{http.StatusInternalServerError, "", llmerrors.ErrorTypeProvider},
		{599, "", llmerrors.ErrorTypeProvider},
		{http.StatusTeapot, "", llmerrors.ErrorTypeUnknown},
		{http.StatusBadRequest, "insufficient_quota", llmerrors.ErrorTypeQuota},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyErrorType(tt.status, tt.code), "%d/%s", tt.status, tt.code)
	}
}

func TestRouter(t *testing.T) {
	r, err := NewRouter(map[string]configuration.ProviderConfig{
		ProviderAzureOpenAI: {Endpoint: "https://x.openai.azure.com"},
	})
	require.NoError(t, err)

	a, err := r.Pick(ProviderAzureOpenAI)
	require.NoError(t, err)
	assert.Equal(t, ProviderAzureOpenAI, a.Name())

	a, err = r.Pick("")
	require.NoError(t, err)
	assert.Equal(t, ProviderAzureOpenAI, a.Name())

	_, err = r.Pick("openai")
	require.ErrorIs(t, err, llmerrors.ErrUnknownProvider)

	_, err = NewRouter(map[string]configuration.ProviderConfig{"bogus": {}})
	require.ErrorIs(t, err, llmerrors.ErrUnknownProvider)
}

func TestAzureOpenAIAdapter_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4/chat/completions", r.URL.Path)
		assert.Equal(t, "conn-key", r.Header.Get("api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	r, err := NewRouter(map[string]configuration.ProviderConfig{ProviderAzureOpenAI: {}})
	require.NoError(t, err)
	h := transport.NewHTTPHandler(srv.Client(), r)

	req := chatRequest()
	req.Connection = domain.NewModelConfig(srv.URL, "conn-key")
	resp, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Content)
	assert.GreaterOrEqual(t, resp.Usage.LatencyMs, int64(0))
}
