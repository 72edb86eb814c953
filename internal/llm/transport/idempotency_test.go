package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-flowevals/internal/domain"
)

func baseRequest() *Request {
	return &Request{
		Operation:  OpChat,
		Provider:   "azure_openai",
		Deployment: "gpt-4",
		TenantID:   "t1",
		Connection: domain.NewModelConfig("https://x.openai.azure.com", "k"),
		Messages: []Message{
			{Role: RoleSystem, Content: "You are an AI assistant."},
			{Role: RoleUser, Content: "question: What is the capital of Japan?"},
		},
		MaxTokens: 1,
	}
}

func TestGenerateIdemKey_Deterministic(t *testing.T) {
	k1, err := GenerateIdemKey(baseRequest())
	require.NoError(t, err)
	k2, err := GenerateIdemKey(baseRequest())
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1.String(), 64)
}

func TestGenerateIdemKey_Sensitivity(t *testing.T) {
	base, err := GenerateIdemKey(baseRequest())
	require.NoError(t, err)

	tests := []struct {
		name     string
		mutate   func(*Request)
		wantSame bool
	}{
		{
			name:     "line endings",
			mutate:   func(r *Request) { r.Messages[1].Content = "  question:  What is the capital\r\nof Japan? " },
			wantSame: true,
		},
		{
			name:     "collapsed whitespace",
			mutate:   func(r *Request) { r.Messages[1].Content = "question:   What is the capital of Japan?  " },
			wantSame: true,
		},
		{
			name:     "provider case",
			mutate:   func(r *Request) { r.Provider = " AZURE_OPENAI " },
			wantSame: true,
		},
		{
			name:     "api key does not matter",
			mutate:   func(r *Request) { r.Connection.APIKey = "other" },
			wantSame: true,
		},
		{
			name:   "different deployment",
			mutate: func(r *Request) { r.Deployment = "gpt-35" },
		},
		{
			name:   "different endpoint",
			mutate: func(r *Request) { r.Connection.APIBase = "https://y.openai.azure.com" },
		},
		{
			name:   "different tenant",
			mutate: func(r *Request) { r.TenantID = "t2" },
		},
		{
			name:   "temperature",
			mutate: func(r *Request) { r.Temperature = 0.5 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			key, err := GenerateIdemKey(req)
			require.NoError(t, err)
			if tt.wantSame {
				assert.Equal(t, base, key)
			} else {
				assert.NotEqual(t, base, key)
			}
		})
	}
}

func TestValidateCanonicalPayload(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{"missing tenant", func(r *Request) { r.TenantID = "" }, ErrTenantIDRequired},
		{"missing operation", func(r *Request) { r.Operation = "" }, ErrOperationRequired},
		{"missing provider", func(r *Request) { r.Provider = "" }, ErrProviderRequired},
		{"missing deployment", func(r *Request) { r.Deployment = " " }, ErrDeploymentRequired},
		{"bad operation", func(r *Request) { r.Operation = "embed" }, ErrInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			_, err := GenerateIdemKey(req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "llm:t1:abc", CacheKey("t1", IdemKey("abc")))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", normalizeText("  a\r\n b\t\tc "))
}
