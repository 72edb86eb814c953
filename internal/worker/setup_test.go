package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-flowevals/internal/flow"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
	"github.com/ahrav/go-flowevals/internal/trace/cosmosdb"
)

type memStore struct {
	mu    sync.Mutex
	docs  []map[string]any
	blobs []string
}

func (m *memStore) CreateItem(_ context.Context, _ string, item []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(item, &doc); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc)
	return nil
}

func (m *memStore) Upload(_ context.Context, name string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = append(m.blobs, name)
	return nil
}

func TestSpanObserver(t *testing.T) {
	assert.Nil(t, SpanObserver(nil, "s"))

	store := &memStore{}
	w := cosmosdb.NewWriter(store, store, "https://acct.blob.core.windows.net/spans/", "evals", nil, nil)
	observe := SpanObserver(w, "session-1")
	require.NotNil(t, observe)

	now := time.Now()
	observe(context.Background(), &flow.RunInfo{
		RunID:     "0f8fad5b-d9cb-469f-a165-70867728950e",
		Flow:      "fluency",
		Status:    flow.StatusCompleted,
		Inputs:    map[string]any{"answer": "a"},
		Outputs:   map[string]any{"gpt_fluency": 5.0},
		StartTime: now,
		EndTime:   now,
		Nodes: []flow.NodeRunInfo{
			{Node: "query_llm", RunID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Output: "5"},
		},
	})

	require.Len(t, store.docs, 2)
	assert.Equal(t, "session-1", store.docs[0]["partition_key"])
	assert.Equal(t, "evals", store.docs[0]["collection_id"])
	assert.Equal(t, []string{
		".promptflow/.trace/evals/0f8fad5bd9cb469fa16570867728950e/0f8fad5bd9cb469f/0",
		".promptflow/.trace/evals/0f8fad5bd9cb469fa16570867728950e/0f8fad5bd9cb469f/1",
		".promptflow/.trace/evals/0f8fad5bd9cb469fa16570867728950e/7c9e6679742540de/0",
	}, store.blobs)
}

func TestInitializeTraceWriterDisabled(t *testing.T) {
	w, err := InitializeTraceWriter(configuration.TraceStoreConfig{}, nil, "evals", nil)
	require.NoError(t, err)
	assert.Nil(t, w)
}

type tokenCredential struct{ token string }

func (c tokenCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: c.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func TestModelConnection(t *testing.T) {
	tests := []struct {
		name       string
		provider   configuration.ProviderConfig
		wantEntra  bool
		wantAPIKey string
	}{
		{name: "api key", provider: configuration.ProviderConfig{Endpoint: "https://aoai.example.com", APIKey: "key"}, wantAPIKey: "key"},
		{name: "entra id", provider: configuration.ProviderConfig{Endpoint: "https://aoai.example.com"}, wantEntra: true},
		{name: "unconfigured", provider: configuration.ProviderConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := ModelConnection(tt.provider)
			assert.Equal(t, tt.wantEntra, mc.UseEntraID)
			assert.Equal(t, tt.wantAPIKey, mc.APIKey)
		})
	}
}

func TestInitializePipelineEntraID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"no credential","code":"Unauthorized"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"5"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":1,"total_tokens":11}}`))
	}))
	defer srv.Close()

	cfg := configuration.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	p, err := InitializePipeline(context.Background(), cfg, tokenCredential{token: "tok"})
	require.NoError(t, err)

	resp, err := p.Handle(context.Background(), &transport.Request{
		Operation:  transport.OpChat,
		Provider:   configuration.ProviderAzureOpenAI,
		Deployment: "gpt-4",
		Connection: ModelConnection(configuration.ProviderConfig{Endpoint: srv.URL}),
		Messages:   []transport.Message{{Role: transport.RoleUser, Content: "Rate: Tokyo"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "5", resp.Content)
}
