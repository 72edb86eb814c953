package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"

	"github.com/ahrav/go-flowevals/internal/flow"
	"github.com/ahrav/go-flowevals/internal/llm"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	"github.com/ahrav/go-flowevals/internal/trace"
	"github.com/ahrav/go-flowevals/internal/trace/cosmosdb"
	"github.com/ahrav/go-flowevals/pkg/evaluators"
)

// ServiceName is reported as service.name on persisted span resources.
const ServiceName = "flowevals-worker"

// InitializePipeline builds the LLM pipeline shared by every evaluator. A
// non-nil cred authenticates connections that use Entra ID.
func InitializePipeline(ctx context.Context, cfg *configuration.Config, cred azcore.TokenCredential, opts ...llm.Option) (*llm.Pipeline, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	if cred != nil {
		opts = append(opts, llm.WithTokenCredential(cred))
	}
	p, err := llm.NewPipeline(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM pipeline: %w", err)
	}
	return p, nil
}

// ModelConnection builds the model connection for the Azure OpenAI provider.
// A provider configured without an API key authenticates with Entra ID.
func ModelConnection(p configuration.ProviderConfig) evaluators.ModelConfig {
	mc := evaluators.NewModelConfig(p.Endpoint, p.APIKey)
	mc.UseEntraID = p.Endpoint != "" && p.APIKey == ""
	return mc
}

// InitializeTraceWriter opens the Cosmos DB and blob stores. It returns nil
// when the trace store is not configured.
func InitializeTraceWriter(cfg configuration.TraceStoreConfig, cred azcore.TokenCredential, collectionID string, logger *slog.Logger) (*cosmosdb.Writer, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	items, blobs, err := cosmosdb.Open(cfg, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace store: %w", err)
	}
	var createdBy map[string]any
	if cfg.CreatedByObject != "" {
		createdBy = map[string]any{"object_id": cfg.CreatedByObject}
	}
	return cosmosdb.NewWriter(items, blobs, cfg.BlobBaseURI, collectionID, createdBy, logger), nil
}

// SpanObserver persists every flow run as spans under one session. Persist
// failures are logged by the writer and never fail the evaluation.
func SpanObserver(w *cosmosdb.Writer, sessionID string) evaluators.RunObserver {
	if w == nil {
		return nil
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	resource := map[string]any{
		trace.FieldAttributes: map[string]any{
			"service.name": ServiceName,
			"session.id":   sessionID,
		},
	}
	return func(ctx context.Context, run *flow.RunInfo) {
		_ = w.PersistAll(context.WithoutCancel(ctx), trace.FromRun(run, sessionID, resource))
	}
}
