// Package evaluators provides ready-made evaluation functions for
// question-answering output: LLM-graded quality metrics, token F1, and
// content safety annotations.
//
// Each factory returns a Func that scores one input:
//
//	eval, err := evaluators.NewSimilarity(modelConfig, "gpt-4")
//	result, err := eval(ctx, evaluators.Input{
//		Question:    "What is the capital of Japan?",
//		Answer:      "The capital of Japan is Tokyo.",
//		GroundTruth: "Tokyo is Japan's capital.",
//	})
//	// result["gpt_similarity"] == 5.0
package evaluators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/flow"
	"github.com/ahrav/go-flowevals/internal/llm"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	"github.com/ahrav/go-flowevals/internal/llm/transport"
	"github.com/ahrav/go-flowevals/internal/safety"
)

// ModelConfig is an Azure OpenAI connection.
type ModelConfig = domain.ModelConfig

// ProjectScope identifies the Azure AI project used by safety evaluators.
type ProjectScope = domain.ProjectScope

// NewModelConfig builds a connection with the default API type and version.
func NewModelConfig(apiBase, apiKey string) ModelConfig {
	return domain.NewModelConfig(apiBase, apiKey)
}

// Input field names, also used as flow input names.
const (
	FieldQuestion    = "question"
	FieldAnswer      = "answer"
	FieldContext     = "context"
	FieldGroundTruth = "ground_truth"
)

// Evaluator errors.
var (
	ErrMissingInput      = errors.New("missing required input")
	ErrMissingDeployment = errors.New("deployment name is required")
)

// Input holds the named text fields an evaluator reads.
type Input struct {
	Question    string `json:"question,omitempty"`
	Answer      string `json:"answer,omitempty"`
	Context     string `json:"context,omitempty"`
	GroundTruth string `json:"ground_truth,omitempty"`
}

func (in Input) get(field string) string {
	switch field {
	case FieldQuestion:
		return in.Question
	case FieldAnswer:
		return in.Answer
	case FieldContext:
		return in.Context
	case FieldGroundTruth:
		return in.GroundTruth
	default:
		return ""
	}
}

// fields returns the named fields as flow inputs. Blank fields are an error.
func (in Input) fields(names ...string) (map[string]any, error) {
	out := make(map[string]any, len(names))
	for _, name := range names {
		v := in.get(name)
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, name)
		}
		out[name] = v
	}
	return out, nil
}

// Result maps metric names to scores.
type Result map[string]any

// Func evaluates one input.
type Func func(ctx context.Context, in Input) (Result, error)

// SafetyClient annotates question/answer pairs for content harms.
type SafetyClient interface {
	Evaluate(ctx context.Context, metric safety.Metric, question, answer string) (safety.Annotation, error)
}

// RunObserver receives every completed or failed flow run of a quality evaluator.
type RunObserver func(ctx context.Context, run *flow.RunInfo)

type options struct {
	handler    transport.Handler
	config     *configuration.Config
	safety     SafetyClient
	logger     *slog.Logger
	credential azcore.TokenCredential
	observer   RunObserver
}

// Option configures an evaluator factory.
type Option func(*options)

// WithHandler sends LLM calls through h instead of a pipeline built from configuration.
func WithHandler(h transport.Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithConfig sets the pipeline configuration used when no handler is given.
func WithConfig(cfg *configuration.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithSafetyClient replaces the Responsible AI client used by safety evaluators.
func WithSafetyClient(c SafetyClient) Option {
	return func(o *options) { o.safety = c }
}

// WithLogger sets the logger for evaluators and the pipeline they build.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTokenCredential authenticates connections that set UseEntraID.
func WithTokenCredential(cred azcore.TokenCredential) Option {
	return func(o *options) { o.credential = cred }
}

// WithRunObserver reports flow runs to fn, for example to persist them as spans.
func WithRunObserver(fn RunObserver) Option {
	return func(o *options) { o.observer = fn }
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "evaluators")
	return o
}

// llmHandler returns the configured handler or builds a pipeline once.
func (o *options) llmHandler() (transport.Handler, error) {
	if o.handler != nil {
		return o.handler, nil
	}
	cfg := o.config
	if cfg == nil {
		cfg = configuration.DefaultConfig().ApplyEnv()
	}
	pipelineOpts := []llm.Option{llm.WithLogger(o.logger)}
	if o.credential != nil {
		pipelineOpts = append(pipelineOpts, llm.WithTokenCredential(o.credential))
	}
	p, err := llm.NewPipeline(context.Background(), cfg, pipelineOpts...)
	if err != nil {
		return nil, fmt.Errorf("build llm pipeline: %w", err)
	}
	o.handler = p
	return p, nil
}
