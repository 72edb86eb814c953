package evaluators

import (
	"context"
	"embed"
	"fmt"
	"math"
	"path"

	"github.com/ahrav/go-flowevals/internal/flow"
)

//go:embed flows
var flowFS embed.FS

// Names of the embedded quality flows.
const (
	flowGroundedness = "groundedness"
	flowRelevance    = "relevance"
	flowCoherence    = "coherence"
	flowFluency      = "fluency"
	flowSimilarity   = "similarity"
)

// llmNode is the node whose connection the factories override.
const llmNode = "query_llm"

// Metric names produced by the quality evaluators.
const (
	MetricGroundedness = "gpt_" + flowGroundedness
	MetricRelevance    = "gpt_" + flowRelevance
	MetricCoherence    = "gpt_" + flowCoherence
	MetricFluency      = "gpt_" + flowFluency
	MetricSimilarity   = "gpt_" + flowSimilarity
)

// NewGroundedness scores how well the answer is supported by the context.
func NewGroundedness(mc ModelConfig, deployment string, opts ...Option) (Func, error) {
	return newQualityEvaluator(flowGroundedness, mc, deployment, opts, FieldAnswer, FieldContext)
}

// NewRelevance scores how well the answer addresses the question given the context.
func NewRelevance(mc ModelConfig, deployment string, opts ...Option) (Func, error) {
	return newQualityEvaluator(flowRelevance, mc, deployment, opts, FieldQuestion, FieldAnswer, FieldContext)
}

// NewCoherence scores how naturally the answer's sentences fit together.
func NewCoherence(mc ModelConfig, deployment string, opts ...Option) (Func, error) {
	return newQualityEvaluator(flowCoherence, mc, deployment, opts, FieldQuestion, FieldAnswer)
}

// NewFluency scores the grammatical quality of the answer.
func NewFluency(mc ModelConfig, deployment string, opts ...Option) (Func, error) {
	return newQualityEvaluator(flowFluency, mc, deployment, opts, FieldQuestion, FieldAnswer)
}

// NewSimilarity scores how close the answer is to the ground truth.
func NewSimilarity(mc ModelConfig, deployment string, opts ...Option) (Func, error) {
	return newQualityEvaluator(flowSimilarity, mc, deployment, opts, FieldQuestion, FieldAnswer, FieldGroundTruth)
}

func newQualityEvaluator(name string, mc ModelConfig, deployment string, opts []Option, required ...string) (Func, error) {
	o := newOptions(opts)
	return o.qualityEvaluator(name, mc, deployment, required...)
}

func (o *options) qualityEvaluator(name string, mc ModelConfig, deployment string, required ...string) (Func, error) {
	mc = mc.WithDefaults()
	if err := mc.Validate(); err != nil {
		return nil, err
	}
	if deployment == "" {
		return nil, ErrMissingDeployment
	}

	handler, err := o.llmHandler()
	if err != nil {
		return nil, err
	}

	tools := flow.NewRegistry()
	if err := tools.Register("parse_score", parseScoreTool); err != nil {
		return nil, err
	}
	f, err := flow.Load(flowFS, path.Join("flows", name),
		flow.WithHandler(handler),
		flow.WithTools(tools),
		flow.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("load %s flow: %w", name, err)
	}
	f = f.WithConnections(map[string]ModelConfig{llmNode: mc})

	metric := "gpt_" + name
	logger := o.logger.With("evaluator", name)

	return func(ctx context.Context, in Input) (Result, error) {
		inputs, err := in.fields(required...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		inputs["deployment_name"] = deployment

		out, run, err := f.Invoke(ctx, inputs)
		if o.observer != nil && run != nil {
			o.observer(ctx, run)
		}
		if err != nil {
			return nil, fmt.Errorf("%s evaluator: %w", name, err)
		}

		score, _ := out[metric].(float64)
		logger.DebugContext(ctx, "evaluation completed", "run_id", run.RunID, "score", score)
		return Result{metric: score}, nil
	}, nil
}

// parseScoreTool reads the first digit of the model output. Output without a
// digit scores NaN.
func parseScoreTool(_ context.Context, inputs map[string]any) (any, error) {
	text, _ := inputs["llm_output"].(string)
	return ParseScore(text), nil
}

// ParseScore returns the first ASCII digit in s as a float64, or NaN.
func ParseScore(s string) float64 {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return float64(r - '0')
		}
	}
	return math.NaN()
}
