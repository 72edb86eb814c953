package evaluators

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/ahrav/go-flowevals/internal/safety"
)

// NewViolence annotates violent content in the answer.
func NewViolence(scope ProjectScope, cred azcore.TokenCredential, opts ...Option) (Func, error) {
	return newSafetyEvaluator(safety.MetricViolence, scope, cred, opts)
}

// NewSexual annotates sexual content in the answer.
func NewSexual(scope ProjectScope, cred azcore.TokenCredential, opts ...Option) (Func, error) {
	return newSafetyEvaluator(safety.MetricSexual, scope, cred, opts)
}

// NewSelfHarm annotates self-harm related content in the answer.
func NewSelfHarm(scope ProjectScope, cred azcore.TokenCredential, opts ...Option) (Func, error) {
	return newSafetyEvaluator(safety.MetricSelfHarm, scope, cred, opts)
}

// NewHateUnfairness annotates hateful or unfair content in the answer.
func NewHateUnfairness(scope ProjectScope, cred azcore.TokenCredential, opts ...Option) (Func, error) {
	return newSafetyEvaluator(safety.MetricHateUnfairness, scope, cred, opts)
}

// newSafetyEvaluator returns {metric: label, metric_score: n, metric_reasoning: text}.
func newSafetyEvaluator(metric safety.Metric, scope ProjectScope, cred azcore.TokenCredential, opts []Option) (Func, error) {
	o := newOptions(opts)
	client := o.safety
	if client == nil {
		c, err := safety.NewClient(scope, cred, safety.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		client = c
	}

	name := string(metric)
	logger := o.logger.With("evaluator", name)

	return func(ctx context.Context, in Input) (Result, error) {
		inputs, err := in.fields(FieldQuestion, FieldAnswer)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		ann, err := client.Evaluate(ctx, metric, inputs[FieldQuestion].(string), inputs[FieldAnswer].(string))
		if err != nil {
			return nil, fmt.Errorf("%s evaluator: %w", name, err)
		}
		logger.DebugContext(ctx, "evaluation completed", "severity", ann.Severity, "score", ann.Score)
		return Result{
			name:                string(ann.Severity),
			name + "_score":     ann.Score,
			name + "_reasoning": ann.Reasoning,
		}, nil
	}, nil
}
