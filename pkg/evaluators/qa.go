package evaluators

import (
	"context"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NewQA returns an evaluator that runs groundedness, relevance, coherence,
// fluency, similarity and F1 concurrently and merges their results.
// All four input fields are required.
func NewQA(mc ModelConfig, deployment string, opts ...Option) (Func, error) {
	o := newOptions(opts)

	type qualityFactory struct {
		name     string
		required []string
	}
	factories := []qualityFactory{
		{flowGroundedness, []string{FieldAnswer, FieldContext}},
		{flowRelevance, []string{FieldQuestion, FieldAnswer, FieldContext}},
		{flowCoherence, []string{FieldQuestion, FieldAnswer}},
		{flowFluency, []string{FieldQuestion, FieldAnswer}},
		{flowSimilarity, []string{FieldQuestion, FieldAnswer, FieldGroundTruth}},
	}

	evals := make([]Func, 0, len(factories)+1)
	for _, qf := range factories {
		f, err := o.qualityEvaluator(qf.name, mc, deployment, qf.required...)
		if err != nil {
			return nil, err
		}
		evals = append(evals, f)
	}
	f1, err := NewF1Score(WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	evals = append(evals, f1)

	return func(ctx context.Context, in Input) (Result, error) {
		if _, err := in.fields(FieldQuestion, FieldAnswer, FieldContext, FieldGroundTruth); err != nil {
			return nil, err
		}

		var (
			mu     sync.Mutex
			merged = make(Result, len(evals))
		)
		g, gctx := errgroup.WithContext(ctx)
		for _, eval := range evals {
			g.Go(func() error {
				res, err := eval(gctx, in)
				if err != nil {
					return err
				}
				mu.Lock()
				maps.Copy(merged, res)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return merged, nil
	}, nil
}
