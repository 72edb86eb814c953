// Package evaluation runs named evaluators as Temporal activities.
package evaluation

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/ahrav/go-flowevals/pkg/evaluators"
)

// Registered evaluator names.
const (
	EvaluatorGroundedness   = "groundedness"
	EvaluatorRelevance      = "relevance"
	EvaluatorCoherence      = "coherence"
	EvaluatorFluency        = "fluency"
	EvaluatorSimilarity     = "similarity"
	EvaluatorF1Score        = "f1_score"
	EvaluatorQA             = "qa"
	EvaluatorViolence       = "violence"
	EvaluatorSexual         = "sexual"
	EvaluatorSelfHarm       = "self_harm"
	EvaluatorHateUnfairness = "hate_unfairness"
)

var (
	ErrEvaluatorExists  = errors.New("evaluator already registered")
	ErrUnknownEvaluator = errors.New("unknown evaluator")
)

// Registry maps evaluator names to evaluators.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]evaluators.Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]evaluators.Func)}
}

// Register adds fn under name.
func (r *Registry) Register(name string, fn evaluators.Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("%w: %s", ErrEvaluatorExists, name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the evaluator registered under name.
func (r *Registry) Lookup(name string) (evaluators.Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvaluator, name)
	}
	return fn, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Settings selects which built-in evaluators NewStandardRegistry registers.
// Quality evaluators need Model and Deployment; safety evaluators need Scope
// and Credential. F1 is always registered.
type Settings struct {
	Model      evaluators.ModelConfig
	Deployment string
	Scope      *evaluators.ProjectScope
	Credential azcore.TokenCredential
}

// NewStandardRegistry registers the built-in evaluators enabled by s.
func NewStandardRegistry(s Settings, opts ...evaluators.Option) (*Registry, error) {
	r := NewRegistry()

	f1, err := evaluators.NewF1Score(opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Register(EvaluatorF1Score, f1); err != nil {
		return nil, err
	}

	if !s.Model.IsZero() {
		quality := []struct {
			name    string
			factory func(evaluators.ModelConfig, string, ...evaluators.Option) (evaluators.Func, error)
		}{
			{EvaluatorGroundedness, evaluators.NewGroundedness},
			{EvaluatorRelevance, evaluators.NewRelevance},
			{EvaluatorCoherence, evaluators.NewCoherence},
			{EvaluatorFluency, evaluators.NewFluency},
			{EvaluatorSimilarity, evaluators.NewSimilarity},
			{EvaluatorQA, evaluators.NewQA},
		}
		for _, q := range quality {
			fn, err := q.factory(s.Model, s.Deployment, opts...)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", q.name, err)
			}
			if err := r.Register(q.name, fn); err != nil {
				return nil, err
			}
		}
	}

	if s.Scope != nil && s.Credential != nil {
		safety := []struct {
			name    string
			factory func(evaluators.ProjectScope, azcore.TokenCredential, ...evaluators.Option) (evaluators.Func, error)
		}{
			{EvaluatorViolence, evaluators.NewViolence},
			{EvaluatorSexual, evaluators.NewSexual},
			{EvaluatorSelfHarm, evaluators.NewSelfHarm},
			{EvaluatorHateUnfairness, evaluators.NewHateUnfairness},
		}
		for _, sf := range safety {
			fn, err := sf.factory(*s.Scope, s.Credential, opts...)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", sf.name, err)
			}
			if err := r.Register(sf.name, fn); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}
