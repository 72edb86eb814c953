package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-flowevals/internal/evaluation"
	"github.com/ahrav/go-flowevals/pkg/activity"
	"github.com/ahrav/go-flowevals/pkg/evaluators"
)

func testActivities(t *testing.T) *evaluation.Activities {
	t.Helper()
	reg := evaluation.NewRegistry()
	require.NoError(t, reg.Register("length", func(_ context.Context, in evaluators.Input) (evaluators.Result, error) {
		return evaluators.Result{"answer_length": float64(len(in.Answer))}, nil
	}))
	require.NoError(t, reg.Register("strict", func(_ context.Context, in evaluators.Input) (evaluators.Result, error) {
		if in.GroundTruth == "" {
			return nil, fmt.Errorf("strict: %w: ground_truth", evaluators.ErrMissingInput)
		}
		return evaluators.Result{"strict_score": 1.0, "strict_label": "ok"}, nil
	}))
	return evaluation.NewActivities(activity.NewBaseActivities(nil), reg)
}

func TestBatchEvaluationWorkflow(t *testing.T) {
	var ts testsuite.WorkflowTestSuite

	t.Run("aggregates scores and keeps row errors", func(t *testing.T) {
		env := ts.NewTestWorkflowEnvironment()
		env.RegisterActivity(testActivities(t).Evaluate)

		req := BatchRequest{
			Evaluators: []string{"length", "strict"},
			Rows: []evaluators.Input{
				{Answer: "abcd", GroundTruth: "x"},
				{Answer: "ab"},
			},
		}
		env.ExecuteWorkflow(BatchEvaluationWorkflow, req)
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var res BatchResult
		require.NoError(t, env.GetWorkflowResult(&res))
		require.Len(t, res.Rows, 2)
		assert.Equal(t, 1, res.Failed)

		assert.Equal(t, map[string]any{"answer_length": 4.0, "strict_score": 1.0, "strict_label": "ok"}, res.Rows[0].Scores)
		assert.Empty(t, res.Rows[0].Errors)
		assert.Equal(t, map[string]any{"answer_length": 2.0}, res.Rows[1].Scores)
		assert.Contains(t, res.Rows[1].Errors, "strict")

		assert.InDelta(t, 3.0, res.Metrics["answer_length"], 1e-9)
		assert.InDelta(t, 1.0, res.Metrics["strict_score"], 1e-9)
		assert.NotContains(t, res.Metrics, "strict_label")
	})

	t.Run("invalid request", func(t *testing.T) {
		tests := []struct {
			name string
			req  BatchRequest
		}{
			{name: "empty", req: BatchRequest{}},
			{name: "no rows", req: BatchRequest{Evaluators: []string{"length"}}},
			{name: "blank evaluator", req: BatchRequest{Evaluators: []string{""}, Rows: []evaluators.Input{{Answer: "a"}}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				env := ts.NewTestWorkflowEnvironment()
				env.RegisterActivity(testActivities(t).Evaluate)

				env.ExecuteWorkflow(BatchEvaluationWorkflow, tt.req)
				require.True(t, env.IsWorkflowCompleted())

				var appErr *temporal.ApplicationError
				require.ErrorAs(t, env.GetWorkflowError(), &appErr)
				assert.Equal(t, "Validation", appErr.Type())
				assert.True(t, appErr.NonRetryable())
			})
		}
	})
}

func TestAggregate(t *testing.T) {
	rows := []RowResult{
		{Scores: map[string]any{"a": 1.0, "b": nil, "c": 2}},
		{Scores: map[string]any{"a": 3.0, "c": int64(4)}},
	}
	assert.Equal(t, map[string]float64{"a": 2, "c": 3}, aggregate(rows))
}
