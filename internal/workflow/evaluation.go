package workflow

import (
	"time"

	"github.com/go-playground/validator/v10"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-flowevals/internal/evaluation"
	"github.com/ahrav/go-flowevals/pkg/evaluators"
)

// Defaults applied when a BatchRequest leaves them unset.
const (
	DefaultActivityTimeout = 5 * time.Minute
	DefaultHeartbeat       = 30 * time.Second
	DefaultMaxAttempts     = 3
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BatchRequest scores every row with every named evaluator.
type BatchRequest struct {
	Evaluators []string           `json:"evaluators" validate:"required,min=1,dive,required"`
	Rows       []evaluators.Input `json:"rows" validate:"required,min=1"`

	// ActivityTimeout bounds one evaluator call, including LLM retries.
	ActivityTimeout time.Duration `json:"activity_timeout" validate:"gte=0"`
	MaxAttempts     int32         `json:"max_attempts" validate:"gte=0"`
}

// Validate checks the request structure.
func (r BatchRequest) Validate() error {
	return validate.Struct(r)
}

// RowResult holds the merged scores of one row and the errors of evaluators
// that failed on it.
type RowResult struct {
	Index  int               `json:"index"`
	Scores map[string]any    `json:"scores"`
	Errors map[string]string `json:"errors,omitempty"`
}

// BatchResult holds per-row results plus the mean of every numeric metric.
// Unscored and failed values are excluded from the means.
type BatchResult struct {
	Rows    []RowResult        `json:"rows"`
	Metrics map[string]float64 `json:"metrics"`
	Failed  int                `json:"failed"`
}

// BatchEvaluationWorkflow runs evaluators over rows concurrently. An
// evaluator failing on a row is recorded on that row; the batch still
// completes.
func BatchEvaluationWorkflow(ctx workflow.Context, req BatchRequest) (*BatchResult, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "batch_evaluation.v", workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid batch request", "Validation", err)
	}

	timeout := req.ActivityTimeout
	if timeout == 0 {
		timeout = DefaultActivityTimeout
	}
	attempts := req.MaxAttempts
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    DefaultHeartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    attempts,
		},
	})

	type pending struct {
		row       int
		evaluator string
		future    workflow.Future
	}
	var a *evaluation.Activities
	calls := make([]pending, 0, len(req.Rows)*len(req.Evaluators))
	for i, row := range req.Rows {
		for _, name := range req.Evaluators {
			f := workflow.ExecuteActivity(ctx, a.Evaluate, evaluation.EvaluateInput{Evaluator: name, Input: row})
			calls = append(calls, pending{row: i, evaluator: name, future: f})
		}
	}

	result := &BatchResult{Rows: make([]RowResult, len(req.Rows))}
	for i := range result.Rows {
		result.Rows[i] = RowResult{Index: i, Scores: map[string]any{}}
	}
	for _, c := range calls {
		var out evaluation.EvaluateOutput
		if err := c.future.Get(ctx, &out); err != nil {
			row := &result.Rows[c.row]
			if row.Errors == nil {
				row.Errors = map[string]string{}
			}
			row.Errors[c.evaluator] = err.Error()
			result.Failed++
			continue
		}
		for k, v := range out.Scores {
			result.Rows[c.row].Scores[k] = v
		}
	}

	result.Metrics = aggregate(result.Rows)
	workflow.GetLogger(ctx).Info("batch evaluation completed",
		"rows", len(req.Rows), "evaluators", len(req.Evaluators), "failed", result.Failed)
	return result, nil
}

// aggregate averages numeric scores per metric.
func aggregate(rows []RowResult) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, row := range rows {
		for k, v := range row.Scores {
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			sums[k] += f
			counts[k]++
		}
	}
	metrics := make(map[string]float64, len(sums))
	for k, sum := range sums {
		metrics[k] = sum / float64(counts[k])
	}
	return metrics
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
