// Package worker wires evaluators, the LLM pipeline and the trace store into
// a Temporal worker.
package worker

import (
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-flowevals/internal/evaluation"
	"github.com/ahrav/go-flowevals/internal/workflow"
	"github.com/ahrav/go-flowevals/pkg/activity"
	"github.com/ahrav/go-flowevals/pkg/events"
)

// TaskQueue is the default task queue served by the evaluation worker.
const TaskQueue = "flowevals"

// RegisterAll registers the batch workflow and the evaluation activity.
// Call once, before starting the worker. A nil sink disables event emission.
func RegisterAll(w sdkworker.Registry, registry *evaluation.Registry, sink events.EventSink) {
	base := activity.NewBaseActivities(sink)
	acts := evaluation.NewActivities(base, registry)

	w.RegisterWorkflow(workflow.BatchEvaluationWorkflow)
	w.RegisterActivity(acts.Evaluate)
}
