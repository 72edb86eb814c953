// Package workflow defines the Temporal workflow that fans evaluators out over
// a dataset and aggregates their scores.
//
// Workflow code here must stay deterministic: evaluator calls, clocks and
// I/O happen in activities only.
package workflow
