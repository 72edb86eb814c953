// Package observability provides request logging and Prometheus metrics for
// every LLM call made by an evaluator flow.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowevals"

// Metrics holds the Prometheus collectors for the LLM pipeline.
type Metrics struct {
	Requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	replayed *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	labels := []string{"provider", "deployment"}
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests issued by evaluator flows",
		}, labels),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "LLM requests that failed, by error type",
		}, append(labels, "error_type")),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "End-to-end LLM request latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, labels),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed, by kind",
		}, append(labels, "kind")),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_replayed_total",
			Help:      "Responses served from a recording instead of a live call",
		}, labels),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.errors, m.latency, m.tokens, m.replayed)
	}
	return m
}
