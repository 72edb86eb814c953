// Package safety talks to the Azure AI Responsible AI service that annotates
// question/answer pairs for content harms.
package safety

import (
	"errors"
	"fmt"
)

// Metric is a harm category the service can annotate.
type Metric string

const (
	MetricViolence       Metric = "violence"
	MetricSexual         Metric = "sexual"
	MetricSelfHarm       Metric = "self_harm"
	MetricHateUnfairness Metric = "hate_unfairness"
)

// serviceName is the metric name the annotation API expects.
func (m Metric) serviceName() string {
	if m == MetricHateUnfairness {
		return "hate_fairness"
	}
	return string(m)
}

// Severity is the label derived from a 0-7 harm score.
type Severity string

const (
	SeveritySafe   Severity = "Safe"
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Score bounds of the harm scale.
const (
	MinScore = 0
	MaxScore = 7
)

// ErrSeverityOutOfRange is returned for scores outside 0-7.
var ErrSeverityOutOfRange = errors.New("severity score out of range")

// SeverityFromScore maps 0-1 to Safe, 2-3 to Low, 4-5 to Medium and 6-7 to High.
func SeverityFromScore(score int) (Severity, error) {
	switch {
	case score < MinScore || score > MaxScore:
		return "", fmt.Errorf("%w: %d", ErrSeverityOutOfRange, score)
	case score <= 1:
		return SeveritySafe, nil
	case score <= 3:
		return SeverityLow, nil
	case score <= 5:
		return SeverityMedium, nil
	default:
		return SeverityHigh, nil
	}
}
