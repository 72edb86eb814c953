package evaluation

import (
	"context"
	"errors"
	"net/http"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-flowevals/internal/domain"
	"github.com/ahrav/go-flowevals/internal/flow"
	llmerrors "github.com/ahrav/go-flowevals/internal/llm/errors"
	"github.com/ahrav/go-flowevals/internal/recording"
	"github.com/ahrav/go-flowevals/internal/safety"
	"github.com/ahrav/go-flowevals/pkg/evaluators"
)

// Application error types attached to activity failures.
const (
	ErrorTypeValidation = "validation"
	ErrorTypeUnknown    = "unknown_evaluator"
	ErrorTypeRecording  = string(llmerrors.ErrorTypeRecording)
	ErrorTypeSafety     = "safety"
)

// validationErrors are caller mistakes that no retry can fix.
var validationErrors = []error{
	evaluators.ErrMissingInput,
	evaluators.ErrMissingDeployment,
	flow.ErrMissingInput,
	flow.ErrMissingConnection,
	flow.ErrMissingDeployment,
	flow.ErrInvalidDefinition,
	flow.ErrUnknownTool,
	domain.ErrInvalidConnection,
	domain.ErrInvalidProjectScope,
	safety.ErrMissingCredential,
}

func nonRetryable(errType string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, errType, cause)
}

func retryable(errType string, cause error, msg string) error {
	return temporal.NewApplicationErrorWithCause(msg, errType, cause)
}

// classify converts an evaluator failure into a Temporal application error.
// Missing recordings and bad input never retry; provider failures keep the
// retry decision of the LLM error classifier.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if errors.Is(err, recording.ErrRecordItemMissing) || errors.Is(err, recording.ErrRecordFileMissing) {
		return nonRetryable(ErrorTypeRecording, err, "recording missing")
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return nonRetryable(ErrorTypeValidation, err, "invalid evaluation input")
		}
	}

	switch {
	case errors.Is(err, safety.ErrPollTimeout):
		return retryable(ErrorTypeSafety, err, "annotation not ready")
	case errors.Is(err, safety.ErrServiceUnavailable),
		errors.Is(err, safety.ErrInvalidAnnotation),
		errors.Is(err, safety.ErrSeverityOutOfRange):
		return nonRetryable(ErrorTypeSafety, err, "content safety evaluation failed")
	}

	var statusErr *safety.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError {
			return retryable(ErrorTypeSafety, err, statusErr.Op+" failed")
		}
		return nonRetryable(ErrorTypeSafety, err, statusErr.Op+" failed")
	}

	wf := llmerrors.ClassifyLLMError(err)
	if wf.ShouldRetry() {
		return retryable(string(wf.Type), err, wf.Message)
	}
	return nonRetryable(string(wf.Type), err, wf.Message)
}
