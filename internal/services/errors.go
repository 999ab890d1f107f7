package services

import (
	"errors"
	"fmt"
	"strings"

	"weft/internal/queue"
)

var (
	// ErrProvider marks definitive failures reported by a model backend,
	// such as auth rejections or invalid-request responses.
	ErrProvider = errors.New("provider error")
	// ErrSchema marks model output that failed structural validation.
	ErrSchema = errors.New("schema error")
	// ErrRejected marks content the model backend refused to translate, from
	// refusal payloads or safety finish reasons. Never retried.
	ErrRejected = errors.New("content rejected")
	// ErrConflict marks entity reconciliation outcomes that need a human decision.
	ErrConflict = errors.New("entity conflict")
	// ErrChunkOverflow marks source text that cannot be split within the chunk budget.
	ErrChunkOverflow = errors.New("chunk overflow")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a stage error to the job status the workflow manager
// should persist after the stage fails. Conflicts park the job for human
// review; everything else is a hard failure.
func FailureStatus(err error) queue.Status {
	if errors.Is(err, ErrConflict) {
		return queue.StatusReview
	}
	return queue.StatusFailed
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
