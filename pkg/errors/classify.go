package errors

import (
	"context"
	stdErrors "errors"
)

// FailureClass groups sync failures by how they are retried.
type FailureClass string

const (
	FailureTransient  FailureClass = "transient"
	FailureValidation FailureClass = "validation"
	FailureConflict   FailureClass = "conflict"
	FailureCapacity   FailureClass = "capacity"
)

// Classify maps an error onto the sync failure taxonomy. Untyped errors are
// treated as transient so they get bounded automatic retries.
func Classify(err error) FailureClass {
	if err == nil {
		return ""
	}
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		return FailureTransient
	}
	te := As(err)
	if te == nil {
		return FailureTransient
	}
	switch te.Code() {
	case CodeValidation, CodeStateConflict:
		return FailureValidation
	case CodeConflict:
		return FailureConflict
	case CodeCapacity:
		return FailureCapacity
	default:
		return FailureTransient
	}
}

// Retryable reports whether the reconciler may retry err on its own.
func Retryable(err error) bool {
	switch Classify(err) {
	case FailureTransient, FailureCapacity:
		return true
	default:
		return false
	}
}
