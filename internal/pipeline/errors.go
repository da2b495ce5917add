package pipeline

import (
	"errors"
	"fmt"

	gitclient "git.home.luguber.info/inful/matrixci/internal/git"
)

// Standard sentinels for job phases.
var (
	ErrCheckout  = errors.New("matrixci: checkout error")  // ErrCheckout indicates a repository checkout failure.
	ErrProvision = errors.New("matrixci: provision error") // ErrProvision indicates the interpreter could not be resolved.
	ErrStep      = errors.New("matrixci: step error")      // ErrStep indicates a configured step exited non-zero.
)

// StepErrorKind classifies the outcome of a failed step.
type StepErrorKind string

const (
	StepErrorFatal    StepErrorKind = "fatal"    // Job must abort; later steps are skipped.
	StepErrorCanceled StepErrorKind = "canceled" // Context cancellation.
)

// StepError is a structured error carrying the failing step and cause.
type StepError struct {
	Kind StepErrorKind
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s step %s: %v", e.Kind, e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Transient reports whether the underlying cause is likely transient. Only
// checkout network conditions qualify; step command failures never do, and a
// transient classification never triggers a retry within a run.
func (e *StepError) Transient() bool {
	if e == nil || e.Kind == StepErrorCanceled {
		return false
	}
	if e.Step != StepCheckout {
		return false
	}
	var timeout *gitclient.NetworkTimeoutError
	if errors.As(e.Err, &timeout) {
		return true
	}
	var rateLimit *gitclient.RateLimitError
	return errors.As(e.Err, &rateLimit)
}

// NewFatalStepError creates a new fatal step error.
func NewFatalStepError(step string, err error) *StepError {
	return &StepError{Kind: StepErrorFatal, Step: step, Err: err}
}

// NewCanceledStepError creates a new canceled step error.
func NewCanceledStepError(step string, err error) *StepError {
	return &StepError{Kind: StepErrorCanceled, Step: step, Err: err}
}
