package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	gitclient "git.home.luguber.info/inful/matrixci/internal/git"
)

func TestStepErrorFormatting(t *testing.T) {
	cause := errors.New("exit status 2")
	e := NewFatalStepError("build-docs", cause)
	assert.Equal(t, "fatal step build-docs: exit status 2", e.Error())
	assert.True(t, errors.Is(e, cause))
}

func TestTransientClassification(t *testing.T) {
	timeout := &gitclient.NetworkTimeoutError{Op: "checkout", URL: "u", Err: errors.New("i/o timeout")}
	rateLimit := &gitclient.RateLimitError{Op: "checkout", URL: "u", Err: errors.New("429")}

	assert.True(t, NewFatalStepError(StepCheckout, timeout).Transient())
	assert.True(t, NewFatalStepError(StepCheckout, rateLimit).Transient())

	// Canceled checkouts are not transient.
	assert.False(t, NewCanceledStepError(StepCheckout, timeout).Transient())

	// Step command failures are never transient, whatever the cause looks like.
	assert.False(t, NewFatalStepError("install-package", timeout).Transient())
	assert.False(t, NewFatalStepError("build-docs", errors.New("make: Error 2")).Transient())

	var nilErr *StepError
	assert.False(t, nilErr.Transient())
}

func TestCheckoutSentinelKeepsTransientClassification(t *testing.T) {
	timeout := &gitclient.NetworkTimeoutError{Op: "checkout", URL: "u", Err: errors.New("i/o timeout")}
	wrapped := fmt.Errorf("%w: %w", ErrCheckout, timeout)

	assert.True(t, errors.Is(wrapped, ErrCheckout))
	assert.True(t, NewFatalStepError(StepCheckout, wrapped).Transient())
}
