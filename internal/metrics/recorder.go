// Package metrics defines observability hooks for run and step metrics.
package metrics

import "time"

// ResultLabel enumerates step result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for run, job, and step metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. The
// NoopRecorder allows optional injection.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	ObserveJobDuration(version string, d time.Duration, success bool)
	IncStepResult(step string, result ResultLabel)
	IncJobOutcome(version string, outcome string)
	IncRunOutcome(outcome string) // outcome: succeeded|failed|canceled
	ObserveCheckoutDuration(d time.Duration, success bool)
	SetActiveJobs(n int)
	SetQueueDepth(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration)       {}
func (NoopRecorder) ObserveJobDuration(string, time.Duration, bool)  {}
func (NoopRecorder) IncStepResult(string, ResultLabel)               {}
func (NoopRecorder) IncJobOutcome(string, string)                    {}
func (NoopRecorder) IncRunOutcome(string)                            {}
func (NoopRecorder) ObserveCheckoutDuration(time.Duration, bool)     {}
func (NoopRecorder) SetActiveJobs(int)                               {}
func (NoopRecorder) SetQueueDepth(int)                               {}
