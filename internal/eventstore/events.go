package eventstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Canonical run lifecycle event type names.
const (
	TypeRunQueued     = "RunQueued"
	TypeRunStarted    = "RunStarted"
	TypeJobStarted    = "JobStarted"
	TypeStepCompleted = "StepCompleted"
	TypeJobCompleted  = "JobCompleted"
	TypeRunCompleted  = "RunCompleted"
	TypeRunFailed     = "RunFailed"
)

// RunQueuedMeta contains typed metadata for run queue events.
type RunQueuedMeta struct {
	Pipeline string `json:"pipeline"`
	Trigger  string `json:"trigger"`
	Branch   string `json:"branch"`
	Commit   string `json:"commit,omitempty"`
	Jobs     int    `json:"jobs"`
}

// NewRunQueued creates a RunQueued event.
func NewRunQueued(runID string, meta RunQueuedMeta) (*BaseEvent, error) {
	return newEvent(runID, TypeRunQueued, meta)
}

// RunStartedMeta contains typed metadata for run start events.
type RunStartedMeta struct {
	Pipeline string `json:"pipeline"`
	WorkerID string `json:"worker_id"`
	Jobs     int    `json:"jobs"`
}

// NewRunStarted creates a RunStarted event.
func NewRunStarted(runID string, meta RunStartedMeta) (*BaseEvent, error) {
	return newEvent(runID, TypeRunStarted, meta)
}

// JobEventMeta describes one matrix job transition.
type JobEventMeta struct {
	JobID      string `json:"job_id"`
	Version    string `json:"matrix_version"`
	Status     string `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewJobStarted creates a JobStarted event.
func NewJobStarted(runID string, meta JobEventMeta) (*BaseEvent, error) {
	return newEvent(runID, TypeJobStarted, meta)
}

// NewJobCompleted creates a JobCompleted event.
func NewJobCompleted(runID string, meta JobEventMeta) (*BaseEvent, error) {
	return newEvent(runID, TypeJobCompleted, meta)
}

// StepEventMeta describes one completed step within a job.
type StepEventMeta struct {
	JobID      string `json:"job_id"`
	Version    string `json:"matrix_version"`
	Step       string `json:"step"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// NewStepCompleted creates a StepCompleted event.
func NewStepCompleted(runID string, meta StepEventMeta) (*BaseEvent, error) {
	return newEvent(runID, TypeStepCompleted, meta)
}

// RunCompletedMeta describes the terminal state of a run.
type RunCompletedMeta struct {
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Jobs       int    `json:"jobs"`
	FailedJobs int    `json:"failed_jobs,omitempty"`
}

// NewRunCompleted creates a RunCompleted event.
func NewRunCompleted(runID string, meta RunCompletedMeta) (*BaseEvent, error) {
	return newEvent(runID, TypeRunCompleted, meta)
}

// NewRunFailed creates a RunFailed event.
func NewRunFailed(runID string, meta RunCompletedMeta) (*BaseEvent, error) {
	return newEvent(runID, TypeRunFailed, meta)
}

func newEvent(runID, eventType string, meta any) (*BaseEvent, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload for run %s: %w", eventType, runID, err)
	}
	return &BaseEvent{
		EventRunID:     runID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}, nil
}
