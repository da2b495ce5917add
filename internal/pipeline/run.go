// Package pipeline defines the run model: one trigger activation expands the
// configured interpreter matrix into independent jobs, each executing the
// identical ordered step sequence under fail-fast semantics.
package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/matrixci/internal/config"
)

// TriggerKind identifies how a run was activated.
type TriggerKind string

const (
	TriggerPush   TriggerKind = "push"   // Webhook push event on the configured branch
	TriggerManual TriggerKind = "manual" // Direct CLI invocation
)

// RunStatus represents the aggregate state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// JobStatus represents the state of a single matrix job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Run is one activation of the pipeline: one job per matrix entry, all jobs
// sharing the triggering commit but nothing else.
//
// Execution mutates a run in place while API handlers serialize it, so all
// writes after creation must go through Mutate or Finish, and readers that
// may overlap execution must work from Snapshot.
type Run struct {
	ID        string      `json:"id"`
	Pipeline  string      `json:"pipeline"`
	Trigger   TriggerKind `json:"trigger"`
	Branch    string      `json:"branch"`
	Commit    string      `json:"commit,omitempty"`
	Status    RunStatus   `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Jobs      []*Job      `json:"jobs"`

	// mu guards the mutable execution state of the run and its jobs. It is
	// a pointer so Snapshot copies can carry their own lock.
	mu *sync.RWMutex

	// spec is the pipeline configuration the matrix was expanded from. It
	// stays with the run so execution uses the exact step sequence the jobs
	// were built with, even if the live configuration reloads in between.
	spec *config.PipelineConfig
}

// Job is one matrix entry's independent execution.
type Job struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Version   string        `json:"matrix_version"`
	Status    JobStatus     `json:"status"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Steps     []StepResult  `json:"steps"`
	Error     string        `json:"error,omitempty"`
}

// StepStatus represents the outcome of a single step.
type StepStatus string

const (
	StepStatusSuccess  StepStatus = "success"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped" // Not executed because an earlier step failed
	StepStatusCanceled StepStatus = "canceled"
)

// StepResult captures one step's execution within a job.
type StepResult struct {
	Name       string        `json:"name"`
	Ordinal    int           `json:"ordinal"`
	Status     StepStatus    `json:"status"`
	ExitCode   int           `json:"exit_code,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
}

// NewRun expands the configured matrix into a run. Jobs appear in matrix
// declaration order; every job carries the identical pending step sequence.
func NewRun(cfg *config.PipelineConfig, trigger TriggerKind, branch, commit string) *Run {
	run := &Run{
		ID:        uuid.NewString(),
		Pipeline:  cfg.Name,
		Trigger:   trigger,
		Branch:    branch,
		Commit:    commit,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
		Jobs:      make([]*Job, 0, len(cfg.Matrix.Interpreter)),
		mu:        &sync.RWMutex{},
		spec:      cfg,
	}
	for _, version := range cfg.Matrix.Interpreter {
		run.Jobs = append(run.Jobs, newJob(run.ID, version, cfg))
	}
	return run
}

func newJob(runID, version string, cfg *config.PipelineConfig) *Job {
	job := &Job{
		ID:      uuid.NewString(),
		RunID:   runID,
		Version: version,
		Status:  JobStatusPending,
		Steps:   make([]StepResult, 0, len(cfg.Steps)+3),
	}
	// Checkout and provision are implicit leading phases of every job; they
	// appear as step results so the executed sequence is fully observable.
	job.Steps = append(job.Steps,
		StepResult{Name: StepCheckout, Ordinal: 0, Status: StepStatusSkipped},
		StepResult{Name: StepProvision, Ordinal: 1, Status: StepStatusSkipped},
	)
	for i, s := range cfg.Steps {
		job.Steps = append(job.Steps, StepResult{Name: s.Name, Ordinal: i + 2, Status: StepStatusSkipped})
	}
	if cfg.Verify.Enabled {
		job.Steps = append(job.Steps, StepResult{Name: StepVerify, Ordinal: len(job.Steps), Status: StepStatusSkipped})
	}
	return job
}

// Implicit step names.
const (
	StepCheckout  = "checkout"
	StepProvision = "provision"
	StepVerify    = "verify-output"
)

// Spec returns the pipeline configuration the run was expanded from.
func (r *Run) Spec() *config.PipelineConfig { return r.spec }

// Mutate runs fn while holding the run's write lock. Execution code uses it
// for every field write after creation so snapshots never observe a torn
// update. Runs built as bare literals (tests) carry no lock and mutate
// directly.
func (r *Run) Mutate(fn func()) {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	fn()
}

// Snapshot returns a deep copy that is safe to read or serialize while the
// run is still executing. Jobs, step results, and timestamps are recreated;
// the copy carries its own lock.
func (r *Run) Snapshot() *Run {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	out := *r
	out.mu = &sync.RWMutex{}
	out.StartedAt = copyTime(r.StartedAt)
	out.EndedAt = copyTime(r.EndedAt)
	out.Jobs = make([]*Job, len(r.Jobs))
	for i, j := range r.Jobs {
		jc := *j
		jc.StartedAt = copyTime(j.StartedAt)
		jc.EndedAt = copyTime(j.EndedAt)
		jc.Steps = append([]StepResult(nil), j.Steps...)
		out.Jobs[i] = &jc
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Finish derives the aggregate run status from job statuses: succeeded only
// when every job succeeded, canceled when any job was canceled without a
// failure, failed otherwise. It takes the run's write lock itself.
func (r *Run) Finish() {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	now := time.Now()
	r.EndedAt = &now

	failed, canceled := false, false
	for _, j := range r.Jobs {
		switch j.Status {
		case JobStatusFailed:
			failed = true
		case JobStatusCanceled:
			canceled = true
		}
	}
	switch {
	case failed:
		r.Status = RunStatusFailed
	case canceled:
		r.Status = RunStatusCanceled
	default:
		r.Status = RunStatusSucceeded
	}
}

// StepNames returns the ordered step names a job will execute.
func (j *Job) StepNames() []string {
	names := make([]string, len(j.Steps))
	for i, s := range j.Steps {
		names[i] = s.Name
	}
	return names
}
