package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcfg "git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/pipeline"
)

type stubCheckout struct {
	err    error
	commit string
}

func (s stubCheckout) Checkout(_ context.Context, _ appcfg.Repository, _ string, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.commit, nil
}

type stubProvisioner struct{ err error }

func (s stubProvisioner) Resolve(_ context.Context, version string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "/usr/bin/python" + version, nil
}

// scriptedRunner fails a specific script for a specific matrix version and
// records every invocation.
type scriptedRunner struct {
	failScript  string
	failVersion string
	calls       []string // "version:script"
}

func (s *scriptedRunner) Run(_ context.Context, cmd Command) (CommandResult, error) {
	version := ""
	for _, e := range cmd.Env {
		if v, ok := strings.CutPrefix(e, "MATRIX_VERSION="); ok {
			version = v
		}
	}
	s.calls = append(s.calls, version+":"+cmd.Script)
	if s.failScript == cmd.Script && s.failVersion == version {
		return CommandResult{ExitCode: 1, Output: []byte("simulated failure")}, nil
	}
	return CommandResult{Output: []byte("ok")}, nil
}

func testConfig(t *testing.T) *appcfg.Config {
	t.Helper()
	cfg := appcfg.Default()
	cfg.Pipeline.Repository.URL = "https://example.org/wf/wfcommons.git"
	cfg.Workspace.BaseDir = t.TempDir()
	cfg.Build.MaxParallelJobs = 1 // deterministic call ordering in tests
	return cfg
}

func newTestRunner(cfg *appcfg.Config, cmd CommandRunner) *Runner {
	r := New(cfg)
	r.SetCheckoutClient(stubCheckout{commit: "abc123def"})
	r.SetProvisioner(stubProvisioner{})
	r.SetCommandRunner(cmd)
	return r
}

func TestExecuteRunAllJobsSucceed(t *testing.T) {
	cfg := testConfig(t)
	cmd := &scriptedRunner{}
	r := newTestRunner(cfg, cmd)

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerPush, "main", "abc123def")
	require.NoError(t, r.ExecuteRun(context.Background(), run))

	assert.Equal(t, pipeline.RunStatusSucceeded, run.Status)
	require.Len(t, run.Jobs, 4)
	for _, job := range run.Jobs {
		assert.Equal(t, pipeline.JobStatusSucceeded, job.Status, "job %s", job.Version)
		for _, s := range job.Steps {
			assert.Equal(t, pipeline.StepStatusSuccess, s.Status, "job %s step %s", job.Version, s.Name)
		}
	}
	// 4 configured steps per matrix entry.
	assert.Len(t, cmd.calls, 16)
}

func TestFailFastSkipsLaterSteps(t *testing.T) {
	cfg := testConfig(t)
	cmd := &scriptedRunner{failScript: "pip install .", failVersion: "3.8"}
	r := newTestRunner(cfg, cmd)

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerPush, "main", "abc123def")
	require.NoError(t, r.ExecuteRun(context.Background(), run))

	assert.Equal(t, pipeline.RunStatusFailed, run.Status)

	var failed *pipeline.Job
	for _, job := range run.Jobs {
		if job.Version == "3.8" {
			failed = job
			continue
		}
		// Sibling isolation: other versions run to completion.
		assert.Equal(t, pipeline.JobStatusSucceeded, job.Status, "job %s", job.Version)
	}
	require.NotNil(t, failed)
	assert.Equal(t, pipeline.JobStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "install-package")

	byName := map[string]pipeline.StepResult{}
	for _, s := range failed.Steps {
		byName[s.Name] = s
	}
	assert.Equal(t, pipeline.StepStatusSuccess, byName["install-doc-deps"].Status)
	assert.Equal(t, pipeline.StepStatusFailed, byName["install-package"].Status)
	assert.Equal(t, 1, byName["install-package"].ExitCode)
	// The build step must not execute after a failed install.
	assert.Equal(t, pipeline.StepStatusSkipped, byName["build-docs"].Status)
	for _, call := range cmd.calls {
		assert.NotEqual(t, "3.8:make html", call)
	}
}

func TestCheckoutFailureAbortsJob(t *testing.T) {
	cfg := testConfig(t)
	cmd := &scriptedRunner{}
	r := newTestRunner(cfg, cmd)
	r.SetCheckoutClient(stubCheckout{err: errors.New("repository does not exist")})

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerPush, "main", "")
	require.NoError(t, r.ExecuteRun(context.Background(), run))

	assert.Equal(t, pipeline.RunStatusFailed, run.Status)
	for _, job := range run.Jobs {
		assert.Equal(t, pipeline.JobStatusFailed, job.Status)
		assert.Contains(t, job.Error, pipeline.ErrCheckout.Error())
		assert.Equal(t, pipeline.StepStatusFailed, job.Steps[0].Status)
		for _, s := range job.Steps[1:] {
			assert.Equal(t, pipeline.StepStatusSkipped, s.Status)
		}
	}
	assert.Empty(t, cmd.calls)
}

func TestProvisionFailureAbortsJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Matrix.Interpreter = []string{"3.7"}
	cmd := &scriptedRunner{}
	r := newTestRunner(cfg, cmd)
	r.SetProvisioner(stubProvisioner{err: errors.New("interpreter python3.7 not available")})

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerManual, "main", "")
	require.NoError(t, r.ExecuteRun(context.Background(), run))

	job := run.Jobs[0]
	assert.Equal(t, pipeline.JobStatusFailed, job.Status)
	assert.Equal(t, pipeline.StepStatusSuccess, job.Steps[0].Status)
	assert.Equal(t, pipeline.StepStatusFailed, job.Steps[1].Status)
	assert.Empty(t, cmd.calls)
}

func TestCommitPropagatedFromCheckout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Matrix.Interpreter = []string{"3.7"}
	r := newTestRunner(cfg, &scriptedRunner{})

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerManual, "main", "")
	require.NoError(t, r.ExecuteRun(context.Background(), run))
	assert.Equal(t, "abc123def", run.Commit)
}

func TestParallelJobsAreIsolated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Build.MaxParallelJobs = 4
	cmd := &concurrentFailRunner{failVersion: "3.9"}
	r := newTestRunner(cfg, cmd)

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerPush, "main", "abc")
	require.NoError(t, r.ExecuteRun(context.Background(), run))

	for _, job := range run.Jobs {
		if job.Version == "3.9" {
			assert.Equal(t, pipeline.JobStatusFailed, job.Status)
		} else {
			assert.Equal(t, pipeline.JobStatusSucceeded, job.Status, "job %s", job.Version)
		}
	}
}

// concurrentFailRunner is safe for parallel jobs and fails every step of one version.
type concurrentFailRunner struct {
	failVersion string
}

func (c *concurrentFailRunner) Run(_ context.Context, cmd Command) (CommandResult, error) {
	for _, e := range cmd.Env {
		if e == "MATRIX_VERSION="+c.failVersion {
			return CommandResult{ExitCode: 2}, nil
		}
	}
	return CommandResult{}, nil
}

// recordingObserver collects lifecycle notifications; safe for parallel jobs.
type recordingObserver struct {
	mu      sync.Mutex
	started []string
	steps   []string
}

func (o *recordingObserver) JobStarted(_, _, version string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, version)
}

func (o *recordingObserver) StepCompleted(_, _, version string, step pipeline.StepResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, version+":"+step.Name+":"+string(step.Status))
}

func TestObserverReceivesJobAndStepEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Matrix.Interpreter = []string{"3.7"}
	r := newTestRunner(cfg, &scriptedRunner{})
	obs := &recordingObserver{}
	r.SetObserver(obs)

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerPush, "main", "abc123def")
	require.NoError(t, r.ExecuteRun(context.Background(), run))

	assert.Equal(t, []string{"3.7"}, obs.started)
	assert.Equal(t, []string{
		"3.7:checkout:success",
		"3.7:provision:success",
		"3.7:install-system-deps:success",
		"3.7:install-doc-deps:success",
		"3.7:install-package:success",
		"3.7:build-docs:success",
	}, obs.steps)
}

func TestObserverSeesFailedStep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Matrix.Interpreter = []string{"3.8"}
	r := newTestRunner(cfg, &scriptedRunner{failScript: "pip install .", failVersion: "3.8"})
	obs := &recordingObserver{}
	r.SetObserver(obs)

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerPush, "main", "abc123def")
	require.NoError(t, r.ExecuteRun(context.Background(), run))

	assert.Contains(t, obs.steps, "3.8:install-package:failed")
	// Skipped steps never complete, so build-docs must not be reported.
	for _, s := range obs.steps {
		assert.NotContains(t, s, "build-docs")
	}
}

// Serializing a run while its jobs execute is exactly what the status
// endpoint does; snapshots must observe consistent state throughout.
func TestSnapshotSafeDuringExecution(t *testing.T) {
	cfg := testConfig(t)
	cfg.Build.MaxParallelJobs = 4
	r := newTestRunner(cfg, &concurrentFailRunner{failVersion: "3.9"})

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerPush, "main", "abc")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.ExecuteRun(context.Background(), run)
	}()

	for {
		snap := run.Snapshot()
		if _, err := json.Marshal(snap); err != nil {
			t.Errorf("marshal snapshot: %v", err)
		}
		select {
		case <-done:
			assert.Equal(t, pipeline.RunStatusFailed, run.Snapshot().Status)
			return
		default:
		}
	}
}
