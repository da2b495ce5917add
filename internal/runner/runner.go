// Package runner executes pipeline runs: one independent job per matrix
// entry, each a strictly ordered, fail-fast step sequence.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/matrixci/internal/artifact"
	appcfg "git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/errors"
	gitclient "git.home.luguber.info/inful/matrixci/internal/git"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/metrics"
	"git.home.luguber.info/inful/matrixci/internal/pipeline"
	"git.home.luguber.info/inful/matrixci/internal/workspace"
)

// RunObserver receives job lifecycle notifications while a run executes.
// Implementations must be safe for concurrent calls from parallel jobs.
type RunObserver interface {
	JobStarted(runID, jobID, version string)
	StepCompleted(runID, jobID, version string, step pipeline.StepResult)
}

type noopObserver struct{}

func (noopObserver) JobStarted(string, string, string) {}

func (noopObserver) StepCompleted(string, string, string, pipeline.StepResult) {}

// Runner executes runs against a configuration.
type Runner struct {
	cfg       *appcfg.Config
	cfgSource func() *appcfg.Config
	checkout  CheckoutClient
	prov      Provisioner
	cmd       CommandRunner
	recorder  metrics.Recorder
	obs       RunObserver

	activeJobs atomic.Int64
}

// New creates a Runner with the default production wiring.
func New(cfg *appcfg.Config) *Runner {
	return &Runner{
		cfg:      cfg,
		checkout: gitclient.NewClient().WithShallowDepth(cfg.Build.ShallowDepth),
		prov:     NewTemplateProvisioner(cfg.Pipeline.Provision.Command),
		cmd:      NewShellRunner(),
		recorder: metrics.NoopRecorder{},
		obs:      noopObserver{},
	}
}

// SetRecorder injects a metrics recorder (optional).
func (r *Runner) SetRecorder(rec metrics.Recorder) {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	r.recorder = rec
}

// SetObserver injects a job lifecycle observer (optional).
func (r *Runner) SetObserver(o RunObserver) {
	if o == nil {
		o = noopObserver{}
	}
	r.obs = o
}

// SetConfigSource makes the runner fetch the current configuration at the
// start of each run instead of using the construction-time snapshot. Hot
// reload swaps whole Config values, so one fetch per run sees a consistent
// configuration for its whole duration.
func (r *Runner) SetConfigSource(fn func() *appcfg.Config) { r.cfgSource = fn }

func (r *Runner) config() *appcfg.Config {
	if r.cfgSource != nil {
		return r.cfgSource()
	}
	return r.cfg
}

// SetCheckoutClient overrides the checkout client (tests, alternate transports).
func (r *Runner) SetCheckoutClient(c CheckoutClient) { r.checkout = c }

// SetProvisioner overrides interpreter resolution.
func (r *Runner) SetProvisioner(p Provisioner) { r.prov = p }

// SetCommandRunner overrides step command execution.
func (r *Runner) SetCommandRunner(c CommandRunner) { r.cmd = c }

// ExecuteRun runs every job in the run. Jobs execute concurrently up to
// build.max_parallel_jobs; a job failure never cancels or delays sibling
// jobs. The returned error covers environmental failures only; job results
// are reported through the run itself.
func (r *Runner) ExecuteRun(ctx context.Context, run *pipeline.Run) error {
	cfg := r.config()
	spec := run.Spec()
	if spec == nil {
		spec = &cfg.Pipeline
	}

	run.Mutate(func() {
		now := time.Now()
		run.StartedAt = &now
		run.Status = pipeline.RunStatusRunning
	})
	baseCommit := run.Commit

	slog.Info("Starting run",
		logfields.RunID(run.ID),
		logfields.Pipeline(run.Pipeline),
		logfields.Trigger(string(run.Trigger)),
		logfields.Branch(run.Branch),
		logfields.Commit(baseCommit),
		slog.Int("jobs", len(run.Jobs)))

	ws := workspace.NewManager(cfg.Workspace.BaseDir)
	if err := ws.Create(); err != nil {
		run.Mutate(func() { run.Status = pipeline.RunStatusFailed })
		return errors.WorkspaceError("create", err)
	}
	if !cfg.Workspace.Keep {
		defer func() {
			if err := ws.Cleanup(); err != nil {
				slog.Warn("Failed to cleanup workspace", logfields.Error(err))
			}
		}()
	}

	timeout := cfg.Build.JobTimeoutDuration()

	// A plain errgroup (no shared context) keeps matrix entries isolated:
	// the first failing job must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(cfg.Build.MaxParallelJobs)
	for _, job := range run.Jobs {
		job := job
		g.Go(func() error {
			jobCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				jobCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			r.runJob(jobCtx, run, job, spec, ws, baseCommit)
			return nil
		})
	}
	_ = g.Wait()

	run.Finish()
	r.recorder.IncRunOutcome(string(run.Status))
	slog.Info("Run finished", logfields.RunID(run.ID), logfields.Status(string(run.Status)))
	return nil
}

func (r *Runner) runJob(ctx context.Context, run *pipeline.Run, job *pipeline.Job, spec *appcfg.PipelineConfig, ws *workspace.Manager, baseCommit string) {
	start := time.Now()
	run.Mutate(func() {
		job.StartedAt = &start
		job.Status = pipeline.JobStatusRunning
	})
	r.obs.JobStarted(run.ID, job.ID, job.Version)
	r.recorder.SetActiveJobs(int(r.activeJobs.Add(1)))
	defer func() {
		r.recorder.SetActiveJobs(int(r.activeJobs.Add(-1)))
		end := time.Now()
		var status pipeline.JobStatus
		run.Mutate(func() {
			job.EndedAt = &end
			job.Duration = end.Sub(start)
			status = job.Status
		})
		r.recorder.ObserveJobDuration(job.Version, end.Sub(start), status == pipeline.JobStatusSucceeded)
		r.recorder.IncJobOutcome(job.Version, string(status))
	}()

	slog.Info("Starting job", logfields.RunID(run.ID), logfields.JobID(job.ID), logfields.MatrixVersion(job.Version))

	dir, err := ws.CreateSubdir("job-" + job.Version)
	if err != nil {
		r.failJob(run, job, pipeline.NewFatalStepError(pipeline.StepCheckout, errors.WorkspaceError("create-subdir", err)))
		return
	}

	// Phase 1: checkout.
	checkoutStart := time.Now()
	commit, err := r.checkout.Checkout(ctx, spec.Repository, dir, baseCommit)
	r.recorder.ObserveCheckoutDuration(time.Since(checkoutStart), err == nil)
	if err != nil {
		err = fmt.Errorf("%w: %w", pipeline.ErrCheckout, err)
	}
	if !r.finishStep(ctx, run, job, 0, time.Since(checkoutStart), 0, nil, err) {
		return
	}
	if baseCommit == "" && commit != "" {
		run.Mutate(func() {
			if run.Commit == "" {
				run.Commit = commit
			}
		})
	}

	// Phase 2: provision the interpreter for this matrix entry.
	provisionStart := time.Now()
	interpreter, err := r.prov.Resolve(ctx, job.Version)
	if err != nil {
		err = fmt.Errorf("%w: %v", pipeline.ErrProvision, err)
	}
	if !r.finishStep(ctx, run, job, 1, time.Since(provisionStart), 0, nil, err) {
		return
	}

	jobEnv := []string{
		"MATRIXCI_INTERPRETER=" + interpreter,
		"MATRIX_VERSION=" + job.Version,
	}

	// Phase 3: configured steps, strictly ordered, each gating the next.
	for i, step := range spec.Steps {
		idx := i + 2
		stepDir := dir
		if step.Dir != "" {
			stepDir = filepath.Join(dir, step.Dir)
		}

		stepStart := time.Now()
		result, err := r.cmd.Run(ctx, Command{
			Script: step.Run,
			Dir:    stepDir,
			Env:    append(append([]string(nil), jobEnv...), step.Env...),
		})
		if err == nil && result.ExitCode != 0 {
			err = fmt.Errorf("%w: %s exited with code %d", pipeline.ErrStep, step.Name, result.ExitCode)
		}
		if !r.finishStep(ctx, run, job, idx, time.Since(stepStart), result.ExitCode, result.Output, err) {
			return
		}
	}

	// Optional phase 4: verify the rendered artifact.
	if spec.Verify.Enabled {
		idx := len(job.Steps) - 1
		verifyStart := time.Now()
		info, err := artifact.VerifyHTML(filepath.Join(dir, spec.Verify.Path))
		var output []byte
		if info != nil {
			output = []byte(fmt.Sprintf("title=%q links=%d", info.Title, info.Links))
		}
		if !r.finishStep(ctx, run, job, idx, time.Since(verifyStart), 0, output, err) {
			return
		}
	}

	run.Mutate(func() { job.Status = pipeline.JobStatusSucceeded })
	slog.Info("Job succeeded", logfields.RunID(run.ID), logfields.JobID(job.ID), logfields.MatrixVersion(job.Version))
}

// finishStep records the outcome of step idx. It returns false when the job
// must abort; remaining steps keep their skipped status (fail-fast).
func (r *Runner) finishStep(ctx context.Context, run *pipeline.Run, job *pipeline.Job, idx int, d time.Duration, exitCode int, output []byte, err error) bool {
	var done pipeline.StepResult

	if err == nil {
		run.Mutate(func() {
			step := &job.Steps[idx]
			step.Status = pipeline.StepStatusSuccess
			step.Duration = d
			step.ExitCode = exitCode
			step.OutputTail = string(output)
			done = *step
		})
		r.recorder.ObserveStepDuration(done.Name, d)
		r.recorder.IncStepResult(done.Name, metrics.ResultSuccess)
		r.obs.StepCompleted(run.ID, job.ID, job.Version, done)
		return true
	}

	canceled := ctx.Err() != nil
	var stepErr *pipeline.StepError
	run.Mutate(func() {
		step := &job.Steps[idx]
		step.Duration = d
		step.ExitCode = exitCode
		step.OutputTail = string(output)
		if canceled {
			step.Status = pipeline.StepStatusCanceled
			job.Status = pipeline.JobStatusCanceled
			stepErr = pipeline.NewCanceledStepError(step.Name, err)
		} else {
			step.Status = pipeline.StepStatusFailed
			job.Status = pipeline.JobStatusFailed
			stepErr = pipeline.NewFatalStepError(step.Name, err)
		}
		job.Error = stepErr.Error()
		done = *step
	})
	if canceled {
		r.recorder.IncStepResult(done.Name, metrics.ResultCanceled)
	} else {
		r.recorder.IncStepResult(done.Name, metrics.ResultFailed)
	}
	r.obs.StepCompleted(run.ID, job.ID, job.Version, done)

	slog.Error("Step failed",
		logfields.JobID(job.ID),
		logfields.MatrixVersion(job.Version),
		logfields.Step(done.Name),
		logfields.Status(string(done.Status)),
		logfields.Error(err))
	return false
}

func (r *Runner) failJob(run *pipeline.Run, job *pipeline.Job, stepErr *pipeline.StepError) {
	run.Mutate(func() {
		job.Status = pipeline.JobStatusFailed
		job.Error = stepErr.Error()
	})
	slog.Error("Job failed before execution", logfields.JobID(job.ID), logfields.Error(stepErr))
}
