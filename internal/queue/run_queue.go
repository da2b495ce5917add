// Package queue serializes run execution through a bounded worker pool.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/matrixci/internal/errors"
	"git.home.luguber.info/inful/matrixci/internal/events"
	"git.home.luguber.info/inful/matrixci/internal/eventstore"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/metrics"
	"git.home.luguber.info/inful/matrixci/internal/pipeline"
)

// RunExecutor executes a queued run to completion, mutating the run's jobs
// and step results in place.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, run *pipeline.Run) error
}

// RunQueue accepts runs and executes them through a fixed worker pool.
// Each run occupies one worker; the run's own matrix fan-out happens
// inside the executor.
type RunQueue struct {
	runs        chan *pipeline.Run
	workers     int
	maxSize     int
	mu          sync.RWMutex
	active      map[string]*pipeline.Run
	history     []*pipeline.Run
	historySize int
	stopChan    chan struct{}
	wg          sync.WaitGroup

	executor  RunExecutor
	store     eventstore.Store
	publisher *events.Publisher
	recorder  metrics.Recorder
}

// New creates a run queue. store and publisher may be nil; events are then
// not persisted or published.
func New(maxSize, workers, historySize int, executor RunExecutor) *RunQueue {
	if maxSize <= 0 {
		maxSize = 32
	}
	if workers <= 0 {
		workers = 1
	}
	if historySize <= 0 {
		historySize = 50
	}

	return &RunQueue{
		runs:        make(chan *pipeline.Run, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		active:      make(map[string]*pipeline.Run),
		history:     make([]*pipeline.Run, 0),
		historySize: historySize,
		stopChan:    make(chan struct{}),
		executor:    executor,
		recorder:    metrics.NoopRecorder{},
	}
}

// SetStore attaches the event log.
func (q *RunQueue) SetStore(s eventstore.Store) { q.store = s }

// SetPublisher attaches the NATS publisher.
func (q *RunQueue) SetPublisher(p *events.Publisher) { q.publisher = p }

// SetRecorder attaches a metrics recorder.
func (q *RunQueue) SetRecorder(r metrics.Recorder) {
	if r != nil {
		q.recorder = r
	}
}

// Start launches the worker pool.
func (q *RunQueue) Start(ctx context.Context) {
	slog.Info("starting run queue", "workers", q.workers, "max_size", q.maxSize)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop shuts the queue down and waits for in-flight runs to return. Runs
// still queued are left unprocessed.
func (q *RunQueue) Stop() {
	slog.Info("stopping run queue")
	close(q.stopChan)
	q.wg.Wait()
	slog.Info("run queue stopped")
}

// Enqueue queues a run for execution. Returns an error when the queue is
// full; the caller decides whether to surface or drop.
func (q *RunQueue) Enqueue(run *pipeline.Run) error {
	if run == nil {
		return errors.ValidationFailed("run", "cannot be nil")
	}
	if run.ID == "" {
		return errors.ValidationFailed("run.id", "is required")
	}

	select {
	case q.runs <- run:
		q.recorder.SetQueueDepth(len(q.runs))
		slog.Info("run enqueued",
			logfields.RunID(run.ID),
			logfields.Trigger(string(run.Trigger)),
			logfields.Branch(run.Branch),
			logfields.Commit(run.Commit))
		q.record(eventstore.NewRunQueued(run.ID, eventstore.RunQueuedMeta{
			Pipeline: run.Pipeline,
			Trigger:  string(run.Trigger),
			Branch:   run.Branch,
			Commit:   run.Commit,
			Jobs:     len(run.Jobs),
		}))
		return nil
	default:
		return errors.New(errors.CategoryRuntime, errors.SeverityError, "run queue is full")
	}
}

// Length returns the number of queued (not yet started) runs.
func (q *RunQueue) Length() int {
	return len(q.runs)
}

// ActiveRuns returns deep copies of currently executing runs. Copies keep
// callers (JSON encoding in HTTP handlers) off the runs the workers are
// still mutating.
func (q *RunQueue) ActiveRuns() []*pipeline.Run {
	q.mu.RLock()
	defer q.mu.RUnlock()

	active := make([]*pipeline.Run, 0, len(q.active))
	for _, run := range q.active {
		active = append(active, run.Snapshot())
	}
	return active
}

// History returns deep copies of the most recent completed runs, oldest
// first.
func (q *RunQueue) History() []*pipeline.Run {
	q.mu.RLock()
	defer q.mu.RUnlock()

	history := make([]*pipeline.Run, len(q.history))
	for i, run := range q.history {
		history[i] = run.Snapshot()
	}
	return history
}

// JobStarted implements runner.RunObserver: it records the job transition
// in the event log as the worker picks the job up.
func (q *RunQueue) JobStarted(runID, jobID, version string) {
	q.record(eventstore.NewJobStarted(runID, eventstore.JobEventMeta{
		JobID:   jobID,
		Version: version,
		Status:  string(pipeline.JobStatusRunning),
	}))
}

// StepCompleted implements runner.RunObserver: every finished step lands in
// the event log with its outcome and timing.
func (q *RunQueue) StepCompleted(runID, jobID, version string, step pipeline.StepResult) {
	q.record(eventstore.NewStepCompleted(runID, eventstore.StepEventMeta{
		JobID:      jobID,
		Version:    version,
		Step:       step.Name,
		Status:     string(step.Status),
		ExitCode:   step.ExitCode,
		DurationMS: step.Duration.Milliseconds(),
	}))
}

func (q *RunQueue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()

	slog.Debug("run worker started", logfields.Worker(workerID))

	for {
		select {
		case <-ctx.Done():
			slog.Debug("run worker stopped by context", logfields.Worker(workerID))
			return
		case <-q.stopChan:
			slog.Debug("run worker stopped by stop signal", logfields.Worker(workerID))
			return
		case run := <-q.runs:
			if run != nil {
				q.recorder.SetQueueDepth(len(q.runs))
				q.processRun(ctx, run, workerID)
			}
		}
	}
}

func (q *RunQueue) processRun(ctx context.Context, run *pipeline.Run, workerID string) {
	q.mu.Lock()
	q.active[run.ID] = run
	q.mu.Unlock()

	slog.Info("run started",
		logfields.RunID(run.ID),
		logfields.Worker(workerID),
		"jobs", len(run.Jobs))
	q.record(eventstore.NewRunStarted(run.ID, eventstore.RunStartedMeta{
		Pipeline: run.Pipeline,
		WorkerID: workerID,
		Jobs:     len(run.Jobs),
	}))

	err := q.executor.ExecuteRun(ctx, run)

	q.mu.Lock()
	delete(q.active, run.ID)
	q.addToHistory(run)
	q.mu.Unlock()

	q.emitCompletion(run, err)
}

// emitCompletion records the terminal run event plus per-job results.
func (q *RunQueue) emitCompletion(run *pipeline.Run, err error) {
	var duration time.Duration
	if run.StartedAt != nil && run.EndedAt != nil {
		duration = run.EndedAt.Sub(*run.StartedAt)
	}

	failedJobs := 0
	for _, job := range run.Jobs {
		if job.Status == pipeline.JobStatusFailed {
			failedJobs++
		}
		q.record(eventstore.NewJobCompleted(run.ID, eventstore.JobEventMeta{
			JobID:      job.ID,
			Version:    job.Version,
			Status:     string(job.Status),
			DurationMS: job.Duration.Milliseconds(),
			Error:      job.Error,
		}))
	}

	meta := eventstore.RunCompletedMeta{
		Status:     string(run.Status),
		DurationMS: duration.Milliseconds(),
		Jobs:       len(run.Jobs),
		FailedJobs: failedJobs,
	}

	if err != nil || run.Status == pipeline.RunStatusFailed {
		q.record(eventstore.NewRunFailed(run.ID, meta))
		slog.Error("run failed",
			logfields.RunID(run.ID),
			logfields.Status(string(run.Status)),
			"failed_jobs", failedJobs,
			logfields.DurationMS(float64(duration.Milliseconds())))
		return
	}

	q.record(eventstore.NewRunCompleted(run.ID, meta))
	slog.Info("run completed",
		logfields.RunID(run.ID),
		logfields.Status(string(run.Status)),
		logfields.DurationMS(float64(duration.Milliseconds())))
}

// record persists and publishes an event, logging (not surfacing) failures.
func (q *RunQueue) record(e *eventstore.BaseEvent, err error) {
	if err != nil {
		slog.Warn("failed to build run event", logfields.Error(err))
		return
	}
	if q.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if appendErr := eventstore.AppendEvent(ctx, q.store, e); appendErr != nil {
			slog.Warn("failed to persist run event",
				logfields.RunID(e.RunID()),
				"event_type", e.Type(),
				logfields.Error(appendErr))
		}
		cancel()
	}
	q.publisher.PublishAsync(e)
}

func (q *RunQueue) addToHistory(run *pipeline.Run) {
	q.history = append(q.history, run)
	if len(q.history) > q.historySize {
		copy(q.history, q.history[len(q.history)-q.historySize:])
		q.history = q.history[:q.historySize]
	}
}
