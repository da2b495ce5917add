package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/eventstore"
	"git.home.luguber.info/inful/matrixci/internal/pipeline"
)

type stubExecutor struct {
	mu       sync.Mutex
	executed []string
	fail     bool
	done     chan string
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{done: make(chan string, 16)}
}

func (e *stubExecutor) ExecuteRun(_ context.Context, run *pipeline.Run) error {
	e.mu.Lock()
	e.executed = append(e.executed, run.ID)
	e.mu.Unlock()

	run.Mutate(func() {
		now := time.Now()
		run.StartedAt = &now
		for _, job := range run.Jobs {
			if e.fail {
				job.Status = pipeline.JobStatusFailed
				job.Error = "step command failed"
			} else {
				job.Status = pipeline.JobStatusSucceeded
			}
		}
	})
	run.Finish()
	e.done <- run.ID
	return nil
}

func testPipelineConfig(t *testing.T) *config.PipelineConfig {
	t.Helper()
	return &config.Default().Pipeline
}

func waitForRun(t *testing.T, done <-chan string, runID string) {
	t.Helper()
	select {
	case got := <-done:
		require.Equal(t, runID, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run to execute")
	}
}

func TestEnqueueAndProcess(t *testing.T) {
	exec := newStubExecutor()
	q := New(4, 1, 10, exec)

	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	q.SetStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	run := pipeline.NewRun(testPipelineConfig(t), pipeline.TriggerPush, "main", "abc123")
	require.NoError(t, q.Enqueue(run))
	waitForRun(t, exec.done, run.ID)

	assert.Equal(t, pipeline.RunStatusSucceeded, run.Status)

	// queued, started, one JobCompleted per matrix entry, completed
	require.Eventually(t, func() bool {
		events, err := store.GetByRunID(context.Background(), run.ID)
		return err == nil && len(events) == 3+len(run.Jobs)
	}, 2*time.Second, 10*time.Millisecond)

	events, err := store.GetByRunID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, eventstore.TypeRunQueued, events[0].Type())
	assert.Equal(t, eventstore.TypeRunStarted, events[1].Type())
	assert.Equal(t, eventstore.TypeRunCompleted, events[len(events)-1].Type())
}

func TestFailedRunEmitsRunFailed(t *testing.T) {
	exec := newStubExecutor()
	exec.fail = true
	q := New(4, 1, 10, exec)

	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	q.SetStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	run := pipeline.NewRun(testPipelineConfig(t), pipeline.TriggerPush, "main", "")
	require.NoError(t, q.Enqueue(run))
	waitForRun(t, exec.done, run.ID)

	assert.Equal(t, pipeline.RunStatusFailed, run.Status)
	require.Eventually(t, func() bool {
		events, err := store.GetByRunID(context.Background(), run.ID)
		if err != nil || len(events) == 0 {
			return false
		}
		return events[len(events)-1].Type() == eventstore.TypeRunFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueValidation(t *testing.T) {
	q := New(1, 1, 10, newStubExecutor())

	require.Error(t, q.Enqueue(nil))
	require.Error(t, q.Enqueue(&pipeline.Run{}))
}

func TestEnqueueFullQueue(t *testing.T) {
	// Queue never started: the channel fills and the next enqueue must fail.
	q := New(1, 1, 10, newStubExecutor())
	cfg := testPipelineConfig(t)

	require.NoError(t, q.Enqueue(pipeline.NewRun(cfg, pipeline.TriggerPush, "main", "")))
	err := q.Enqueue(pipeline.NewRun(cfg, pipeline.TriggerPush, "main", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestHistoryBounded(t *testing.T) {
	exec := newStubExecutor()
	q := New(8, 1, 2, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	cfg := testPipelineConfig(t)
	var last *pipeline.Run
	for i := 0; i < 3; i++ {
		last = pipeline.NewRun(cfg, pipeline.TriggerManual, "main", "")
		require.NoError(t, q.Enqueue(last))
		waitForRun(t, exec.done, last.ID)
	}

	require.Eventually(t, func() bool { return len(q.History()) == 2 }, 2*time.Second, 10*time.Millisecond)
	history := q.History()
	assert.Equal(t, last.ID, history[len(history)-1].ID)
	assert.Empty(t, q.ActiveRuns())
}

func TestHistoryReturnsIsolatedCopies(t *testing.T) {
	exec := newStubExecutor()
	q := New(4, 1, 10, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	run := pipeline.NewRun(testPipelineConfig(t), pipeline.TriggerPush, "main", "abc123")
	require.NoError(t, q.Enqueue(run))
	waitForRun(t, exec.done, run.ID)

	require.Eventually(t, func() bool { return len(q.History()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Callers get deep copies; scribbling on one must not leak back.
	got := q.History()[0]
	got.Status = pipeline.RunStatusCanceled
	got.Jobs[0].Status = pipeline.JobStatusCanceled
	got.Jobs[0].Steps[0].Status = pipeline.StepStatusCanceled

	fresh := q.History()[0]
	assert.Equal(t, pipeline.RunStatusSucceeded, fresh.Status)
	assert.Equal(t, pipeline.JobStatusSucceeded, fresh.Jobs[0].Status)
	assert.NotEqual(t, pipeline.StepStatusCanceled, fresh.Jobs[0].Steps[0].Status)
}

func TestJobAndStepEventsRecorded(t *testing.T) {
	q := New(4, 1, 10, newStubExecutor())

	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	q.SetStore(store)

	run := pipeline.NewRun(testPipelineConfig(t), pipeline.TriggerPush, "main", "abc123")
	job := run.Jobs[0]

	q.JobStarted(run.ID, job.ID, job.Version)
	q.StepCompleted(run.ID, job.ID, job.Version, pipeline.StepResult{
		Name:     pipeline.StepCheckout,
		Status:   pipeline.StepStatusSuccess,
		Duration: 42 * time.Millisecond,
	})

	events, err := store.GetByRunID(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, eventstore.TypeJobStarted, events[0].Type())
	assert.Equal(t, eventstore.TypeStepCompleted, events[1].Type())
	assert.Contains(t, string(events[0].Payload()), job.ID)
	assert.Contains(t, string(events[1].Payload()), pipeline.StepCheckout)
}
