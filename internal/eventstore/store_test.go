package eventstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndGetByRunID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	queued, err := NewRunQueued("run-1", RunQueuedMeta{Pipeline: "docs-verify", Trigger: "push", Branch: "main", Jobs: 4})
	require.NoError(t, err)
	require.NoError(t, AppendEvent(ctx, store, queued))

	started, err := NewRunStarted("run-1", RunStartedMeta{Pipeline: "docs-verify", WorkerID: "worker-0", Jobs: 4})
	require.NoError(t, err)
	require.NoError(t, AppendEvent(ctx, store, started))

	// Another run's events must not leak in.
	other, err := NewRunQueued("run-2", RunQueuedMeta{Pipeline: "docs-verify", Trigger: "push", Branch: "main", Jobs: 4})
	require.NoError(t, err)
	require.NoError(t, AppendEvent(ctx, store, other))

	events, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, TypeRunQueued, events[0].Type())
	assert.Equal(t, TypeRunStarted, events[1].Type())

	var meta RunQueuedMeta
	require.NoError(t, json.Unmarshal(events[0].Payload(), &meta))
	assert.Equal(t, "push", meta.Trigger)
	assert.Equal(t, 4, meta.Jobs)
}

func TestAppendWithMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "run-1", TypeStepCompleted, []byte(`{}`), map[string]string{"worker": "worker-1"}))

	events, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "worker-1", events[0].Metadata()["worker"])
}

func TestGetRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "run-1", TypeRunStarted, []byte(`{}`), nil))

	now := time.Now()
	events, err := store.GetRange(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = store.GetRange(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "run-1", TypeRunCompleted, []byte(`{}`), nil))

	removed, err := store.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = store.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	events, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStepEventRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e, err := NewStepCompleted("run-1", StepEventMeta{
		JobID: "job-1", Version: "3.8", Step: "build-docs", Status: "failed", ExitCode: 2, DurationMS: 1500,
	})
	require.NoError(t, err)
	require.NoError(t, AppendEvent(ctx, store, e))

	events, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	var meta StepEventMeta
	require.NoError(t, json.Unmarshal(events[0].Payload(), &meta))
	assert.Equal(t, "build-docs", meta.Step)
	assert.Equal(t, 2, meta.ExitCode)
}
