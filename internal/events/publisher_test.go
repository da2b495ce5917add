package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/eventstore"
	"git.home.luguber.info/inful/matrixci/internal/retry"
)

type stubConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	failures int
	closed   bool
}

func (c *stubConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return errors.New("nats: connection lost")
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *stubConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func fastPolicy(maxRetries int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, maxRetries)
}

func TestPublishSubjects(t *testing.T) {
	conn := &stubConn{}
	pub := NewPublisher(conn, "ci", fastPolicy(0))

	queued, err := eventstore.NewRunQueued("run-1", eventstore.RunQueuedMeta{Pipeline: "docs-verify", Trigger: "push", Branch: "main"})
	require.NoError(t, err)
	completed, err := eventstore.NewRunCompleted("run-1", eventstore.RunCompletedMeta{Status: "succeeded", Jobs: 4})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), queued))
	require.NoError(t, pub.Publish(context.Background(), completed))

	assert.Equal(t, []string{"ci.runs.queued", "ci.runs.completed"}, conn.subjects)
	assert.JSONEq(t, string(queued.Payload()), string(conn.payloads[0]))
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	conn := &stubConn{failures: 2}
	pub := NewPublisher(conn, "ci", fastPolicy(3))

	e, err := eventstore.NewRunStarted("run-1", eventstore.RunStartedMeta{Pipeline: "docs-verify"})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), e))
	assert.Len(t, conn.subjects, 1)
}

func TestPublishExhaustsRetries(t *testing.T) {
	conn := &stubConn{failures: 10}
	pub := NewPublisher(conn, "ci", fastPolicy(2))

	e, err := eventstore.NewRunStarted("run-1", eventstore.RunStartedMeta{Pipeline: "docs-verify"})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RunStarted")
}

func TestPublishRespectsContext(t *testing.T) {
	conn := &stubConn{failures: 10}
	pub := NewPublisher(conn, "ci", retry.NewPolicy(config.RetryBackoffFixed, time.Minute, time.Minute, 5))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	e, err := eventstore.NewRunStarted("run-1", eventstore.RunStartedMeta{Pipeline: "docs-verify"})
	require.NoError(t, err)

	err = pub.Publish(ctx, e)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNilPublisherIsSafe(t *testing.T) {
	var pub *Publisher

	e, err := eventstore.NewRunStarted("run-1", eventstore.RunStartedMeta{})
	require.NoError(t, err)

	assert.NoError(t, pub.Publish(context.Background(), e))
	pub.PublishAsync(e)
	pub.Close()
}

func TestClose(t *testing.T) {
	conn := &stubConn{}
	pub := NewPublisher(conn, "ci", fastPolicy(0))
	pub.Close()
	assert.True(t, conn.closed)
}
