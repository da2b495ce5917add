// Package events publishes run lifecycle events to NATS.
//
// Publishing is best-effort ambient infrastructure: a publish failure is
// retried per the configured policy and then logged, but never fails the
// run that produced the event.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/eventstore"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/retry"
)

// Conn is the subset of the NATS connection the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher publishes run events on subjects of the form
// "<prefix>.runs.<event>". A nil Publisher is valid and publishes nothing.
type Publisher struct {
	conn   Conn
	prefix string
	policy retry.Policy
}

// Connect dials NATS and returns a publisher, or nil when no URL is
// configured (publishing disabled).
func Connect(cfg config.EventsConfig) (*Publisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("NATS event publisher initialized",
		logfields.URL(cfg.NATSURL),
		"subject_prefix", cfg.SubjectPrefix)

	return NewPublisher(conn, cfg.SubjectPrefix, retry.FromEventsConfig(cfg)), nil
}

// NewPublisher wraps an existing connection. Used by Connect and by tests.
func NewPublisher(conn Conn, prefix string, policy retry.Policy) *Publisher {
	if prefix == "" {
		prefix = "matrixci"
	}
	return &Publisher{conn: conn, prefix: prefix, policy: policy}
}

// Publish sends the event, retrying transient failures per the policy.
// The context bounds the total attempt including backoff sleeps.
func (p *Publisher) Publish(ctx context.Context, e eventstore.Event) error {
	if p == nil || p.conn == nil {
		return nil
	}

	subject := p.subjectFor(e.Type())

	var lastErr error
	for attempt := 0; attempt <= p.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.policy.Delay(attempt)):
			}
		}

		if lastErr = p.conn.Publish(subject, e.Payload()); lastErr == nil {
			slog.Debug("published run event",
				logfields.RunID(e.RunID()),
				"subject", subject)
			return nil
		}
	}

	return fmt.Errorf("failed to publish %s event for run %s: %w", e.Type(), e.RunID(), lastErr)
}

// PublishAsync publishes on a bounded background deadline and logs failures
// instead of surfacing them. Run execution never blocks on NATS.
func (p *Publisher) PublishAsync(e eventstore.Event) {
	if p == nil || p.conn == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.Publish(ctx, e); err != nil {
			slog.Warn("dropping run event after retries",
				logfields.RunID(e.RunID()),
				"event_type", e.Type(),
				logfields.Error(err))
		}
	}()
}

// subjectFor maps an event type name to a subject token, e.g.
// RunCompleted -> "<prefix>.runs.completed".
func (p *Publisher) subjectFor(eventType string) string {
	var token string
	switch eventType {
	case eventstore.TypeRunQueued:
		token = "queued"
	case eventstore.TypeRunStarted:
		token = "started"
	case eventstore.TypeJobStarted:
		token = "job_started"
	case eventstore.TypeStepCompleted:
		token = "step_completed"
	case eventstore.TypeJobCompleted:
		token = "job_completed"
	case eventstore.TypeRunCompleted:
		token = "completed"
	case eventstore.TypeRunFailed:
		token = "failed"
	default:
		token = strings.ToLower(eventType)
	}
	return fmt.Sprintf("%s.runs.%s", p.prefix, token)
}

// Close releases the underlying connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
