// Package daemon wires the long-running service: HTTP surface, run queue,
// runner, event store, publisher, metrics, and maintenance.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/events"
	"git.home.luguber.info/inful/matrixci/internal/eventstore"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/metrics"
	"git.home.luguber.info/inful/matrixci/internal/pipeline"
	"git.home.luguber.info/inful/matrixci/internal/queue"
	"git.home.luguber.info/inful/matrixci/internal/runner"
	"git.home.luguber.info/inful/matrixci/internal/server"
)

// Daemon runs the push-triggered verification service.
type Daemon struct {
	// cfg holds the live configuration. Reload stores a fresh value and
	// never mutates the published one, so the server and runner can read
	// through Config without locking.
	cfg        atomic.Pointer[config.Config]
	configPath string

	runner    *runner.Runner
	queue     *queue.RunQueue
	store     eventstore.Store
	publisher *events.Publisher
	recorder  metrics.Recorder
	httpSrv   *server.Server
	watcher   *ConfigWatcher
	maint     *Maintenance

	startTime time.Time
	cancel    context.CancelFunc
}

// New assembles a daemon from configuration. configPath enables hot-reload;
// pass "" to disable watching.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	d := &Daemon{
		configPath: configPath,
		recorder:   metrics.NoopRecorder{},
		startTime:  time.Now(),
	}
	d.cfg.Store(cfg)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(reg)
		metricsHandler = metrics.HTTPHandler(reg)
	}

	if cfg.Storage.EventsDB != "" {
		store, err := eventstore.NewSQLiteStore(cfg.Storage.EventsDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %w", err)
		}
		d.store = store
	}

	publisher, err := events.Connect(cfg.Events)
	if err != nil {
		// NATS being down degrades event delivery, not run execution.
		slog.Warn("event publishing disabled", logfields.Error(err))
	}
	d.publisher = publisher

	d.runner = runner.New(cfg)
	d.runner.SetRecorder(d.recorder)
	d.runner.SetConfigSource(d.Config)

	d.queue = queue.New(cfg.Build.QueueSize, cfg.Build.Workers, cfg.Build.HistorySize, d.runner)
	d.queue.SetRecorder(d.recorder)
	d.runner.SetObserver(d.queue)
	if d.store != nil {
		d.queue.SetStore(d.store)
	}
	d.queue.SetPublisher(d.publisher)

	d.httpSrv = server.New(cfg, d, metricsHandler)

	d.maint, err = NewMaintenance(cfg)
	if err != nil {
		return nil, err
	}
	if d.store != nil {
		d.maint.SetStore(d.store)
	}

	return d, nil
}

// Start launches the queue, HTTP server, maintenance scheduler, and
// config watcher. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	cfg := d.Config()
	slog.Info("Starting daemon",
		logfields.Pipeline(cfg.Pipeline.Name),
		logfields.Repository(cfg.Pipeline.Repository.URL),
		logfields.Branch(cfg.Pipeline.Trigger.Branch),
		"matrix", cfg.Pipeline.Matrix.Interpreter)

	d.queue.Start(ctx)
	d.maint.Start(ctx)

	if err := d.httpSrv.Start(ctx); err != nil {
		d.maint.Stop()
		d.queue.Stop()
		return err
	}

	if d.configPath != "" {
		watcher, err := NewConfigWatcher(d.configPath, d)
		if err != nil {
			slog.Warn("config hot-reload disabled", logfields.Error(err))
		} else {
			d.watcher = watcher
			if err := watcher.Start(ctx); err != nil {
				slog.Warn("config hot-reload disabled", logfields.Error(err))
				d.watcher = nil
			}
		}
	}

	slog.Info("Daemon started")
	return nil
}

// Stop shuts the daemon down in reverse start order, waiting for in-flight
// runs to finish within the context deadline.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("Stopping daemon")

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.httpSrv.Stop(ctx); err != nil {
		slog.Error("http shutdown error", logfields.Error(err))
	}
	d.maint.Stop()
	// Cancel first so in-flight jobs observe shutdown, then wait for the
	// workers to drain.
	if d.cancel != nil {
		d.cancel()
	}
	d.queue.Stop()
	d.publisher.Close()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Error("event store close error", logfields.Error(err))
		}
	}

	slog.Info("Daemon stopped")
	return nil
}

// Config returns the current configuration. The returned value is never
// mutated by a reload; callers may read it without locking.
func (d *Daemon) Config() *config.Config {
	return d.cfg.Load()
}

// ReloadConfig publishes a new configuration. Pipeline, workspace, and
// build settings take effect for subsequent runs; server and storage
// changes require a restart and only log a warning. The previous Config
// value stays intact for readers still holding it.
func (d *Daemon) ReloadConfig(newCfg *config.Config) error {
	old := d.cfg.Load()

	if newCfg.Server != old.Server {
		slog.Warn("server configuration changed; restart required for listen address changes")
	}
	if newCfg.Storage != old.Storage {
		slog.Warn("storage configuration changed; restart required to switch event databases")
	}

	d.cfg.Store(newCfg)

	slog.Info("Configuration reloaded",
		logfields.Pipeline(newCfg.Pipeline.Name),
		"matrix", newCfg.Pipeline.Matrix.Interpreter)
	return nil
}

// TriggerPush expands the matrix for the pushed commit and queues the run.
func (d *Daemon) TriggerPush(branch, commit string) (*pipeline.Run, error) {
	run := pipeline.NewRun(&d.Config().Pipeline, pipeline.TriggerPush, branch, commit)

	if err := d.queue.Enqueue(run); err != nil {
		return nil, err
	}
	return run, nil
}

// ActiveRuns implements server.Runtime.
func (d *Daemon) ActiveRuns() []*pipeline.Run { return d.queue.ActiveRuns() }

// History implements server.Runtime.
func (d *Daemon) History() []*pipeline.Run { return d.queue.History() }

// QueueLength implements server.Runtime.
func (d *Daemon) QueueLength() int { return d.queue.Length() }

// StartTime implements server.Runtime.
func (d *Daemon) StartTime() time.Time { return d.startTime }
