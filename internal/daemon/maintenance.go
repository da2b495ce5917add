package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/eventstore"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/workspace"
)

// Events stay queryable well past workspace cleanup.
const eventRetention = 30 * 24 * time.Hour

// Maintenance schedules housekeeping: pruning stale run workspaces and old
// events. Housekeeping never queues runs; pushes are the only run trigger.
type Maintenance struct {
	scheduler gocron.Scheduler
	cfg       *config.Config
	store     eventstore.Store
}

// NewMaintenance creates the maintenance scheduler.
func NewMaintenance(cfg *config.Config) (*Maintenance, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Maintenance{scheduler: s, cfg: cfg}, nil
}

// SetStore enables event pruning.
func (m *Maintenance) SetStore(s eventstore.Store) { m.store = s }

// Start registers the housekeeping job and starts the scheduler.
func (m *Maintenance) Start(ctx context.Context) {
	interval := m.cfg.Maintenance.IntervalDuration()

	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(m.housekeep, ctx),
		gocron.WithName("housekeeping"),
	)
	if err != nil {
		slog.Error("failed to schedule housekeeping", logfields.Error(err))
		return
	}

	slog.Info("Starting maintenance scheduler", "interval", interval.String())
	m.scheduler.Start()
}

// Stop shuts the scheduler down.
func (m *Maintenance) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		slog.Error("scheduler shutdown error", logfields.Error(err))
	}
}

func (m *Maintenance) housekeep(ctx context.Context) {
	retention := m.cfg.Maintenance.RetentionDuration()

	if base := m.cfg.Workspace.BaseDir; base != "" {
		removed, err := workspace.PruneStale(base, retention)
		if err != nil {
			slog.Warn("workspace pruning failed", logfields.Error(err))
		} else if removed > 0 {
			slog.Info("pruned stale workspaces", "removed", removed, logfields.Path(base))
		}
	}

	if m.store != nil {
		removed, err := m.store.Prune(ctx, time.Now().Add(-eventRetention))
		if err != nil {
			slog.Warn("event pruning failed", logfields.Error(err))
		} else if removed > 0 {
			slog.Info("pruned old events", "removed", removed)
		}
	}
}
