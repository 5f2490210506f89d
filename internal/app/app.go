package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"github.com/savesentry/savesentry/internal/adapter/archive"
	"github.com/savesentry/savesentry/internal/config"
	"github.com/savesentry/savesentry/internal/domain"
	"github.com/savesentry/savesentry/internal/event"
	"github.com/savesentry/savesentry/internal/infrastructure/logger"
	"github.com/savesentry/savesentry/internal/probe"
	"github.com/savesentry/savesentry/internal/restore"
	"github.com/savesentry/savesentry/internal/scan"
	"github.com/savesentry/savesentry/internal/scheduler"
	"github.com/savesentry/savesentry/internal/store"
)

// App wires the backup engine together and exposes the operations a shell
// (UI or CLI) drives: manual backups, restores, snapshot management, the
// pause toggle, and disk-usage probes.
type App struct {
	cfgm     *config.Manager
	logger   *logger.Logger
	bus      *event.Bus
	store    *store.Store
	sched    *scheduler.Scheduler
	prober   *probe.Prober
	restorer *restore.Operator
	lock     *flock.Flock
}

func New(cfgm *config.Manager) (*App, error) {
	cfg := cfgm.Current()

	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Infof("starting %s", cfg.App.Name)

	codec := archive.NewZip()

	st, err := store.New(cfg.Backup.RootPath, codec, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot store: %w", err)
	}

	bus := event.NewBus(64)
	gates := scheduler.NewGates()

	discover := func() ([]domain.SaveSlot, error) {
		return scan.Slots(cfgm.Current().Saves.RootPath)
	}

	return &App{
		cfgm:     cfgm,
		logger:   log,
		bus:      bus,
		store:    st,
		sched:    scheduler.New(cfgm, st, gates, bus, discover, log),
		prober:   probe.New(bus, log),
		restorer: restore.NewOperator(gates, st, codec, bus, log),
		lock:     flock.New(filepath.Join(cfg.Backup.RootPath, ".savesentry.lock")),
	}, nil
}

// acquireLock guards the backup tree against a second process: a daemon
// and a headless one-pass run must never write snapshots concurrently.
func (a *App) acquireLock() error {
	locked, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock backup root: %w", err)
	}
	if !locked {
		return fmt.Errorf("backup root is locked by another savesentry process")
	}
	return nil
}

// Run starts the scheduler daemon and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.acquireLock(); err != nil {
		return err
	}
	defer a.lock.Unlock()

	a.cfgm.Watch()
	if err := a.sched.Start(); err != nil {
		return err
	}
	a.logger.Infof("scheduler started, interval %s", a.cfgm.Current().Interval())

	go a.drainEvents(ctx)

	<-ctx.Done()
	a.sched.Stop()
	a.prober.Wait()
	return nil
}

// RunOnce performs exactly one backup pass over all discovered saves and
// returns an error when any slot's pass failed.
func (a *App) RunOnce(ctx context.Context) error {
	if err := a.acquireLock(); err != nil {
		return err
	}
	defer a.lock.Unlock()

	go a.drainEvents(ctx)
	return a.sched.BackupPass()
}

// drainEvents is the in-process presentation layer: outcomes and usage
// results become log lines. A graphical shell would drain the same bus.
func (a *App) drainEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.bus.Events():
			switch ev.Type {
			case event.TypeOutcome:
				a.logOutcome(ev.Outcome)
			case event.TypeUsage:
				a.logger.Infof("disk usage of %s: %s", ev.Usage.Path, humanize.Bytes(uint64(ev.Usage.Bytes)))
			}
		}
	}
}

func (a *App) logOutcome(o event.JobOutcome) {
	took := o.Finished.Sub(o.Started).Round(10 * time.Millisecond)
	switch {
	case o.Status == domain.StatusFailed:
		a.logger.Warnf("[%s] %s %s (%s) in %s", o.SlotID, o.Kind, o.Status, o.ErrorKind, took)
	case o.NoChanges:
		a.logger.Infof("[%s] %s %s, no changes", o.SlotID, o.Kind, o.Status)
	default:
		a.logger.Infof("[%s] %s %s, %s in %s", o.SlotID, o.Kind, o.Status, humanize.Bytes(uint64(o.Bytes)), took)
	}
}

// TriggerBackup requests a manual backup for one save.
func (a *App) TriggerBackup(slotID string) error {
	return a.sched.TriggerBackup(slotID)
}

// SetPaused toggles interval-triggered backups.
func (a *App) SetPaused(paused bool) {
	a.sched.SetPaused(paused)
}

// Restore brings a snapshot back into its save's live directory and
// returns the restored path for presentation.
func (a *App) Restore(slot domain.SaveSlot, snap domain.Snapshot) (string, error) {
	return a.restorer.Restore(slot, snap)
}

// Saves lists the watched saves, most recently modified first.
func (a *App) Saves() ([]domain.SaveSlot, error) {
	return scan.Slots(a.cfgm.Current().Saves.RootPath)
}

// Snapshots lists a save's snapshots, newest first.
func (a *App) Snapshots(slotID string) []domain.Snapshot {
	return a.store.ListSnapshots(slotID)
}

// DeleteSnapshot removes one snapshot on user request.
func (a *App) DeleteSnapshot(slotID string, snap domain.Snapshot) error {
	return a.store.DeleteSnapshot(slotID, snap)
}

// EstimateUsage schedules disk-usage scans for a save's live tree and its
// backup directory; results arrive as usage events.
func (a *App) EstimateUsage(ctx context.Context, slot domain.SaveSlot) {
	a.prober.Estimate(ctx, slot.Path)
	a.prober.Estimate(ctx, a.store.BackupDir(slot.ID))
}

// UpdateSaveQuota persists a per-save quota edit; it takes effect on the
// next prune pass.
func (a *App) UpdateSaveQuota(slotID string, quotaBytes int64) error {
	return a.cfgm.UpdateSaveQuota(slotID, quotaBytes)
}

func (a *App) Shutdown() {
	a.logger.Infof("shutting down")
	a.logger.Close()
}
