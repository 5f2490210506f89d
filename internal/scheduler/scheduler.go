// Package scheduler owns the per-save backup cadence: it drives interval
// ticks, admits manual triggers, and guarantees at most one job runs per
// save at any time.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/savesentry/savesentry/internal/config"
	"github.com/savesentry/savesentry/internal/domain"
	"github.com/savesentry/savesentry/internal/event"
	"github.com/savesentry/savesentry/internal/retention"
	"github.com/savesentry/savesentry/internal/store"
)

// Discover lists the save slots to back up. Wired to scan.Slots in
// production, swappable in tests.
type Discover func() ([]domain.SaveSlot, error)

type Scheduler struct {
	cron     *cron.Cron
	gates    *Gates
	store    *store.Store
	bus      *event.Bus
	log      domain.Logger
	cfgm     *config.Manager
	discover Discover
	paused   atomic.Bool

	mu    sync.Mutex // guards entry across reschedules
	entry cron.EntryID

	wg sync.WaitGroup
}

func New(cfgm *config.Manager, st *store.Store, gates *Gates, bus *event.Bus, discover Discover, log domain.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		gates:    gates,
		store:    st,
		bus:      bus,
		log:      log,
		cfgm:     cfgm,
		discover: discover,
	}
}

// Start schedules the interval tick and begins firing. The interval is
// re-read from configuration on every change, without restart.
func (s *Scheduler) Start() error {
	if err := s.reschedule(s.cfgm.Current().Interval()); err != nil {
		return err
	}
	s.cfgm.OnChange(func(cfg config.Config) {
		if err := s.reschedule(cfg.Interval()); err != nil {
			s.log.Errorf("failed to apply new backup interval: %v", err)
		}
	})
	s.cron.Start()
	return nil
}

// Stop halts the interval timer and waits for in-flight jobs. Running jobs
// are never cancelled mid-flight; they finish or fail on their own.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
}

func (s *Scheduler) reschedule(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", int(interval.Seconds())), s.tick)
	if err != nil {
		return fmt.Errorf("failed to schedule backup interval: %w", err)
	}
	s.entry = entry
	s.log.Infof("backup interval set to %s", interval)
	return nil
}

// SetPaused suppresses interval-triggered backups. Manual triggers are
// never suppressed.
func (s *Scheduler) SetPaused(paused bool) {
	s.paused.Store(paused)
	if paused {
		s.log.Infof("automatic backups paused")
	} else {
		s.log.Infof("automatic backups resumed")
	}
}

func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// tick admits one backup per idle slot. A slot already running its backup
// just drops the tick; the next one will try again, so missed ticks never
// pile up into a backlog.
func (s *Scheduler) tick() {
	if s.paused.Load() {
		return
	}
	slots, err := s.discover()
	if err != nil {
		s.log.Errorf("save discovery failed: %v", err)
		return
	}
	for _, slot := range slots {
		if !s.dispatch(slot, domain.TriggerInterval) {
			s.log.Debugf("[%s] tick dropped, job already running", slot.ID)
		}
	}
}

// TriggerBackup starts a manual backup for one slot. It fails with ErrBusy
// while a job is already running for that slot; manual requests are
// rejected, not queued.
func (s *Scheduler) TriggerBackup(slotID string) error {
	slots, err := s.discover()
	if err != nil {
		return fmt.Errorf("save discovery failed: %w", err)
	}
	for _, slot := range slots {
		if slot.ID == slotID {
			if !s.dispatch(slot, domain.TriggerManual) {
				return domain.ErrBusy
			}
			return nil
		}
	}
	return fmt.Errorf("unknown save: %s", slotID)
}

func (s *Scheduler) dispatch(slot domain.SaveSlot, trigger domain.TriggerKind) bool {
	if !s.gates.TryAcquire(slot.ID) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.gates.Release(slot.ID)
		_ = s.runJob(slot, trigger)
	}()
	return true
}

// BackupPass synchronously backs up every discovered slot once, for the
// headless mode. The returned error joins every failed slot.
func (s *Scheduler) BackupPass() error {
	slots, err := s.discover()
	if err != nil {
		return fmt.Errorf("save discovery failed: %w", err)
	}
	var errs []error
	for _, slot := range slots {
		s.gates.Acquire(slot.ID)
		err := s.runJob(slot, domain.TriggerManual)
		s.gates.Release(slot.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", slot.ID, err))
		}
	}
	return errors.Join(errs...)
}

// runJob performs one backup attempt with the slot's gate already held.
// Failures become outcome events; nothing propagates out of the job except
// to BackupPass, which needs the exit code.
func (s *Scheduler) runJob(slot domain.SaveSlot, trigger domain.TriggerKind) error {
	job := domain.BackupJob{
		ID:         uuid.NewString(),
		SlotID:     slot.ID,
		Trigger:    trigger,
		EnqueuedAt: time.Now(),
		Status:     domain.StatusRunning,
	}

	cfg := s.cfgm.Current()
	pol := retention.Policy{
		KeepLast:   cfg.Backup.KeepLast,
		QuotaBytes: cfg.QuotaFor(slot.ID),
	}

	started := time.Now()
	snap, skipped, err := s.store.CreateSnapshot(slot, cfg.Backup.Compress, pol)

	outcome := event.JobOutcome{
		JobID:    job.ID,
		SlotID:   slot.ID,
		Kind:     event.KindBackup,
		Trigger:  trigger,
		Started:  started,
		Finished: time.Now(),
	}
	if err != nil {
		outcome.Status = domain.StatusFailed
		outcome.ErrorKind = domain.ErrorKind(err)
		s.log.Errorf("[%s] backup failed: %v", slot.ID, err)
	} else {
		outcome.Status = domain.StatusSucceeded
		outcome.NoChanges = skipped
		outcome.Path = snap.Path
		outcome.Bytes = snap.Size
	}
	s.bus.PublishOutcome(outcome)
	return err
}
