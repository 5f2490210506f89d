// Package restore copies a snapshot's contents back into a save's live
// directory. A restore issued while that save is being backed up waits for
// the backup to finish; backup and restore never touch the same live
// directory concurrently.
package restore

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/savesentry/savesentry/internal/domain"
	"github.com/savesentry/savesentry/internal/event"
	"github.com/savesentry/savesentry/internal/scheduler"
	"github.com/savesentry/savesentry/internal/store"
)

type Operator struct {
	gates *scheduler.Gates
	store *store.Store
	codec store.Codec
	bus   *event.Bus
	log   domain.Logger
}

func NewOperator(gates *scheduler.Gates, st *store.Store, codec store.Codec, bus *event.Bus, log domain.Logger) *Operator {
	return &Operator{
		gates: gates,
		store: st,
		codec: codec,
		bus:   bus,
		log:   log,
	}
}

// Restore extracts snap into the slot's live directory and returns the
// restored path. The snapshot is pinned for the whole attempt so neither
// retention nor a manual delete can remove it mid-read.
func (o *Operator) Restore(slot domain.SaveSlot, snap domain.Snapshot) (string, error) {
	job := domain.RestoreJob{
		ID:       uuid.NewString(),
		SlotID:   slot.ID,
		Snapshot: snap,
		Status:   domain.StatusQueued,
	}

	o.store.Pin(snap)
	defer o.store.Unpin(snap)

	o.gates.Acquire(slot.ID)
	defer o.gates.Release(slot.ID)
	job.Status = domain.StatusRunning

	started := time.Now()
	err := o.run(slot, snap)

	outcome := event.JobOutcome{
		JobID:    job.ID,
		SlotID:   slot.ID,
		Kind:     event.KindRestore,
		Trigger:  domain.TriggerManual,
		Started:  started,
		Finished: time.Now(),
	}
	if err != nil {
		outcome.Status = domain.StatusFailed
		outcome.ErrorKind = domain.ErrorKind(err)
		o.log.Errorf("[%s] restore failed: %v", slot.ID, err)
	} else {
		outcome.Status = domain.StatusSucceeded
		outcome.Path = slot.Path
		outcome.Bytes = snap.Size
		o.log.Infof("[%s] restored snapshot from %s", slot.ID, snap.CreatedAt.Format(time.RFC3339))
	}
	o.bus.PublishOutcome(outcome)

	if err != nil {
		return "", err
	}
	return slot.Path, nil
}

func (o *Operator) run(slot domain.SaveSlot, snap domain.Snapshot) error {
	if _, err := os.Stat(snap.Path); err != nil {
		return fmt.Errorf("snapshot archive missing: %w", err)
	}
	if err := ensureWritable(slot.Path); err != nil {
		return err
	}
	return o.codec.Extract(snap.Path, slot.Path)
}

// ensureWritable proves the destination accepts writes before the codec
// starts overwriting save files.
func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("destination not writable: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".restore-*")
	if err != nil {
		return fmt.Errorf("destination not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
