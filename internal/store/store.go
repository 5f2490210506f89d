// Package store tracks the snapshots kept for each save, creates new ones
// through the archive codec, and prunes old ones through the retention
// policy. All per-slot metadata is guarded by a per-slot lock, so backups
// of unrelated saves never contend.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/savesentry/savesentry/internal/adapter/archive"
	"github.com/savesentry/savesentry/internal/domain"
	"github.com/savesentry/savesentry/internal/retention"
)

// tsFormat encodes the creation timestamp into the archive file name so
// that lexical sort equals chronological sort.
const tsFormat = "20060102-150405"

// Codec writes and reads snapshot archives.
type Codec interface {
	Write(sourceDir, destPath string, compress bool) (int64, error)
	Extract(sourcePath, destDir string) error
}

type Store struct {
	root  string
	codec Codec
	log   domain.Logger
	slots *xsync.Map[string, *slotIndex]
	seq   atomic.Uint64
}

type slotIndex struct {
	mu     sync.Mutex
	loaded bool
	snaps  []domain.Snapshot // oldest to newest
	pins   map[string]int    // archive path -> running restores

	// lastSourceMod is the save's mod time captured at the most recent
	// successful snapshot, used to skip backups of an unchanged save.
	lastSourceMod time.Time
}

func New(root string, codec Codec, log domain.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}
	return &Store{
		root:  root,
		codec: codec,
		log:   log,
		slots: xsync.NewMap[string, *slotIndex](),
	}, nil
}

// BackupDir returns the directory holding a slot's archives.
func (s *Store) BackupDir(slotID string) string {
	return filepath.Join(s.root, slotID)
}

func (s *Store) index(slotID string) *slotIndex {
	idx, _ := s.slots.LoadOrStore(slotID, &slotIndex{pins: make(map[string]int)})
	return idx
}

// loadLocked rebuilds the slot's snapshot list from disk. Archive file
// names encode the creation timestamp, so a restart loses no ordering.
func (s *Store) loadLocked(idx *slotIndex, slotID string) {
	if idx.loaded {
		return
	}
	idx.loaded = true

	entries, err := os.ReadDir(s.BackupDir(slotID))
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".zip" {
			continue
		}
		created, ok := parseArchiveName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.BackupDir(slotID), entry.Name())
		idx.snaps = append(idx.snaps, domain.Snapshot{
			SlotID:     slotID,
			CreatedAt:  created,
			Seq:        s.seq.Add(1),
			Path:       path,
			Size:       info.Size(),
			Compressed: archive.IsCompressed(path),
		})
	}
	// ReadDir returns names sorted, and lexical order is chronological
	// order here, so Seq assignment above already matches creation order.
}

// CreateSnapshot archives the slot's live directory and registers the
// result, then immediately prunes per the policy. When the save has not
// changed since the last successful snapshot, nothing is written and the
// newest snapshot is returned with skipped set.
func (s *Store) CreateSnapshot(slot domain.SaveSlot, compress bool, pol retention.Policy) (domain.Snapshot, bool, error) {
	idx := s.index(slot.ID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	s.loadLocked(idx, slot.ID)

	if snap, ok := s.unchangedLocked(idx, slot); ok {
		s.log.Infof("[%s] save unchanged since last snapshot, skipping", slot.ID)
		return snap, true, nil
	}

	dir := s.BackupDir(slot.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("failed to create backup dir: %w", err)
	}

	now := time.Now().UTC()
	n := sameSecondLocked(idx, now)
	destPath := filepath.Join(dir, archiveName(now, n))
	// Pruning can leave gaps in the per-second counter, so probe for a
	// free name. Only this store writes here and the slot lock is held.
	for {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		n++
		destPath = filepath.Join(dir, archiveName(now, n))
	}

	size, err := s.codec.Write(slot.Path, destPath, compress)
	if err != nil {
		return domain.Snapshot{}, false, err
	}

	snap := domain.Snapshot{
		SlotID:     slot.ID,
		CreatedAt:  now,
		Seq:        s.seq.Add(1),
		Path:       destPath,
		Size:       size,
		Compressed: compress,
	}
	idx.snaps = append(idx.snaps, snap)
	idx.lastSourceMod = slot.ModTime

	s.log.Infof("[%s] snapshot created: %s (%s)",
		slot.ID, filepath.Base(destPath), humanize.Bytes(uint64(size)))

	s.pruneLocked(idx, slot.ID, pol)
	return snap, false, nil
}

// unchangedLocked decides skip-if-unchanged. After a restart there is no
// recorded source mod time, so the newest snapshot's creation time stands
// in for it.
func (s *Store) unchangedLocked(idx *slotIndex, slot domain.SaveSlot) (domain.Snapshot, bool) {
	if len(idx.snaps) == 0 {
		return domain.Snapshot{}, false
	}
	newest := idx.snaps[len(idx.snaps)-1]
	if !idx.lastSourceMod.IsZero() {
		return newest, !slot.ModTime.After(idx.lastSourceMod)
	}
	return newest, !slot.ModTime.After(newest.CreatedAt)
}

func (s *Store) pruneLocked(idx *slotIndex, slotID string, pol retention.Policy) {
	doomed := retention.SelectForDeletion(idx.snaps, pol)
	if len(doomed) == 0 {
		return
	}

	removed := make(map[string]bool, len(doomed))
	for _, snap := range doomed {
		if idx.pins[snap.Path] > 0 {
			// A running restore still reads this archive; it will be
			// picked up again on the next prune pass.
			s.log.Warnf("[%s] retention skipping in-use snapshot: %s", slotID, filepath.Base(snap.Path))
			continue
		}
		if err := removeArchive(snap.Path); err != nil {
			s.log.Errorf("[%s] failed to delete snapshot %s: %v", slotID, filepath.Base(snap.Path), err)
			continue
		}
		s.log.Infof("[%s] retention deleted %s (%s)",
			slotID, filepath.Base(snap.Path), humanize.Bytes(uint64(snap.Size)))
		removed[snap.Path] = true
	}

	if len(removed) == 0 {
		return
	}
	kept := idx.snaps[:0]
	for _, snap := range idx.snaps {
		if !removed[snap.Path] {
			kept = append(kept, snap)
		}
	}
	idx.snaps = kept
}

// ListSnapshots returns the slot's snapshots newest first.
func (s *Store) ListSnapshots(slotID string) []domain.Snapshot {
	idx := s.index(slotID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	s.loadLocked(idx, slotID)

	out := make([]domain.Snapshot, len(idx.snaps))
	for i, snap := range idx.snaps {
		out[len(idx.snaps)-1-i] = snap
	}
	return out
}

// DeleteSnapshot removes a snapshot on explicit user request. It fails
// with ErrInUse while a restore targets the snapshot.
func (s *Store) DeleteSnapshot(slotID string, snap domain.Snapshot) error {
	idx := s.index(slotID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	s.loadLocked(idx, slotID)

	if idx.pins[snap.Path] > 0 {
		return domain.ErrInUse
	}
	if err := removeArchive(snap.Path); err != nil {
		return err
	}
	kept := idx.snaps[:0]
	for _, existing := range idx.snaps {
		if existing.Path != snap.Path {
			kept = append(kept, existing)
		}
	}
	idx.snaps = kept
	return nil
}

// Pin marks a snapshot as targeted by a running restore, shielding it from
// pruning and deletion until Unpin.
func (s *Store) Pin(snap domain.Snapshot) {
	idx := s.index(snap.SlotID)
	idx.mu.Lock()
	idx.pins[snap.Path]++
	idx.mu.Unlock()
}

func (s *Store) Unpin(snap domain.Snapshot) {
	idx := s.index(snap.SlotID)
	idx.mu.Lock()
	if idx.pins[snap.Path] > 1 {
		idx.pins[snap.Path]--
	} else {
		delete(idx.pins, snap.Path)
	}
	idx.mu.Unlock()
}

func removeArchive(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	// Preview image travels with its archive.
	if err := os.Remove(archive.PreviewPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete preview: %w", err)
	}
	return nil
}

// archiveName builds "<timestamp>-<nn>.zip". The two-digit counter keeps
// names unique and lexically ordered when several snapshots land in the
// same second.
func archiveName(created time.Time, nthInSecond int) string {
	return fmt.Sprintf("%s-%02d.zip", created.Format(tsFormat), nthInSecond)
}

func sameSecondLocked(idx *slotIndex, now time.Time) int {
	n := 0
	for i := len(idx.snaps) - 1; i >= 0; i-- {
		if !idx.snaps[i].CreatedAt.Truncate(time.Second).Equal(now.Truncate(time.Second)) {
			break
		}
		n++
	}
	return n
}

func parseArchiveName(name string) (time.Time, bool) {
	base := name[:len(name)-len(".zip")]
	if len(base) < len(tsFormat) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(tsFormat, base[:len(tsFormat)], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
