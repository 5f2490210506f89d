// Package scan discovers SaveSlots under the configured save root.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/savesentry/savesentry/internal/domain"
)

// Slots lists the save directories directly under root, most recently
// modified first. A missing root yields an empty list, not an error: the
// game may simply not have created any saves yet.
func Slots(root string) ([]domain.SaveSlot, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read save root: %w", err)
	}

	var slots []domain.SaveSlot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		mod, err := latestModTime(path)
		if err != nil {
			continue
		}
		slots = append(slots, domain.SaveSlot{
			ID:      entry.Name(),
			Name:    entry.Name(),
			Path:    path,
			ModTime: mod,
		})
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].ModTime.After(slots[j].ModTime)
	})
	return slots, nil
}

// latestModTime is the newest mtime anywhere in the save tree. The
// directory's own mtime is not enough: the game rewrites files in place
// without touching the top-level directory.
func latestModTime(root string) (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return latest, nil
}
