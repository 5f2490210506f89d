package domain

import "time"

// SaveSlot is one watched game-save directory. Slots are discovered by
// scanning the configured save root; a slot that is no longer on disk at
// scan time simply stops being reported.
type SaveSlot struct {
	ID      string // stable identifier derived from the directory name
	Name    string
	Path    string    // live directory of the save
	ModTime time.Time // most recent modification anywhere in the save tree
}
