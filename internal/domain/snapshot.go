package domain

import "time"

// Snapshot is an immutable record of one completed backup. It is created
// only after the archive file has been fully written and renamed into
// place, and is removed only by retention pruning or an explicit delete.
type Snapshot struct {
	SlotID     string
	CreatedAt  time.Time
	Seq        uint64 // breaks CreatedAt ties, keeps ordering stable
	Path       string // archive file on disk
	Size       int64
	Compressed bool
}

// Before reports whether s was created before other, using the insertion
// sequence when the timestamps collide.
func (s Snapshot) Before(other Snapshot) bool {
	if s.CreatedAt.Equal(other.CreatedAt) {
		return s.Seq < other.Seq
	}
	return s.CreatedAt.Before(other.CreatedAt)
}
