// Package event carries job outcomes and disk-usage results from the core
// to whatever presentation layer drains them. Delivery is fire-and-forget:
// publishing never blocks the core.
package event

import (
	"time"

	"github.com/savesentry/savesentry/internal/domain"
)

type Type string

const (
	TypeOutcome Type = "outcome"
	TypeUsage   Type = "usage"
)

type JobKind string

const (
	KindBackup  JobKind = "backup"
	KindRestore JobKind = "restore"
)

// JobOutcome describes one completed BackupJob or RestoreJob.
type JobOutcome struct {
	JobID     string
	SlotID    string
	Kind      JobKind
	Trigger   domain.TriggerKind
	Status    domain.JobStatus
	NoChanges bool // backup succeeded by skipping an unchanged save
	Started   time.Time
	Finished  time.Time
	Path      string // archive path (backup) or restored directory (restore)
	Bytes     int64
	ErrorKind string
}

// UsageResult is the answer to one disk-usage probe.
type UsageResult struct {
	Path  string
	Bytes int64
}

type Event struct {
	Type    Type
	Outcome JobOutcome  // valid when Type == TypeOutcome
	Usage   UsageResult // valid when Type == TypeUsage
}

// Bus is a bounded fan-in channel. If the consumer lags behind, newer
// events are dropped rather than stalling a job.
type Bus struct {
	ch chan Event
}

func NewBus(size int) *Bus {
	return &Bus{ch: make(chan Event, size)}
}

func (b *Bus) PublishOutcome(o JobOutcome) {
	b.publish(Event{Type: TypeOutcome, Outcome: o})
}

func (b *Bus) PublishUsage(u UsageResult) {
	b.publish(Event{Type: TypeUsage, Usage: u})
}

func (b *Bus) publish(e Event) {
	select {
	case b.ch <- e:
	default:
	}
}

func (b *Bus) Events() <-chan Event {
	return b.ch
}
