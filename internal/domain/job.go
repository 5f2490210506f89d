package domain

import "time"

type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerManual   TriggerKind = "manual"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// BackupJob is the transient record of one backup attempt. It lives only
// for the duration of the attempt and is never persisted.
type BackupJob struct {
	ID         string
	SlotID     string
	Trigger    TriggerKind
	EnqueuedAt time.Time
	Status     JobStatus
}

// RestoreJob is the transient record of one restore attempt.
type RestoreJob struct {
	ID       string
	SlotID   string
	Snapshot Snapshot
	Status   JobStatus
}
