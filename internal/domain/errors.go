package domain

import "errors"

var (
	// ErrInsufficientSpace means the destination volume cannot hold the
	// archive. Fatal for the current job; no partial artifact is left.
	ErrInsufficientSpace = errors.New("insufficient space on destination volume")

	// ErrCorruptArchive means an archive could not be parsed or read back.
	ErrCorruptArchive = errors.New("archive is corrupt or unreadable")

	// ErrBusy rejects a manual trigger while a job is already running for
	// the slot. It is not a failure of the running job.
	ErrBusy = errors.New("a job is already running for this save")

	// ErrInUse rejects deleting a snapshot that a running restore targets.
	ErrInUse = errors.New("snapshot is in use by a running restore")
)

// ErrorKind maps an error to the short kind string carried on outcome
// events. Anything outside the taxonomy is reported as a plain I/O error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientSpace):
		return "insufficient_space"
	case errors.Is(err, ErrCorruptArchive):
		return "corrupt_archive"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrInUse):
		return "in_use"
	default:
		return "io"
	}
}
