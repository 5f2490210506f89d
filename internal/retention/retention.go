// Package retention decides which snapshots to delete after a backup.
package retention

import "github.com/savesentry/savesentry/internal/domain"

// Policy is the per-save retention configuration. Zero values mean
// unlimited for both constraints.
type Policy struct {
	KeepLast   int   // maximum snapshot count, 0 = unlimited
	QuotaBytes int64 // maximum total archive bytes, 0 = unlimited
}

// SelectForDeletion returns the snapshots to delete, oldest first.
// snapshots must be ordered oldest to newest.
//
// The newest snapshot is never selected, even when it alone exceeds the
// quota: a policy must not delete the backup that was just created. The
// count constraint is applied first, then the size constraint over what
// remains, so a tight quota may prune below the keep-last count and a low
// keep-last count may make the quota moot. The effective retention is the
// intersection of the two.
func SelectForDeletion(snapshots []domain.Snapshot, p Policy) []domain.Snapshot {
	if len(snapshots) < 2 {
		return nil
	}

	// Everything but the protected newest is a candidate, oldest first.
	candidates := snapshots[:len(snapshots)-1]

	marked := 0
	if p.KeepLast > 0 && len(snapshots) > p.KeepLast {
		marked = len(snapshots) - p.KeepLast
		if marked > len(candidates) {
			marked = len(candidates)
		}
	}

	if p.QuotaBytes > 0 {
		var remaining int64
		for _, s := range snapshots[marked:] {
			remaining += s.Size
		}
		for remaining > p.QuotaBytes && marked < len(candidates) {
			remaining -= candidates[marked].Size
			marked++
		}
	}

	if marked == 0 {
		return nil
	}
	out := make([]domain.Snapshot, marked)
	copy(out, candidates[:marked])
	return out
}
