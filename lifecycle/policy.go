package lifecycle

import (
	"time"

	"github.com/labelpool/labelpool/project"
)

// Staleness classifies how far an in-progress task is past its project's
// time limits.
type Staleness int

const (
	// Active tasks are within every limit (or have no limits, or have not
	// started).
	Active Staleness = iota
	// SoftExpired tasks are past the soft limit but within grace. Advisory
	// only: surfaced to monitoring, never acted on.
	SoftExpired
	// HardExpired tasks are past soft limit plus grace, or past the
	// absolute ceiling. Only these are forcibly reclaimed.
	HardExpired
)

// String returns the staleness label used in logs and API responses.
func (s Staleness) String() string {
	switch s {
	case SoftExpired:
		return "soft_expired"
	case HardExpired:
		return "hard_expired"
	default:
		return "active"
	}
}

// Evaluate classifies elapsed active time against a project's limits.
// A nil startedAt means the work never started and cannot expire. A clock
// that reads before startedAt counts as zero elapsed rather than failing.
func Evaluate(startedAt *time.Time, now time.Time, lim project.Limits) Staleness {
	if startedAt == nil {
		return Active
	}
	elapsed := int64(now.Sub(*startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	if lim.AbsoluteExpiration != nil && elapsed >= *lim.AbsoluteExpiration {
		return HardExpired
	}
	if lim.MaxTaskTime == nil {
		return Active
	}
	grace := int64(0)
	if lim.ExtraTimeAfterMax != nil {
		grace = *lim.ExtraTimeAfterMax
	}
	switch {
	case elapsed >= *lim.MaxTaskTime+grace:
		return HardExpired
	case elapsed >= *lim.MaxTaskTime:
		return SoftExpired
	default:
		return Active
	}
}
