package projection

import (
	"time"

	"github.com/ripkitten-co/prowl/eventlog"
)

// DefaultRetrySchedule is the per-attempt wait used when a gap is seen.
var DefaultRetrySchedule = []time.Duration{
	0,
	5 * time.Millisecond,
	50 * time.Millisecond,
	500 * time.Millisecond,
	800 * time.Millisecond,
}

// GapDetector decides whether a hole in a stream's numbering is worth
// waiting for. A hole can be a transaction that committed a later number
// first; after the schedule is exhausted it is treated as permanent.
//
// A GapDetector keeps retry state and must not be shared between
// projections.
type GapDetector struct {
	schedule []time.Duration
	window   time.Duration
	retries  int
}

// NewGapDetector returns a detector that retries once per schedule entry.
// A non-zero window only retries for events created within window of now.
// A nil schedule uses DefaultRetrySchedule.
func NewGapDetector(schedule []time.Duration, window time.Duration) *GapDetector {
	if schedule == nil {
		schedule = DefaultRetrySchedule
	}
	return &GapDetector{schedule: append([]time.Duration(nil), schedule...), window: window}
}

// IsGap reports whether number does not directly follow position.
func (g *GapDetector) IsGap(position, number int64) bool {
	return position+1 != number
}

// ShouldRetryToFillGap reports whether a gap in front of evt should be
// retried at now.
func (g *GapDetector) ShouldRetryToFillGap(now time.Time, evt eventlog.Event) bool {
	if g.retries >= len(g.schedule) {
		return false
	}
	if g.window > 0 && !evt.CreatedAt.IsZero() && evt.CreatedAt.Before(now.Add(-g.window)) {
		return false
	}
	return true
}

// SleepForNextRetry returns the wait before the upcoming retry.
func (g *GapDetector) SleepForNextRetry() time.Duration {
	if len(g.schedule) == 0 {
		return 0
	}
	if g.retries >= len(g.schedule) {
		return g.schedule[len(g.schedule)-1]
	}
	return g.schedule[g.retries]
}

func (g *GapDetector) TrackRetry() { g.retries++ }

func (g *GapDetector) ResetRetries() { g.retries = 0 }

func (g *GapDetector) IsRetrying() bool { return g.retries > 0 }
