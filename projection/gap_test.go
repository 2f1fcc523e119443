package projection_test

import (
	"testing"
	"time"

	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/projection"
)

func TestGapDetector_IsGap(t *testing.T) {
	g := projection.NewGapDetector(nil, 0)
	tests := []struct {
		position, number int64
		want             bool
	}{
		{0, 1, false},
		{4, 5, false},
		{4, 6, true},
		{0, 3, true},
	}
	for _, tt := range tests {
		if got := g.IsGap(tt.position, tt.number); got != tt.want {
			t.Errorf("IsGap(%d, %d): got %v, want %v", tt.position, tt.number, got, tt.want)
		}
	}
}

func TestGapDetector_FollowsSchedule(t *testing.T) {
	schedule := []time.Duration{0, 5 * time.Millisecond, 50 * time.Millisecond}
	g := projection.NewGapDetector(schedule, 0)
	now := time.Now()
	evt := eventlog.Event{CreatedAt: now}

	for i, want := range schedule {
		if !g.ShouldRetryToFillGap(now, evt) {
			t.Fatalf("retry %d refused", i)
		}
		if got := g.SleepForNextRetry(); got != want {
			t.Errorf("retry %d sleep: got %v, want %v", i, got, want)
		}
		g.TrackRetry()
	}
	if g.ShouldRetryToFillGap(now, evt) {
		t.Error("retried past the schedule")
	}
	if !g.IsRetrying() {
		t.Error("IsRetrying false after retries")
	}

	g.ResetRetries()
	if g.IsRetrying() || !g.ShouldRetryToFillGap(now, evt) {
		t.Error("reset did not restart the schedule")
	}
}

func TestGapDetector_DetectionWindow(t *testing.T) {
	g := projection.NewGapDetector(nil, time.Minute)
	now := time.Now()

	if g.ShouldRetryToFillGap(now, eventlog.Event{CreatedAt: now.Add(-2 * time.Minute)}) {
		t.Error("retried for an event older than the window")
	}
	if !g.ShouldRetryToFillGap(now, eventlog.Event{CreatedAt: now.Add(-time.Second)}) {
		t.Error("refused a recent event")
	}
}

func TestGapDetector_DefaultSchedule(t *testing.T) {
	g := projection.NewGapDetector(nil, 0)
	now := time.Now()
	n := 0
	for g.ShouldRetryToFillGap(now, eventlog.Event{}) {
		g.TrackRetry()
		n++
	}
	if n != len(projection.DefaultRetrySchedule) {
		t.Errorf("retries: got %d, want %d", n, len(projection.DefaultRetrySchedule))
	}
}
