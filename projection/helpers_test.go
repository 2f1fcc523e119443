package projection_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/eventlog"
)

func seed(t *testing.T, log eventlog.Log, stream string, types ...string) {
	t.Helper()
	evts := make([]eventlog.Event, len(types))
	for i, typ := range types {
		evts[i] = eventlog.Event{Type: typ}
	}
	ctx := context.Background()
	ok, err := log.HasStream(ctx, stream)
	if err != nil {
		t.Fatalf("has stream %s: %v", stream, err)
	}
	if ok {
		err = log.Append(ctx, stream, evts)
	} else {
		err = log.Create(ctx, stream, evts)
	}
	if err != nil {
		t.Fatalf("seed %s: %v", stream, err)
	}
}

func repeat(typ string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = typ
	}
	return out
}

// countingStore counts checkpoint writes and lease-only renewals.
type countingStore struct {
	checkpoint.Store
	positionWrites atomic.Int64
	lockWrites     atomic.Int64
}

func (s *countingStore) Update(ctx context.Context, name string, patch checkpoint.Patch) error {
	switch {
	case patch.Position != nil:
		s.positionWrites.Add(1)
	case patch.LockedUntil != nil && patch.Status == "":
		s.lockWrites.Add(1)
	}
	return s.Store.Update(ctx, name, patch)
}

// gappyLog hides event numbers from the first hideLoads loads of every
// stream, or forever when hideLoads is 0.
type gappyLog struct {
	*eventlog.Memory
	hidden    map[int64]bool
	hideLoads int

	mu    sync.Mutex
	loads map[string]int
}

func newGappyLog(hideLoads int, hidden ...int64) *gappyLog {
	l := &gappyLog{Memory: eventlog.NewMemory(), hidden: map[int64]bool{}, hideLoads: hideLoads, loads: map[string]int{}}
	for _, n := range hidden {
		l.hidden[n] = true
	}
	return l
}

func (l *gappyLog) Load(ctx context.Context, stream string, from int64, limit int, m *eventlog.MetadataMatcher) ([]eventlog.Event, error) {
	evts, err := l.Memory.Load(ctx, stream, from, limit, m)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.loads[stream]++
	hide := l.hideLoads == 0 || l.loads[stream] <= l.hideLoads
	l.mu.Unlock()
	if !hide {
		return evts, nil
	}

	out := evts[:0:0]
	for _, evt := range evts {
		if !l.hidden[evt.Number] {
			out = append(out, evt)
		}
	}
	return out, nil
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
