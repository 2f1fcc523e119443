package projection_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/projection"
)

func TestManager_UnknownProjection(t *testing.T) {
	ctx := context.Background()
	m := projection.NewManager(checkpoint.NewMemory())

	calls := map[string]func() error{
		"stop":   func() error { return m.StopProjection(ctx, "ghost") },
		"reset":  func() error { return m.ResetProjection(ctx, "ghost") },
		"delete": func() error { return m.DeleteProjection(ctx, "ghost", true) },
		"status": func() error { _, err := m.FetchStatus(ctx, "ghost"); return err },
		"state":  func() error { _, err := m.FetchState(ctx, "ghost"); return err },
		"positions": func() error {
			_, err := m.FetchPositions(ctx, "ghost")
			return err
		},
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, prowl.ErrProjectionNotFound) {
			t.Errorf("%s: got %v, want ErrProjectionNotFound", name, err)
		}
	}
}

func TestManager_RequestsAndFetches(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory()
	store := checkpoint.NewMemory()
	seed(t, log, "user-1", "E", "E")

	for _, name := range []string{"user_names", "user_emails", "orders"} {
		p := newCounter(name, log, store).FromStream("user-1").WhenAny(countAll)
		if err := p.Run(ctx, false); err != nil {
			t.Fatalf("run %s: %v", name, err)
		}
	}

	m := projection.NewManager(store)
	names, err := m.FetchNames(ctx, "user_")
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if diff := cmp.Diff([]string{"user_emails", "user_names"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}

	state, _ := m.FetchState(ctx, "orders")
	if string(state) != `{"count":2}` {
		t.Errorf("state: got %s", state)
	}
	pos, _ := m.FetchPositions(ctx, "orders")
	if diff := cmp.Diff(map[string]int64{"user-1": 2}, pos); diff != "" {
		t.Errorf("positions (-want +got):\n%s", diff)
	}

	requests := []struct {
		do   func() error
		want checkpoint.Status
	}{
		{func() error { return m.StopProjection(ctx, "orders") }, checkpoint.StatusStopping},
		{func() error { return m.ResetProjection(ctx, "orders") }, checkpoint.StatusResetting},
		{func() error { return m.DeleteProjection(ctx, "orders", false) }, checkpoint.StatusDeleting},
		{func() error { return m.DeleteProjection(ctx, "orders", true) }, checkpoint.StatusDeletingInclEmittedEvents},
	}
	for _, r := range requests {
		if err := r.do(); err != nil {
			t.Fatalf("request %s: %v", r.want, err)
		}
		if got, _ := m.FetchStatus(ctx, "orders"); got != r.want {
			t.Errorf("status: got %q, want %q", got, r.want)
		}
	}
}

func TestProjector_PendingDeleteBeforeStart(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory()
	store := checkpoint.NewMemory()
	seed(t, log, "user-1", "E")

	p := newCounter("counts", log, store).FromStream("user-1").
		WhenAny(func(ctx context.Context, c pc, s counter, evt eventlog.Event) (counter, error) {
			return s, c.Emit(ctx, eventlog.Event{Type: "Counted"})
		})
	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := projection.NewManager(store).DeleteProjection(ctx, "counts", true); err != nil {
		t.Fatalf("delete request: %v", err)
	}
	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("run with pending delete: %v", err)
	}

	if _, err := store.Get(ctx, "counts"); !errors.Is(err, prowl.ErrProjectionNotFound) {
		t.Errorf("descriptor: got %v, want deleted", err)
	}
	if ok, _ := log.HasStream(ctx, "counts"); ok {
		t.Error("emitted stream survived")
	}
}
