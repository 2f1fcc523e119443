package projection_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"

	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/projection"
	"github.com/ripkitten-co/prowl/readmodel"
)

type userName struct {
	Name string `json:"name"`
}

type rmc = projection.ReadModelContext

// recordingModel notes the checkpointed position of user-1 each time the
// read model is persisted.
type recordingModel struct {
	*readmodel.Memory[userName]
	store checkpoint.Store
	seen  []int64
}

func (m *recordingModel) Persist(ctx context.Context) error {
	var pos int64
	if d, err := m.store.Get(ctx, "user_names"); err == nil {
		pos = d.Position["user-1"]
	}
	m.seen = append(m.seen, pos)
	return m.Memory.Persist(ctx)
}

func userEvents(t *testing.T, log eventlog.Log) {
	t.Helper()
	ctx := context.Background()
	err := log.Create(ctx, "user-1", []eventlog.Event{
		{Type: "UserCreated", Data: []byte(`{"name":"ann"}`)},
		{Type: "UsernameChanged", Data: []byte(`{"name":"anne"}`)},
		{Type: "UsernameChanged", Data: []byte(`{"name":"annie"}`)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := log.Create(ctx, "user-2", []eventlog.Event{{Type: "UserCreated", Data: []byte(`{"name":"bob"}`)}}); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func newUserNames(log eventlog.Log, store checkpoint.Store, rm readmodel.ReadModel, opts ...projection.Option) *projection.ReadModelProjector[int] {
	upsert := func(ctx context.Context, c rmc, n int, evt eventlog.Event) (int, error) {
		var u userName
		if err := jsoniter.Unmarshal(evt.Data, &u); err != nil {
			return n, err
		}
		c.ReadModel().Stack("upsert", c.StreamName(), u)
		return n + 1, nil
	}
	return projection.NewReadModelProjector[int]("user_names", log, store, rm, opts...).
		FromCategory("user").
		When(map[string]projection.Handler[int, rmc]{
			"UserCreated":     upsert,
			"UsernameChanged": upsert,
		})
}

func TestReadModelProjector_PersistsReadModelBeforeCheckpoint(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory()
	store := checkpoint.NewMemory()
	userEvents(t, log)

	rm := &recordingModel{Memory: readmodel.NewMemory[userName](), store: store}
	p := newUserNames(log, store, rm, projection.WithPersistBlockSize(2))
	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	if ok, _ := rm.IsInitialized(ctx); !ok {
		t.Error("read model not initialized by run")
	}
	want := map[string]userName{"user-1": {Name: "annie"}, "user-2": {Name: "bob"}}
	if diff := cmp.Diff(want, rm.All()); diff != "" {
		t.Errorf("documents (-want +got):\n%s", diff)
	}
	if p.State() != 4 {
		t.Errorf("state: got %d, want 4", p.State())
	}

	// blocks end at user-2@1 and user-1@3; each flush sees the checkpoint
	// of the block before it
	if diff := cmp.Diff([]int64{0, 1}, rm.seen); diff != "" {
		t.Errorf("checkpointed position at read model flush (-want +got):\n%s", diff)
	}
	if rm.Pending() != 0 {
		t.Error("operations left unflushed")
	}
}

func TestReadModelProjector_ResetAndDelete(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory()
	store := checkpoint.NewMemory()
	userEvents(t, log)

	rm := readmodel.NewMemory[userName]()
	p := newUserNames(log, store, rm)
	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if p.ReadModel() != rm {
		t.Error("ReadModel returned a different sink")
	}

	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(rm.All()) != 0 {
		t.Errorf("documents after reset: %v", rm.All())
	}
	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("run after reset: %v", err)
	}
	if len(rm.All()) != 2 {
		t.Errorf("documents after replay: got %d, want 2", len(rm.All()))
	}

	if err := p.Delete(ctx, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := rm.IsInitialized(ctx); !ok {
		t.Error("delete without emitted dropped the read model")
	}

	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Delete(ctx, true); err != nil {
		t.Fatalf("delete incl emitted: %v", err)
	}
	if ok, _ := rm.IsInitialized(ctx); ok {
		t.Error("read model survived delete incl emitted")
	}
	if names, _ := store.Names(ctx, ""); len(names) != 0 {
		t.Errorf("descriptors left: %v", names)
	}
}

func TestReadModelProjector_FailedRunDropsUncheckpointedOperations(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory()
	store := checkpoint.NewMemory()
	seed(t, log, "user-1", "UserCreated", "UserCreated", "UserCreated", "UserCreated")

	rm := readmodel.NewMemory[userName]()
	failed := false
	p := projection.NewReadModelProjector[int]("user_names", log, store, rm).
		FromStream("user-1").
		WhenAny(func(ctx context.Context, c rmc, n int, evt eventlog.Event) (int, error) {
			if evt.Number == 3 && !failed {
				failed = true
				return n, errors.New("boom")
			}
			c.ReadModel().Stack("insert", fmt.Sprintf("k%d", evt.Number), userName{Name: "ann"})
			return n + 1, nil
		})

	if err := p.Run(ctx, false); err == nil {
		t.Fatal("first run: expected handler error")
	}
	if rm.Pending() != 0 {
		t.Errorf("pending after failed run: got %d, want 0", rm.Pending())
	}
	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := len(rm.All()); got != 4 {
		t.Errorf("documents after replay: got %d, want 4", got)
	}
}

func TestReadModelProjector_DropsStaleOperations(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory()
	store := checkpoint.NewMemory()
	userEvents(t, log)

	rm := readmodel.NewMemory[userName]()
	p := newUserNames(log, store, rm)

	rm.Stack("insert", "ghost", userName{Name: "ghost"})
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if rm.Pending() != 0 {
		t.Errorf("reset kept %d stacked operations", rm.Pending())
	}

	rm.Stack("insert", "ghost", userName{Name: "ghost"})
	if err := p.Run(ctx, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := rm.Get("ghost"); ok {
		t.Error("operation stacked before the run was applied")
	}
}
