package readmodel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ripkitten-co/prowl/readmodel"
)

type userName struct {
	Name string
}

func TestMemory_PersistAppliesInOrder(t *testing.T) {
	ctx := context.Background()
	rm := readmodel.NewMemory[userName]()

	rm.Stack("insert", "user-1", userName{Name: "ann"})
	rm.Stack("update", "user-1", userName{Name: "anne"})
	rm.Stack("upsert", "user-2", userName{Name: "bob"})
	rm.Stack("delete", "user-2")

	if got, ok := rm.Get("user-1"); ok {
		t.Fatalf("stacked operation visible before persist: %+v", got)
	}
	if rm.Pending() != 4 {
		t.Errorf("pending: got %d, want 4", rm.Pending())
	}

	if err := rm.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	want := map[string]userName{"user-1": {Name: "anne"}}
	if diff := cmp.Diff(want, rm.All()); diff != "" {
		t.Errorf("documents (-want +got):\n%s", diff)
	}
	if rm.Pending() != 0 {
		t.Errorf("buffer not cleared: %d pending", rm.Pending())
	}
}

func TestMemory_PersistEmptyBuffer(t *testing.T) {
	rm := readmodel.NewMemory[userName]()
	if err := rm.Persist(context.Background()); err != nil {
		t.Errorf("persist with nothing stacked: %v", err)
	}
}

func TestMemory_PersistErrors(t *testing.T) {
	tests := []struct {
		name  string
		stack func(rm *readmodel.Memory[userName])
	}{
		{"unknown operation", func(rm *readmodel.Memory[userName]) { rm.Stack("rename", "user-1") }},
		{"insert twice", func(rm *readmodel.Memory[userName]) {
			rm.Stack("insert", "user-1", userName{})
			rm.Stack("insert", "user-1", userName{})
		}},
		{"update missing", func(rm *readmodel.Memory[userName]) { rm.Stack("update", "user-1", userName{}) }},
		{"wrong argument type", func(rm *readmodel.Memory[userName]) { rm.Stack("upsert", "user-1", "ann") }},
		{"missing id", func(rm *readmodel.Memory[userName]) { rm.Stack("delete") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := readmodel.NewMemory[userName]()
			tt.stack(rm)
			if err := rm.Persist(context.Background()); err == nil {
				t.Fatal("expected persist error")
			}
			if rm.Pending() != 0 {
				t.Errorf("buffer not cleared after failure")
			}
		})
	}
}

func TestMemory_UnknownOperationSentinel(t *testing.T) {
	rm := readmodel.NewMemory[userName]()
	rm.Stack("rename", "user-1")
	err := rm.Persist(context.Background())
	if !errors.Is(err, readmodel.ErrUnknownOperation) {
		t.Errorf("got %v, want ErrUnknownOperation", err)
	}
}

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	rm := readmodel.NewMemory[userName]()

	ok, _ := rm.IsInitialized(ctx)
	if ok {
		t.Fatal("new read model reports initialized")
	}
	_ = rm.Init(ctx)
	rm.Stack("upsert", "user-1", userName{Name: "ann"})
	_ = rm.Persist(ctx)

	if err := rm.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(rm.All()) != 0 {
		t.Error("reset kept documents")
	}
	if ok, _ := rm.IsInitialized(ctx); !ok {
		t.Error("reset should keep the read model initialized")
	}

	if err := rm.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := rm.IsInitialized(ctx); ok {
		t.Error("deleted read model reports initialized")
	}
}

func TestStack_DrainEmpties(t *testing.T) {
	var s readmodel.Stack
	s.Push("a", 1)
	s.Push("b")

	ops := s.Drain()
	if len(ops) != 2 || ops[0].Name != "a" || ops[1].Name != "b" {
		t.Errorf("drained: %+v", ops)
	}
	if s.Len() != 0 || len(s.Drain()) != 0 {
		t.Error("stack not empty after drain")
	}
}

func TestMemory_DiscardDropsStackedOperations(t *testing.T) {
	ctx := context.Background()
	rm := readmodel.NewMemory[userName]()
	rm.Stack("insert", "user-1", userName{Name: "ann"})
	rm.Discard()

	if rm.Pending() != 0 {
		t.Fatalf("pending after discard: %d", rm.Pending())
	}
	rm.Stack("insert", "user-1", userName{Name: "anne"})
	if err := rm.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if got, _ := rm.Get("user-1"); got.Name != "anne" {
		t.Errorf("got %+v, want anne", got)
	}
}
