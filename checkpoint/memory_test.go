package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/checkpoint/checkpointtest"
)

func TestMemory_Contract(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemory()
	})
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := checkpoint.NewMemory()
	_, _ = s.CreateIfAbsent(ctx, checkpoint.Descriptor{Name: "p", Position: map[string]int64{"user-1": 1}})

	d, _ := s.Get(ctx, "p")
	d.Position["user-1"] = 99

	again, _ := s.Get(ctx, "p")
	if again.Position["user-1"] != 1 {
		t.Errorf("stored position mutated through Get: %v", again.Position)
	}
}

func TestPredicate_Holds(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	before := now.Add(-time.Second)
	after := now.Add(time.Second)

	tests := []struct {
		name   string
		locked *time.Time
		want   bool
	}{
		{"unlocked", nil, true},
		{"expired", &before, true},
		{"held", &after, false},
		{"expires exactly now", &now, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkpoint.Predicate{LockFreeAt: now}.Holds(checkpoint.Descriptor{LockedUntil: tt.locked})
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []checkpoint.Status{
		checkpoint.StatusIdle, checkpoint.StatusRunning, checkpoint.StatusStopping,
		checkpoint.StatusResetting, checkpoint.StatusDeleting, checkpoint.StatusDeletingInclEmittedEvents,
	} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if checkpoint.Status("paused").Valid() {
		t.Error("unknown status reported valid")
	}
}
