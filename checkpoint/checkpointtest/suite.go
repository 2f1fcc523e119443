// Package checkpointtest holds the behaviour every checkpoint.Store
// implementation must share.
package checkpointtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
)

// Run exercises store against the checkpoint.Store contract. newStore must
// return an empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) checkpoint.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nope")
		if !errors.Is(err, prowl.ErrProjectionNotFound) {
			t.Errorf("got %v, want ErrProjectionNotFound", err)
		}
	})

	t.Run("CreateIfAbsent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreateIfAbsent(ctx, checkpoint.Descriptor{Name: "user_names"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if !created {
			t.Error("first create should report created")
		}

		created, err = s.CreateIfAbsent(ctx, checkpoint.Descriptor{Name: "user_names", Status: checkpoint.StatusRunning})
		if err != nil {
			t.Fatalf("second create: %v", err)
		}
		if created {
			t.Error("second create should not report created")
		}

		d, err := s.Get(ctx, "user_names")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if d.Status != checkpoint.StatusIdle {
			t.Errorf("status: got %q, want %q", d.Status, checkpoint.StatusIdle)
		}
		if len(d.Position) != 0 || d.LockedUntil != nil || d.State != nil {
			t.Errorf("fresh descriptor: got %+v", d)
		}
	})

	t.Run("UpdatePatchesOnlySetFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _ = s.CreateIfAbsent(ctx, checkpoint.Descriptor{Name: "p"})

		until := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		err := s.Update(ctx, "p", checkpoint.Patch{
			Status:      checkpoint.StatusRunning,
			Position:    map[string]int64{"user-1": 3, "user-2": 5},
			State:       []byte(`{"count":8}`),
			LockedUntil: &until,
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		if err := s.Update(ctx, "p", checkpoint.Patch{Status: checkpoint.StatusStopping}); err != nil {
			t.Fatalf("status update: %v", err)
		}

		d, err := s.Get(ctx, "p")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if d.Status != checkpoint.StatusStopping {
			t.Errorf("status: got %q", d.Status)
		}
		if diff := cmp.Diff(map[string]int64{"user-1": 3, "user-2": 5}, d.Position); diff != "" {
			t.Errorf("position (-want +got):\n%s", diff)
		}
		if string(d.State) != `{"count": 8}` && string(d.State) != `{"count":8}` {
			t.Errorf("state: got %s", d.State)
		}
		if d.LockedUntil == nil || !d.LockedUntil.Equal(until) {
			t.Errorf("locked until: got %v, want %v", d.LockedUntil, until)
		}

		if err := s.Update(ctx, "p", checkpoint.Patch{ClearLock: true}); err != nil {
			t.Fatalf("clear lock: %v", err)
		}
		d, _ = s.Get(ctx, "p")
		if d.LockedUntil != nil {
			t.Errorf("lock not cleared: %v", d.LockedUntil)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(context.Background(), "nope", checkpoint.Patch{Status: checkpoint.StatusIdle})
		if !errors.Is(err, prowl.ErrProjectionNotFound) {
			t.Errorf("got %v, want ErrProjectionNotFound", err)
		}
	})

	t.Run("ConditionalUpdateRespectsLease", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _ = s.CreateIfAbsent(ctx, checkpoint.Descriptor{Name: "p"})

		now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		acquire := checkpoint.Patch{
			Status:      checkpoint.StatusRunning,
			LockedUntil: checkpoint.LockExpiry(now, time.Second),
		}

		n, err := s.ConditionalUpdate(ctx, "p", checkpoint.Predicate{LockFreeAt: now}, acquire)
		if err != nil || n != 1 {
			t.Fatalf("first acquire: n=%d err=%v", n, err)
		}

		n, err = s.ConditionalUpdate(ctx, "p", checkpoint.Predicate{LockFreeAt: now.Add(500 * time.Millisecond)}, acquire)
		if err != nil {
			t.Fatalf("contended acquire: %v", err)
		}
		if n != 0 {
			t.Errorf("contended acquire: got %d rows, want 0", n)
		}

		later := now.Add(2 * time.Second)
		n, err = s.ConditionalUpdate(ctx, "p", checkpoint.Predicate{LockFreeAt: later}, checkpoint.Patch{
			LockedUntil: checkpoint.LockExpiry(later, time.Second),
		})
		if err != nil || n != 1 {
			t.Errorf("acquire after expiry: n=%d err=%v", n, err)
		}
	})

	t.Run("ConcurrentConditionalUpdateHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _ = s.CreateIfAbsent(ctx, checkpoint.Descriptor{Name: "p"})

		now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		acquire := checkpoint.Patch{
			Status:      checkpoint.StatusRunning,
			LockedUntil: checkpoint.LockExpiry(now, time.Minute),
		}

		const contenders = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
			errs []error
		)
		for range contenders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := s.ConditionalUpdate(ctx, "p", checkpoint.Predicate{LockFreeAt: now}, acquire)
				mu.Lock()
				defer mu.Unlock()
				wins += int(n)
				if err != nil && !errors.Is(err, prowl.ErrConcurrencyConflict) {
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("conditional update: %v", errs)
		}
		if wins != 1 {
			t.Errorf("winners: got %d, want 1", wins)
		}
	})

	t.Run("ConditionalUpdateMissing", func(t *testing.T) {
		s := newStore(t)
		n, err := s.ConditionalUpdate(context.Background(), "nope", checkpoint.Predicate{LockFreeAt: time.Now()}, checkpoint.Patch{Status: checkpoint.StatusRunning})
		if err != nil {
			t.Fatalf("conditional update: %v", err)
		}
		if n != 0 {
			t.Errorf("got %d rows, want 0", n)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _ = s.CreateIfAbsent(ctx, checkpoint.Descriptor{Name: "p"})

		if err := s.Delete(ctx, "p"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, "p"); err != nil {
			t.Errorf("second delete: %v", err)
		}
		if _, err := s.Get(ctx, "p"); !errors.Is(err, prowl.ErrProjectionNotFound) {
			t.Errorf("get after delete: got %v", err)
		}
	})

	t.Run("NamesByPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, n := range []string{"user_names", "order_totals", "user_emails", "user%odd"} {
			_, _ = s.CreateIfAbsent(ctx, checkpoint.Descriptor{Name: n})
		}

		got, err := s.Names(ctx, "user_")
		if err != nil {
			t.Fatalf("names: %v", err)
		}
		if diff := cmp.Diff([]string{"user_emails", "user_names"}, got); diff != "" {
			t.Errorf("names (-want +got):\n%s", diff)
		}

		all, err := s.Names(ctx, "")
		if err != nil {
			t.Fatalf("all names: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("all names: got %v", all)
		}
	})
}
