//go:build integration

package eventlog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/internal/testutil"
)

func setupStore(t *testing.T) *prowl.Store {
	t.Helper()
	connStr := testutil.SetupPostgres(t)
	store, err := prowl.New(context.Background(), connStr)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgres_CreateAppendLoad(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	log := eventlog.NewPostgres(store)

	err := log.Create(ctx, "user-123", []eventlog.Event{
		{Type: "UserCreated", Data: []byte(`{"name":"ann"}`), Metadata: map[string]any{"tenant": "acme"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = log.Append(ctx, "user-123", []eventlog.Event{
		{Type: "UsernameChanged", Data: []byte(`{"name":"anne"}`)},
		{Type: "UsernameChanged", Data: []byte(`{"name":"annie"}`)},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := log.Load(ctx, "user-123", 1, 0, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i, e := range got {
		if e.Number != int64(i+1) {
			t.Errorf("event[%d].Number: got %d", i, e.Number)
		}
		if e.ID == "" {
			t.Errorf("event[%d] has no id", i)
		}
	}
	if got[0].Metadata["tenant"] != "acme" {
		t.Errorf("metadata: got %v", got[0].Metadata)
	}

	tail, err := log.Load(ctx, "user-123", 2, 1, nil)
	if err != nil {
		t.Fatalf("load tail: %v", err)
	}
	if len(tail) != 1 || tail[0].Number != 2 {
		t.Errorf("tail: got %+v", tail)
	}
}

func TestPostgres_Errors(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	log := eventlog.NewPostgres(store)

	if _, err := log.Load(ctx, "missing-1", 1, 0, nil); !errors.Is(err, prowl.ErrStreamNotFound) {
		t.Errorf("load: got %v, want ErrStreamNotFound", err)
	}
	if err := log.Append(ctx, "missing-1", []eventlog.Event{{Type: "X"}}); !errors.Is(err, prowl.ErrStreamNotFound) {
		t.Errorf("append: got %v, want ErrStreamNotFound", err)
	}
	if err := log.Delete(ctx, "missing-1"); !errors.Is(err, prowl.ErrStreamNotFound) {
		t.Errorf("delete: got %v, want ErrStreamNotFound", err)
	}

	if err := log.Create(ctx, "user-1", []eventlog.Event{{Type: "A"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := log.Create(ctx, "user-1", []eventlog.Event{{Type: "A"}}); !errors.Is(err, prowl.ErrStreamExists) {
		t.Errorf("create twice: got %v, want ErrStreamExists", err)
	}
}

func TestPostgres_LoadWithMatcher(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	log := eventlog.NewPostgres(store)

	_ = log.Create(ctx, "order-1", []eventlog.Event{
		{Type: "OrderPlaced", Metadata: map[string]any{"tenant": "acme", "amount": 10}},
		{Type: "OrderPlaced", Metadata: map[string]any{"tenant": "globex", "amount": 50}},
		{Type: "OrderPaid", Metadata: map[string]any{"tenant": "acme", "amount": 70}},
	})

	tests := []struct {
		name    string
		matcher *eventlog.MetadataMatcher
		want    []int64
	}{
		{"text equals", eventlog.NewMatcher().WithMetadata("tenant", eventlog.OpEquals, "acme"), []int64{1, 3}},
		{"numeric greater", eventlog.NewMatcher().WithMetadata("amount", eventlog.OpGreaterThan, 20), []int64{2, 3}},
		{"in", eventlog.NewMatcher().WithMetadata("tenant", eventlog.OpIn, []string{"globex"}), []int64{2}},
		{"not in", eventlog.NewMatcher().WithMetadata("tenant", eventlog.OpNotIn, []string{"globex"}), []int64{1, 3}},
		{"regex", eventlog.NewMatcher().WithMetadata("tenant", eventlog.OpRegex, "^glo"), []int64{2}},
		{"property type", eventlog.NewMatcher().WithProperty(eventlog.PropertyType, eventlog.OpEquals, "OrderPaid"), []int64{3}},
		{"property number", eventlog.NewMatcher().WithProperty(eventlog.PropertyNumber, eventlog.OpLowerThan, 3), []int64{1, 2}},
		{"missing key", eventlog.NewMatcher().WithMetadata("region", eventlog.OpNotEquals, "eu"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := log.Load(ctx, "order-1", 1, 0, tt.matcher)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			var numbers []int64
			for _, e := range got {
				numbers = append(numbers, e.Number)
			}
			if diff := cmp.Diff(tt.want, numbers); diff != "" {
				t.Errorf("numbers (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPostgres_ListStreamsAndCategories(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	log := eventlog.NewPostgres(store)

	for _, s := range []string{"user-2", "order-1", "user-1", "$stats"} {
		if err := log.Create(ctx, s, []eventlog.Event{{Type: "Seeded"}}); err != nil {
			t.Fatalf("create %s: %v", s, err)
		}
	}

	all, err := log.ListStreams(ctx, eventlog.StreamFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"order-1", "user-1", "user-2"}, all); diff != "" {
		t.Errorf("all (-want +got):\n%s", diff)
	}

	users, err := log.ListStreams(ctx, eventlog.StreamFilter{Categories: []string{"user"}})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if diff := cmp.Diff([]string{"user-1", "user-2"}, users); diff != "" {
		t.Errorf("users (-want +got):\n%s", diff)
	}

	cats, err := log.ListCategories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if diff := cmp.Diff([]string{"order", "user"}, cats); diff != "" {
		t.Errorf("categories (-want +got):\n%s", diff)
	}
}

func TestPostgres_DeleteCascades(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	log := eventlog.NewPostgres(store)

	_ = log.Create(ctx, "user-1", []eventlog.Event{{Type: "A"}, {Type: "B"}})
	if err := log.Delete(ctx, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ok, err := log.HasStream(ctx, "user-1")
	if err != nil {
		t.Fatalf("has stream: %v", err)
	}
	if ok {
		t.Error("stream still present after delete")
	}

	if err := log.Create(ctx, "user-1", []eventlog.Event{{Type: "A"}}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	got, _ := log.Load(ctx, "user-1", 1, 0, nil)
	if len(got) != 1 {
		t.Errorf("recreated stream: got %d events, want 1", len(got))
	}
}

func TestPostgres_SessionRollbackDiscardsAppend(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_ = eventlog.NewPostgres(store).Create(ctx, "user-1", []eventlog.Event{{Type: "A"}})

	sess, err := store.Session(ctx)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := eventlog.NewPostgres(sess).Append(ctx, "user-1", []eventlog.Event{{Type: "B"}}); err != nil {
		t.Fatalf("append in session: %v", err)
	}
	if err := sess.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	got, _ := eventlog.NewPostgres(store).Load(ctx, "user-1", 1, 0, nil)
	if len(got) != 1 {
		t.Errorf("got %d events after rollback, want 1", len(got))
	}
}

func TestNotifier_WakesOnAppend(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	log := eventlog.NewPostgres(store)
	_ = log.Create(ctx, "user-1", []eventlog.Event{{Type: "A"}})

	n := eventlog.NewNotifier(store.PgxPool())
	done := make(chan error, 1)
	go func() { done <- n.Wait(ctx, 10*time.Second) }()

	time.Sleep(200 * time.Millisecond)
	if err := log.Append(ctx, "user-1", []eventlog.Event{{Type: "B"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notifier not woken")
	}
}

func TestNotifier_TimeoutIsNotAnError(t *testing.T) {
	store := setupStore(t)
	n := eventlog.NewNotifier(store.PgxPool())

	if err := n.Wait(context.Background(), 50*time.Millisecond); err != nil {
		t.Errorf("timeout: got %v, want nil", err)
	}
}
