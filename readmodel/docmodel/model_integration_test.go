//go:build integration

package docmodel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/internal/testutil"
	"github.com/ripkitten-co/prowl/readmodel"
	"github.com/ripkitten-co/prowl/readmodel/docmodel"
)

type userDoc struct {
	Name string `json:"name"`
}

func setupModel(t *testing.T) *docmodel.Model {
	t.Helper()
	connStr := testutil.SetupPostgres(t)
	store, err := prowl.New(context.Background(), connStr)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m, err := docmodel.New(store, "user_names")
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func TestModel_Lifecycle(t *testing.T) {
	m := setupModel(t)
	ctx := context.Background()

	ok, err := m.IsInitialized(ctx)
	if err != nil {
		t.Fatalf("is initialized: %v", err)
	}
	if ok {
		t.Fatal("table exists before init")
	}

	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if ok, _ := m.IsInitialized(ctx); !ok {
		t.Fatal("table missing after init")
	}

	m.Stack("upsert", "user-1", userDoc{Name: "ann"})
	m.Stack("upsert", "user-1", userDoc{Name: "anne"})
	m.Stack("upsert", "user-2", []byte(`{"name":"bob"}`))
	m.Stack("delete", "user-2")
	if err := m.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	var doc userDoc
	version, err := m.Load(ctx, "user-1", &doc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Name != "anne" || version != 2 {
		t.Errorf("got %+v version %d, want anne version 2", doc, version)
	}
	if _, err := m.Load(ctx, "user-2", &doc); !errors.Is(err, docmodel.ErrNotFound) {
		t.Errorf("deleted doc: got %v, want ErrNotFound", err)
	}

	if err := m.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := m.Count(ctx); n != 0 {
		t.Errorf("count after reset: got %d", n)
	}

	if err := m.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := m.IsInitialized(ctx); ok {
		t.Error("table still exists after delete")
	}
}

func TestModel_PersistIsAtomic(t *testing.T) {
	m := setupModel(t)
	ctx := context.Background()
	_ = m.Init(ctx)

	m.Stack("upsert", "user-1", userDoc{Name: "ann"})
	m.Stack("rename", "user-1")
	err := m.Persist(ctx)
	if !errors.Is(err, readmodel.ErrUnknownOperation) {
		t.Fatalf("got %v, want ErrUnknownOperation", err)
	}

	if n, _ := m.Count(ctx); n != 0 {
		t.Errorf("failed flush left %d documents", n)
	}
}

func TestModel_InitCreatesIndexes(t *testing.T) {
	connStr := testutil.SetupPostgres(t)
	ctx := context.Background()
	store, err := prowl.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m, err := docmodel.New(store, "users", docmodel.FieldIndex("email"), docmodel.ContainmentIndex())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	var n int
	err = store.DBExecutor().QueryRow(ctx,
		`SELECT count(*) FROM pg_indexes WHERE tablename = 'prowl_users' AND indexname IN ('idx_prowl_users_email', 'idx_prowl_users_data_gin')`,
	).Scan(&n)
	if err != nil {
		t.Fatalf("query indexes: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d indexes, want 2", n)
	}

	if err := m.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init after delete: %v", err)
	}
}

func TestNew_Rejects(t *testing.T) {
	if _, err := docmodel.New(nil, "user-names"); err == nil {
		t.Error("expected invalid collection name error")
	}
	if _, err := docmodel.New(nil, "users", docmodel.FieldIndex("e'mail")); err == nil {
		t.Error("expected invalid index field error")
	}
}
