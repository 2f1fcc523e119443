//go:build integration

package gormmodel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/internal/testutil"
	"github.com/ripkitten-co/prowl/readmodel"
	"github.com/ripkitten-co/prowl/readmodel/gormmodel"
)

type UserName struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func setupModel(t *testing.T) *gormmodel.Model[UserName] {
	t.Helper()
	ctx := context.Background()
	store, err := prowl.New(ctx, testutil.SetupPostgres(t))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	db, err := gormmodel.Open(store.PgxPool())
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return gormmodel.New[UserName](db)
}

func TestModel_Lifecycle(t *testing.T) {
	m := setupModel(t)
	ctx := context.Background()

	if ok, _ := m.IsInitialized(ctx); ok {
		t.Fatal("table exists before init")
	}
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if ok, _ := m.IsInitialized(ctx); !ok {
		t.Fatal("table missing after init")
	}

	m.Stack("save", &UserName{ID: "user-1", Name: "ann"})
	m.Stack("save", &UserName{ID: "user-2", Name: "bob"})
	m.Stack("update", &UserName{ID: "user-1"}, map[string]any{"name": "anne"})
	m.Stack("delete", &UserName{ID: "user-2"})
	if err := m.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if err := m.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := m.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := m.IsInitialized(ctx); ok {
		t.Error("table still exists after delete")
	}
}

func TestModel_PersistRejectsUnknownOperation(t *testing.T) {
	m := setupModel(t)
	ctx := context.Background()
	_ = m.Init(ctx)

	m.Stack("rename", &UserName{ID: "user-1"})
	if err := m.Persist(ctx); !errors.Is(err, readmodel.ErrUnknownOperation) {
		t.Errorf("got %v, want ErrUnknownOperation", err)
	}
}
