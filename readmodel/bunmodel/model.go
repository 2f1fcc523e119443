// Package bunmodel is a read model on a Bun model table.
package bunmodel

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ripkitten-co/prowl/readmodel"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Open returns a bun.DB sharing pool, typically prowl.Store.PgxPool().
func Open(pool *pgxpool.Pool) *bun.DB {
	return bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())
}

// Model maps the operations
//
//	upsert(*T)  insert, or update every column on primary key conflict
//	delete(*T)  delete the row keyed by *T
//
// onto Bun queries inside RunInTx.
type Model[T any] struct {
	db  *bun.DB
	ops readmodel.Stack
}

func New[T any](db *bun.DB) *Model[T] {
	return &Model[T]{db: db}
}

func (m *Model[T]) table() string {
	return m.db.Table(reflect.TypeFor[T]()).Name
}

func (m *Model[T]) Init(ctx context.Context) error {
	_, err := m.db.NewCreateTable().Model((*T)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("bunmodel %s: init: %w", m.table(), err)
	}
	return nil
}

func (m *Model[T]) IsInitialized(ctx context.Context) (bool, error) {
	var ok bool
	err := m.db.QueryRowContext(ctx, "SELECT to_regclass(?) IS NOT NULL", m.table()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("bunmodel %s: is initialized: %w", m.table(), err)
	}
	return ok, nil
}

func (m *Model[T]) Reset(ctx context.Context) error {
	if _, err := m.db.NewTruncateTable().Model((*T)(nil)).Exec(ctx); err != nil {
		return fmt.Errorf("bunmodel %s: reset: %w", m.table(), err)
	}
	return nil
}

func (m *Model[T]) Delete(ctx context.Context) error {
	if _, err := m.db.NewDropTable().Model((*T)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("bunmodel %s: delete: %w", m.table(), err)
	}
	return nil
}

func (m *Model[T]) Stack(op string, args ...any) {
	m.ops.Push(op, args...)
}

func (m *Model[T]) Discard() { m.ops.Discard() }

func (m *Model[T]) Persist(ctx context.Context) error {
	ops := m.ops.Drain()
	if len(ops) == 0 {
		return nil
	}
	return m.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, op := range ops {
			if err := m.apply(ctx, tx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Model[T]) apply(ctx context.Context, tx bun.Tx, op readmodel.Operation) error {
	row, err := readmodel.Arg[*T](op, 0)
	if err != nil {
		return fmt.Errorf("bunmodel %s: %w", m.table(), err)
	}

	switch op.Name {
	case "upsert":
		_, err = tx.NewInsert().Model(row).On("CONFLICT (?PKs) DO UPDATE").Exec(ctx)
	case "delete":
		_, err = tx.NewDelete().Model(row).WherePK().Exec(ctx)
	default:
		return fmt.Errorf("bunmodel %s: %q: %w", m.table(), op.Name, readmodel.ErrUnknownOperation)
	}
	if err != nil {
		return fmt.Errorf("bunmodel %s: %s: %w", m.table(), op.Name, err)
	}
	return nil
}

var _ readmodel.ReadModel = (*Model[struct{}])(nil)
