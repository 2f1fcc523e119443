// Package gormmodel is a read model on a GORM model table.
package gormmodel

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ripkitten-co/prowl/readmodel"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a gorm.DB sharing pool, typically prowl.Store.PgxPool().
func Open(pool *pgxpool.Pool) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormmodel: open: %w", err)
	}
	return db, nil
}

// Model maps the operations
//
//	save(*T)                   insert or update by primary key
//	update(*T, map[string]any) update the given columns of the row keyed by *T
//	delete(*T)                 delete the row keyed by *T
//
// onto GORM calls inside a single transaction per Persist.
type Model[T any] struct {
	db  *gorm.DB
	ops readmodel.Stack
}

func New[T any](db *gorm.DB) *Model[T] {
	return &Model[T]{db: db}
}

func (m *Model[T]) Init(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(new(T)); err != nil {
		return fmt.Errorf("gormmodel: init: %w", err)
	}
	return nil
}

func (m *Model[T]) IsInitialized(ctx context.Context) (bool, error) {
	return m.db.WithContext(ctx).Migrator().HasTable(new(T)), nil
}

func (m *Model[T]) Reset(ctx context.Context) error {
	err := m.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(new(T)).Error
	if err != nil {
		return fmt.Errorf("gormmodel: reset: %w", err)
	}
	return nil
}

func (m *Model[T]) Delete(ctx context.Context) error {
	if err := m.db.WithContext(ctx).Migrator().DropTable(new(T)); err != nil {
		return fmt.Errorf("gormmodel: delete: %w", err)
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
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if err := apply[T](tx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

func apply[T any](tx *gorm.DB, op readmodel.Operation) error {
	row, err := readmodel.Arg[*T](op, 0)
	if err != nil {
		return fmt.Errorf("gormmodel: %w", err)
	}

	switch op.Name {
	case "save":
		err = tx.Save(row).Error
	case "update":
		cols, argErr := readmodel.Arg[map[string]any](op, 1)
		if argErr != nil {
			return fmt.Errorf("gormmodel: %w", argErr)
		}
		err = tx.Model(row).Updates(cols).Error
	case "delete":
		err = tx.Delete(row).Error
	default:
		return fmt.Errorf("gormmodel: %q: %w", op.Name, readmodel.ErrUnknownOperation)
	}
	if err != nil {
		return fmt.Errorf("gormmodel: %s: %w", op.Name, err)
	}
	return nil
}

var _ readmodel.ReadModel = (*Model[struct{}])(nil)
