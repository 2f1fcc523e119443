package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Beginner is implemented by executors that can open a transaction.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxExecutor adapts a pgx.Tx to the Executor interface.
type TxExecutor struct {
	Tx pgx.Tx
}

func (t TxExecutor) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.Tx.Exec(ctx, sql, args...)
}

func (t TxExecutor) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.Tx.Query(ctx, sql, args...)
}

func (t TxExecutor) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.Tx.QueryRow(ctx, sql, args...)
}

func (t TxExecutor) InTransaction() bool { return true }

// InTx runs fn inside a transaction. When exec is already transactional, or
// cannot begin one, fn runs directly on exec and the caller owns atomicity.
func InTx(ctx context.Context, exec Executor, fn func(Executor) error) error {
	b, ok := exec.(Beginner)
	if !ok || InTransaction(exec) {
		return fn(exec)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	if err := fn(TxExecutor{Tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}
