package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Notifier wakes idle projections when the Postgres log is written. It
// listens on NotifyChannel using a connection taken from the pool for the
// duration of each wait.
type Notifier struct {
	pool *pgxpool.Pool
}

// NewNotifier creates a notifier on pool, typically prowl.Store.PgxPool().
func NewNotifier(pool *pgxpool.Pool) *Notifier {
	return &Notifier{pool: pool}
}

// Wait blocks until a notification arrives or timeout elapses. A timeout is
// not an error; a cancelled ctx returns ctx.Err().
func (n *Notifier) Wait(ctx context.Context, timeout time.Duration) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("eventlog: notifier: acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("eventlog: notifier: listen: %w", err)
	}
	defer func() { _, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+NotifyChannel) }()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = conn.Conn().WaitForNotification(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return nil
	}
	return fmt.Errorf("eventlog: notifier: wait: %w", err)
}
