package prowl

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/prowl/internal/codecs"
	"github.com/ripkitten-co/prowl/internal/pg"
	"github.com/ripkitten-co/prowl/schema"
)

// Session wraps a PostgreSQL transaction spanning event appends, checkpoint
// writes and read-model flushes. Call Commit to persist all changes
// atomically, or Close/Rollback to discard them.
type Session struct {
	tx     pgx.Tx
	be     backend
	closed bool
}

// Session begins a new transaction and returns a Session. The session keeps
// its own schema cache so DDL rolled back with the transaction is re-run.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("prowl: begin session: %w", err)
	}

	return &Session{
		tx: tx,
		be: backend{
			exec:   pg.TxExecutor{Tx: tx},
			codec:  s.be.codec,
			schema: schema.New(),
		},
	}, nil
}

func (s *Session) DBExecutor() pg.Executor            { return s.be.exec }
func (s *Session) JSONCodec() codecs.Codec            { return s.be.codec }
func (s *Session) SchemaBootstrap() *schema.Bootstrap { return s.be.schema }

// Commit persists all operations in this session atomically.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("prowl: session already closed")
	}
	s.closed = true
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("prowl: commit session: %w", err)
	}
	return nil
}

// Rollback discards all operations. Safe to call multiple times.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("prowl: rollback session: %w", err)
	}
	return nil
}

// Close rolls back if not already committed. Safe to defer.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	return s.Rollback(ctx)
}
