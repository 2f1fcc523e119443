package prowl

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/prowl/internal/codecs"
	"github.com/ripkitten-co/prowl/internal/pg"
	"github.com/ripkitten-co/prowl/schema"
)

// Store is the main entry point for Prowl on PostgreSQL. It holds a
// connection pool and is the Backend shared by the event log, the
// checkpoint store and document read models.
type Store struct {
	pool *pg.Pool
	be   backend
}

// New connects to PostgreSQL and returns a configured Store.
func New(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	pool, err := pg.NewPool(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("prowl: %w", err)
	}

	s := &Store{
		pool: pool,
		be: backend{
			exec:   pool,
			codec:  cfg.codec,
			schema: schema.New(),
		},
	}
	return s, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// DBExecutor returns the underlying database executor.
func (s *Store) DBExecutor() pg.Executor { return s.be.exec }

// JSONCodec returns the configured JSON codec.
func (s *Store) JSONCodec() codecs.Codec { return s.be.codec }

// SchemaBootstrap returns the schema bootstrap manager.
func (s *Store) SchemaBootstrap() *schema.Bootstrap { return s.be.schema }

// PgxPool returns the underlying pgxpool.Pool for use with stdlib adapters
// and LISTEN connections.
func (s *Store) PgxPool() *pgxpool.Pool { return s.pool.PgxPool() }
