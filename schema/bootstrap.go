package schema

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ripkitten-co/prowl/internal/pg"
)

const (
	EventsTable      = "prowl_events"
	StreamsTable     = "prowl_streams"
	ProjectionsTable = "prowl_projections"
)

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,55}$`)

// ValidateCollectionName checks that name is a valid collection identifier
// (alphanumeric + underscores, max 56 characters, starts with a letter).
func ValidateCollectionName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("schema: invalid collection name %q: must be alphanumeric with underscores, max 56 chars", name)
	}
	return nil
}

// CollectionTable returns the table backing the named document collection.
func CollectionTable(name string) string {
	return "prowl_" + name
}

func collectionDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS prowl_%s (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, name)
}

func streamsDDL() string {
	return `CREATE TABLE IF NOT EXISTS prowl_streams (
	stream_id TEXT PRIMARY KEY,
	category TEXT,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

func eventsDDL() string {
	return `CREATE TABLE IF NOT EXISTS prowl_events (
	stream_id TEXT NOT NULL REFERENCES prowl_streams (stream_id) ON DELETE CASCADE,
	no BIGINT NOT NULL,
	event_id UUID NOT NULL,
	type TEXT NOT NULL,
	data JSONB NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (stream_id, no)
)`
}

func projectionsDDL() string {
	return `CREATE TABLE IF NOT EXISTS prowl_projections (
	name TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'idle',
	position JSONB NOT NULL DEFAULT '{}',
	state JSONB,
	locked_until TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

// Bootstrap manages idempotent creation of Prowl tables and indexes.
// It caches which tables and indexes have been created to avoid repeated DDL.
type Bootstrap struct {
	tables  sync.Map
	indexes sync.Map
}

// New returns a Bootstrap with empty caches.
func New() *Bootstrap {
	return &Bootstrap{}
}

// IsCreated reports whether the named table has been created in this session.
func (b *Bootstrap) IsCreated(table string) bool {
	_, ok := b.tables.Load(table)
	return ok
}

// MarkCreated records that the named table has been created.
func (b *Bootstrap) MarkCreated(table string) {
	b.tables.Store(table, true)
}

// IsIndexCreated reports whether the named index has been created in this session.
func (b *Bootstrap) IsIndexCreated(name string) bool {
	_, ok := b.indexes.Load(name)
	return ok
}

// MarkIndexCreated records that the named index has been created.
func (b *Bootstrap) MarkIndexCreated(name string) {
	b.indexes.Store(name, true)
}

// InvalidateIndex forgets the named index so the next ensure re-runs it.
func (b *Bootstrap) InvalidateIndex(name string) {
	b.indexes.Delete(name)
}

// InvalidateTable removes a table from the creation cache so the next
// Ensure call re-runs the DDL. Read models call it after dropping their table.
func (b *Bootstrap) InvalidateTable(table string) {
	b.tables.Delete(table)
}

func (b *Bootstrap) ensure(ctx context.Context, exec pg.Executor, table, ddl string) error {
	if _, ok := b.tables.Load(table); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	b.tables.Store(table, true)
	return nil
}

// EnsureCollection creates the prowl_{name} table if it doesn't exist.
func (b *Bootstrap) EnsureCollection(ctx context.Context, exec pg.Executor, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	return b.ensure(ctx, exec, CollectionTable(name), collectionDDL(name))
}

// DropCollection drops the prowl_{name} table and forgets it was created.
func (b *Bootstrap) DropCollection(ctx context.Context, exec pg.Executor, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	table := CollectionTable(name)
	if _, err := exec.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("schema: drop table %s: %w", table, err)
	}
	b.tables.Delete(table)
	return nil
}

// EnsureEvents creates the stream directory and the events table if they
// don't exist. Events reference their stream, so the directory goes first.
func (b *Bootstrap) EnsureEvents(ctx context.Context, exec pg.Executor) error {
	if err := b.ensure(ctx, exec, StreamsTable, streamsDDL()); err != nil {
		return err
	}
	return b.ensure(ctx, exec, EventsTable, eventsDDL())
}

// EnsureProjections creates the prowl_projections table if it doesn't exist.
func (b *Bootstrap) EnsureProjections(ctx context.Context, exec pg.Executor) error {
	return b.ensure(ctx, exec, ProjectionsTable, projectionsDDL())
}

// EnsureStreamsCategoryIndex creates an index on the stream directory's
// category column for category queries. Must be called with a pool-level
// executor, not a session transaction: CREATE INDEX CONCURRENTLY cannot run
// inside a transaction block.
func (b *Bootstrap) EnsureStreamsCategoryIndex(ctx context.Context, exec pg.Executor) error {
	const name = "idx_prowl_streams_category"
	if _, ok := b.indexes.Load(name); ok {
		return nil
	}
	if pg.InTransaction(exec) {
		return nil
	}
	_, err := exec.Exec(ctx,
		`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_prowl_streams_category ON prowl_streams (category)`,
	)
	if err != nil {
		return fmt.Errorf("schema: create streams category index: %w", err)
	}
	b.indexes.Store(name, true)
	return nil
}
