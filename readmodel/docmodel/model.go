// Package docmodel is a read model of JSONB documents in a prowl_<name>
// collection table. Each Persist flushes the stacked operations in one
// transaction.
package docmodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/internal/indexes"
	"github.com/ripkitten-co/prowl/internal/pg"
	"github.com/ripkitten-co/prowl/readmodel"
	"github.com/ripkitten-co/prowl/schema"
)

// ErrNotFound is returned by Load for a missing document.
var ErrNotFound = errors.New("document not found")

// Index is a JSONB index created on Init.
type Index = indexes.Index

// FieldIndex indexes the text value of a top level document key.
func FieldIndex(field string) Index { return Index{Field: field, Kind: indexes.Btree} }

// ContainmentIndex is a GIN index over the whole document.
func ContainmentIndex() Index { return Index{Kind: indexes.GIN} }

// Model supports the operations
//
//	upsert(id string, doc any)  doc is marshalled with the store codec; []byte is stored as-is
//	delete(id string)
type Model struct {
	store   *prowl.Store
	name    string
	indexes []Index
	ops     readmodel.Stack
}

// New returns a document read model for collection name. The name must be
// a valid collection identifier.
func New(store *prowl.Store, name string, idx ...Index) (*Model, error) {
	if err := schema.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	for _, i := range idx {
		if err := i.Validate(); err != nil {
			return nil, fmt.Errorf("docmodel %s: %w", name, err)
		}
	}
	return &Model{store: store, name: name, indexes: idx}, nil
}

func (m *Model) table() string { return schema.CollectionTable(m.name) }

func (m *Model) Init(ctx context.Context) error {
	if err := m.store.SchemaBootstrap().EnsureCollection(ctx, m.store.DBExecutor(), m.name); err != nil {
		return fmt.Errorf("docmodel %s: init: %w", m.name, err)
	}
	return m.ensureIndexes(ctx)
}

// ensureIndexes runs outside any transaction; CONCURRENTLY requires it.
func (m *Model) ensureIndexes(ctx context.Context) error {
	exec := m.store.DBExecutor()
	if pg.InTransaction(exec) {
		return nil
	}
	bs := m.store.SchemaBootstrap()
	for _, i := range m.indexes {
		name := indexes.Name(m.name, i)
		if bs.IsIndexCreated(name) {
			continue
		}
		if _, err := exec.Exec(ctx, indexes.DDL(m.name, i)); err != nil {
			return fmt.Errorf("docmodel %s: create index %s: %w", m.name, name, err)
		}
		bs.MarkIndexCreated(name)
	}
	return nil
}

func (m *Model) IsInitialized(ctx context.Context) (bool, error) {
	var ok bool
	err := m.store.DBExecutor().QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, m.table()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("docmodel %s: is initialized: %w", m.name, err)
	}
	return ok, nil
}

func (m *Model) Reset(ctx context.Context) error {
	if _, err := m.store.DBExecutor().Exec(ctx, "TRUNCATE TABLE "+m.table()); err != nil {
		return fmt.Errorf("docmodel %s: reset: %w", m.name, err)
	}
	return nil
}

func (m *Model) Delete(ctx context.Context) error {
	if err := m.store.SchemaBootstrap().DropCollection(ctx, m.store.DBExecutor(), m.name); err != nil {
		return fmt.Errorf("docmodel %s: delete: %w", m.name, err)
	}
	for _, i := range m.indexes {
		m.store.SchemaBootstrap().InvalidateIndex(indexes.Name(m.name, i))
	}
	return nil
}

func (m *Model) Stack(op string, args ...any) {
	m.ops.Push(op, args...)
}

func (m *Model) Discard() { m.ops.Discard() }

func (m *Model) Persist(ctx context.Context) error {
	ops := m.ops.Drain()
	if len(ops) == 0 {
		return nil
	}

	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("docmodel %s: persist: %w", m.name, err)
	}
	defer sess.Close(ctx)

	for _, op := range ops {
		if err := m.apply(ctx, sess, op); err != nil {
			return err
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return fmt.Errorf("docmodel %s: persist: %w", m.name, err)
	}
	return nil
}

func (m *Model) apply(ctx context.Context, b prowl.Backend, op readmodel.Operation) error {
	id, err := readmodel.Arg[string](op, 0)
	if err != nil {
		return fmt.Errorf("docmodel %s: %w", m.name, err)
	}

	switch op.Name {
	case "upsert":
		if len(op.Args) < 2 {
			return fmt.Errorf("docmodel %s: upsert %s: missing document", m.name, id)
		}
		data, ok := op.Args[1].([]byte)
		if !ok {
			data, err = b.JSONCodec().Marshal(op.Args[1])
			if err != nil {
				return fmt.Errorf("docmodel %s: upsert %s: marshal: %w", m.name, id, err)
			}
		}
		return m.upsert(ctx, b.DBExecutor(), id, data)
	case "delete":
		_, err := b.DBExecutor().Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, m.table()),
			id,
		)
		if err != nil {
			return fmt.Errorf("docmodel %s: delete %s: %w", m.name, id, err)
		}
		return nil
	}
	return fmt.Errorf("docmodel %s: %q: %w", m.name, op.Name, readmodel.ErrUnknownOperation)
}

// upsert bumps the stored version on every write.
func (m *Model) upsert(ctx context.Context, exec pg.Executor, id string, data []byte) error {
	_, err := exec.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s (id, data, version, created_at, updated_at)
		 VALUES ($1, $2, 1, now(), now())
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, version = %[1]s.version + 1, updated_at = now()`, m.table()),
		id, data,
	)
	if err != nil {
		return fmt.Errorf("docmodel %s: upsert %s: %w", m.name, id, err)
	}
	return nil
}

// Load decodes the document id into v and returns its version.
func (m *Model) Load(ctx context.Context, id string, v any) (int, error) {
	var (
		data    []byte
		version int
	)
	err := m.store.DBExecutor().QueryRow(ctx,
		fmt.Sprintf(`SELECT data, version FROM %s WHERE id = $1`, m.table()),
		id,
	).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("docmodel %s: load %s: %w", m.name, id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("docmodel %s: load %s: %w", m.name, id, err)
	}
	if err := m.store.JSONCodec().Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("docmodel %s: load %s: unmarshal: %w", m.name, id, err)
	}
	return version, nil
}

// Count returns the number of stored documents.
func (m *Model) Count(ctx context.Context) (int64, error) {
	var n int64
	err := m.store.DBExecutor().QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, m.table())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("docmodel %s: count: %w", m.name, err)
	}
	return n, nil
}

var _ readmodel.ReadModel = (*Model)(nil)
