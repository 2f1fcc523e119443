// Package sqlitestore is a checkpoint.Store on SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/internal/codecs"
	_ "modernc.org/sqlite"
)

const ddl = `CREATE TABLE IF NOT EXISTS prowl_projections (
	name TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'idle',
	position TEXT NOT NULL DEFAULT '{}',
	state BLOB,
	locked_until INTEGER,
	updated_at INTEGER NOT NULL
)`

// Store keeps descriptors in a prowl_projections table. Lease instants are
// stored as unix microseconds.
type Store struct {
	db    *sql.DB
	codec codecs.Codec
	now   func() time.Time
}

// Open opens the database file at path and creates the table.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	return setup(db)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// every pooled connection would see its own empty database
	db.SetMaxOpenConns(1)
	return setup(db)
}

func setup(db *sql.DB) (*Store, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create table: %w", err)
	}
	return &Store{db: db, codec: codecs.NewJSONIter(), now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, name string) (*checkpoint.Descriptor, error) {
	var (
		status   string
		position string
		state    []byte
		locked   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, position, state, locked_until FROM prowl_projections WHERE name = ?`,
		name,
	).Scan(&status, &position, &state, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, prowl.ErrProjectionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, err)
	}

	d := &checkpoint.Descriptor{Name: name, Status: checkpoint.Status(status), Position: map[string]int64{}}
	if position != "" {
		if err := s.codec.Unmarshal([]byte(position), &d.Position); err != nil {
			return nil, fmt.Errorf("checkpoint %s: decode position: %w", name, err)
		}
	}
	if len(state) > 0 {
		d.State = state
	}
	if locked.Valid {
		t := time.UnixMicro(locked.Int64).UTC()
		d.LockedUntil = &t
	}
	return d, nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, d checkpoint.Descriptor) (bool, error) {
	status := d.Status
	if status == "" {
		status = checkpoint.StatusIdle
	}
	position := d.Position
	if position == nil {
		position = map[string]int64{}
	}
	pos, err := s.codec.Marshal(position)
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: encode position: %w", d.Name, err)
	}

	var locked any
	if d.LockedUntil != nil {
		locked = d.LockedUntil.UnixMicro()
	}

	res, err := sq.Insert("prowl_projections").
		Columns("name", "status", "position", "state", "locked_until", "updated_at").
		Values(d.Name, string(status), string(pos), d.State, locked, s.now().UnixMicro()).
		Suffix("ON CONFLICT (name) DO NOTHING").
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: create: %w", d.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: create: %w", d.Name, err)
	}
	return n == 1, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, name string, pred checkpoint.Predicate, patch checkpoint.Patch) (int64, error) {
	builder, err := s.update(name, patch)
	if err != nil {
		return 0, err
	}
	res, err := builder.
		Where(sq.Or{
			sq.Eq{"locked_until": nil},
			sq.Lt{"locked_until": pred.LockFreeAt.UnixMicro()},
		}).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: conditional update: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: conditional update: %w", name, err)
	}
	return n, nil
}

func (s *Store) Update(ctx context.Context, name string, patch checkpoint.Patch) error {
	builder, err := s.update(name, patch)
	if err != nil {
		return err
	}
	res, err := builder.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint %s: update: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checkpoint %s: update: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("checkpoint %s: update: %w", name, prowl.ErrProjectionNotFound)
	}
	return nil
}

func (s *Store) update(name string, patch checkpoint.Patch) (sq.UpdateBuilder, error) {
	builder := sq.Update("prowl_projections").
		Set("updated_at", s.now().UnixMicro()).
		Where(sq.Eq{"name": name}).
		RunWith(s.db)

	if patch.Status != "" {
		builder = builder.Set("status", string(patch.Status))
	}
	if patch.Position != nil {
		pos, err := s.codec.Marshal(patch.Position)
		if err != nil {
			return builder, fmt.Errorf("checkpoint %s: encode position: %w", name, err)
		}
		builder = builder.Set("position", string(pos))
	}
	if patch.State != nil {
		builder = builder.Set("state", patch.State)
	}
	switch {
	case patch.ClearLock:
		builder = builder.Set("locked_until", nil)
	case patch.LockedUntil != nil:
		builder = builder.Set("locked_until", patch.LockedUntil.UnixMicro())
	}
	return builder, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM prowl_projections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("checkpoint %s: delete: %w", name, err)
	}
	return nil
}

func (s *Store) Names(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM prowl_projections WHERE substr(name, 1, length(?)) = ? ORDER BY name`,
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("checkpoint names: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint names: %w", err)
	}
	return out, nil
}

var _ checkpoint.Store = (*Store)(nil)
