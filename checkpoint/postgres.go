package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/internal/codecs"
	"github.com/ripkitten-co/prowl/internal/pg"
	"github.com/ripkitten-co/prowl/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres stores descriptors in the prowl_projections table.
type Postgres struct {
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// NewPostgres creates a checkpoint store backed by the given prowl backend.
func NewPostgres(b prowl.Backend) *Postgres {
	return &Postgres{
		exec:   b.DBExecutor(),
		codec:  b.JSONCodec(),
		schema: b.SchemaBootstrap(),
	}
}

func (s *Postgres) ensure(ctx context.Context, name string) error {
	if err := s.schema.EnsureProjections(ctx, s.exec); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, name string) (*Descriptor, error) {
	if err := s.ensure(ctx, name); err != nil {
		return nil, err
	}

	var (
		d        Descriptor
		status   string
		position []byte
	)
	err := s.exec.QueryRow(ctx,
		`SELECT name, status, position, state, locked_until FROM prowl_projections WHERE name = $1`,
		name,
	).Scan(&d.Name, &status, &position, &d.State, &d.LockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, prowl.ErrProjectionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, err)
	}

	d.Status = Status(status)
	d.Position = map[string]int64{}
	if len(position) > 0 {
		if err := s.codec.Unmarshal(position, &d.Position); err != nil {
			return nil, fmt.Errorf("checkpoint %s: decode position: %w", name, err)
		}
	}
	return &d, nil
}

func (s *Postgres) CreateIfAbsent(ctx context.Context, d Descriptor) (bool, error) {
	if err := s.ensure(ctx, d.Name); err != nil {
		return false, err
	}

	status := d.Status
	if status == "" {
		status = StatusIdle
	}
	position := d.Position
	if position == nil {
		position = map[string]int64{}
	}
	pos, err := s.codec.Marshal(position)
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: encode position: %w", d.Name, err)
	}

	sql, args, err := psql.Insert(schema.ProjectionsTable).
		Columns("name", "status", "position", "state", "locked_until").
		Values(d.Name, string(status), pos, d.State, d.LockedUntil).
		Suffix("ON CONFLICT (name) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: create: build sql: %w", d.Name, err)
	}

	tag, err := s.exec.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: create: %w", d.Name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) ConditionalUpdate(ctx context.Context, name string, pred Predicate, patch Patch) (int64, error) {
	if err := s.ensure(ctx, name); err != nil {
		return 0, err
	}

	builder, err := s.update(name, patch)
	if err != nil {
		return 0, err
	}
	builder = builder.Where(sq.Or{
		sq.Eq{"locked_until": nil},
		sq.Lt{"locked_until": pred.LockFreeAt},
	})

	sql, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: conditional update: build sql: %w", name, err)
	}
	tag, err := s.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: conditional update: %w", name, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) Update(ctx context.Context, name string, patch Patch) error {
	if err := s.ensure(ctx, name); err != nil {
		return err
	}

	builder, err := s.update(name, patch)
	if err != nil {
		return err
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("checkpoint %s: update: build sql: %w", name, err)
	}
	tag, err := s.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("checkpoint %s: update: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("checkpoint %s: update: %w", name, prowl.ErrProjectionNotFound)
	}
	return nil
}

func (s *Postgres) update(name string, patch Patch) (sq.UpdateBuilder, error) {
	set := map[string]any{"updated_at": sq.Expr("now()")}
	if patch.Status != "" {
		set["status"] = string(patch.Status)
	}
	if patch.Position != nil {
		pos, err := s.codec.Marshal(patch.Position)
		if err != nil {
			return sq.UpdateBuilder{}, fmt.Errorf("checkpoint %s: encode position: %w", name, err)
		}
		set["position"] = pos
	}
	if patch.State != nil {
		set["state"] = patch.State
	}
	switch {
	case patch.ClearLock:
		set["locked_until"] = nil
	case patch.LockedUntil != nil:
		set["locked_until"] = patch.LockedUntil.UTC()
	}

	return psql.Update(schema.ProjectionsTable).
		SetMap(set).
		Where(sq.Eq{"name": name}), nil
}

func (s *Postgres) Delete(ctx context.Context, name string) error {
	if err := s.ensure(ctx, name); err != nil {
		return err
	}
	if _, err := s.exec.Exec(ctx, `DELETE FROM prowl_projections WHERE name = $1`, name); err != nil {
		return fmt.Errorf("checkpoint %s: delete: %w", name, err)
	}
	return nil
}

func (s *Postgres) Names(ctx context.Context, prefix string) ([]string, error) {
	if err := s.ensure(ctx, "names"); err != nil {
		return nil, err
	}

	sql, args, err := psql.Select("name").
		From(schema.ProjectionsTable).
		Where(sq.Like{"name": escapeLike(prefix) + "%"}).
		OrderBy(`name COLLATE "C" ASC`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("checkpoint names: build sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, sql, args...)
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

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

var _ Store = (*Postgres)(nil)
