package eventlog

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/internal/codecs"
	"github.com/ripkitten-co/prowl/internal/pg"
	"github.com/ripkitten-co/prowl/schema"
)

// NotifyChannel is the LISTEN/NOTIFY channel written after every append.
// The payload is the stream name.
const NotifyChannel = "prowl_events"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres is a Log backed by the prowl_streams directory and the
// prowl_events table.
type Postgres struct {
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// NewPostgres creates an event log on the given backend. Pass a Session to
// append inside its transaction.
func NewPostgres(b prowl.Backend) *Postgres {
	return &Postgres{
		exec:   b.DBExecutor(),
		codec:  b.JSONCodec(),
		schema: b.SchemaBootstrap(),
	}
}

func (l *Postgres) Create(ctx context.Context, streamID string, evts []Event) error {
	if err := l.schema.EnsureEvents(ctx, l.exec); err != nil {
		return err
	}

	var category any
	if c := Category(streamID); c != "" {
		category = c
	}

	err := pg.InTx(ctx, l.exec, func(exec pg.Executor) error {
		sql, args, err := psql.Insert(schema.StreamsTable).
			Columns("stream_id", "category").
			Values(streamID, category).
			ToSql()
		if err != nil {
			return fmt.Errorf("eventlog: create %s: build sql: %w", streamID, err)
		}
		if _, err := exec.Exec(ctx, sql, args...); err != nil {
			if pg.IsUniqueViolation(err) {
				return fmt.Errorf("eventlog: create %s: %w", streamID, prowl.ErrStreamExists)
			}
			return fmt.Errorf("eventlog: create %s: %w", streamID, err)
		}
		return l.insert(ctx, exec, streamID, 1, evts)
	})
	if err != nil {
		return err
	}

	l.notify(ctx, streamID)
	return nil
}

func (l *Postgres) Append(ctx context.Context, streamID string, evts []Event) error {
	if len(evts) == 0 {
		return fmt.Errorf("eventlog: append %s: at least one event required", streamID)
	}
	if err := l.schema.EnsureEvents(ctx, l.exec); err != nil {
		return err
	}

	err := pg.InTx(ctx, l.exec, func(exec pg.Executor) error {
		var id string
		err := exec.QueryRow(ctx,
			"SELECT stream_id FROM prowl_streams WHERE stream_id = $1 FOR UPDATE",
			streamID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("eventlog: append %s: %w", streamID, prowl.ErrStreamNotFound)
		}
		if err != nil {
			return fmt.Errorf("eventlog: append %s: lock stream: %w", streamID, err)
		}

		var last int64
		err = exec.QueryRow(ctx,
			"SELECT COALESCE(MAX(no), 0) FROM prowl_events WHERE stream_id = $1",
			streamID,
		).Scan(&last)
		if err != nil {
			return fmt.Errorf("eventlog: append %s: current number: %w", streamID, err)
		}
		return l.insert(ctx, exec, streamID, last+1, evts)
	})
	if err != nil {
		return err
	}

	l.notify(ctx, streamID)
	return nil
}

func (l *Postgres) insert(ctx context.Context, exec pg.Executor, streamID string, first int64, evts []Event) error {
	if len(evts) == 0 {
		return nil
	}

	builder := psql.Insert(schema.EventsTable).
		Columns("stream_id", "no", "event_id", "type", "data", "metadata")

	for i, evt := range evts {
		id := evt.ID
		if id == "" {
			id = uuid.NewString()
		}
		data := evt.Data
		if len(data) == 0 {
			data = []byte(`{}`)
		}
		var meta []byte
		if len(evt.Metadata) > 0 {
			var err error
			meta, err = l.codec.Marshal(evt.Metadata)
			if err != nil {
				return fmt.Errorf("eventlog: append %s: marshal metadata: %w", streamID, err)
			}
		}
		builder = builder.Values(streamID, first+int64(i), id, evt.Type, data, meta)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("eventlog: append %s: build sql: %w", streamID, err)
	}
	if _, err := exec.Exec(ctx, sql, args...); err != nil {
		if pg.IsUniqueViolation(err) {
			return fmt.Errorf("eventlog: append %s: %w", streamID, prowl.ErrConcurrencyConflict)
		}
		return fmt.Errorf("eventlog: append %s: %w", streamID, err)
	}
	return nil
}

// best-effort wakeup for idle projections; inside a session the
// notification is delivered on commit
func (l *Postgres) notify(ctx context.Context, streamID string) {
	_, _ = l.exec.Exec(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, streamID)
}

func (l *Postgres) Load(ctx context.Context, streamID string, fromNumber int64, limit int, matcher *MetadataMatcher) ([]Event, error) {
	if err := matcher.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: load %s: %w", streamID, err)
	}
	if err := l.schema.EnsureEvents(ctx, l.exec); err != nil {
		return nil, err
	}

	builder := psql.
		Select("event_id::text", "stream_id", "no", "type", "data", "metadata", "created_at").
		From(schema.EventsTable).
		Where(sq.Eq{"stream_id": streamID}).
		Where(sq.GtOrEq{"no": fromNumber}).
		OrderBy("no ASC")

	for _, c := range matcher.Conditions() {
		builder = builder.Where(conditionSQL(c))
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("eventlog: load %s: build sql: %w", streamID, err)
	}

	rows, err := l.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: load %s: %w", streamID, err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var (
			e    Event
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.StreamID, &e.Number, &e.Type, &e.Data, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: load %s: scan: %w", streamID, err)
		}
		if len(meta) > 0 {
			if err := l.codec.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("eventlog: load %s: unmarshal metadata: %w", streamID, err)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: load %s: %w", streamID, err)
	}

	if len(result) == 0 {
		ok, err := l.HasStream(ctx, streamID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("eventlog: load %s: %w", streamID, prowl.ErrStreamNotFound)
		}
	}
	return result, nil
}

var propertyColumns = map[Property]string{
	PropertyType:      "type",
	PropertyCreatedAt: "created_at",
	PropertyEventID:   "event_id::text",
	PropertyNumber:    "no",
}

// conditionSQL translates one matcher clause. Metadata values are compared
// as text unless the operand is numeric or boolean. A missing key yields
// NULL, which never matches.
func conditionSQL(c Condition) sq.Sqlizer {
	lhs := propertyColumns[Property(c.Field)]
	var lhsArgs []any
	if c.Type == FieldMetadata {
		lhs = "(metadata->>?)"
		lhsArgs = []any{c.Field}
	}

	switch c.Op {
	case OpIn, OpNotIn:
		vals := values(c.Value)
		strs := make([]string, len(vals))
		for i, v := range vals {
			strs[i] = fmt.Sprint(v)
		}
		expr := lhs + "::text = ANY(?)"
		if c.Op == OpNotIn {
			expr = "NOT (" + expr + ")"
		}
		return sq.Expr(expr, append(lhsArgs, strs)...)
	case OpRegex:
		return sq.Expr(lhs+"::text ~ ?", append(lhsArgs, c.Value)...)
	}

	if c.Type == FieldMetadata {
		if _, ok := number(c.Value); ok {
			lhs += "::numeric"
		} else if _, ok := c.Value.(bool); ok {
			lhs += "::boolean"
		}
	}
	return sq.Expr(lhs+" "+string(c.Op)+" ?", append(lhsArgs, c.Value)...)
}

func (l *Postgres) Delete(ctx context.Context, streamID string) error {
	if err := l.schema.EnsureEvents(ctx, l.exec); err != nil {
		return err
	}

	tag, err := l.exec.Exec(ctx, "DELETE FROM prowl_streams WHERE stream_id = $1", streamID)
	if err != nil {
		return fmt.Errorf("eventlog: delete %s: %w", streamID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("eventlog: delete %s: %w", streamID, prowl.ErrStreamNotFound)
	}
	return nil
}

func (l *Postgres) HasStream(ctx context.Context, streamID string) (bool, error) {
	if err := l.schema.EnsureEvents(ctx, l.exec); err != nil {
		return false, err
	}

	var ok bool
	err := l.exec.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM prowl_streams WHERE stream_id = $1)",
		streamID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("eventlog: has stream %s: %w", streamID, err)
	}
	return ok, nil
}

func (l *Postgres) ListStreams(ctx context.Context, filter StreamFilter) ([]string, error) {
	if err := l.schema.EnsureEvents(ctx, l.exec); err != nil {
		return nil, err
	}

	builder := psql.Select("stream_id").
		From(schema.StreamsTable).
		OrderBy(`stream_id COLLATE "C" ASC`)

	if len(filter.Categories) > 0 {
		if err := l.schema.EnsureStreamsCategoryIndex(ctx, l.exec); err != nil {
			return nil, err
		}
		builder = builder.Where(sq.Eq{"category": filter.Categories})
	} else {
		builder = builder.Where(sq.NotLike{"stream_id": "$%"})
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("eventlog: list streams: build sql: %w", err)
	}
	return l.strings(ctx, "list streams", sql, args...)
}

func (l *Postgres) ListCategories(ctx context.Context) ([]string, error) {
	if err := l.schema.EnsureEvents(ctx, l.exec); err != nil {
		return nil, err
	}
	return l.strings(ctx, "list categories",
		`SELECT DISTINCT category FROM prowl_streams WHERE category IS NOT NULL ORDER BY category COLLATE "C"`,
	)
}

func (l *Postgres) strings(ctx context.Context, op, sql string, args ...any) ([]string, error) {
	rows, err := l.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: %s: %w", op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("eventlog: %s: scan: %w", op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: %s: %w", op, err)
	}
	return out, nil
}

var _ Log = (*Postgres)(nil)
