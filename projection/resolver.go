package projection

import (
	"context"
	"fmt"
	"slices"

	"github.com/ripkitten-co/prowl/eventlog"
)

type queryKind int

const (
	queryStreams queryKind = iota + 1
	queryCategories
	queryAll
)

// StreamQuery selects the streams a projection reads.
type StreamQuery struct {
	kind  queryKind
	names []string
}

// FromStreams selects a fixed list of streams.
func FromStreams(streams ...string) StreamQuery {
	return StreamQuery{kind: queryStreams, names: slices.Clone(streams)}
}

// FromCategories selects every stream of the given categories, including
// streams created after the projection started.
func FromCategories(categories ...string) StreamQuery {
	return StreamQuery{kind: queryCategories, names: slices.Clone(categories)}
}

// FromAll selects every non-internal stream.
func FromAll() StreamQuery {
	return StreamQuery{kind: queryAll}
}

// IsZero reports whether no query was chosen.
func (q StreamQuery) IsZero() bool { return q.kind == 0 }

func (q StreamQuery) String() string {
	switch q.kind {
	case queryStreams:
		return fmt.Sprintf("streams%v", q.names)
	case queryCategories:
		return fmt.Sprintf("categories%v", q.names)
	case queryAll:
		return "all"
	}
	return "none"
}

// Resolver expands a StreamQuery into the current stream set.
type Resolver struct {
	log   eventlog.Log
	query StreamQuery
}

func NewResolver(log eventlog.Log, query StreamQuery) *Resolver {
	return &Resolver{log: log, query: query}
}

// Resolve returns the streams the query selects right now. Fixed lists are
// returned as given; category and all queries ask the log every time.
func (r *Resolver) Resolve(ctx context.Context) ([]string, error) {
	switch r.query.kind {
	case queryStreams:
		return slices.Clone(r.query.names), nil
	case queryCategories:
		streams, err := r.log.ListStreams(ctx, eventlog.StreamFilter{Categories: r.query.names})
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", r.query, err)
		}
		return streams, nil
	case queryAll:
		streams, err := r.log.ListStreams(ctx, eventlog.StreamFilter{})
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", r.query, err)
		}
		return streams, nil
	}
	return nil, fmt.Errorf("resolve: no stream query")
}
