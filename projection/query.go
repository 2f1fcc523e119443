package projection

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ripkitten-co/prowl/eventlog"
)

// Query folds events in memory. Nothing is persisted; a later Run continues
// from the positions reached by the previous one until Reset.
type Query[S any] struct {
	core[S, Context]

	runMu   sync.Mutex
	rs      *runState[S]
	current atomic.Pointer[runState[S]]
}

func NewQuery[S any](log eventlog.Log, opts ...Option) *Query[S] {
	q := &Query[S]{core: newCore[S, Context]("query", log, opts)}
	q.bind = func(rs *runState[S]) Context { return baseContext[S]{rs: rs} }
	return q
}

func (q *Query[S]) Init(fn func() S) *Query[S] { q.def.setInit(fn); return q }

func (q *Query[S]) FromStream(streams ...string) *Query[S] {
	q.def.setQuery(FromStreams(streams...))
	return q
}

func (q *Query[S]) FromCategory(categories ...string) *Query[S] {
	q.def.setQuery(FromCategories(categories...))
	return q
}

func (q *Query[S]) FromAll() *Query[S] { q.def.setQuery(FromAll()); return q }

func (q *Query[S]) Matching(m *eventlog.MetadataMatcher) *Query[S] {
	q.def.setMatcher(m)
	return q
}

func (q *Query[S]) WhenAny(h Handler[S, Context]) *Query[S] { q.def.setAny(h); return q }

func (q *Query[S]) When(hs map[string]Handler[S, Context]) *Query[S] {
	q.def.setHandlers(hs)
	return q
}

// Run makes a single pass over the selected streams.
func (q *Query[S]) Run(ctx context.Context) error {
	if err := q.def.validate(); err != nil {
		return err
	}

	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.rs == nil {
		q.rs = q.newRunState()
	}
	rs := q.rs
	rs.stopped.Store(false)
	q.current.Store(rs)
	defer q.current.Store(nil)

	if err := q.resolve(ctx, rs); err != nil {
		return err
	}
	_, err := q.pass(ctx, rs, nil)
	rs.counter = 0
	q.publish(rs)
	return err
}

// Stop ends a Run in progress after the current event.
func (q *Query[S]) Stop() {
	if rs := q.current.Load(); rs != nil {
		rs.stop()
	}
}

// Reset discards positions and re-runs init.
func (q *Query[S]) Reset() {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	q.rs = q.newRunState()
	q.publish(q.rs)
}
