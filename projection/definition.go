package projection

import (
	"context"
	"fmt"
	"maps"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/eventlog"
)

// Handler folds one event into the state. C is the capability context of
// the projection mode.
type Handler[S any, C any] func(ctx context.Context, c C, state S, evt eventlog.Event) (S, error)

// definition collects the builder calls common to every mode. Misuse is
// recorded and reported by validate when the projection runs.
type definition[S any, C any] struct {
	name     string
	init     func() S
	query    StreamQuery
	matcher  *eventlog.MetadataMatcher
	any      Handler[S, C]
	handlers map[string]Handler[S, C]
	errs     []error
}

func (d *definition[S, C]) fail(format string, args ...any) {
	d.errs = append(d.errs, fmt.Errorf("projection %s: %s: %w", d.name, fmt.Sprintf(format, args...), prowl.ErrConfiguration))
}

func (d *definition[S, C]) setInit(fn func() S) {
	if d.init != nil {
		d.fail("init already set")
		return
	}
	d.init = fn
}

func (d *definition[S, C]) setQuery(q StreamQuery) {
	if !d.query.IsZero() {
		d.fail("stream query already set to %s", d.query)
		return
	}
	if q.kind != queryAll && len(q.names) == 0 {
		d.fail("empty %s", q)
		return
	}
	d.query = q
}

func (d *definition[S, C]) setMatcher(m *eventlog.MetadataMatcher) {
	if d.matcher != nil {
		d.fail("matcher already set")
		return
	}
	d.matcher = m
}

func (d *definition[S, C]) setAny(h Handler[S, C]) {
	if d.any != nil || d.handlers != nil {
		d.fail("handlers already set")
		return
	}
	if h == nil {
		d.fail("nil handler")
		return
	}
	d.any = h
}

func (d *definition[S, C]) setHandlers(hs map[string]Handler[S, C]) {
	if d.any != nil || d.handlers != nil {
		d.fail("handlers already set")
		return
	}
	if len(hs) == 0 {
		d.fail("no handlers")
		return
	}
	d.handlers = maps.Clone(hs)
}

func (d *definition[S, C]) validate() error {
	if len(d.errs) > 0 {
		return d.errs[0]
	}
	if d.query.IsZero() {
		return fmt.Errorf("projection %s: no stream query: %w", d.name, prowl.ErrConfiguration)
	}
	if d.any == nil && d.handlers == nil {
		return fmt.Errorf("projection %s: no handlers: %w", d.name, prowl.ErrConfiguration)
	}
	if err := d.matcher.Err(); err != nil {
		return fmt.Errorf("projection %s: %w: %w", d.name, err, prowl.ErrConfiguration)
	}
	return nil
}

func (d *definition[S, C]) initial() S {
	if d.init == nil {
		var zero S
		return zero
	}
	return d.init()
}

func (d *definition[S, C]) handler(eventType string) Handler[S, C] {
	if d.any != nil {
		return d.any
	}
	return d.handlers[eventType]
}
