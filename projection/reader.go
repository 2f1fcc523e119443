package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/eventlog"
)

// MergedReader interleaves the events of several streams in ascending
// event number. Equal numbers are yielded in stream registration order.
// Each stream is read from its position+1 as of construction, in chunks of
// loadCount events, up to the tip seen while reading.
type MergedReader struct {
	log       eventlog.Log
	matcher   *eventlog.MetadataMatcher
	loadCount int
	cursors   []*cursor
}

type cursor struct {
	stream string
	next   int64
	buf    []eventlog.Event
	done   bool
}

// NewMergedReader positions one cursor per stream of positions. A zero
// loadCount loads each stream in one call.
func NewMergedReader(log eventlog.Log, positions *PositionMap, loadCount int, matcher *eventlog.MetadataMatcher) *MergedReader {
	r := &MergedReader{log: log, matcher: matcher, loadCount: loadCount}
	for _, s := range positions.Streams() {
		r.cursors = append(r.cursors, &cursor{stream: s, next: positions.Get(s) + 1})
	}
	return r
}

// Next returns the next event in merged order, or false once every stream
// is exhausted. Streams missing from the log count as empty.
func (r *MergedReader) Next(ctx context.Context) (eventlog.Event, bool, error) {
	var best *cursor
	for _, c := range r.cursors {
		if err := r.fill(ctx, c); err != nil {
			return eventlog.Event{}, false, err
		}
		if len(c.buf) == 0 {
			continue
		}
		if best == nil || c.buf[0].Number < best.buf[0].Number {
			best = c
		}
	}
	if best == nil {
		return eventlog.Event{}, false, nil
	}

	evt := best.buf[0]
	best.buf = best.buf[1:]
	return evt, true, nil
}

func (r *MergedReader) fill(ctx context.Context, c *cursor) error {
	if len(c.buf) > 0 || c.done {
		return nil
	}

	evts, err := r.log.Load(ctx, c.stream, c.next, r.loadCount, r.matcher)
	if errors.Is(err, prowl.ErrStreamNotFound) {
		c.done = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s from %d: %w", c.stream, c.next, err)
	}

	if len(evts) == 0 {
		c.done = true
		return nil
	}
	c.buf = evts
	c.next = evts[len(evts)-1].Number + 1
	if r.loadCount <= 0 || len(evts) < r.loadCount {
		c.done = true
	}
	return nil
}
