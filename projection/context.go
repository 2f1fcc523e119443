package projection

import (
	"context"

	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/readmodel"
)

// Context is passed to every handler.
type Context interface {
	// StreamName is the stream of the event being handled.
	StreamName() string
	// Stop ends the run after the current event is handled and checkpointed.
	Stop()
}

// ProjectorContext is passed to Projector handlers.
type ProjectorContext interface {
	Context
	// Emit appends evt to the stream named after the projection.
	Emit(ctx context.Context, evt eventlog.Event) error
	// LinkTo appends a copy of evt to stream, creating the stream if needed.
	LinkTo(ctx context.Context, stream string, evt eventlog.Event) error
}

// ReadModelContext is passed to ReadModelProjector handlers.
type ReadModelContext interface {
	Context
	ReadModel() readmodel.ReadModel
}

type baseContext[S any] struct {
	rs *runState[S]
}

func (c baseContext[S]) StreamName() string { return c.rs.stream }
func (c baseContext[S]) Stop()              { c.rs.stop() }

type projectorContext[S any] struct {
	baseContext[S]
	p *Projector[S]
}

func (c projectorContext[S]) Emit(ctx context.Context, evt eventlog.Event) error {
	return c.p.emit(ctx, evt)
}

func (c projectorContext[S]) LinkTo(ctx context.Context, stream string, evt eventlog.Event) error {
	return c.p.linkTo(ctx, stream, evt)
}

type readModelContext[S any] struct {
	baseContext[S]
	rm readmodel.ReadModel
}

func (c readModelContext[S]) ReadModel() readmodel.ReadModel { return c.rm }
