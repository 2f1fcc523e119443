package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/eventlog"
)

// Projector is a persistent projection that may emit events. Emitted
// events go to the stream named after the projection.
type Projector[S any] struct {
	*engine[S, ProjectorContext]

	emitMu sync.Mutex
	known  *streamCache
}

func NewProjector[S any](name string, log eventlog.Log, store checkpoint.Store, opts ...Option) *Projector[S] {
	p := &Projector[S]{engine: newEngine[S, ProjectorContext](name, log, store, opts)}
	p.known = newStreamCache(p.cfg.cacheSize)
	p.hooks = p
	p.bind = func(rs *runState[S]) ProjectorContext {
		return projectorContext[S]{baseContext: baseContext[S]{rs: rs}, p: p}
	}
	return p
}

func (p *Projector[S]) Init(fn func() S) *Projector[S] { p.def.setInit(fn); return p }

func (p *Projector[S]) FromStream(streams ...string) *Projector[S] {
	p.def.setQuery(FromStreams(streams...))
	return p
}

func (p *Projector[S]) FromCategory(categories ...string) *Projector[S] {
	p.def.setQuery(FromCategories(categories...))
	return p
}

func (p *Projector[S]) FromAll() *Projector[S] { p.def.setQuery(FromAll()); return p }

func (p *Projector[S]) Matching(m *eventlog.MetadataMatcher) *Projector[S] {
	p.def.setMatcher(m)
	return p
}

func (p *Projector[S]) WhenAny(h Handler[S, ProjectorContext]) *Projector[S] {
	p.def.setAny(h)
	return p
}

func (p *Projector[S]) When(hs map[string]Handler[S, ProjectorContext]) *Projector[S] {
	p.def.setHandlers(hs)
	return p
}

// Run processes events until the streams are exhausted, or forever when
// keepRunning is set. It returns prowl.ErrProjectionAlreadyRunning when
// another runner holds the lease.
func (p *Projector[S]) Run(ctx context.Context, keepRunning bool) error {
	return p.run(ctx, keepRunning)
}

// Stop asks the runner of this projection, in any process, to stop at its
// next status poll.
func (p *Projector[S]) Stop(ctx context.Context) error { return p.requestStop(ctx) }

// Reset clears the stored positions and state and deletes the emitted
// stream. Use Manager.ResetProjection for a projection running elsewhere.
func (p *Projector[S]) Reset(ctx context.Context) error {
	return p.resetRun(ctx, p.newRunState(), "")
}

// Delete removes the descriptor and, with includeEmitted, the emitted
// stream.
func (p *Projector[S]) Delete(ctx context.Context, includeEmitted bool) error {
	return p.deleteRun(ctx, p.newRunState(), includeEmitted)
}

func (p *Projector[S]) emit(ctx context.Context, evt eventlog.Event) error {
	return p.appendTo(ctx, p.def.name, evt)
}

func (p *Projector[S]) linkTo(ctx context.Context, stream string, evt eventlog.Event) error {
	return p.appendTo(ctx, stream, evt)
}

// appendTo writes a copy of evt to stream, creating the stream on first use.
func (p *Projector[S]) appendTo(ctx context.Context, stream string, evt eventlog.Event) error {
	evts := []eventlog.Event{{ID: evt.ID, Type: evt.Type, Data: evt.Data, Metadata: evt.Metadata}}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	if p.known.Contains(stream) {
		err := p.log.Append(ctx, stream, evts)
		if !errors.Is(err, prowl.ErrStreamNotFound) {
			return err
		}
		p.known.Remove(stream)
	}

	exists, err := p.log.HasStream(ctx, stream)
	if err != nil {
		return fmt.Errorf("projection %s: emit to %s: %w", p.def.name, stream, err)
	}
	if exists {
		err = p.log.Append(ctx, stream, evts)
	} else {
		err = p.log.Create(ctx, stream, evts)
		if errors.Is(err, prowl.ErrStreamExists) {
			err = p.log.Append(ctx, stream, evts)
		}
	}
	if err != nil {
		return err
	}
	p.known.Add(stream)
	return nil
}

func (p *Projector[S]) prepareOutput(context.Context) error { return nil }
func (p *Projector[S]) flushOutput(context.Context) error   { return nil }

func (p *Projector[S]) resetOutput(ctx context.Context) error { return p.deleteOutput(ctx) }

func (p *Projector[S]) deleteOutput(ctx context.Context) error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.known.Remove(p.def.name)
	err := p.log.Delete(ctx, p.def.name)
	if err != nil && !errors.Is(err, prowl.ErrStreamNotFound) {
		return fmt.Errorf("projection %s: delete emitted stream: %w", p.def.name, err)
	}
	return nil
}
