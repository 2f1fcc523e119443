package projection

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/readmodel"
)

// ReadModelProjector is a persistent projection whose handlers stack
// operations on a read model. The read model is persisted before every
// checkpoint write.
type ReadModelProjector[S any] struct {
	*engine[S, ReadModelContext]
	rm readmodel.ReadModel
}

func NewReadModelProjector[S any](name string, log eventlog.Log, store checkpoint.Store, rm readmodel.ReadModel, opts ...Option) *ReadModelProjector[S] {
	p := &ReadModelProjector[S]{engine: newEngine[S, ReadModelContext](name, log, store, opts), rm: rm}
	p.hooks = p
	p.bind = func(rs *runState[S]) ReadModelContext {
		return readModelContext[S]{baseContext: baseContext[S]{rs: rs}, rm: rm}
	}
	return p
}

func (p *ReadModelProjector[S]) Init(fn func() S) *ReadModelProjector[S] {
	p.def.setInit(fn)
	return p
}

func (p *ReadModelProjector[S]) FromStream(streams ...string) *ReadModelProjector[S] {
	p.def.setQuery(FromStreams(streams...))
	return p
}

func (p *ReadModelProjector[S]) FromCategory(categories ...string) *ReadModelProjector[S] {
	p.def.setQuery(FromCategories(categories...))
	return p
}

func (p *ReadModelProjector[S]) FromAll() *ReadModelProjector[S] {
	p.def.setQuery(FromAll())
	return p
}

func (p *ReadModelProjector[S]) Matching(m *eventlog.MetadataMatcher) *ReadModelProjector[S] {
	p.def.setMatcher(m)
	return p
}

func (p *ReadModelProjector[S]) WhenAny(h Handler[S, ReadModelContext]) *ReadModelProjector[S] {
	p.def.setAny(h)
	return p
}

func (p *ReadModelProjector[S]) When(hs map[string]Handler[S, ReadModelContext]) *ReadModelProjector[S] {
	p.def.setHandlers(hs)
	return p
}

func (p *ReadModelProjector[S]) ReadModel() readmodel.ReadModel { return p.rm }

// Run drives the projection. Operations stacked after the last checkpoint
// are dropped when the run fails; the next run replays their events.
func (p *ReadModelProjector[S]) Run(ctx context.Context, keepRunning bool) error {
	err := p.run(ctx, keepRunning)
	if err != nil {
		p.rm.Discard()
	}
	return err
}

func (p *ReadModelProjector[S]) Stop(ctx context.Context) error { return p.requestStop(ctx) }

// Reset clears the stored positions and state and resets the read model.
func (p *ReadModelProjector[S]) Reset(ctx context.Context) error {
	return p.resetRun(ctx, p.newRunState(), "")
}

// Delete removes the descriptor and, with includeEmitted, the read model.
func (p *ReadModelProjector[S]) Delete(ctx context.Context, includeEmitted bool) error {
	return p.deleteRun(ctx, p.newRunState(), includeEmitted)
}

func (p *ReadModelProjector[S]) prepareOutput(ctx context.Context) error {
	p.rm.Discard()
	ok, err := p.rm.IsInitialized(ctx)
	if err != nil {
		return fmt.Errorf("projection %s: %w", p.def.name, err)
	}
	if ok {
		return nil
	}
	if err := p.rm.Init(ctx); err != nil {
		return fmt.Errorf("projection %s: %w", p.def.name, err)
	}
	return nil
}

func (p *ReadModelProjector[S]) flushOutput(ctx context.Context) error {
	if err := p.rm.Persist(ctx); err != nil {
		return fmt.Errorf("projection %s: persist read model: %w", p.def.name, err)
	}
	return nil
}

func (p *ReadModelProjector[S]) resetOutput(ctx context.Context) error {
	p.rm.Discard()
	ok, err := p.rm.IsInitialized(ctx)
	if err != nil {
		return fmt.Errorf("projection %s: %w", p.def.name, err)
	}
	if !ok {
		return nil
	}
	if err := p.rm.Reset(ctx); err != nil {
		return fmt.Errorf("projection %s: reset read model: %w", p.def.name, err)
	}
	return nil
}

func (p *ReadModelProjector[S]) deleteOutput(ctx context.Context) error {
	if err := p.rm.Delete(ctx); err != nil {
		return fmt.Errorf("projection %s: delete read model: %w", p.def.name, err)
	}
	return nil
}
