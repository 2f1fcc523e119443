package projection

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ripkitten-co/prowl/checkpoint"
)

// Persister writes and restores the positions and state of one projection.
type Persister struct {
	store checkpoint.Store
	name  string
	lease *Lease
	cfg   config
}

// NewPersister returns a persister for name. Every write carries a renewed
// expiry of lease when lease is non-nil.
func NewPersister(store checkpoint.Store, name string, lease *Lease, opts ...Option) *Persister {
	return &Persister{store: store, name: name, lease: lease, cfg: newConfig(opts)}
}

// Persist writes positions and state in one descriptor update.
func (p *Persister) Persist(ctx context.Context, positions *PositionMap, state any) error {
	ctx, span := p.cfg.tracer.Start(ctx, "projection.persist",
		trace.WithAttributes(attribute.String("projection", p.name), attribute.Int("streams", positions.Len())))
	defer span.End()

	data, err := p.cfg.codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("projection %s: persist: marshal state: %w", p.name, err)
	}

	patch := checkpoint.Patch{Position: positions.Snapshot(), State: data}
	if p.lease != nil {
		patch.LockedUntil = p.lease.Extend()
	}
	if err := p.store.Update(ctx, p.name, patch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("projection %s: persist: %w", p.name, err)
	}
	p.cfg.metrics.checkpointWritten(p.name)
	return nil
}

// Load restores positions and decodes the stored state into state, which
// must be a pointer. An empty stored state leaves state untouched.
func (p *Persister) Load(ctx context.Context, positions *PositionMap, state any) error {
	d, err := p.store.Get(ctx, p.name)
	if err != nil {
		return fmt.Errorf("projection %s: load: %w", p.name, err)
	}
	positions.Restore(d.Position)
	if len(d.State) == 0 {
		return nil
	}
	if err := p.cfg.codec.Unmarshal(d.State, state); err != nil {
		return fmt.Errorf("projection %s: load: unmarshal state: %w", p.name, err)
	}
	return nil
}
