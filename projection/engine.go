package projection

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/eventlog"
)

// hooks are the steps that differ between the persistent modes.
type hooks interface {
	prepareOutput(ctx context.Context) error
	flushOutput(ctx context.Context) error
	resetOutput(ctx context.Context) error
	deleteOutput(ctx context.Context) error
}

// engine runs a projection whose progress lives in a checkpoint.Store.
type engine[S any, C any] struct {
	core[S, C]
	store     checkpoint.Store
	status    *StatusController
	lease     *Lease
	persister *Persister
	hooks     hooks
}

func newEngine[S any, C any](name string, log eventlog.Log, store checkpoint.Store, opts []Option) *engine[S, C] {
	e := &engine[S, C]{core: newCore[S, C](name, log, opts), store: store}
	e.gap = e.cfg.gap
	e.status = NewStatusController(store, name)
	e.lease = NewLease(store, name, e.cfg.lockTimeout, e.cfg.updateLockThreshold, e.cfg.now, e.cfg.metrics)
	e.persister = NewPersister(store, name, e.lease, opts...)
	return e
}

// Name returns the projection name.
func (e *engine[S, C]) Name() string { return e.def.name }

func (e *engine[S, C]) run(ctx context.Context, keepRunning bool) (err error) {
	if err := e.def.validate(); err != nil {
		return err
	}

	ctx, span := e.cfg.tracer.Start(ctx, "projection.run", trace.WithAttributes(
		attribute.String("projection", e.def.name),
		attribute.Bool("keep_running", keepRunning),
	))
	defer func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rs := e.newRunState()

	status, err := e.status.Fetch(ctx)
	if err != nil {
		return err
	}
	switch status {
	case checkpoint.StatusStopping:
		if err := e.persister.Load(ctx, rs.positions, &rs.state); err != nil {
			return err
		}
		e.publish(rs)
		return e.acknowledgeStop(ctx)
	case checkpoint.StatusDeleting, checkpoint.StatusDeletingInclEmittedEvents:
		return e.deleteRun(ctx, rs, status == checkpoint.StatusDeletingInclEmittedEvents)
	case checkpoint.StatusResetting:
		if err := e.resetRun(ctx, rs, checkpoint.StatusIdle); err != nil {
			return err
		}
	}

	_, err = e.store.CreateIfAbsent(ctx, checkpoint.Descriptor{
		Name:     e.def.name,
		Status:   checkpoint.StatusIdle,
		Position: map[string]int64{},
	})
	if err != nil {
		return fmt.Errorf("projection %s: create: %w", e.def.name, err)
	}
	if err := e.hooks.prepareOutput(ctx); err != nil {
		return err
	}

	if err := e.lease.Acquire(ctx); err != nil {
		return err
	}
	e.logger.Debug().Time("locked_until", e.lease.Until()).Msg("lease acquired")
	defer func() {
		if rerr := e.lease.Release(ctx); rerr != nil {
			e.logger.Error().Err(rerr).Msg("release lease")
			if err == nil {
				err = rerr
			}
		}
	}()

	if err := e.resolve(ctx, rs); err != nil {
		return err
	}
	if err := e.persister.Load(ctx, rs.positions, &rs.state); err != nil {
		return err
	}
	e.publish(rs)

	atBlock := func(ctx context.Context) error {
		if err := e.persist(ctx, rs); err != nil {
			return err
		}
		status, err := e.status.Fetch(ctx)
		if err != nil {
			return err
		}
		if status != checkpoint.StatusRunning && status != checkpoint.StatusIdle {
			rs.stop()
		}
		return nil
	}

	for {
		gap, err := e.pass(ctx, rs, atBlock)
		e.publish(rs)
		if err != nil {
			return err
		}

		if gap {
			if err := e.retryGap(ctx, rs); err != nil {
				return err
			}
			if err := e.resolve(ctx, rs); err != nil {
				return err
			}
			continue
		}

		if rs.counter > 0 {
			if err := e.persist(ctx, rs); err != nil {
				return err
			}
		} else if keepRunning && !rs.stopped.Load() {
			if err := e.sleep(ctx, e.cfg.sleep); err != nil {
				return err
			}
			if err := e.lease.Renew(ctx); err != nil {
				return err
			}
		}

		done, err := e.poll(ctx, rs, keepRunning)
		if err != nil {
			return err
		}
		if done || !keepRunning || rs.stopped.Load() {
			return nil
		}
		if err := e.resolve(ctx, rs); err != nil {
			return err
		}
	}
}

// poll acts on a status requested by another process. It reports whether
// the run is over.
func (e *engine[S, C]) poll(ctx context.Context, rs *runState[S], keepRunning bool) (bool, error) {
	status, err := e.status.Fetch(ctx)
	if err != nil {
		return false, err
	}

	switch status {
	case checkpoint.StatusStopping:
		e.logger.Info().Str("status", string(status)).Msg("stopping")
		rs.stop()
		return true, nil
	case checkpoint.StatusDeleting, checkpoint.StatusDeletingInclEmittedEvents:
		return true, e.deleteRun(ctx, rs, status == checkpoint.StatusDeletingInclEmittedEvents)
	case checkpoint.StatusResetting:
		if err := e.resetRun(ctx, rs, checkpoint.StatusStopping); err != nil {
			return true, err
		}
		if !keepRunning {
			rs.stop()
			return true, nil
		}
		return false, e.startAgain(ctx, rs)
	}
	return false, nil
}

func (e *engine[S, C]) persist(ctx context.Context, rs *runState[S]) error {
	if err := e.hooks.flushOutput(ctx); err != nil {
		return err
	}
	if err := e.persister.Persist(ctx, rs.positions, rs.state); err != nil {
		return err
	}
	e.logger.Debug().Int("events", rs.counter).Msg("checkpoint written")
	rs.counter = 0
	e.publish(rs)
	return nil
}

func (e *engine[S, C]) retryGap(ctx context.Context, rs *runState[S]) error {
	if rs.counter > 0 {
		if err := e.persist(ctx, rs); err != nil {
			return err
		}
	}
	wait := e.gap.SleepForNextRetry()
	e.gap.TrackRetry()
	e.cfg.metrics.gapRetried(e.def.name)
	e.logger.Debug().Dur("wait", wait).Msg("gap detected, retrying")
	return sleepCtx(ctx, wait)
}

// resetRun clears positions and state in memory and in the store. status is
// written along with them; an empty status keeps the stored one.
func (e *engine[S, C]) resetRun(ctx context.Context, rs *runState[S], status checkpoint.Status) error {
	rs.positions.Reset()
	rs.state = e.def.initial()
	rs.counter = 0

	data, err := e.cfg.codec.Marshal(rs.state)
	if err != nil {
		return fmt.Errorf("projection %s: reset: marshal state: %w", e.def.name, err)
	}
	err = e.store.Update(ctx, e.def.name, checkpoint.Patch{
		Status:   status,
		Position: map[string]int64{},
		State:    data,
	})
	if err != nil && !errors.Is(err, prowl.ErrProjectionNotFound) {
		return fmt.Errorf("projection %s: reset: %w", e.def.name, err)
	}
	if err := e.hooks.resetOutput(ctx); err != nil {
		return err
	}
	e.publish(rs)
	e.logger.Info().Msg("reset")
	return nil
}

func (e *engine[S, C]) startAgain(ctx context.Context, rs *runState[S]) error {
	rs.stopped.Store(false)
	err := e.store.Update(ctx, e.def.name, checkpoint.Patch{
		Status:      checkpoint.StatusRunning,
		LockedUntil: e.lease.Extend(),
	})
	if err != nil {
		return fmt.Errorf("projection %s: restart: %w", e.def.name, err)
	}
	return nil
}

// deleteRun deletes the descriptor and, with includeEmitted, whatever the
// projection produced.
func (e *engine[S, C]) deleteRun(ctx context.Context, rs *runState[S], includeEmitted bool) error {
	if err := e.store.Delete(ctx, e.def.name); err != nil {
		return fmt.Errorf("projection %s: delete: %w", e.def.name, err)
	}
	if includeEmitted {
		if err := e.hooks.deleteOutput(ctx); err != nil {
			return err
		}
	}
	rs.positions.Reset()
	rs.state = e.def.initial()
	rs.stop()
	e.publish(rs)
	e.logger.Info().Bool("include_emitted", includeEmitted).Msg("deleted")
	return nil
}

// acknowledgeStop consumes a stop request found at startup. Only a runner
// that could take the lease may do so; the holder acts on it when it polls.
func (e *engine[S, C]) acknowledgeStop(ctx context.Context) error {
	n, err := e.store.ConditionalUpdate(ctx, e.def.name,
		checkpoint.Predicate{LockFreeAt: e.cfg.now()},
		checkpoint.Patch{Status: checkpoint.StatusIdle},
	)
	if err != nil {
		return fmt.Errorf("projection %s: acknowledge stop: %w", e.def.name, err)
	}
	if n == 0 {
		return fmt.Errorf("projection %s: %w", e.def.name, prowl.ErrProjectionAlreadyRunning)
	}
	e.logger.Info().Str("status", string(checkpoint.StatusStopping)).Msg("stop requested before start")
	return nil
}

func (e *engine[S, C]) requestStop(ctx context.Context) error {
	return e.status.Request(ctx, checkpoint.StatusStopping)
}
