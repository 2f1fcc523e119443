package projection

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ripkitten-co/prowl/eventlog"
)

// runState is owned by one run and threaded through the loop.
type runState[S any] struct {
	positions *PositionMap
	state     S
	stopped   atomic.Bool
	counter   int
	stream    string
}

func (rs *runState[S]) stop() { rs.stopped.Store(true) }

// core is the event loop shared by every mode.
type core[S any, C any] struct {
	def    definition[S, C]
	cfg    config
	log    eventlog.Log
	logger zerolog.Logger
	gap    *GapDetector
	bind   func(rs *runState[S]) C

	mu        sync.Mutex
	state     S
	positions map[string]int64
}

func newCore[S any, C any](name string, log eventlog.Log, opts []Option) core[S, C] {
	cfg := newConfig(opts)
	return core[S, C]{
		def:       definition[S, C]{name: name},
		cfg:       cfg,
		log:       log,
		logger:    cfg.logger.With().Str("projection", name).Logger(),
		positions: map[string]int64{},
	}
}

func (c *core[S, C]) newRunState() *runState[S] {
	return &runState[S]{positions: NewPositionMap(), state: c.def.initial()}
}

func (c *core[S, C]) resolve(ctx context.Context, rs *runState[S]) error {
	streams, err := NewResolver(c.log, c.def.query).Resolve(ctx)
	if err != nil {
		return fmt.Errorf("projection %s: %w", c.def.name, err)
	}
	rs.positions.Merge(streams)
	return nil
}

// pass consumes the merged streams once. atBlock, when set, runs every time
// the consumed-event counter reaches the persist block size. It reports
// whether the pass was cut short to wait for a gap.
func (c *core[S, C]) pass(ctx context.Context, rs *runState[S], atBlock func(context.Context) error) (bool, error) {
	reader := NewMergedReader(c.log, rs.positions, c.cfg.loadCount, c.def.matcher)
	hc := c.bind(rs)
	detectGaps := c.gap != nil && c.def.matcher.Empty()

	for !rs.stopped.Load() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		evt, ok, err := reader.Next(ctx)
		if err != nil {
			return false, fmt.Errorf("projection %s: %w", c.def.name, err)
		}
		if !ok {
			return false, nil
		}

		if detectGaps {
			if c.gap.IsGap(rs.positions.Get(evt.StreamID), evt.Number) {
				if c.gap.ShouldRetryToFillGap(c.cfg.now(), evt) {
					return true, nil
				}
				c.logger.Warn().Str("stream", evt.StreamID).Int64("number", evt.Number).
					Int64("position", rs.positions.Get(evt.StreamID)).Msg("accepting gap")
				c.gap.ResetRetries()
			} else if c.gap.IsRetrying() {
				c.gap.ResetRetries()
			}
		}

		rs.stream = evt.StreamID
		if h := c.def.handler(evt.Type); h != nil {
			state, err := h(ctx, hc, rs.state, evt)
			if err != nil {
				return false, fmt.Errorf("projection %s: handle %s@%d: %w", c.def.name, evt.StreamID, evt.Number, err)
			}
			rs.state = state
			c.cfg.metrics.eventHandled(c.def.name)
		}
		// A failed event stays unconsumed so the next run retries it.
		rs.positions.Set(evt.StreamID, evt.Number)
		rs.counter++

		if atBlock != nil && rs.counter >= c.cfg.persistBlockSize {
			if err := atBlock(ctx); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// publish exposes the state of rs to State and Positions.
func (c *core[S, C]) publish(rs *runState[S]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = rs.state
	c.positions = rs.positions.Snapshot()
}

// State returns the state as of the last pass or checkpoint.
func (c *core[S, C]) State() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Positions returns the stream positions as of the last pass or checkpoint.
func (c *core[S, C]) Positions() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.positions)
}

// sleep waits for d, or for the waker when one is configured.
func (c *core[S, C]) sleep(ctx context.Context, d time.Duration) error {
	if c.cfg.waker != nil {
		return c.cfg.waker.Wait(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
