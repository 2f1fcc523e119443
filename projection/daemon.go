package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ripkitten-co/prowl"
)

// Runner is a persistent projection the daemon can drive. Projector and
// ReadModelProjector implement it.
type Runner interface {
	Name() string
	Run(ctx context.Context, keepRunning bool) error
	Reset(ctx context.Context) error
}

type DaemonOption func(*daemonConfig)

type daemonConfig struct {
	standbyInterval time.Duration
	retryDelay      time.Duration
	maxRetries      int
	logger          zerolog.Logger
}

// WithStandbyInterval sets how often a runner whose lease is held elsewhere
// tries again.
func WithStandbyInterval(d time.Duration) DaemonOption {
	return func(c *daemonConfig) { c.standbyInterval = d }
}

// WithRetryDelay sets the wait after a failed run.
func WithRetryDelay(d time.Duration) DaemonOption {
	return func(c *daemonConfig) { c.retryDelay = d }
}

// WithMaxRetries sets the consecutive failures after which a runner is
// abandoned.
func WithMaxRetries(n int) DaemonOption {
	return func(c *daemonConfig) { c.maxRetries = n }
}

func WithDaemonLogger(l zerolog.Logger) DaemonOption {
	return func(c *daemonConfig) { c.logger = l }
}

// Daemon keeps a set of runners going, one goroutine each.
type Daemon struct {
	config  daemonConfig
	runners []Runner
}

func NewDaemon(opts ...DaemonOption) *Daemon {
	cfg := daemonConfig{
		standbyInterval: 5 * time.Second,
		retryDelay:      time.Second,
		maxRetries:      5,
		logger:          zerolog.Nop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Daemon{config: cfg}
}

func (d *Daemon) Add(r Runner) {
	d.runners = append(d.runners, r)
}

// Run blocks until every runner has returned. Cancelling ctx ends them all.
func (d *Daemon) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, r := range d.runners {
		g.Go(func() error {
			d.runRunner(ctx, r)
			return nil
		})
	}
	return g.Wait()
}

func (d *Daemon) runRunner(ctx context.Context, r Runner) {
	log := d.config.logger.With().Str("projection", r.Name()).Logger()
	failures := 0

	for {
		err := r.Run(ctx, true)
		if ctx.Err() != nil {
			return
		}

		wait := d.config.retryDelay
		switch {
		case err == nil:
			log.Info().Msg("runner stopped")
			return
		case errors.Is(err, prowl.ErrProjectionAlreadyRunning):
			failures = 0
			wait = d.config.standbyInterval
			log.Debug().Msg("lease held elsewhere, standing by")
		default:
			failures++
			if failures >= d.config.maxRetries {
				log.Error().Err(err).Int("failures", failures).Msg("giving up on runner")
				return
			}
			log.Warn().Err(err).Int("failures", failures).Msg("run failed, retrying")
		}

		if sleepCtx(ctx, wait) != nil {
			return
		}
	}
}

// Rebuild resets the named runner and replays its streams to the tip. The
// runner must not be running.
func (d *Daemon) Rebuild(ctx context.Context, name string) error {
	var r Runner
	for _, candidate := range d.runners {
		if candidate.Name() == name {
			r = candidate
			break
		}
	}
	if r == nil {
		return fmt.Errorf("daemon: runner %q: %w", name, prowl.ErrProjectionNotFound)
	}

	if err := r.Reset(ctx); err != nil {
		return fmt.Errorf("daemon: rebuild %s: %w", name, err)
	}
	if err := r.Run(ctx, false); err != nil {
		return fmt.Errorf("daemon: rebuild %s: %w", name, err)
	}
	return nil
}
