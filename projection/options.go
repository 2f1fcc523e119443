package projection

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ripkitten-co/prowl/internal/codecs"
)

const tracerName = "github.com/ripkitten-co/prowl/projection"

// Waker blocks until new events may be available or timeout elapses.
// eventlog.Memory and eventlog.Notifier implement it.
type Waker interface {
	Wait(ctx context.Context, timeout time.Duration) error
}

type Option func(*config)

type config struct {
	persistBlockSize    int
	sleep               time.Duration
	lockTimeout         time.Duration
	updateLockThreshold time.Duration
	loadCount           int
	cacheSize           int
	gap                 *GapDetector
	logger              zerolog.Logger
	metrics             *Metrics
	tracer              trace.Tracer
	now                 func() time.Time
	waker               Waker
	codec               codecs.Codec
}

func defaultConfig() config {
	return config{
		persistBlockSize: 1000,
		sleep:            100 * time.Millisecond,
		lockTimeout:      time.Second,
		loadCount:        1000,
		cacheSize:        1000,
		logger:           zerolog.Nop(),
		tracer:           otel.GetTracerProvider().Tracer(tracerName),
		now:              time.Now,
		codec:            codecs.NewJSONIter(),
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// WithPersistBlockSize checkpoints after every n consumed events.
func WithPersistBlockSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.persistBlockSize = n
		}
	}
}

// WithSleep sets the idle wait between passes that found no events.
func WithSleep(d time.Duration) Option {
	return func(c *config) { c.sleep = d }
}

// WithLockTimeout sets the lease duration.
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

// WithUpdateLockThreshold skips idle lease renewals that follow the
// previous renewal by less than d.
func WithUpdateLockThreshold(d time.Duration) Option {
	return func(c *config) { c.updateLockThreshold = d }
}

// WithLoadCount bounds the events read from one stream per load. Zero
// loads each stream in one call.
func WithLoadCount(n int) Option {
	return func(c *config) { c.loadCount = n }
}

// WithCacheSize bounds the set of streams known to exist when emitting.
func WithCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithGapDetection enables gap retries. Gap detection is skipped while a
// metadata matcher is set since filtered numbering has holes by definition.
func WithGapDetection(g *GapDetector) Option {
	return func(c *config) { c.gap = g }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *config) { c.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracer = tp.Tracer(tracerName) }
}

// WithClock replaces time.Now for lease and gap decisions.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithWaker replaces the idle sleep with w, waking early on new events.
func WithWaker(w Waker) Option {
	return func(c *config) { c.waker = w }
}

// WithCodec sets the state codec.
func WithCodec(codec codecs.Codec) Option {
	return func(c *config) { c.codec = codec }
}
