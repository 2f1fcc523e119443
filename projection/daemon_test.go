package projection_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/projection"
)

type failingRunner struct {
	calls  atomic.Int32
	resets atomic.Int32
	err    error
}

func (r *failingRunner) Name() string { return "failing" }

func (r *failingRunner) Run(ctx context.Context, keepRunning bool) error {
	r.calls.Add(1)
	return r.err
}

func (r *failingRunner) Reset(ctx context.Context) error {
	r.resets.Add(1)
	return nil
}

func TestDaemon_GivesUpAfterMaxRetries(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := &failingRunner{err: errors.New("database down")}
	d := projection.NewDaemon(projection.WithMaxRetries(3), projection.WithRetryDelay(time.Millisecond))
	d.Add(r)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := r.calls.Load(); got != 3 {
		t.Errorf("runs: got %d, want 3", got)
	}
}

func TestDaemon_StandbyTakesOver(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	log := eventlog.NewMemory()
	store := checkpoint.NewMemory()
	seed(t, log, "user-1", "E", "E")

	opts := []projection.Option{projection.WithSleep(2 * time.Millisecond), projection.WithLockTimeout(time.Second)}
	owner := newCounter("users", log, store, opts...).FromStream("user-1").WhenAny(countAll)
	standby := newCounter("users", log, store, opts...).FromStream("user-1").WhenAny(countAll)

	daemonOpts := []projection.DaemonOption{projection.WithStandbyInterval(2 * time.Millisecond)}
	ownerCtx, stopOwner := context.WithCancel(context.Background())
	ownerDone := make(chan error, 1)
	ownerDaemon := projection.NewDaemon(daemonOpts...)
	ownerDaemon.Add(owner)
	go func() { ownerDone <- ownerDaemon.Run(ownerCtx) }()
	eventually(t, "owner caught up", func() bool { return owner.State().Count == 2 })

	standbyCtx, stopStandby := context.WithCancel(context.Background())
	standbyDone := make(chan error, 1)
	standbyDaemon := projection.NewDaemon(daemonOpts...)
	standbyDaemon.Add(standby)
	go func() { standbyDone <- standbyDaemon.Run(standbyCtx) }()

	time.Sleep(20 * time.Millisecond)
	if standby.State().Count != 0 {
		t.Fatal("standby processed events while the owner held the lease")
	}

	stopOwner()
	if err := <-ownerDone; err != nil {
		t.Fatalf("owner daemon: %v", err)
	}
	seed(t, log, "user-1", "E")
	eventually(t, "standby took over", func() bool { return standby.State().Count == 3 })

	stopStandby()
	if err := <-standbyDone; err != nil {
		t.Fatalf("standby daemon: %v", err)
	}
}

func TestDaemon_Rebuild(t *testing.T) {
	ctx := context.Background()
	r := &failingRunner{}
	d := projection.NewDaemon()
	d.Add(r)

	if err := d.Rebuild(ctx, "failing"); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if r.resets.Load() != 1 || r.calls.Load() != 1 {
		t.Errorf("resets %d runs %d, want 1 and 1", r.resets.Load(), r.calls.Load())
	}

	if err := d.Rebuild(ctx, "ghost"); !errors.Is(err, prowl.ErrProjectionNotFound) {
		t.Errorf("unknown runner: got %v", err)
	}
}
