package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
)

const releaseTimeout = 5 * time.Second

// Lease is the time-bounded exclusive right to advance one projection.
type Lease struct {
	store     checkpoint.Store
	name      string
	ttl       time.Duration
	threshold time.Duration
	now       func() time.Time
	metrics   *Metrics

	until       time.Time
	lastRenewal time.Time
}

// NewLease returns a lease of ttl on name. Renewals closer than threshold
// to the previous one are skipped.
func NewLease(store checkpoint.Store, name string, ttl, threshold time.Duration, now func() time.Time, metrics *Metrics) *Lease {
	if now == nil {
		now = time.Now
	}
	return &Lease{store: store, name: name, ttl: ttl, threshold: threshold, now: now, metrics: metrics}
}

// Acquire takes the lease when it is unset or expired and marks the
// projection running. Returns prowl.ErrProjectionAlreadyRunning otherwise.
func (l *Lease) Acquire(ctx context.Context) error {
	now := l.now()
	until := checkpoint.LockExpiry(now, l.ttl)
	n, err := l.store.ConditionalUpdate(ctx, l.name,
		checkpoint.Predicate{LockFreeAt: now},
		checkpoint.Patch{Status: checkpoint.StatusRunning, LockedUntil: until},
	)
	if err != nil {
		return fmt.Errorf("projection %s: acquire lease: %w", l.name, err)
	}
	if n == 0 {
		l.metrics.lockConflict(l.name)
		return fmt.Errorf("projection %s: acquire lease: %w", l.name, prowl.ErrProjectionAlreadyRunning)
	}
	l.until = *until
	l.lastRenewal = now
	return nil
}

// Extend moves the expiry forward without writing it and returns the new
// value. Checkpoint writes carry it.
func (l *Lease) Extend() *time.Time {
	now := l.now()
	until := checkpoint.LockExpiry(now, l.ttl)
	l.until = *until
	l.lastRenewal = now
	return until
}

// Renew writes a fresh expiry unless the last renewal is within threshold.
func (l *Lease) Renew(ctx context.Context) error {
	if l.threshold > 0 && l.now().Sub(l.lastRenewal) < l.threshold {
		return nil
	}
	until := l.Extend()
	if err := l.store.Update(ctx, l.name, checkpoint.Patch{LockedUntil: until}); err != nil {
		return fmt.Errorf("projection %s: renew lease: %w", l.name, err)
	}
	l.metrics.lockRenewed(l.name)
	return nil
}

// Release clears the lease and marks the projection idle. It runs even when
// ctx is already cancelled. A deleted descriptor is not an error.
func (l *Lease) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	err := l.store.Update(ctx, l.name, checkpoint.Patch{Status: checkpoint.StatusIdle, ClearLock: true})
	if err != nil && !errors.Is(err, prowl.ErrProjectionNotFound) {
		return fmt.Errorf("projection %s: release lease: %w", l.name, err)
	}
	l.until = time.Time{}
	return nil
}

// Until returns the expiry last written or carried.
func (l *Lease) Until() time.Time { return l.until }
