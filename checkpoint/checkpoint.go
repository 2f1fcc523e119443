// Package checkpoint stores projection descriptors: the shared status, the
// per-stream positions, the serialized state and the lease expiry of every
// persistent projection.
package checkpoint

import (
	"context"
	"maps"
	"time"
)

type Status string

const (
	StatusIdle                      Status = "idle"
	StatusRunning                   Status = "running"
	StatusStopping                  Status = "stopping"
	StatusResetting                 Status = "resetting"
	StatusDeleting                  Status = "deleting"
	StatusDeletingInclEmittedEvents Status = "deleting incl emitted events"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusStopping, StatusResetting,
		StatusDeleting, StatusDeletingInclEmittedEvents:
		return true
	}
	return false
}

// Descriptor is the persisted record of one projection.
type Descriptor struct {
	Name        string
	Status      Status
	Position    map[string]int64
	State       []byte
	LockedUntil *time.Time
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Position = maps.Clone(d.Position)
	if d.State != nil {
		out.State = append([]byte(nil), d.State...)
	}
	if d.LockedUntil != nil {
		t := *d.LockedUntil
		out.LockedUntil = &t
	}
	return out
}

// Predicate guards a ConditionalUpdate.
type Predicate struct {
	// LockFreeAt matches descriptors whose lease is unset or expired
	// before this instant.
	LockFreeAt time.Time
}

// Holds reports whether d satisfies the predicate.
func (p Predicate) Holds(d Descriptor) bool {
	return d.LockedUntil == nil || d.LockedUntil.Before(p.LockFreeAt)
}

// Patch is a partial descriptor update. Zero fields keep the stored value.
type Patch struct {
	Status      Status
	Position    map[string]int64
	State       []byte
	LockedUntil *time.Time
	// ClearLock sets LockedUntil to null and wins over LockedUntil.
	ClearLock bool
}

// Apply writes the set fields of p onto d.
func (p Patch) Apply(d *Descriptor) {
	if p.Status != "" {
		d.Status = p.Status
	}
	if p.Position != nil {
		d.Position = maps.Clone(p.Position)
	}
	if p.State != nil {
		d.State = append([]byte(nil), p.State...)
	}
	switch {
	case p.ClearLock:
		d.LockedUntil = nil
	case p.LockedUntil != nil:
		t := *p.LockedUntil
		d.LockedUntil = &t
	}
}

// LockExpiry returns the lease expiry carried by a checkpoint write made at
// now with the given timeout.
func LockExpiry(now time.Time, timeout time.Duration) *time.Time {
	t := now.Add(timeout).UTC()
	return &t
}

// Store is the checkpoint store contract. Every mutation replaces the
// addressed fields of one descriptor atomically.
type Store interface {
	// Get returns prowl.ErrProjectionNotFound for an unknown name.
	Get(ctx context.Context, name string) (*Descriptor, error)

	// CreateIfAbsent inserts d unless a descriptor with the same name exists.
	CreateIfAbsent(ctx context.Context, d Descriptor) (bool, error)

	// ConditionalUpdate applies patch only when pred holds and reports the
	// number of descriptors written (0 or 1).
	ConditionalUpdate(ctx context.Context, name string, pred Predicate, patch Patch) (int64, error)

	// Update applies patch unconditionally. Returns
	// prowl.ErrProjectionNotFound for an unknown name.
	Update(ctx context.Context, name string, patch Patch) error

	// Delete removes the descriptor. Deleting an unknown name is not an error.
	Delete(ctx context.Context, name string) error

	// Names returns descriptor names starting with prefix, sorted.
	Names(ctx context.Context, prefix string) ([]string, error)
}
