package projection

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/prowl/checkpoint"
)

// Manager inspects and signals projections from any process. Requests are
// written to the descriptor status and acted on by the lease holder.
type Manager struct {
	store checkpoint.Store
}

func NewManager(store checkpoint.Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) StopProjection(ctx context.Context, name string) error {
	return m.request(ctx, name, checkpoint.StatusStopping)
}

func (m *Manager) ResetProjection(ctx context.Context, name string) error {
	return m.request(ctx, name, checkpoint.StatusResetting)
}

// DeleteProjection requests deletion of the descriptor and, with
// includeEmitted, of the emitted stream or read model.
func (m *Manager) DeleteProjection(ctx context.Context, name string, includeEmitted bool) error {
	status := checkpoint.StatusDeleting
	if includeEmitted {
		status = checkpoint.StatusDeletingInclEmittedEvents
	}
	return m.request(ctx, name, status)
}

func (m *Manager) request(ctx context.Context, name string, status checkpoint.Status) error {
	if err := m.store.Update(ctx, name, checkpoint.Patch{Status: status}); err != nil {
		return fmt.Errorf("manager: %s %s: %w", status, name, err)
	}
	return nil
}

func (m *Manager) FetchStatus(ctx context.Context, name string) (checkpoint.Status, error) {
	d, err := m.get(ctx, name)
	if err != nil {
		return "", err
	}
	return d.Status, nil
}

// FetchState returns the serialized state.
func (m *Manager) FetchState(ctx context.Context, name string) ([]byte, error) {
	d, err := m.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return d.State, nil
}

func (m *Manager) FetchPositions(ctx context.Context, name string) (map[string]int64, error) {
	d, err := m.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return d.Position, nil
}

// FetchNames lists projection names starting with prefix.
func (m *Manager) FetchNames(ctx context.Context, prefix string) ([]string, error) {
	names, err := m.store.Names(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("manager: names: %w", err)
	}
	return names, nil
}

// Describe returns the full descriptor.
func (m *Manager) Describe(ctx context.Context, name string) (*checkpoint.Descriptor, error) {
	return m.get(ctx, name)
}

func (m *Manager) get(ctx context.Context, name string) (*checkpoint.Descriptor, error) {
	d, err := m.store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	return d, nil
}
