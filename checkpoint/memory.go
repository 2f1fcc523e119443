package checkpoint

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ripkitten-co/prowl"
)

// Memory is an in-process Store.
type Memory struct {
	mu   sync.Mutex
	docs map[string]Descriptor
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Descriptor)}
}

func (m *Memory) Get(ctx context.Context, name string) (*Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[name]
	if !ok {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, prowl.ErrProjectionNotFound)
	}
	out := d.Clone()
	return &out, nil
}

func (m *Memory) CreateIfAbsent(ctx context.Context, d Descriptor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[d.Name]; ok {
		return false, nil
	}
	d = d.Clone()
	if d.Status == "" {
		d.Status = StatusIdle
	}
	if d.Position == nil {
		d.Position = map[string]int64{}
	}
	m.docs[d.Name] = d
	return true, nil
}

func (m *Memory) ConditionalUpdate(ctx context.Context, name string, pred Predicate, patch Patch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[name]
	if !ok || !pred.Holds(d) {
		return 0, nil
	}
	patch.Apply(&d)
	m.docs[name] = d
	return 1, nil
}

func (m *Memory) Update(ctx context.Context, name string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[name]
	if !ok {
		return fmt.Errorf("checkpoint %s: update: %w", name, prowl.ErrProjectionNotFound)
	}
	patch.Apply(&d)
	m.docs[name] = d
	return nil
}

func (m *Memory) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, name)
	return nil
}

func (m *Memory) Names(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for name := range m.docs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out, nil
}

var _ Store = (*Memory)(nil)
