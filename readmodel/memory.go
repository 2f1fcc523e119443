package readmodel

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// Memory is a map-of-documents read model. Supported operations:
//
//	insert(id string, doc T)  fails when id exists
//	update(id string, doc T)  fails when id is missing
//	upsert(id string, doc T)
//	delete(id string)
type Memory[T any] struct {
	ops Stack

	mu          sync.RWMutex
	docs        map[string]T
	initialized bool
}

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{docs: make(map[string]T)}
}

func (m *Memory[T]) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

func (m *Memory[T]) IsInitialized(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized, nil
}

func (m *Memory[T]) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]T)
	return nil
}

func (m *Memory[T]) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]T)
	m.initialized = false
	return nil
}

func (m *Memory[T]) Stack(op string, args ...any) {
	m.ops.Push(op, args...)
}

func (m *Memory[T]) Discard() { m.ops.Discard() }

// Persist applies the buffered operations. The first failing operation
// stops the flush; the remaining operations are discarded with it.
func (m *Memory[T]) Persist(ctx context.Context) error {
	ops := m.ops.Drain()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		if err := m.apply(op); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory[T]) apply(op Operation) error {
	id, err := Arg[string](op, 0)
	if err != nil {
		return err
	}

	switch op.Name {
	case "delete":
		delete(m.docs, id)
		return nil
	case "insert", "update", "upsert":
	default:
		return fmt.Errorf("readmodel: %q: %w", op.Name, ErrUnknownOperation)
	}

	doc, err := Arg[T](op, 1)
	if err != nil {
		return err
	}
	_, exists := m.docs[id]
	switch {
	case op.Name == "insert" && exists:
		return fmt.Errorf("readmodel: insert %s: document exists", id)
	case op.Name == "update" && !exists:
		return fmt.Errorf("readmodel: update %s: document not found", id)
	}
	m.docs[id] = doc
	return nil
}

// Get returns the persisted document for id.
func (m *Memory[T]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok
}

// All returns a copy of every persisted document.
func (m *Memory[T]) All() map[string]T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.docs)
}

// Pending reports the number of stacked, unpersisted operations.
func (m *Memory[T]) Pending() int { return m.ops.Len() }

var _ ReadModel = (*Memory[int])(nil)
