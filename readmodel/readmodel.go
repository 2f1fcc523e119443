// Package readmodel defines the sink a read-model projector writes to.
// Handlers stack operations while processing events; the runtime persists
// them at every checkpoint, before the checkpoint itself is written.
package readmodel

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownOperation is returned by Persist for an operation name the read
// model does not implement.
var ErrUnknownOperation = errors.New("unknown read model operation")

// ReadModel is the contract the runtime drives.
type ReadModel interface {
	Init(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
	Delete(ctx context.Context) error

	// Stack buffers an operation until the next Persist.
	Stack(op string, args ...any)

	// Persist applies buffered operations in submission order and empties
	// the buffer.
	Persist(ctx context.Context) error

	// Discard empties the buffer without applying it.
	Discard()
}

// Operation is one buffered read-model write.
type Operation struct {
	Name string
	Args []any
}

// Stack is an ordered, concurrency-safe operation buffer shared by the
// read model implementations.
type Stack struct {
	mu  sync.Mutex
	ops []Operation
}

func (s *Stack) Push(op string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Operation{Name: op, Args: args})
}

// Drain returns the buffered operations and empties the buffer.
func (s *Stack) Drain() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.ops
	s.ops = nil
	return ops
}

// Discard empties the buffer.
func (s *Stack) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}
