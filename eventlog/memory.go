package eventlog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ripkitten-co/prowl"
)

type memStream struct {
	events []Event
}

// Memory is an in-process Log. It is safe for concurrent use and wakes
// idle projections through Wait when events are written.
type Memory struct {
	mu      sync.RWMutex
	streams map[string]*memStream
	written chan struct{}
	now     func() time.Time
}

// NewMemory returns an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string]*memStream),
		written: make(chan struct{}),
		now:     time.Now,
	}
}

// SetClock replaces the clock used to stamp events without CreatedAt.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Load(ctx context.Context, streamID string, fromNumber int64, limit int, matcher *MetadataMatcher) ([]Event, error) {
	if err := matcher.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: load %s: %w", streamID, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.streams[streamID]
	if !ok {
		return nil, fmt.Errorf("eventlog: load %s: %w", streamID, prowl.ErrStreamNotFound)
	}

	var out []Event
	for _, evt := range s.events {
		if evt.Number < fromNumber || !matcher.Matches(evt) {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Append(ctx context.Context, streamID string, evts []Event) error {
	if len(evts) == 0 {
		return fmt.Errorf("eventlog: append %s: at least one event required", streamID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[streamID]
	if !ok {
		return fmt.Errorf("eventlog: append %s: %w", streamID, prowl.ErrStreamNotFound)
	}
	m.write(s, streamID, evts)
	return nil
}

func (m *Memory) Create(ctx context.Context, streamID string, evts []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[streamID]; ok {
		return fmt.Errorf("eventlog: create %s: %w", streamID, prowl.ErrStreamExists)
	}
	s := &memStream{}
	m.streams[streamID] = s
	m.write(s, streamID, evts)
	return nil
}

// write must be called with the lock held.
func (m *Memory) write(s *memStream, streamID string, evts []Event) {
	next := int64(len(s.events)) + 1
	for _, evt := range evts {
		evt.StreamID = streamID
		evt.Number = next
		next++
		if evt.ID == "" {
			evt.ID = uuid.NewString()
		}
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = m.now().UTC()
		}
		if evt.Data == nil {
			evt.Data = []byte(`{}`)
		}
		s.events = append(s.events, evt)
	}

	close(m.written)
	m.written = make(chan struct{})
}

func (m *Memory) Delete(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[streamID]; !ok {
		return fmt.Errorf("eventlog: delete %s: %w", streamID, prowl.ErrStreamNotFound)
	}
	delete(m.streams, streamID)
	return nil
}

func (m *Memory) HasStream(ctx context.Context, streamID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.streams[streamID]
	return ok, nil
}

func (m *Memory) ListStreams(ctx context.Context, filter StreamFilter) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for name := range m.streams {
		if len(filter.Categories) > 0 {
			if !slices.Contains(filter.Categories, Category(name)) {
				continue
			}
		} else if IsInternal(name) {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) ListCategories(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for name := range m.streams {
		c := Category(name)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	slices.Sort(out)
	return out, nil
}

// Wait blocks until events are written, the timeout elapses or ctx is done.
func (m *Memory) Wait(ctx context.Context, timeout time.Duration) error {
	m.mu.RLock()
	written := m.written
	m.mu.RUnlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-written:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Log = (*Memory)(nil)
