package projection

import (
	"maps"
	"slices"
)

// PositionMap records the last consumed event number per stream. Streams
// keep the order in which they were first registered; that order breaks
// ties in the merged reader.
type PositionMap struct {
	order []string
	pos   map[string]int64
}

func NewPositionMap() *PositionMap {
	return &PositionMap{pos: make(map[string]int64)}
}

// Merge registers unknown streams at position 0. Known streams keep their
// position.
func (m *PositionMap) Merge(streams []string) {
	for _, s := range streams {
		if _, ok := m.pos[s]; ok {
			continue
		}
		m.order = append(m.order, s)
		m.pos[s] = 0
	}
}

// Set records number as the last consumed event of stream, registering the
// stream if needed.
func (m *PositionMap) Set(stream string, number int64) {
	if _, ok := m.pos[stream]; !ok {
		m.order = append(m.order, stream)
	}
	m.pos[stream] = number
}

func (m *PositionMap) Get(stream string) int64 { return m.pos[stream] }

// Streams returns the registered streams in registration order.
func (m *PositionMap) Streams() []string { return slices.Clone(m.order) }

func (m *PositionMap) Len() int { return len(m.order) }

// Snapshot returns a copy suitable for persisting.
func (m *PositionMap) Snapshot() map[string]int64 { return maps.Clone(m.pos) }

// Restore overwrites positions with persisted values. Persisted streams not
// yet registered are appended in name order so restores are deterministic.
func (m *PositionMap) Restore(persisted map[string]int64) {
	var unknown []string
	for s, n := range persisted {
		if _, ok := m.pos[s]; !ok {
			unknown = append(unknown, s)
			continue
		}
		m.pos[s] = n
	}
	slices.Sort(unknown)
	for _, s := range unknown {
		m.order = append(m.order, s)
		m.pos[s] = persisted[s]
	}
}

// Reset forgets every stream.
func (m *PositionMap) Reset() {
	m.order = nil
	m.pos = make(map[string]int64)
}
