package eventlog

import (
	"context"
	"strings"
	"time"
)

// Event is a single event in a stream. Number is the 1-based sequence
// number within the stream.
type Event struct {
	ID        string
	StreamID  string
	Number    int64
	Type      string
	Data      []byte
	Metadata  map[string]any
	CreatedAt time.Time
}

// StreamFilter narrows ListStreams. An empty filter lists every
// non-internal stream.
type StreamFilter struct {
	Categories []string
}

// Log is the event log contract the projection runtime depends on.
type Log interface {
	// Load returns events of streamID with Number >= fromNumber in ascending
	// order, at most limit events (0 means no limit), filtered by matcher
	// when it is non-nil. Returns prowl.ErrStreamNotFound for a missing stream.
	Load(ctx context.Context, streamID string, fromNumber int64, limit int, matcher *MetadataMatcher) ([]Event, error)

	// Append adds events to an existing stream.
	Append(ctx context.Context, streamID string, evts []Event) error

	// Create creates a stream with its first events. Returns
	// prowl.ErrStreamExists when the stream is already present.
	Create(ctx context.Context, streamID string, evts []Event) error

	Delete(ctx context.Context, streamID string) error
	HasStream(ctx context.Context, streamID string) (bool, error)

	// ListStreams returns stream names sorted ascending.
	ListStreams(ctx context.Context, filter StreamFilter) ([]string, error)

	// ListCategories returns the distinct stream categories, sorted.
	ListCategories(ctx context.Context) ([]string, error)
}

// CategorySeparator splits a stream name into category and identity.
const CategorySeparator = "-"

// Category returns the category of a stream, or "" when the name has no
// separator.
func Category(streamID string) string {
	i := strings.Index(streamID, CategorySeparator)
	if i <= 0 {
		return ""
	}
	return streamID[:i]
}

// IsInternal reports whether the stream is internal to the log.
func IsInternal(streamID string) bool {
	return strings.HasPrefix(streamID, "$")
}
