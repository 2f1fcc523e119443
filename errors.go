package prowl

import "errors"

var (
	// ErrStreamNotFound is returned when reading, appending to or deleting a
	// stream that does not exist in the event log.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamExists is returned when creating a stream that already exists.
	ErrStreamExists = errors.New("stream already exists")

	// ErrProjectionNotFound is returned when a projection descriptor is
	// missing from the checkpoint store.
	ErrProjectionNotFound = errors.New("projection not found")

	// ErrProjectionAlreadyRunning is returned when the projection lease is
	// held by another runner.
	ErrProjectionAlreadyRunning = errors.New("projection already running")

	// ErrConfiguration is returned when a projection is run without a query
	// or handlers, or when either is set twice.
	ErrConfiguration = errors.New("projection misconfigured")

	// ErrConcurrencyConflict is returned when a concurrent write was detected
	// and the operation could not be applied.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
