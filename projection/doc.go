// Package projection folds events from an eventlog.Log into state.
//
// Three modes share one runtime. A Query makes a single in-memory pass. A
// Projector persists its positions and state to a checkpoint.Store, holds a
// lease so only one runner advances a projection at a time, and may emit
// events. A ReadModelProjector does the same while stacking writes into a
// readmodel.ReadModel that is flushed before every checkpoint.
//
// Runners coordinate through the descriptor's status field: any process
// may request stopping, resetting or deleting through a Manager, and the
// lease holder acts on the request at its next poll.
package projection
