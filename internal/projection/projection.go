// Package projection folds chained events into read models and runs them
// against the durable log.
package projection

import "github.com/eventweave/eventweave/internal/chain"

// Projection is a read model folded from the event log.
//
// Apply must be idempotent: the log delivers at-least-once, so the same
// event may arrive more than once, both live and during replay.
type Projection interface {
	// Name identifies the projection in logs and checkpoints.
	Name() string
	// Apply folds one event into the model.
	Apply(evt chain.ChainedEvent) error
	// Reset clears the model before a replay.
	Reset()
}
