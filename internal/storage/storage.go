// Package storage defines the local persistence interfaces: checkpoint
// records that let a restarted projector skip ahead instead of replaying
// the whole log. The log backend's consumer cursor stays authoritative;
// checkpoints here are advisory.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Checkpoint records the last log sequence a consumer fully processed.
type Checkpoint struct {
	ConsumerName string
	LastSequence uint64
	UpdatedAt    time.Time
}

// CheckpointStore persists consumer checkpoints.
type CheckpointStore interface {
	// Save upserts a consumer's checkpoint.
	Save(ctx context.Context, cp Checkpoint) error
	// Get returns a consumer's checkpoint, or an error wrapping ErrNotFound.
	Get(ctx context.Context, consumerName string) (Checkpoint, error)
	// List returns every checkpoint ordered by consumer name.
	List(ctx context.Context) ([]Checkpoint, error)
	// Delete removes a consumer's checkpoint. Absent names are not an error.
	Delete(ctx context.Context, consumerName string) error
}
