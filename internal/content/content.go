// Package content provides content-addressed blob storage: a durable
// backend fronted by a bounded in-memory cache with LRU eviction and TTL
// expiry. Blobs are keyed by the hash of their bytes, so identical content
// stores once and cache entries never go stale.
package content

import (
	"context"
	"errors"

	"github.com/eventweave/eventweave/internal/encoding"
)

// ErrNotFound is returned when a content id exists in neither the cache nor
// the backend.
var ErrNotFound = errors.New("content not found")

// ID returns the content id for a blob: the same truncated digest used for
// event content ids.
func ID(data []byte) string {
	return encoding.ContentHashBytes(data)
}

// BlobStore is the durable backend under the cache.
type BlobStore interface {
	// Put stores a blob under its content id. Overwriting an existing id
	// with identical bytes is harmless.
	Put(ctx context.Context, id string, data []byte) error
	// Get returns a blob's bytes, or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
	// Exists reports whether a blob is stored.
	Exists(ctx context.Context, id string) (bool, error)
	// Delete removes a blob. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
