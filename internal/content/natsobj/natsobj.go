// Package natsobj backs the content service with a NATS JetStream object
// store bucket.
package natsobj

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/eventweave/eventweave/internal/content"
)

const defaultBucket = "content"

// Store is an object-store-backed BlobStore.
type Store struct {
	bucket jetstream.ObjectStore
}

// New creates or attaches the bucket on the given connection. An empty
// bucket name uses the default.
func New(ctx context.Context, nc *nats.Conn, bucket string) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if bucket == "" {
		bucket = defaultBucket
	}
	obj, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:  bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", bucket, err)
	}
	return &Store{bucket: obj}, nil
}

func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	if _, err := s.bucket.PutBytes(ctx, id, data); err != nil {
		return fmt.Errorf("put object %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("object %s: %w", id, content.ErrNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.bucket.GetInfo(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", id, err)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.bucket.Delete(ctx, id)
	if err == nil || errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil
	}
	return fmt.Errorf("delete object %s: %w", id, err)
}
