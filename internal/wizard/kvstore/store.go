// Package kvstore persists wizard state as JSON values addressed by a
// namespace and a key.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no value
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a namespaced key-value store
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// Batcher is implemented by stores that can apply several writes atomically.
// Writes made with the context passed to fn belong to the batch.
type Batcher interface {
	Batch(ctx context.Context, fn func(ctx context.Context) error) error
}
