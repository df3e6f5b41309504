// Package storage defines the local key-value store the meter client keeps
// its cache and outbox in. It is the Go analogue of the browser storage the
// original front-end used: small JSON blobs, whole-value overwrites, shared
// only within one client profile.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// KV is a minimal persistent key-value store. Values are opaque blobs;
// merging happens in application code before the write, never in the store.
type KV interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
