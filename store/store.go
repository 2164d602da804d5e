// Package store defines the key-value persistence interface for the one
// durable value this module owns: the device identity. All entitlement
// data is derived and recomputable, never persisted here.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no persisted value.
var ErrNotFound = errors.New("store: key not found")

// KV is a minimal durable string store.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Put durably stores value under key, overwriting any prior value.
	Put(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases underlying resources.
	Close() error
}
