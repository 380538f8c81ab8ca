// Package kv provides the small typed key-value persistence used for device
// identity. Backends: in-memory (tests), SQLite (default on device) and Redis.
package kv

import (
	"context"
)

// Batch groups sets and deletes that must be persisted together
type Batch struct {
	Set    map[string][]byte
	Delete []string
}

// Empty reports whether the batch changes nothing
func (b Batch) Empty() bool {
	return len(b.Set) == 0 && len(b.Delete) == 0
}

// Store is a narrow read/write interface over persisted bytes.
// Get returns errors.ErrNotFound for absent keys.
type Store interface {
	// Get returns the value stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes keys; absent keys are ignored
	Delete(ctx context.Context, keys ...string) error

	// Write applies a batch as one unit: either every change lands or none
	Write(ctx context.Context, b Batch) error

	// Close releases backend resources
	Close() error
}
