// Package kv defines the durable key-value boundary the cache subsystem
// persists through. Values are opaque JSON blobs; writes are atomic per key.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

// Store is the durable key-value store. All keys used by this subsystem are
// declared in keys.go and are exclusively owned by it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
