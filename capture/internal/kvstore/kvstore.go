// Package kvstore is the persistence bridge between the coordinator and
// the result surface: a byte-quota'd key-value store with memory, SQLite
// and Redis backends, and the handoff layout on top of it.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is returned by Put when the write would take the
	// store past its quota. Nothing is written.
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

	// ErrNotFound is returned when a handoff does not exist.
	ErrNotFound = errors.New("kvstore: not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("kvstore: closed")
)

// Store is a flat byte-value store.
type Store interface {
	// Put writes value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Get returns the values of the keys that exist. Missing keys are
	// absent from the map, not an error.
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Stats reports usage against the quota.
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats is a usage snapshot.
type Stats struct {
	Keys       int   `json:"keys"`
	BytesInUse int64 `json:"bytesInUse"`
	QuotaBytes int64 `json:"quotaBytes"` // 0 = unlimited
}

// checkQuota reports ErrQuotaExceeded when replacing a value of oldLen
// bytes with one of newLen would exceed quota.
func checkQuota(quota, inUse int64, oldLen, newLen int, key string) error {
	if quota <= 0 {
		return nil
	}
	after := inUse - int64(oldLen) + int64(newLen)
	if after > quota {
		return fmt.Errorf("%w: %s needs %d bytes, %d of %d in use", ErrQuotaExceeded, key, newLen, inUse, quota)
	}
	return nil
}
