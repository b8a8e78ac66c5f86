package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// ErrClosed is returned by every operation on a store after Close.
var ErrClosed = errors.New("store is closed")

// Update is sent to listeners whenever a key is written or deleted. A nil
// Value means the key was deleted.
type Update struct {
	Key   []byte
	Value []byte
}

type Store interface {
	Set(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Delete removes keys and returns how many of them existed.
	Delete(ctx context.Context, keys ...[]byte) (int, error)

	// Exists counts how many of keys have a value. A key named twice is
	// counted twice.
	Exists(ctx context.Context, keys ...[]byte) (int, error)

	Len(ctx context.Context) (int, error)

	Restore(snapshot []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
