// Package kv is the durable key-value capability the snapshot store persists through.
// Backends: one-file-per-key on disk, embedded SQLite, Redis, and process memory.
package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/marketpulse/internal/logger"
)

// ErrNotFound is returned by Get when the key has never been set or was deleted
var ErrNotFound = errors.New("key not found")

// Store is a fallible key-value store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a backend
type Options struct {
	Backend     string // file, sqlite, redis, memory
	Dir         string
	SQLitePath  string
	RedisURL    string
	RedisPrefix string
}

// Open builds the configured backend. An unreachable Redis degrades to memory
// so the service keeps running for the current session.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.Dir)
	case "sqlite":
		return NewSQLiteStore(opts.SQLitePath)
	case "redis":
		store, err := NewRedisStore(ctx, opts.RedisURL, opts.RedisPrefix)
		if err != nil {
			logger.Warn("Redis unavailable, falling back to in-memory store: %v", err)
			return NewMemoryStore(), nil
		}
		return store, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Backend)
	}
}
