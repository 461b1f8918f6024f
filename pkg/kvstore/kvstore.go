// Package kvstore provides string key-value stores used to persist the
// ignore-pattern set: in memory, as a JSON file, or in SQLite.
package kvstore

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Open creates the store named by backend. path is the file or database
// location and is ignored by the memory backend.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		if path == "" {
			return nil, fmt.Errorf("kvstore: %s backend requires a path", BackendFile)
		}
		return OpenFile(path)
	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("kvstore: %s backend requires a path", BackendSQLite)
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", backend)
	}
}
