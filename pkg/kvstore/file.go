package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store kept as a JSON object on disk. Every Set rewrites the file
// atomically.
type File struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// OpenFile loads the store at path, creating its directory if needed. A
// missing file is an empty store.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("kvstore: create directory: %w", err)
	}

	f := &File{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("kvstore: read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.values); err != nil {
			return nil, fmt.Errorf("kvstore: parse %s: %w", path, err)
		}
	}
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Get returns the value stored under key.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok, nil
}

// Set stores value under key and saves the file. The in-memory value is
// only updated once the file is written.
func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]string, len(f.values)+1)
	for k, v := range f.values {
		next[k] = v
	}
	next[key] = value
	if err := f.save(next); err != nil {
		return err
	}
	f.values = next
	return nil
}

// save writes values to a temp file and renames it over the store.
func (f *File) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := f.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("kvstore: write %s: %w", tmpFile, err)
	}
	if err := os.Rename(tmpFile, f.path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("kvstore: rename %s: %w", tmpFile, err)
	}
	return nil
}

// Close is a no-op; every Set is already durable.
func (f *File) Close() error { return nil }
