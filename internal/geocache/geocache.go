// Package geocache caches egress geolocation lookups between runs. Only
// geo metadata is cached, never benchmark results; the external lookup
// service rate limit makes re-resolving hundreds of nodes expensive.
package geocache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/airport-bench/internal/types"
)

// Store is a key-value cache of geolocation results. Keys are node
// server addresses.
type Store interface {
	Get(ctx context.Context, key string) (*types.GeoInfo, bool)
	Put(ctx context.Context, key string, info *types.GeoInfo) error
	Close() error
}

// Open builds a store from a backend spec: "file:PATH", "sqlite:PATH" or
// "redis:ADDR".
func Open(spec string) (Store, error) {
	backend, arg, ok := strings.Cut(spec, ":")
	if !ok || arg == "" {
		return nil, fmt.Errorf("geo cache spec must be backend:location, got %q", spec)
	}
	switch backend {
	case "file":
		return NewFileStore(arg)
	case "sqlite":
		return NewSQLiteStore(arg)
	case "redis":
		return NewRedisStore(arg)
	default:
		return nil, fmt.Errorf("unknown geo cache backend: %s", backend)
	}
}

// FileStore keeps the cache as one JSON file, loaded eagerly and written
// atomically on Close.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	entries map[string]*types.GeoInfo
	dirty   bool
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	s := &FileStore{path: path, entries: make(map[string]*types.GeoInfo)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("unmarshal cache: %w", err)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (*types.GeoInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.entries[key]
	return info, ok
}

func (s *FileStore) Put(_ context.Context, key string, info *types.GeoInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = info
	s.dirty = true
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	s.dirty = false
	return nil
}
