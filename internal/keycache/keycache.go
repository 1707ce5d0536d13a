// Package keycache persists the set of canonical keys that satisfied the
// filters during the last full refresh. Incremental refreshes revisit only
// these keys; any filter-parameter change empties the set so the next cycle
// is forced to run full.
package keycache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"skindiff/internal/domain"
)

// fileState is the on-disk shape of the cache.
type fileState struct {
	Keys        []string   `json:"keys"`
	LastBuiltAt *time.Time `json:"last_built_at"`
}

// Cache owns the interesting-key set and its backing file. All operations
// are serialized by a single lock so invalidation and rebuild cannot
// interleave.
type Cache struct {
	mu          sync.Mutex
	path        string
	keys        map[string]struct{}
	lastBuiltAt *time.Time
	logger      *slog.Logger
}

// Open loads the cache from path. A missing file is an empty cache.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	c := &Cache{
		path:   path,
		keys:   make(map[string]struct{}),
		logger: logger.With(slog.String("component", "keycache")),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var state fileState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("keycache: decode %s: %w", path, err)
		}
		for _, k := range state.Keys {
			c.keys[k] = struct{}{}
		}
		c.lastBuiltAt = state.LastBuiltAt
	case os.IsNotExist(err):
		// fresh boot
	default:
		return nil, fmt.Errorf("keycache: read %s: %w", path, err)
	}

	return c, nil
}

// Keys returns a snapshot of the cached key set.
func (c *Cache) Keys() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]struct{}, len(c.keys))
	for k := range c.keys {
		out[k] = struct{}{}
	}
	return out
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// LastBuiltAt returns when the set was last rebuilt, or nil if never.
func (c *Cache) LastBuiltAt() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBuiltAt
}

// Replace overwrites the set with keys, stamps it, and persists atomically.
// The in-memory set is untouched when persistence fails.
func (c *Cache) Replace(keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	next := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		next[k] = struct{}{}
	}

	if err := c.persist(fileState{Keys: keys, LastBuiltAt: &now}); err != nil {
		return err
	}

	c.keys = next
	c.lastBuiltAt = &now
	c.logger.Info("interesting keys rebuilt", slog.Int("count", len(next)))
	return nil
}

// Clear empties the set and deletes the backing file. Called whenever a
// filter parameter changes: the cached keys no longer reflect the filters,
// so the next refresh must be full.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.keys = make(map[string]struct{})
	c.lastBuiltAt = nil

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("could not delete key cache file",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)
	}
	c.logger.Info("interesting keys invalidated")
}

// persist writes state via temp-file + rename.
func (c *Cache) persist(state fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode key cache: %v", domain.ErrPersist, err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrPersist, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".keys-*.json")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", domain.ErrPersist, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write key cache: %v", domain.ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close key cache: %v", domain.ErrPersist, err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename key cache: %v", domain.ErrPersist, err)
	}
	return nil
}
