// Package cache provides the content-addressed build cache directory
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a content-addressed store rooted at a single directory.
// Creation is idempotent; no cross-process locking beyond that is
// guaranteed.
type Cache struct {
	dir string
}

// New creates a cache handle for the given directory
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory path
func (c *Cache) Dir() string {
	return c.dir
}

// Ensure creates the cache directory. Safe to call repeatedly.
func (c *Cache) Ensure() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", c.dir, err)
	}
	return nil
}

// Has reports whether an entry exists for key
func (c *Cache) Has(key string) bool {
	_, err := os.Stat(c.entryPath(key))
	return err == nil
}

// Get reads the entry stored under key
func (c *Cache) Get(key string) ([]byte, error) {
	return os.ReadFile(c.entryPath(key))
}

// Put stores data under key. The write is atomic: a temp file is
// renamed into place so concurrent readers never see partial content.
func (c *Cache) Put(key string, data []byte) error {
	path := c.entryPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key)
}

// HashBytes returns the hex sha-256 of data
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashStrings returns the hex sha-256 over the concatenation of parts,
// each length-prefixed so boundaries cannot collide
func HashStrings(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
