// Package cache keeps archives fetched from object storage on local disk so
// that repeated inspect, scan and restore runs skip the download.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const fileSuffix = ".strata"

// Stats holds cache counters.
type Stats struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
}

// DiskCache is a size-bounded directory of archives keyed by reference.
// Entries are evicted least recently used first. Access times are kept in
// file modification times so recency survives across processes.
type DiskCache struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
	stats    Stats

	mu      sync.Mutex
	entries map[string]*entry // file name → entry
	size    int64
}

type entry struct {
	path       string
	size       int64
	lastAccess time.Time
	pins       int
}

// New opens the cache in dir, creating it if needed, and indexes the archives
// already there.
func New(dir string, maxBytes int64, logger *zap.Logger) (*DiskCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache: maxBytes must be positive, got %d", maxBytes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: failed to create dir: %w", err)
	}

	c := &DiskCache{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger,
		entries:  make(map[string]*entry),
	}
	if err := c.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("cache: failed to scan dir: %w", err)
	}
	return c, nil
}

func (c *DiskCache) scanExistingFiles() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), fileSuffix) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		c.entries[f.Name()] = &entry{
			path:       filepath.Join(c.dir, f.Name()),
			size:       info.Size(),
			lastAccess: info.ModTime(),
		}
		c.size += info.Size()
	}
	return nil
}

// Get returns the local path of the archive cached for ref.
func (c *DiskCache) Get(ref string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fileName(ref)]
	if !ok {
		c.stats.Misses.Add(1)
		return "", false
	}
	c.stats.Hits.Add(1)
	e.lastAccess = time.Now()
	_ = os.Chtimes(e.path, e.lastAccess, e.lastAccess)
	return e.path, true
}

// Put moves the file at sourcePath into the cache under ref and returns its
// new path. Other entries are evicted if the cache grows past its bound.
func (c *DiskCache) Put(ref, sourcePath string) (string, error) {
	name := fileName(ref)
	dest := filepath.Join(c.dir, name)

	if err := moveFile(sourcePath, dest); err != nil {
		return "", fmt.Errorf("cache: failed to store %s: %w", ref, err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return "", fmt.Errorf("cache: failed to stat %s: %w", dest, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[name]; ok {
		c.size -= old.size
	}
	c.entries[name] = &entry{path: dest, size: info.Size(), lastAccess: time.Now()}
	c.size += info.Size()
	c.evictLocked(name)
	return dest, nil
}

// evictLocked removes unpinned entries, oldest first, until the cache is
// back under 90% of its bound. keep is never evicted.
func (c *DiskCache) evictLocked(keep string) {
	if c.size <= c.maxBytes {
		return
	}
	target := int64(float64(c.maxBytes) * 0.9)

	names := make([]string, 0, len(c.entries))
	for name, e := range c.entries {
		if name != keep && e.pins == 0 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return c.entries[names[i]].lastAccess.Before(c.entries[names[j]].lastAccess)
	})

	for _, name := range names {
		if c.size <= target {
			return
		}
		e := c.entries[name]
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("cache: eviction failed", zap.String("path", e.path), zap.Error(err))
			continue
		}
		delete(c.entries, name)
		c.size -= e.size
		c.stats.Evictions.Add(1)
		c.logger.Debug("cache: evicted archive", zap.String("path", e.path), zap.Int64("bytes", e.size))
	}
}

// Pin protects the entry for ref from eviction until a matching Unpin.
func (c *DiskCache) Pin(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fileName(ref)]; ok {
		e.pins++
	}
}

// Unpin releases one Pin.
func (c *DiskCache) Unpin(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fileName(ref)]; ok && e.pins > 0 {
		e.pins--
	}
}

// Remove deletes the entry for ref.
func (c *DiskCache) Remove(ref string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := fileName(ref)
	e, ok := c.entries[name]
	if !ok {
		return false
	}
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return false
	}
	delete(c.entries, name)
	c.size -= e.size
	return true
}

// Size returns the bytes held by the cache.
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Count returns the number of cached archives.
func (c *DiskCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit, miss and eviction counters.
func (c *DiskCache) Stats() (hits, misses, evictions int64) {
	return c.stats.Hits.Load(), c.stats.Misses.Load(), c.stats.Evictions.Load()
}

// Dir returns the cache directory. Downloads staged in a subdirectory of it
// are moved into the cache by rename.
func (c *DiskCache) Dir() string {
	return c.dir
}

func fileName(ref string) string {
	return fmt.Sprintf("%016x%s", xxhash.Sum64String(ref), fileSuffix)
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "put-*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	os.Remove(src)
	return nil
}
