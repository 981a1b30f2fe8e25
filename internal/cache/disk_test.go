package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSource(t *testing.T, size int, fill byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.strata")
	if err := os.WriteFile(path, bytes.Repeat([]byte{fill}, size), 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	return path
}

func TestDiskCache_PutGet(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := c.Get("s3://bucket/a.strata"); ok {
		t.Fatal("expected miss on empty cache")
	}

	src := writeSource(t, 12, 'a')
	path, err := c.Put("s3://bucket/a.strata", src)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("source should have been moved, stat err = %v", err)
	}

	got, ok := c.Get("s3://bucket/a.strata")
	if !ok || got != path {
		t.Fatalf("Get = %q, %v; want %q, true", got, ok, path)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(data) != "aaaaaaaaaaaa" {
		t.Errorf("cached content = %q", data)
	}

	hits, misses, _ := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1 and 1", hits, misses)
	}
	if c.Size() != 12 || c.Count() != 1 {
		t.Errorf("size=%d count=%d", c.Size(), c.Count())
	}
}

func TestDiskCache_ReplaceKeepsSizeAccurate(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Put("storage:x", writeSource(t, 30, 1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Put("storage:x", writeSource(t, 10, 2)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if c.Size() != 10 || c.Count() != 1 {
		t.Errorf("size=%d count=%d, want 10 and 1", c.Size(), c.Count())
	}
}

func TestDiskCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(t.TempDir(), 100, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, ref := range []string{"a", "b", "c"} {
		if _, err := c.Put(ref, writeSource(t, 30, ref[0])); err != nil {
			t.Fatalf("Put(%s): %v", ref, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	// a becomes the most recently used
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be cached")
	}

	if _, err := c.Put("d", writeSource(t, 30, 'd')); err != nil {
		t.Fatalf("Put(d): %v", err)
	}

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, ref := range []string{"a", "c", "d"} {
		if _, ok := c.Get(ref); !ok {
			t.Errorf("%s should still be cached", ref)
		}
	}
	if c.Size() > 90 {
		t.Errorf("size %d above eviction target", c.Size())
	}
	if _, _, evictions := c.Stats(); evictions != 1 {
		t.Errorf("evictions = %d, want 1", evictions)
	}
}

func TestDiskCache_PinnedEntriesSurvive(t *testing.T) {
	c, err := New(t.TempDir(), 50, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Put("pinned", writeSource(t, 30, 'p')); err != nil {
		t.Fatalf("Put: %v", err)
	}
	c.Pin("pinned")

	if _, err := c.Put("other", writeSource(t, 30, 'o')); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get("pinned"); !ok {
		t.Fatal("pinned entry was evicted")
	}

	c.Unpin("pinned")
	if _, err := c.Put("third", writeSource(t, 30, 't')); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get("pinned"); ok {
		t.Error("unpinned entry should have been evicted")
	}
}

func TestDiskCache_ReopenIndexesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Put("s3://b/k", writeSource(t, 20, 'k')); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dir, 1<<20, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok := reopened.Get("s3://b/k"); !ok {
		t.Error("expected entry to survive reopen")
	}
	if reopened.Count() != 1 || reopened.Size() != 20 {
		t.Errorf("count=%d size=%d, want 1 and 20", reopened.Count(), reopened.Size())
	}
}

func TestDiskCache_Remove(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path, err := c.Put("gone", writeSource(t, 5, 'g'))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Remove("gone") {
		t.Fatal("Remove returned false")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("cached file still present: %v", err)
	}
	if c.Remove("gone") {
		t.Error("second Remove should report false")
	}
}

func TestNew_RejectsNonPositiveBound(t *testing.T) {
	if _, err := New(t.TempDir(), 0, nil); err == nil {
		t.Fatal("expected error for zero bound")
	}
}
