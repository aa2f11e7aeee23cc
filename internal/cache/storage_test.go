package cache

import (
	"bytes"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
)

func storages(t *testing.T) map[string]Storage {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "cache.db"), 0)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { _ = bolt.Close() })
	return map[string]Storage{
		"memory": NewMemoryStorage(0),
		"bolt":   bolt,
	}
}

func TestStorageBucketLifecycle(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			bucket := storage.Bucket("app-cache-v6")
			if storage.Has("app-cache-v6") {
				t.Fatalf("bucket should not exist before first write")
			}
			if _, ok := bucket.Get("GET http://app.local/"); ok {
				t.Fatalf("expected miss on empty bucket")
			}

			header := http.Header{}
			header.Set("Content-Type", "text/html")
			if err := bucket.Set("GET http://app.local/", Entry{Status: 200, Header: header, Body: []byte("shell")}); err != nil {
				t.Fatalf("set: %v", err)
			}
			if !storage.Has("app-cache-v6") {
				t.Fatalf("bucket should exist after write")
			}

			entry, ok := bucket.Get("GET http://app.local/")
			if !ok {
				t.Fatalf("expected hit")
			}
			if entry.Status != 200 || string(entry.Body) != "shell" {
				t.Fatalf("unexpected entry %d %q", entry.Status, entry.Body)
			}
			if entry.Header.Get("Content-Type") != "text/html" {
				t.Fatalf("header not preserved: %v", entry.Header)
			}
			if entry.Digest == "" || entry.StoredAt.IsZero() {
				t.Fatalf("expected digest and stored time")
			}
			if bucket.Len() != 1 {
				t.Fatalf("expected 1 key, got %d", bucket.Len())
			}

			deleted, err := storage.Delete("app-cache-v6")
			if err != nil || !deleted {
				t.Fatalf("delete bucket: deleted=%v err=%v", deleted, err)
			}
			deleted, err = storage.Delete("app-cache-v6")
			if err != nil || deleted {
				t.Fatalf("second delete should be a no-op: deleted=%v err=%v", deleted, err)
			}
			if _, ok := bucket.Get("GET http://app.local/"); ok {
				t.Fatalf("entry survived bucket deletion")
			}
			if bucket.Len() != 0 {
				t.Fatalf("expected empty bucket")
			}
		})
	}
}

func TestStorageOpenCreatesEmptyBucket(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			bucket, err := storage.Open("app-cache-v7")
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if !storage.Has("app-cache-v7") {
				t.Fatalf("open should create the bucket")
			}
			if bucket.Len() != 0 {
				t.Fatalf("expected empty bucket")
			}
			if _, err := storage.Open("app-cache-v7"); err != nil {
				t.Fatalf("reopen: %v", err)
			}
		})
	}
}

func TestMemoryOpenAfterClose(t *testing.T) {
	storage := NewMemoryStorage(0)
	_ = storage.Close()
	if _, err := storage.Open("b"); !errors.Is(err, ErrStorageClosed) {
		t.Fatalf("expected ErrStorageClosed, got %v", err)
	}
}

func TestStorageNamesSorted(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			for _, bucket := range []string{"app-cache-v6", "app-cache-v5", "other"} {
				if err := storage.Bucket(bucket).Set("GET http://app.local/", Entry{Status: 200}); err != nil {
					t.Fatalf("set: %v", err)
				}
			}
			names, err := storage.Names()
			if err != nil {
				t.Fatalf("names: %v", err)
			}
			if strings.Join(names, ",") != "app-cache-v5,app-cache-v6,other" {
				t.Fatalf("unexpected names %v", names)
			}
		})
	}
}

func TestStorageRejectsOversizedEntry(t *testing.T) {
	storage := NewMemoryStorage(4)
	err := storage.Bucket("b").Set("k", Entry{Status: 200, Body: []byte("too large")})
	if !errors.Is(err, ErrObjectTooLarge) {
		t.Fatalf("expected ErrObjectTooLarge, got %v", err)
	}
	if storage.Has("b") {
		t.Fatalf("failed write must not create bucket")
	}
}

func TestMemoryEntriesAreCopies(t *testing.T) {
	storage := NewMemoryStorage(0)
	bucket := storage.Bucket("b")
	body := []byte("abc")
	if err := bucket.Set("k", Entry{Status: 200, Body: body}); err != nil {
		t.Fatalf("set: %v", err)
	}
	body[0] = 'x'
	entry, _ := bucket.Get("k")
	entry.Body[1] = 'y'
	again, _ := bucket.Get("k")
	if string(again.Body) != "abc" {
		t.Fatalf("stored entry was mutated: %q", again.Body)
	}
}

func TestBoltCompressesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	storage, err := OpenBolt(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	large := bytes.Repeat([]byte("offline notes "), 1024)
	if err := storage.Bucket("app-cache-v1").Set("GET http://app.local/app.js", Entry{Status: 200, Body: large}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenBolt(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	entry, ok := reopened.Bucket("app-cache-v1").Get("GET http://app.local/app.js")
	if !ok {
		t.Fatalf("entry lost across reopen")
	}
	if !bytes.Equal(entry.Body, large) {
		t.Fatalf("body mismatch after decompression")
	}
	if entry.Digest != Digest(large) {
		t.Fatalf("digest mismatch")
	}
}

func TestEntryETag(t *testing.T) {
	entry := Entry{Body: []byte("x")}
	if !strings.HasPrefix(entry.ETag(), `"b3-`) {
		t.Fatalf("expected derived etag, got %s", entry.ETag())
	}
	entry.Header = http.Header{"Etag": []string{`"v1"`}}
	if entry.ETag() != `"v1"` {
		t.Fatalf("expected origin etag, got %s", entry.ETag())
	}
}
