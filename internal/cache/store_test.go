package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestStorePutAndMatch(t *testing.T) {
	for name, storage := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, err := storage.Open(ctx, "app-v1")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			key := NewKey("get", "https://app.local/main.js")

			header := http.Header{}
			header.Set("Content-Type", "application/javascript")
			payload := []byte("console.log('shell')")
			resp := NewBytesResponse(ResponseInit{Status: http.StatusOK, Header: header, URL: key.URL}, payload)
			if err := store.Put(ctx, key, resp); err != nil {
				t.Fatalf("put error: %v", err)
			}

			cached, err := store.Match(ctx, key)
			if err != nil {
				t.Fatalf("match error: %v", err)
			}
			body, err := cached.Bytes()
			if err != nil {
				t.Fatalf("read cached body error: %v", err)
			}
			if string(body) != string(payload) {
				t.Fatalf("cached payload mismatch: %s", string(body))
			}
			if cached.Status() != http.StatusOK {
				t.Fatalf("status mismatch: %d", cached.Status())
			}
			if ct := cached.Header().Get("Content-Type"); ct != "application/javascript" {
				t.Fatalf("content type mismatch: %s", ct)
			}
			if cached.Header().Get(headerKeyURL) != "" {
				t.Fatalf("private headers should be stripped")
			}
			if cached.URL() != key.URL {
				t.Fatalf("url mismatch: %s", cached.URL())
			}
		})
	}
}

func TestStoreMatchMissing(t *testing.T) {
	for name, storage := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			store, err := storage.Open(context.Background(), "app-v1")
			if err != nil {
				t.Fatalf("open error: %v", err)
			}
			_, err = store.Match(context.Background(), NewKey("GET", "https://app.local/missing"))
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreKeyIncludesMethod(t *testing.T) {
	for name, storage := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, _ := storage.Open(ctx, "app-v1")
			url := "https://app.local/api"
			if err := store.Put(ctx, NewKey("GET", url), NewBytesResponse(ResponseInit{Status: 200}, []byte("get"))); err != nil {
				t.Fatalf("put error: %v", err)
			}
			if _, err := store.Match(ctx, NewKey("HEAD", url)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("HEAD should not match GET entry, got %v", err)
			}
		})
	}
}

func TestStoragePutOverwrites(t *testing.T) {
	for name, storage := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, _ := storage.Open(ctx, "app-v1")
			key := NewKey("GET", "https://app.local/")
			_ = store.Put(ctx, key, NewBytesResponse(ResponseInit{Status: 200}, []byte("one")))
			_ = store.Put(ctx, key, NewBytesResponse(ResponseInit{Status: 200}, []byte("two")))

			keys, err := store.Keys(ctx)
			if err != nil {
				t.Fatalf("keys error: %v", err)
			}
			if len(keys) != 1 || keys[0] != key {
				t.Fatalf("expected single key %v, got %v", key, keys)
			}
			cached, _ := store.Match(ctx, key)
			body, _ := cached.Bytes()
			if string(body) != "two" {
				t.Fatalf("last write should win, got %s", body)
			}
		})
	}
}

func TestStorageNamesAndDelete(t *testing.T) {
	for name, storage := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, n := range []string{"app-v2", "app-v1"} {
				store, err := storage.Open(ctx, n)
				if err != nil {
					t.Fatalf("open %s error: %v", n, err)
				}
				_ = store.Put(ctx, NewKey("GET", "https://app.local/"), NewBytesResponse(ResponseInit{Status: 200}, []byte(n)))
			}

			names, err := storage.Names(ctx)
			if err != nil {
				t.Fatalf("names error: %v", err)
			}
			if len(names) != 2 || names[0] != "app-v1" || names[1] != "app-v2" {
				t.Fatalf("unexpected names: %v", names)
			}

			deleted, err := storage.Delete(ctx, "app-v1")
			if err != nil || !deleted {
				t.Fatalf("delete should succeed, deleted=%v err=%v", deleted, err)
			}
			deleted, err = storage.Delete(ctx, "app-v1")
			if err != nil || deleted {
				t.Fatalf("second delete should be a no-op, deleted=%v err=%v", deleted, err)
			}

			names, _ = storage.Names(ctx)
			if len(names) != 1 || names[0] != "app-v2" {
				t.Fatalf("expected only app-v2, got %v", names)
			}

			reopened, _ := storage.Open(ctx, "app-v1")
			keys, _ := reopened.Keys(ctx)
			if len(keys) != 0 {
				t.Fatalf("recreated store should be empty, got %v", keys)
			}
		})
	}
}

func TestStorageRejectsInvalidNames(t *testing.T) {
	for name, storage := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "../escape", "a/b", " padded"} {
				if _, err := storage.Open(context.Background(), bad); !errors.Is(err, ErrInvalidStoreName) {
					t.Fatalf("expected ErrInvalidStoreName for %q, got %v", bad, err)
				}
			}
		})
	}
}

func TestFileStorageIgnoresStrayFiles(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	store, _ := storage.Open(context.Background(), "app-v1")
	if err := os.WriteFile(filepath.Join(dir, "app-v1", ".cache-123"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	names, _ := storage.Names(context.Background())
	if len(names) != 1 || names[0] != "app-v1" {
		t.Fatalf("unexpected names: %v", names)
	}
	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("temp files should not be listed, got %v", keys)
	}
}

func TestOpenStorageRejectsUnknownBackend(t *testing.T) {
	if _, err := OpenStorage("redis", t.TempDir()); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

// testStorages returns one Storage per backend, each rooted in a temporary directory.
func testStorages(t *testing.T) map[string]Storage {
	t.Helper()
	fsStorage, err := OpenStorage(BackendFS, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create fs storage: %v", err)
	}
	sqliteStorage, err := OpenStorage(BackendSQLite, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite storage: %v", err)
	}
	t.Cleanup(func() {
		_ = fsStorage.Close()
		_ = sqliteStorage.Close()
	})
	return map[string]Storage{
		"fs":     fsStorage,
		"sqlite": sqliteStorage,
	}
}
