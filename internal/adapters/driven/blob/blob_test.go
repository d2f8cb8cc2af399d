package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// stores returns every locally testable BlobStore implementation.
func stores(t *testing.T) map[string]driven.BlobStore {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return map[string]driven.BlobStore{
		"fs":     fs,
		"memory": NewMemory(),
	}
}

func TestBlobStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("PK\x03\x04 fake docx bytes")

			ref, err := store.Put(ctx, data)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if ref != domain.HashBytes(data) {
				t.Errorf("ref = %s, want content hash", ref)
			}

			got, err := store.Get(ctx, ref)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("retrieved bytes differ from stored bytes")
			}

			exists, err := store.Exists(ctx, ref)
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if !exists {
				t.Error("expected ref to exist")
			}
		})
	}
}

func TestBlobStorePutIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("same bytes twice")

			first, err := store.Put(ctx, data)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			second, err := store.Put(ctx, data)
			if err != nil {
				t.Fatalf("second Put: %v", err)
			}
			if first != second {
				t.Errorf("refs differ for identical bytes: %s vs %s", first, second)
			}
		})
	}
}

func TestBlobStoreDistinctContent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			refA, err := store.Put(ctx, []byte("contract v1"))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			refB, err := store.Put(ctx, []byte("contract v2"))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if refA == refB {
				t.Error("different bytes produced the same ref")
			}

			a, err := store.Get(ctx, refA)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(a) != "contract v1" {
				t.Errorf("refA resolved to %q", a)
			}
		})
	}
}

func TestBlobStoreGetUnknownRef(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			missing := domain.HashBytes([]byte("never stored"))

			if _, err := store.Get(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("Get unknown ref: err = %v, want ErrNotFound", err)
			}

			exists, err := store.Exists(ctx, missing)
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if exists {
				t.Error("expected unknown ref to not exist")
			}
		})
	}
}

func TestFSFanOutLayout(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	data := []byte("fan-out layout probe")
	ref, err := fs.Put(context.Background(), data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	want := filepath.Join(root, ref[0:2], ref[2:4], ref)
	if _, err := os.Stat(want); err != nil {
		t.Errorf("blob not at fanned-out path %s: %v", want, err)
	}
}

func TestFSLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	if _, err := fs.Put(context.Background(), []byte("clean commit")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			t.Errorf("unexpected file left in root: %s", entry.Name())
		}
	}
}

func TestFSSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	ref, err := fs.Put(context.Background(), []byte("durable"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	reopened, err := NewFS(root)
	if err != nil {
		t.Fatalf("NewFS reopen: %v", err)
	}
	got, err := reopened.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("got %q after reopen", got)
	}
}
