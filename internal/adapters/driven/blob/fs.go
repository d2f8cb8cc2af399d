package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BlobStore = (*FS)(nil)

// FS is a content-addressed blob store on the local filesystem. Blobs live
// under root fanned out by the first two hex pairs of their ref
// (root/ab/cd/abcd...), and writes go through a temp file plus rename so a
// ref never points at partial bytes.
type FS struct {
	root string
}

// NewFS creates a filesystem blob store rooted at the given directory,
// creating it if needed.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FS{root: root}, nil
}

func (f *FS) Put(ctx context.Context, data []byte) (string, error) {
	ref := domain.HashBytes(data)
	path := f.path(ref)

	// Content-addressed: existing bytes are identical by construction.
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(f.root, "put-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return ref, nil
}

func (f *FS) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(f.path(ref))
	if os.IsNotExist(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (f *FS) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := os.Stat(f.path(ref))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

func (f *FS) path(ref string) string {
	if len(ref) < 4 {
		return filepath.Join(f.root, ref)
	}
	return filepath.Join(f.root, ref[0:2], ref[2:4], ref)
}
