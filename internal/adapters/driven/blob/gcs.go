package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BlobStore = (*GCS)(nil)

// GCS is a content-addressed blob store on Google Cloud Storage. Writes
// carry a DoesNotExist precondition: concurrent writers of the same bytes
// race to create the object and every loser's precondition failure is
// success, because the winning object holds identical content.
type GCS struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCS creates a GCS blob store against the given bucket. Credentials
// come from the environment (Application Default Credentials). prefix
// namespaces the objects and may be empty.
func NewGCS(ctx context.Context, bucketName, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{bucket: client.Bucket(bucketName), prefix: prefix}, nil
}

func (g *GCS) Put(ctx context.Context, data []byte) (string, error) {
	ref := domain.HashBytes(data)
	obj := g.bucket.Object(g.key(ref)).If(storage.Conditions{DoesNotExist: true})

	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		if preconditionFailed(err) {
			return ref, nil
		}
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		if preconditionFailed(err) {
			return ref, nil
		}
		return "", fmt.Errorf("finalize blob: %w", err)
	}
	return ref, nil
}

func (g *GCS) Get(ctx context.Context, ref string) ([]byte, error) {
	r, err := g.bucket.Object(g.key(ref)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (g *GCS) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := g.bucket.Object(g.key(ref)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

func (g *GCS) key(ref string) string {
	if g.prefix == "" {
		return ref
	}
	return g.prefix + "/" + ref
}

// preconditionFailed reports whether the error is the DoesNotExist
// precondition losing the creation race.
func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}
