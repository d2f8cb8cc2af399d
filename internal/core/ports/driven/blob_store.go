package driven

import "context"

// BlobStore is a content-addressed, write-once byte store. Refs are
// derived from the content itself, so re-writing the same bytes is
// idempotent: a crashed job re-executing its blob writes converges on the
// same refs instead of leaving partial state.
type BlobStore interface {
	// Put writes the bytes and returns their content-addressed ref.
	// Writing bytes that already exist succeeds and returns the same ref.
	Put(ctx context.Context, data []byte) (ref string, err error)

	// Get reads the bytes for a ref. Returns domain.ErrNotFound for an
	// unknown ref.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Exists reports whether a ref is present without reading it.
	Exists(ctx context.Context, ref string) (bool, error)
}
