package driven

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// StructuralParser converts uploaded document bytes into the ordered
// structural model. Implementations must be deterministic: identical
// input bytes always yield an identical model and content hash. Failures
// wrap domain.ErrParse.
type StructuralParser interface {
	Parse(ctx context.Context, source []byte) (*domain.ParsedModel, error)
}
