package driven

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// SectionClassifier labels the body blocks of a parsed model as STATIC or
// DYNAMIC. The returned labels address blocks by structural path and must
// cover every body block exactly once. Failures wrap domain.ErrClassify.
type SectionClassifier interface {
	Classify(ctx context.Context, model *domain.ParsedModel) ([]domain.SectionLabel, error)
}
