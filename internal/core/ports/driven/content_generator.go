package driven

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// GenerationRequest is one bounded request to the content generator:
// a single in-flight call per job, cancelled through ctx.
type GenerationRequest struct {
	// SectionPath addresses the block being generated.
	SectionPath string
	// BlockType tells the generator what shape of content is expected.
	BlockType domain.BlockType
	// Prompt is the section's generation configuration.
	Prompt domain.PromptConfig
	// TemplateText is the placeholder text from the template, for context.
	TemplateText string
	// DocumentContext carries document-level values (client name, dates).
	DocumentContext map[string]string
}

// ContentGenerator produces the text for one dynamic section. Failures
// wrap domain.ErrGeneration; the caller converts them into job failures.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
