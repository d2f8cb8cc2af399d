package generate

import (
	"context"
	"fmt"

	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ContentGenerator = (*Deterministic)(nil)

// Deterministic is a content generator for development and tests. It
// produces stable output without calling an external model, so the full
// pipeline can run with no API key configured.
type Deterministic struct {
	// Respond overrides the canned response. Optional.
	Respond func(req driven.GenerationRequest) string
}

// NewDeterministic creates a generator with the canned default response.
func NewDeterministic() *Deterministic {
	return &Deterministic{}
}

// Generate returns stable content derived from the request.
func (d *Deterministic) Generate(_ context.Context, req driven.GenerationRequest) (string, error) {
	if d.Respond != nil {
		return d.Respond(req), nil
	}
	return fmt.Sprintf("Deterministic content for section %s.", req.SectionPath), nil
}
