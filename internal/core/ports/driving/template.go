package driving

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// TemplateService is the entry point for template lifecycle operations.
// The out-of-scope REST layer calls this.
type TemplateService interface {
	// Create registers a new template family.
	Create(ctx context.Context, name string) (*domain.Template, error)

	// Get retrieves a template by id.
	Get(ctx context.Context, id string) (*domain.Template, error)

	// List retrieves all templates, newest first.
	List(ctx context.Context) ([]*domain.Template, error)

	// UploadVersion stores the source bytes, creates the next template
	// version, and starts the parse pipeline. Uploading bytes identical
	// to an existing version of the template returns that version
	// instead of creating a new one.
	UploadVersion(ctx context.Context, templateID string, source []byte) (*domain.TemplateVersion, error)

	// GetVersion retrieves a template version with its pipeline state.
	GetVersion(ctx context.Context, versionID string) (*domain.TemplateVersion, error)

	// ListVersions retrieves a template's versions, newest first.
	ListVersions(ctx context.Context, templateID string) ([]*domain.TemplateVersion, error)

	// ListSections retrieves the classified section set of a READY or
	// classified version, in structural order.
	ListSections(ctx context.Context, versionID string) ([]*domain.Section, error)

	// GetParsedModel loads the version's parsed structural model.
	// Fails with domain.ErrNotReady while the parse has not completed.
	GetParsedModel(ctx context.Context, versionID string) (*domain.ParsedModel, error)
}
