package driving

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// DocumentService is the entry point for document generation and
// regeneration. Regeneration is always an explicit trigger: uploading a
// new template version never enqueues these jobs by itself.
type DocumentService interface {
	// Create registers a document against a READY template version and
	// enqueues its GENERATE job. Fails with domain.ErrNotReady while the
	// version's pipeline has not finished.
	Create(ctx context.Context, templateVersionID, name string, context map[string]string) (*domain.Document, error)

	// Get retrieves a document by id.
	Get(ctx context.Context, id string) (*domain.Document, error)

	// ListByTemplateVersion retrieves the documents bound to a template
	// version.
	ListByTemplateVersion(ctx context.Context, templateVersionID string) ([]*domain.Document, error)

	// GetVersion retrieves one generated version of a document.
	GetVersion(ctx context.Context, documentID string, versionNumber int) (*domain.DocumentVersion, error)

	// ListVersions retrieves a document's versions, newest first.
	ListVersions(ctx context.Context, documentID string) ([]*domain.DocumentVersion, error)

	// GetCurrentArtifact loads the assembled artifact of the document's
	// current version. Fails with domain.ErrNoVersion before the first
	// generation completes.
	GetCurrentArtifact(ctx context.Context, documentID string) (*domain.AssembledDocument, error)

	// RegenerateSection enqueues a surgical regeneration of one DYNAMIC
	// section. Fails with domain.ErrInvalidSection for STATIC paths and
	// domain.ErrValidation for unknown ones.
	RegenerateSection(ctx context.Context, documentID, sectionPath string) (*domain.Job, error)

	// RegenerateDocument enqueues a full regeneration of the document,
	// optionally against a newer template version of the same template.
	RegenerateDocument(ctx context.Context, documentID, templateVersionID string) (*domain.Job, error)

	// RegenerateForTemplateVersion fans out one REGENERATE_DOCUMENT job
	// per document bound to oldVersionID, targeting newVersionID. This is
	// the explicit trigger that follows a template update.
	RegenerateForTemplateVersion(ctx context.Context, oldVersionID, newVersionID string) ([]*domain.Job, error)
}
