package driven

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// DocumentStore persists generation targets and their immutable versions.
type DocumentStore interface {
	// CreateDocument persists a new document and enqueues its GENERATE
	// job atomically. The caller has already verified the bound template
	// version is READY.
	CreateDocument(ctx context.Context, document *domain.Document, generateJob *domain.Job) error

	// GetDocument retrieves a document by id.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListByTemplateVersion retrieves every document bound to the given
	// template version. Used for explicit regeneration fan-out.
	ListByTemplateVersion(ctx context.Context, templateVersionID string) ([]*domain.Document, error)

	// CreateVersion allocates the next gapless version number for the
	// document (locking the document row), persists the version, advances
	// the document's current_version pointer, and optionally rebinds the
	// document to a new template version, all atomically.
	// version.VersionNumber is set on return. rebindTemplateVersionID is
	// empty when the binding is unchanged.
	CreateVersion(ctx context.Context, version *domain.DocumentVersion, rebindTemplateVersionID string) error

	// GetVersion retrieves one version of a document by number.
	GetVersion(ctx context.Context, documentID string, versionNumber int) (*domain.DocumentVersion, error)

	// GetCurrentVersion retrieves the document's current version.
	// Returns domain.ErrNoVersion when nothing has been generated yet.
	GetCurrentVersion(ctx context.Context, documentID string) (*domain.DocumentVersion, error)

	// ListVersions retrieves a document's versions, newest first.
	ListVersions(ctx context.Context, documentID string) ([]*domain.DocumentVersion, error)
}
