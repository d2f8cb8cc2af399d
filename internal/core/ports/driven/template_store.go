package driven

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// TemplateStore persists templates, their versions, and classified section
// sets. Pipeline state transitions are expressed as conditional operations
// so each one is a single atomic step against the backing store: the
// entity update and the downstream job insert commit together, and a
// transition whose guard no longer holds reports applied=false instead of
// erroring. That false return is what makes coordinator replay a no-op.
type TemplateStore interface {
	// CreateTemplate persists a new template family.
	CreateTemplate(ctx context.Context, template *domain.Template) error

	// GetTemplate retrieves a template by id.
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)

	// ListTemplates retrieves all templates, newest first.
	ListTemplates(ctx context.Context) ([]*domain.Template, error)

	// CreateVersion allocates the next gapless version number for the
	// template (locking the template row), persists the version, and
	// enqueues its PARSE job, all atomically. version.VersionNumber is
	// set on return.
	CreateVersion(ctx context.Context, version *domain.TemplateVersion, parseJob *domain.Job) error

	// GetVersion retrieves a template version by id.
	GetVersion(ctx context.Context, id string) (*domain.TemplateVersion, error)

	// GetVersionByHash finds a version of the template carrying the given
	// source content hash. Returns domain.ErrNotFound when none exists.
	GetVersionByHash(ctx context.Context, templateID, contentHash string) (*domain.TemplateVersion, error)

	// ListVersions retrieves a template's versions, newest first.
	ListVersions(ctx context.Context, templateID string) ([]*domain.TemplateVersion, error)

	// MarkParsing flips parsing_status NOT_STARTED -> IN_PROGRESS.
	// Safe to call repeatedly; only the first call changes anything.
	MarkParsing(ctx context.Context, versionID string) error

	// CompleteParse applies the parse-completed transition: guard
	// state == PARSING, then set the parsed model reference, parsing
	// status and timestamps, advance the state to CLASSIFYING, and
	// enqueue the CLASSIFY job. Returns applied=false when the version
	// already left PARSING.
	CompleteParse(ctx context.Context, versionID, parsedModelRef string, classifyJob *domain.Job) (applied bool, err error)

	// FailParse applies the parse-failed transition: guard
	// state == PARSING, then record the error and absorb into FAILED.
	FailParse(ctx context.Context, versionID, errMsg string) (applied bool, err error)

	// CompleteClassify applies the classify-completed transition: guard
	// state == CLASSIFYING, then persist the section set exactly once and
	// mark the version READY.
	CompleteClassify(ctx context.Context, versionID string, sections []*domain.Section) (applied bool, err error)

	// FailClassify applies the classify-failed transition: guard
	// state == CLASSIFYING, then record the error and absorb into FAILED.
	FailClassify(ctx context.Context, versionID, errMsg string) (applied bool, err error)

	// ListSections retrieves the section set of a version in structural
	// order. Empty until CompleteClassify has applied.
	ListSections(ctx context.Context, versionID string) ([]*domain.Section, error)

	// GetSectionByPath retrieves one section of a version by structural
	// path. Returns domain.ErrNotFound when the path is unknown.
	GetSectionByPath(ctx context.Context, versionID, path string) (*domain.Section, error)
}
