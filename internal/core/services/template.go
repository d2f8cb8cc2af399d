package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
	"github.com/drafterhq/drafter-core/internal/core/ports/driving"
)

// Ensure templateService implements TemplateService
var _ driving.TemplateService = (*templateService)(nil)

// templateService implements the template lifecycle: registration, version
// uploads that start the parse pipeline, and read access to versions,
// sections and parsed models.
type templateService struct {
	templates driven.TemplateStore
	blobs     driven.BlobStore
	audit     driven.AuditStore
	notifier  driven.JobNotifier
	logger    *slog.Logger
}

// NewTemplateService creates a new TemplateService.
func NewTemplateService(
	templates driven.TemplateStore,
	blobs driven.BlobStore,
	audit driven.AuditStore,
	notifier driven.JobNotifier,
	logger *slog.Logger,
) driving.TemplateService {
	if notifier == nil {
		notifier = driven.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &templateService{
		templates: templates,
		blobs:     blobs,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
	}
}

// Create registers a new template family.
func (s *templateService) Create(ctx context.Context, name string) (*domain.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: template name is required", domain.ErrValidation)
	}

	template := domain.NewTemplate(name)
	if err := s.templates.CreateTemplate(ctx, template); err != nil {
		return nil, err
	}

	s.record(ctx, domain.NewAuditEntry("template", template.ID, domain.AuditTemplateCreated, map[string]string{
		"name": name,
	}))
	s.logger.Info("template created", "template_id", template.ID, "name", name)
	return template, nil
}

// Get retrieves a template by id.
func (s *templateService) Get(ctx context.Context, id string) (*domain.Template, error) {
	return s.templates.GetTemplate(ctx, id)
}

// List retrieves all templates, newest first.
func (s *templateService) List(ctx context.Context) ([]*domain.Template, error) {
	return s.templates.ListTemplates(ctx)
}

// UploadVersion stores the uploaded bytes and creates the next version of
// the template with its PARSE job enqueued in the same transaction.
// Re-uploading bytes identical to an existing version returns that version
// instead of creating a duplicate.
func (s *templateService) UploadVersion(ctx context.Context, templateID string, source []byte) (*domain.TemplateVersion, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("%w: uploaded file is empty", domain.ErrValidation)
	}
	if _, err := s.templates.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}

	contentHash := domain.HashBytes(source)
	existing, err := s.templates.GetVersionByHash(ctx, templateID, contentHash)
	if err == nil {
		s.logger.Info("upload matches existing version, reusing",
			"template_id", templateID,
			"template_version_id", existing.ID,
			"version_number", existing.VersionNumber,
		)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	sourceRef, err := s.blobs.Put(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	version := domain.NewTemplateVersion(templateID, sourceRef, contentHash)
	parseJob, err := domain.NewParseJob(version.ID)
	if err != nil {
		return nil, err
	}
	if err := s.templates.CreateVersion(ctx, version, parseJob); err != nil {
		return nil, err
	}

	s.record(ctx, domain.NewAuditEntry("template_version", version.ID, domain.AuditTemplateVersionCreated, map[string]string{
		"template_id":    templateID,
		"version_number": strconv.Itoa(version.VersionNumber),
		"content_hash":   contentHash,
	}))
	s.notify(ctx, domain.JobTypeParse)
	s.logger.Info("template version uploaded",
		"template_id", templateID,
		"template_version_id", version.ID,
		"version_number", version.VersionNumber,
		"size", len(source),
	)
	return version, nil
}

// GetVersion retrieves a template version with its pipeline state.
func (s *templateService) GetVersion(ctx context.Context, versionID string) (*domain.TemplateVersion, error) {
	return s.templates.GetVersion(ctx, versionID)
}

// ListVersions retrieves a template's versions, newest first.
func (s *templateService) ListVersions(ctx context.Context, templateID string) ([]*domain.TemplateVersion, error) {
	return s.templates.ListVersions(ctx, templateID)
}

// ListSections retrieves the classified section set of a version.
func (s *templateService) ListSections(ctx context.Context, versionID string) ([]*domain.Section, error) {
	return s.templates.ListSections(ctx, versionID)
}

// GetParsedModel loads the structural model produced by the parse stage.
func (s *templateService) GetParsedModel(ctx context.Context, versionID string) (*domain.ParsedModel, error) {
	version, err := s.templates.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.ParsedModelRef == "" {
		if version.Failed() {
			return nil, fmt.Errorf("%w: parsing failed: %s", domain.ErrInvalidState, version.ParsingError)
		}
		return nil, fmt.Errorf("%w: template version %s is %s", domain.ErrNotReady, versionID, version.State)
	}

	raw, err := s.blobs.Get(ctx, version.ParsedModelRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read parsed model: %w", err)
	}
	return domain.DecodeParsedModel(raw)
}

func (s *templateService) record(ctx context.Context, entry *domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit entry", "action", entry.Action, "error", err)
	}
}

func (s *templateService) notify(ctx context.Context, jobType domain.JobType) {
	if err := s.notifier.Publish(ctx, jobType); err != nil {
		s.logger.Debug("job notification dropped", "job_type", jobType, "error", err)
	}
}
