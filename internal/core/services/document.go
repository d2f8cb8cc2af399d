package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
	"github.com/drafterhq/drafter-core/internal/core/ports/driving"
)

// Ensure documentService implements DocumentService
var _ driving.DocumentService = (*documentService)(nil)

// documentService implements document creation and the explicit
// regeneration triggers. Enqueue-time validation keeps jobs that could
// never succeed out of the queue: unknown section paths and static targets
// are rejected here, before a worker ever sees them.
type documentService struct {
	documents driven.DocumentStore
	templates driven.TemplateStore
	jobs      driven.JobStore
	blobs     driven.BlobStore
	audit     driven.AuditStore
	notifier  driven.JobNotifier
	logger    *slog.Logger
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(
	documents driven.DocumentStore,
	templates driven.TemplateStore,
	jobs driven.JobStore,
	blobs driven.BlobStore,
	audit driven.AuditStore,
	notifier driven.JobNotifier,
	logger *slog.Logger,
) driving.DocumentService {
	if notifier == nil {
		notifier = driven.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &documentService{
		documents: documents,
		templates: templates,
		jobs:      jobs,
		blobs:     blobs,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
	}
}

// Create registers a document against a READY template version and
// enqueues its GENERATE job in the same transaction.
func (s *documentService) Create(ctx context.Context, templateVersionID, name string, docContext map[string]string) (*domain.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: document name is required", domain.ErrValidation)
	}

	version, err := s.templates.GetVersion(ctx, templateVersionID)
	if err != nil {
		return nil, err
	}
	if !version.Ready() {
		return nil, fmt.Errorf("%w: template version %s is %s", domain.ErrNotReady, templateVersionID, version.State)
	}

	doc := domain.NewDocument(version.ID, name, docContext)
	generateJob, err := domain.NewGenerateJob(version.ID, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := s.documents.CreateDocument(ctx, doc, generateJob); err != nil {
		return nil, err
	}

	s.record(ctx, domain.NewAuditEntry("document", doc.ID, domain.AuditDocumentCreated, map[string]string{
		"template_version_id": version.ID,
		"name":                name,
	}))
	s.notify(ctx, domain.JobTypeGenerate)
	s.logger.Info("document created",
		"document_id", doc.ID,
		"template_version_id", version.ID,
		"name", name,
	)
	return doc, nil
}

// Get retrieves a document by id.
func (s *documentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.documents.GetDocument(ctx, id)
}

// ListByTemplateVersion retrieves the documents bound to a template version.
func (s *documentService) ListByTemplateVersion(ctx context.Context, templateVersionID string) ([]*domain.Document, error) {
	return s.documents.ListByTemplateVersion(ctx, templateVersionID)
}

// GetVersion retrieves one generated version of a document.
func (s *documentService) GetVersion(ctx context.Context, documentID string, versionNumber int) (*domain.DocumentVersion, error) {
	return s.documents.GetVersion(ctx, documentID, versionNumber)
}

// ListVersions retrieves a document's versions, newest first.
func (s *documentService) ListVersions(ctx context.Context, documentID string) ([]*domain.DocumentVersion, error) {
	return s.documents.ListVersions(ctx, documentID)
}

// GetCurrentArtifact loads the assembled artifact behind the document's
// current version pointer.
func (s *documentService) GetCurrentArtifact(ctx context.Context, documentID string) (*domain.AssembledDocument, error) {
	current, err := s.documents.GetCurrentVersion(ctx, documentID)
	if err != nil {
		return nil, err
	}
	raw, err := s.blobs.Get(ctx, current.OutputRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return domain.DecodeAssembledDocument(raw)
}

// RegenerateSection enqueues a surgical regeneration of one dynamic
// section. The target is validated here so a job that could never succeed
// is rejected instead of entering the queue.
func (s *documentService) RegenerateSection(ctx context.Context, documentID, sectionPath string) (*domain.Job, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.CurrentVersion == 0 {
		return nil, fmt.Errorf("%w: document %s has no generated version", domain.ErrNoVersion, documentID)
	}

	section, err := s.templates.GetSectionByPath(ctx, doc.TemplateVersionID, sectionPath)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no section at path %s", domain.ErrValidation, sectionPath)
	}
	if err != nil {
		return nil, err
	}
	if !section.Dynamic() {
		return nil, fmt.Errorf("%w: section %s is static", domain.ErrInvalidSection, sectionPath)
	}

	job, err := domain.NewRegenerateSectionJob(doc.ID, sectionPath)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.record(ctx, domain.NewAuditEntry("document", doc.ID, domain.AuditRegenerationTriggered, map[string]string{
		"job_id":       job.ID,
		"section_path": sectionPath,
	}))
	s.notify(ctx, domain.JobTypeRegenerateSection)
	s.logger.Info("section regeneration enqueued",
		"document_id", doc.ID,
		"section_path", sectionPath,
		"job_id", job.ID,
	)
	return job, nil
}

// RegenerateDocument enqueues a full regeneration, optionally against a
// newer READY version of the same template.
func (s *documentService) RegenerateDocument(ctx context.Context, documentID, templateVersionID string) (*domain.Job, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	targetID := templateVersionID
	if targetID == "" {
		targetID = doc.TemplateVersionID
	}
	target, err := s.templates.GetVersion(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.Ready() {
		return nil, fmt.Errorf("%w: template version %s is %s", domain.ErrNotReady, targetID, target.State)
	}
	if targetID != doc.TemplateVersionID {
		bound, err := s.templates.GetVersion(ctx, doc.TemplateVersionID)
		if err != nil {
			return nil, err
		}
		if bound.TemplateID != target.TemplateID {
			return nil, fmt.Errorf("%w: version %s belongs to a different template", domain.ErrVersionMismatch, targetID)
		}
	}

	job, err := domain.NewRegenerateDocumentJob(doc.ID, templateVersionID)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.record(ctx, domain.NewAuditEntry("document", doc.ID, domain.AuditRegenerationTriggered, map[string]string{
		"job_id":              job.ID,
		"template_version_id": targetID,
	}))
	s.notify(ctx, domain.JobTypeRegenerateDocument)
	s.logger.Info("document regeneration enqueued",
		"document_id", doc.ID,
		"template_version_id", targetID,
		"job_id", job.ID,
	)
	return job, nil
}

// RegenerateForTemplateVersion fans out one REGENERATE_DOCUMENT job per
// document bound to oldVersionID, each targeting newVersionID. Uploading a
// template version never does this implicitly; this call is the explicit
// trigger.
func (s *documentService) RegenerateForTemplateVersion(ctx context.Context, oldVersionID, newVersionID string) ([]*domain.Job, error) {
	oldVersion, err := s.templates.GetVersion(ctx, oldVersionID)
	if err != nil {
		return nil, err
	}
	newVersion, err := s.templates.GetVersion(ctx, newVersionID)
	if err != nil {
		return nil, err
	}
	if !newVersion.Ready() {
		return nil, fmt.Errorf("%w: template version %s is %s", domain.ErrNotReady, newVersionID, newVersion.State)
	}
	if oldVersion.TemplateID != newVersion.TemplateID {
		return nil, fmt.Errorf("%w: versions belong to different templates", domain.ErrVersionMismatch)
	}

	docs, err := s.documents.ListByTemplateVersion(ctx, oldVersionID)
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(docs))
	for _, doc := range docs {
		job, err := domain.NewRegenerateDocumentJob(doc.ID, newVersionID)
		if err != nil {
			return jobs, err
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return jobs, fmt.Errorf("failed to enqueue regeneration for document %s: %w", doc.ID, err)
		}
		s.record(ctx, domain.NewAuditEntry("document", doc.ID, domain.AuditRegenerationTriggered, map[string]string{
			"job_id":              job.ID,
			"template_version_id": newVersionID,
		}))
		jobs = append(jobs, job)
	}

	if len(jobs) > 0 {
		s.notify(ctx, domain.JobTypeRegenerateDocument)
	}
	s.logger.Info("regeneration fan-out enqueued",
		"old_template_version_id", oldVersionID,
		"new_template_version_id", newVersionID,
		"documents", len(jobs),
	)
	return jobs, nil
}

func (s *documentService) record(ctx context.Context, entry *domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit entry", "action", entry.Action, "error", err)
	}
}

func (s *documentService) notify(ctx context.Context, jobType domain.JobType) {
	if err := s.notifier.Publish(ctx, jobType); err != nil {
		s.logger.Debug("job notification dropped", "job_type", jobType, "error", err)
	}
}
