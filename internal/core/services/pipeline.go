package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Pipeline executes pipeline jobs and drives the template version state
// machine:
//
//	NOT_STARTED -> PARSING -> PARSED -> CLASSIFYING -> READY
//
// Every transition is a conditional store operation guarded by the current
// state, so a job replayed after a crash or lease reclaim lands on a no-op
// instead of a duplicate side effect. Downstream jobs are inserted in the
// same transaction as the transition that warrants them, which keeps a
// CLASSIFY job from ever being claimable before its PARSE completed.
type Pipeline struct {
	templates  driven.TemplateStore
	blobs      driven.BlobStore
	parser     driven.StructuralParser
	classifier driven.SectionClassifier
	assembler  *Assembler
	audit      driven.AuditStore
	notifier   driven.JobNotifier
	logger     *slog.Logger

	handlers map[domain.JobType]StageHandler
}

// StageHandler executes one claimed job and returns its result payload.
type StageHandler func(ctx context.Context, job *domain.Job) (json.RawMessage, error)

// PipelineConfig holds dependencies for Pipeline.
type PipelineConfig struct {
	Templates  driven.TemplateStore
	Blobs      driven.BlobStore
	Parser     driven.StructuralParser
	Classifier driven.SectionClassifier
	Assembler  *Assembler
	Audit      driven.AuditStore
	Notifier   driven.JobNotifier // Optional: defaults to a no-op notifier
	Logger     *slog.Logger
}

// NewPipeline creates a new pipeline coordinator.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = driven.NopNotifier{}
	}

	p := &Pipeline{
		templates:  cfg.Templates,
		blobs:      cfg.Blobs,
		parser:     cfg.Parser,
		classifier: cfg.Classifier,
		assembler:  cfg.Assembler,
		audit:      cfg.Audit,
		notifier:   notifier,
		logger:     logger,
	}
	p.handlers = map[domain.JobType]StageHandler{
		domain.JobTypeParse:              p.executeParse,
		domain.JobTypeClassify:           p.executeClassify,
		domain.JobTypeGenerate:           p.executeGenerate,
		domain.JobTypeRegenerateSection:  p.executeRegenerateSection,
		domain.JobTypeRegenerateDocument: p.executeRegenerateDocument,
	}
	return p
}

// Handlers returns the stage implementations keyed by job type, for
// registration in a worker's dispatch table.
func (p *Pipeline) Handlers() map[domain.JobType]StageHandler {
	out := make(map[domain.JobType]StageHandler, len(p.handlers))
	for jobType, handler := range p.handlers {
		out[jobType] = handler
	}
	return out
}

// Execute dispatches one claimed job through the handler table and returns
// its result payload. A returned error means the job failed terminally; the
// worker records it via the job store. Execute never retries collaborator
// calls.
func (p *Pipeline) Execute(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("unknown job type: %s", job.Type)
	}
	return handler(ctx, job)
}

// executeParse fetches the uploaded source, parses it into the structural
// model, stores the model blob, and moves the version to CLASSIFYING with a
// CLASSIFY job enqueued in the same transaction.
func (p *Pipeline) executeParse(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.ParsePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid parse payload: %w", err)
	}

	version, err := p.templates.GetVersion(ctx, payload.TemplateVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template version: %w", err)
	}

	// Replay of an already settled version short-circuits here.
	switch version.State {
	case domain.VersionStateNotStarted, domain.VersionStateParsing:
	case domain.VersionStateFailed:
		return nil, fmt.Errorf("%w: template version failed: %s", domain.ErrInvalidState, version.ParsingError)
	default:
		return json.Marshal(domain.ParseResult{
			ParsedModelRef: version.ParsedModelRef,
			ContentHash:    version.ContentHash,
		})
	}

	if err := p.templates.MarkParsing(ctx, version.ID); err != nil {
		return nil, fmt.Errorf("failed to mark version parsing: %w", err)
	}

	source, err := p.blobs.Get(ctx, version.SourceRef)
	if err != nil {
		return nil, p.failParse(ctx, version.ID, fmt.Errorf("failed to read source blob: %w", err))
	}

	model, err := p.parser.Parse(ctx, source)
	if err != nil {
		return nil, p.failParse(ctx, version.ID, err)
	}
	if len(model.Blocks) == 0 {
		return nil, p.failParse(ctx, version.ID, fmt.Errorf("%w: document has no blocks", domain.ErrParse))
	}

	encoded, err := model.Encode()
	if err != nil {
		return nil, p.failParse(ctx, version.ID, fmt.Errorf("failed to encode parsed model: %w", err))
	}

	modelRef, err := p.blobs.Put(ctx, encoded)
	if err != nil {
		return nil, p.failParse(ctx, version.ID, fmt.Errorf("failed to store parsed model: %w", err))
	}

	classifyJob, err := domain.NewClassifyJob(version.ID)
	if err != nil {
		return nil, p.failParse(ctx, version.ID, err)
	}

	applied, err := p.templates.CompleteParse(ctx, version.ID, modelRef, classifyJob)
	if err != nil {
		return nil, fmt.Errorf("failed to complete parse: %w", err)
	}
	if applied {
		p.record(ctx, domain.NewAuditEntry("template_version", version.ID, domain.AuditParseCompleted, map[string]string{
			"parsed_model_ref": modelRef,
			"block_count":      strconv.Itoa(len(model.Blocks)),
		}))
		p.notify(ctx, domain.JobTypeClassify)
		p.logger.Info("parse completed",
			"template_version_id", version.ID,
			"blocks", len(model.Blocks),
			"parsed_model_ref", modelRef,
		)
	}

	return json.Marshal(domain.ParseResult{
		ParsedModelRef: modelRef,
		ContentHash:    model.ContentHash,
	})
}

// executeClassify loads the parsed model, labels every body block, and moves
// the version to READY with the section set persisted in one transaction.
func (p *Pipeline) executeClassify(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.ClassifyPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid classify payload: %w", err)
	}

	version, err := p.templates.GetVersion(ctx, payload.TemplateVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template version: %w", err)
	}

	switch version.State {
	case domain.VersionStateClassifying:
	case domain.VersionStateReady:
		// Replay after completion: rebuild the result from stored sections.
		sections, err := p.templates.ListSections(ctx, version.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sections: %w", err)
		}
		return json.Marshal(classifyResultFor(sections))
	case domain.VersionStateFailed:
		return nil, fmt.Errorf("%w: template version failed: %s", domain.ErrInvalidState, version.ParsingError)
	default:
		return nil, fmt.Errorf("%w: template version not classifying: %s", domain.ErrInvalidState, version.State)
	}

	encoded, err := p.blobs.Get(ctx, version.ParsedModelRef)
	if err != nil {
		return nil, p.failClassify(ctx, version.ID, fmt.Errorf("failed to read parsed model: %w", err))
	}

	model, err := domain.DecodeParsedModel(encoded)
	if err != nil {
		return nil, p.failClassify(ctx, version.ID, fmt.Errorf("failed to decode parsed model: %w", err))
	}

	labels, err := p.classifier.Classify(ctx, model)
	if err != nil {
		return nil, p.failClassify(ctx, version.ID, err)
	}

	sections, err := sectionsFromLabels(version.ID, model, labels)
	if err != nil {
		return nil, p.failClassify(ctx, version.ID, err)
	}

	applied, err := p.templates.CompleteClassify(ctx, version.ID, sections)
	if err != nil {
		return nil, fmt.Errorf("failed to complete classify: %w", err)
	}

	result := classifyResultFor(sections)
	if applied {
		p.record(ctx, domain.NewAuditEntry("template_version", version.ID, domain.AuditClassifyCompleted, map[string]string{
			"section_count": strconv.Itoa(result.SectionCount),
			"static_count":  strconv.Itoa(result.StaticCount),
			"dynamic_count": strconv.Itoa(result.DynamicCount),
		}))
		p.logger.Info("classify completed",
			"template_version_id", version.ID,
			"sections", result.SectionCount,
			"dynamic", result.DynamicCount,
		)
	}

	return json.Marshal(result)
}

// executeGenerate produces the first document version for a new document.
func (p *Pipeline) executeGenerate(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.GeneratePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid generate payload: %w", err)
	}

	version, err := p.assembler.Generate(ctx, job.ID, payload.DocumentID)
	if err != nil {
		return nil, err
	}

	p.record(ctx, domain.NewAuditEntry("document", payload.DocumentID, domain.AuditVersionCreated, map[string]string{
		"document_version_id": version.ID,
		"version_number":      strconv.Itoa(version.VersionNumber),
	}))

	return json.Marshal(domain.GenerateResult{
		DocumentVersionID: version.ID,
		VersionNumber:     version.VersionNumber,
	})
}

// executeRegenerateSection surgically regenerates one dynamic section.
func (p *Pipeline) executeRegenerateSection(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.RegenerateSectionPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid regenerate section payload: %w", err)
	}

	version, err := p.assembler.RegenerateSection(ctx, job.ID, payload.DocumentID, payload.SectionPath)
	if err != nil {
		return nil, err
	}

	p.record(ctx, domain.NewAuditEntry("document", payload.DocumentID, domain.AuditVersionCreated, map[string]string{
		"document_version_id": version.ID,
		"version_number":      strconv.Itoa(version.VersionNumber),
		"section_path":        payload.SectionPath,
	}))

	return json.Marshal(domain.GenerateResult{
		DocumentVersionID: version.ID,
		VersionNumber:     version.VersionNumber,
	})
}

// executeRegenerateDocument re-runs full generation, optionally against a
// newer template version.
func (p *Pipeline) executeRegenerateDocument(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.RegenerateDocumentPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid regenerate document payload: %w", err)
	}

	version, err := p.assembler.RegenerateDocument(ctx, job.ID, payload.DocumentID, payload.TemplateVersionID)
	if err != nil {
		return nil, err
	}

	p.record(ctx, domain.NewAuditEntry("document", payload.DocumentID, domain.AuditVersionCreated, map[string]string{
		"document_version_id": version.ID,
		"version_number":      strconv.Itoa(version.VersionNumber),
		"template_version_id": payload.TemplateVersionID,
	}))

	return json.Marshal(domain.GenerateResult{
		DocumentVersionID: version.ID,
		VersionNumber:     version.VersionNumber,
	})
}

// failParse moves the version to the absorbing FAILED state and hands the
// cause back so the job records the same error.
func (p *Pipeline) failParse(ctx context.Context, versionID string, cause error) error {
	applied, err := p.templates.FailParse(ctx, versionID, cause.Error())
	if err != nil {
		p.logger.Warn("failed to record parse failure", "template_version_id", versionID, "error", err)
	}
	if applied {
		p.record(ctx, domain.NewAuditEntry("template_version", versionID, domain.AuditParseFailed, map[string]string{
			"error": cause.Error(),
		}))
		p.logger.Error("parse failed", "template_version_id", versionID, "error", cause)
	}
	return cause
}

// failClassify moves the version to FAILED after a classification failure.
func (p *Pipeline) failClassify(ctx context.Context, versionID string, cause error) error {
	applied, err := p.templates.FailClassify(ctx, versionID, cause.Error())
	if err != nil {
		p.logger.Warn("failed to record classify failure", "template_version_id", versionID, "error", err)
	}
	if applied {
		p.record(ctx, domain.NewAuditEntry("template_version", versionID, domain.AuditClassifyFailed, map[string]string{
			"error": cause.Error(),
		}))
		p.logger.Error("classify failed", "template_version_id", versionID, "error", cause)
	}
	return cause
}

// record writes an audit entry, logging instead of failing the job when the
// audit store is unavailable.
func (p *Pipeline) record(ctx context.Context, entry *domain.AuditEntry) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		p.logger.Warn("failed to record audit entry", "action", entry.Action, "error", err)
	}
}

// notify wakes idle workers. Delivery is best-effort; workers poll anyway.
func (p *Pipeline) notify(ctx context.Context, jobType domain.JobType) {
	if err := p.notifier.Publish(ctx, jobType); err != nil {
		p.logger.Debug("job notification dropped", "job_type", jobType, "error", err)
	}
}

// sectionsFromLabels turns classifier labels into the persisted section set,
// verifying that every body block is labelled exactly once.
func sectionsFromLabels(versionID string, model *domain.ParsedModel, labels []domain.SectionLabel) ([]*domain.Section, error) {
	byPath := make(map[string]domain.SectionLabel, len(labels))
	for _, label := range labels {
		if _, dup := byPath[label.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate label for path %s", domain.ErrClassify, label.Path)
		}
		if label.Confidence < 0 || label.Confidence > 1 {
			return nil, fmt.Errorf("%w: confidence %f out of range for path %s", domain.ErrClassify, label.Confidence, label.Path)
		}
		byPath[label.Path] = label
	}

	if len(labels) != len(model.Blocks) {
		return nil, fmt.Errorf("%w: %d labels for %d blocks", domain.ErrClassify, len(labels), len(model.Blocks))
	}

	sections := make([]*domain.Section, 0, len(model.Blocks))
	for i := range model.Blocks {
		block := &model.Blocks[i]
		label, ok := byPath[block.Path]
		if !ok {
			return nil, fmt.Errorf("%w: no label for block %s", domain.ErrClassify, block.Path)
		}
		section := domain.NewSection(versionID, block, label.Type, domain.Classification{
			Method:        label.Method,
			Confidence:    label.Confidence,
			Justification: label.Justification,
		})
		if label.Type == domain.SectionDynamic {
			section.Prompt = promptFor(block)
		}
		sections = append(sections, section)
	}
	return sections, nil
}

// promptFor derives the generation configuration for a dynamic block. The
// template's own text is the strongest guidance the generator gets.
func promptFor(block *domain.Block) *domain.PromptConfig {
	text := block.Text()
	instruction := "Replace the template text with document-specific content. Template text: " + text
	if text == "" {
		instruction = fmt.Sprintf("Write the %s content for section %s.", block.Type, block.Path)
	}
	return &domain.PromptConfig{
		Instruction: instruction,
		MaxLength:   generationBound(text),
	}
}

// generationBound sizes the accepted output from the template text length.
func generationBound(text string) int {
	n := len(text) * 2
	if n < 200 {
		n = 200
	}
	if n > 4000 {
		n = 4000
	}
	return n
}

// classifyResultFor summarizes a section set into the classify job result.
func classifyResultFor(sections []*domain.Section) domain.ClassifyResult {
	result := domain.ClassifyResult{SectionCount: len(sections)}
	for _, s := range sections {
		if s.Dynamic() {
			result.DynamicCount++
		} else {
			result.StaticCount++
		}
	}
	return result
}
