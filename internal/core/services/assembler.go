package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

const (
	defaultGenerationTimeout = 60 * time.Second
	defaultMaxOutputChars    = 8000

	// Outputs shorter than this are treated as near-empty and rejected.
	minMeaningfulOutput = 10
)

// Generated content must be plain text: any markup means the generator
// tried to restructure the document, which assembly never allows.
var (
	htmlTagPattern        = regexp.MustCompile(`<[a-zA-Z][^>]*>|</[a-zA-Z]+>`)
	markdownHeaderPattern = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	codeFencePattern      = regexp.MustCompile("```")
	boilerplatePattern    = regexp.MustCompile(`(?i)^(lorem ipsum|placeholder\b|todo:?\s*$|tbd:?\s*$|\[insert|content goes here|sample text)`)
)

// Assembler builds document version artifacts from a READY template
// version: static sections preserved verbatim from the parsed model,
// dynamic sections filled by the content generator. Assembly is
// all-or-nothing; a failed section fails the whole job and no document
// version is created. Each produced version records the job that built it,
// so a job re-executed after a lease reclaim returns the version it
// already made instead of allocating another.
type Assembler struct {
	templates  driven.TemplateStore
	documents  driven.DocumentStore
	blobs      driven.BlobStore
	generator  driven.ContentGenerator
	logger     *slog.Logger
	genTimeout time.Duration
	maxOutput  int
}

// AssemblerConfig holds dependencies for Assembler.
type AssemblerConfig struct {
	Templates driven.TemplateStore
	Documents driven.DocumentStore
	Blobs     driven.BlobStore
	Generator driven.ContentGenerator
	Logger    *slog.Logger

	// GenerationTimeout bounds each generator call (default 60s).
	GenerationTimeout time.Duration
	// MaxOutputChars caps accepted generator output when the section's
	// prompt does not set its own bound (default 8000).
	MaxOutputChars int
}

// NewAssembler creates a new document assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	genTimeout := cfg.GenerationTimeout
	if genTimeout <= 0 {
		genTimeout = defaultGenerationTimeout
	}
	maxOutput := cfg.MaxOutputChars
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputChars
	}
	return &Assembler{
		templates:  cfg.Templates,
		documents:  cfg.Documents,
		blobs:      cfg.Blobs,
		generator:  cfg.Generator,
		logger:     logger,
		genTimeout: genTimeout,
		maxOutput:  maxOutput,
	}
}

// versionBundle is everything assembly needs from one template version.
type versionBundle struct {
	version  *domain.TemplateVersion
	model    *domain.ParsedModel
	sections []*domain.Section
	byPath   map[string]*domain.Section
}

// Generate produces the first version of a document. Every dynamic
// section is filled fresh; static sections come verbatim from the parsed
// model. Re-executing the same job returns the already-created version.
func (a *Assembler) Generate(ctx context.Context, jobID, documentID string) (*domain.DocumentVersion, error) {
	doc, err := a.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if doc.CurrentVersion > 0 {
		current, err := a.documents.GetCurrentVersion(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get current version: %w", err)
		}
		if current.Metadata.JobID == jobID {
			return current, nil
		}
		return nil, fmt.Errorf("%w: document %s already has version %d", domain.ErrInvalidState, doc.ID, doc.CurrentVersion)
	}

	bundle, err := a.loadBundle(ctx, doc.TemplateVersionID)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	artifact, generated, carried, err := a.assembleAll(ctx, doc, bundle, nil, nil)
	if err != nil {
		return nil, err
	}

	return a.storeVersion(ctx, doc, artifact, domain.GenerationMetadata{
		JobID:             jobID,
		TemplateVersionID: bundle.version.ID,
		GeneratedPaths:    generated,
		CarriedPaths:      carried,
		StartedAt:         startedAt,
		CompletedAt:       time.Now().UTC(),
	}, "")
}

// RegenerateSection regenerates exactly one dynamic section. Every other
// block is copied from the current artifact untouched, so all remaining
// content stays byte-identical across the two versions.
func (a *Assembler) RegenerateSection(ctx context.Context, jobID, documentID, sectionPath string) (*domain.DocumentVersion, error) {
	doc, err := a.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	current, err := a.documents.GetCurrentVersion(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("cannot regenerate section of %s: %w", doc.ID, err)
	}
	if current.Metadata.JobID == jobID {
		return current, nil
	}

	bundle, err := a.loadBundle(ctx, doc.TemplateVersionID)
	if err != nil {
		return nil, err
	}

	section, err := a.templates.GetSectionByPath(ctx, bundle.version.ID, sectionPath)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no section at path %s", domain.ErrValidation, sectionPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	if !section.Dynamic() {
		return nil, fmt.Errorf("%w: section %s is static", domain.ErrInvalidSection, sectionPath)
	}

	prior, err := a.loadArtifact(ctx, current.OutputRef)
	if err != nil {
		return nil, err
	}
	if prior.TemplateVersionID != bundle.version.ID {
		return nil, fmt.Errorf("%w: current artifact was assembled from template version %s, document is bound to %s",
			domain.ErrVersionMismatch, prior.TemplateVersionID, bundle.version.ID)
	}

	modelBlock := bundle.model.BlockAt(sectionPath)
	if modelBlock == nil {
		return nil, fmt.Errorf("%w: parsed model has no block at %s", domain.ErrGeneration, sectionPath)
	}

	startedAt := time.Now().UTC()
	text, err := a.generateSection(ctx, doc, section, modelBlock)
	if err != nil {
		return nil, err
	}

	blocks := make([]domain.AssembledBlock, len(prior.Blocks))
	copy(blocks, prior.Blocks)

	var carried []string
	target := -1
	for i := range blocks {
		if blocks[i].Block.Path == sectionPath {
			target = i
			continue
		}
		if blocks[i].IsDynamic {
			carried = append(carried, blocks[i].Block.Path)
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("%w: current artifact has no block at %s", domain.ErrGeneration, sectionPath)
	}
	blocks[target] = a.injectedBlock(modelBlock, section, text)

	artifact := &domain.AssembledDocument{
		DocumentID:        doc.ID,
		TemplateVersionID: bundle.version.ID,
		Blocks:            blocks,
		Headers:           prior.Headers,
		Footers:           prior.Footers,
		GeneratedAt:       time.Now().UTC(),
	}
	if err := a.finalize(artifact, bundle); err != nil {
		return nil, err
	}

	return a.storeVersion(ctx, doc, artifact, domain.GenerationMetadata{
		JobID:             jobID,
		TemplateVersionID: bundle.version.ID,
		GeneratedPaths:    []string{sectionPath},
		CarriedPaths:      carried,
		TargetPath:        sectionPath,
		StartedAt:         startedAt,
		CompletedAt:       time.Now().UTC(),
	}, "")
}

// RegenerateDocument re-runs full generation, optionally against a newer
// READY version of the same template. Dynamic sections whose structural
// path and prompt configuration are unchanged carry their previous content
// forward; new paths are generated fresh and removed paths are dropped.
func (a *Assembler) RegenerateDocument(ctx context.Context, jobID, documentID, templateVersionID string) (*domain.DocumentVersion, error) {
	doc, err := a.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var current *domain.DocumentVersion
	if doc.CurrentVersion > 0 {
		current, err = a.documents.GetCurrentVersion(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get current version: %w", err)
		}
		if current.Metadata.JobID == jobID {
			return current, nil
		}
	}

	targetID := templateVersionID
	if targetID == "" {
		targetID = doc.TemplateVersionID
	}

	bundle, err := a.loadBundle(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if targetID != doc.TemplateVersionID {
		bound, err := a.templates.GetVersion(ctx, doc.TemplateVersionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get bound template version: %w", err)
		}
		if bound.TemplateID != bundle.version.TemplateID {
			return nil, fmt.Errorf("%w: version %s belongs to template %s, document is bound to template %s",
				domain.ErrVersionMismatch, targetID, bundle.version.TemplateID, bound.TemplateID)
		}
	}

	var prior *domain.AssembledDocument
	priorSections := map[string]*domain.Section{}
	if current != nil {
		prior, err = a.loadArtifact(ctx, current.OutputRef)
		if err != nil {
			return nil, err
		}
		previous, err := a.templates.ListSections(ctx, prior.TemplateVersionID)
		if err != nil {
			return nil, fmt.Errorf("failed to list prior sections: %w", err)
		}
		for _, s := range previous {
			priorSections[s.Path] = s
		}
	}

	startedAt := time.Now().UTC()
	artifact, generated, carried, err := a.assembleAll(ctx, doc, bundle, prior, priorSections)
	if err != nil {
		return nil, err
	}

	rebind := ""
	if targetID != doc.TemplateVersionID {
		rebind = targetID
	}

	return a.storeVersion(ctx, doc, artifact, domain.GenerationMetadata{
		JobID:             jobID,
		TemplateVersionID: bundle.version.ID,
		GeneratedPaths:    generated,
		CarriedPaths:      carried,
		StartedAt:         startedAt,
		CompletedAt:       time.Now().UTC(),
	}, rebind)
}

// assembleAll walks the parsed model in structural order and builds the
// full artifact. prior, when set, enables carry-forward of dynamic content
// for paths whose prompt configuration is unchanged. Returns the artifact
// plus the generated and carried path lists.
func (a *Assembler) assembleAll(
	ctx context.Context,
	doc *domain.Document,
	bundle *versionBundle,
	prior *domain.AssembledDocument,
	priorSections map[string]*domain.Section,
) (*domain.AssembledDocument, []string, []string, error) {
	var generated, carried []string
	blocks := make([]domain.AssembledBlock, 0, len(bundle.model.Blocks))

	for i := range bundle.model.Blocks {
		block := &bundle.model.Blocks[i]
		section := bundle.byPath[block.Path]
		if section == nil {
			return nil, nil, nil, fmt.Errorf("%w: no section for block %s", domain.ErrGeneration, block.Path)
		}

		if !section.Dynamic() {
			blocks = append(blocks, preservedBlock(block, section))
			continue
		}

		// Generated text lands in the block's runs; block types without
		// runs keep their template content.
		if !injectable(block.Type) {
			blocks = append(blocks, preservedBlock(block, section))
			carried = append(carried, block.Path)
			a.logger.Debug("dynamic block preserved, type not injectable",
				"path", block.Path, "block_type", block.Type)
			continue
		}

		if prior != nil {
			if text, ok := carryForward(prior, priorSections, section, block.Path); ok {
				blocks = append(blocks, a.injectedBlock(block, section, text))
				carried = append(carried, block.Path)
				continue
			}
		}

		text, err := a.generateSection(ctx, doc, section, block)
		if err != nil {
			return nil, nil, nil, err
		}
		blocks = append(blocks, a.injectedBlock(block, section, text))
		generated = append(generated, block.Path)
	}

	artifact := &domain.AssembledDocument{
		DocumentID:        doc.ID,
		TemplateVersionID: bundle.version.ID,
		Blocks:            blocks,
		Headers:           bundle.model.Headers,
		Footers:           bundle.model.Footers,
		GeneratedAt:       time.Now().UTC(),
	}
	if err := a.finalize(artifact, bundle); err != nil {
		return nil, nil, nil, err
	}
	return artifact, generated, carried, nil
}

// carryForward reports whether the prior artifact's content at path can be
// reused: the path must have been a generated dynamic block and the
// section's prompt configuration must be unchanged between versions.
func carryForward(prior *domain.AssembledDocument, priorSections map[string]*domain.Section, section *domain.Section, path string) (string, bool) {
	pb := prior.BlockAt(path)
	ps := priorSections[path]
	if pb == nil || ps == nil || !pb.IsDynamic || !pb.WasModified {
		return "", false
	}
	if !samePrompt(ps.Prompt, section.Prompt) {
		return "", false
	}
	return pb.Block.Text(), true
}

// generateSection makes the single bounded generator call for one dynamic
// section and validates the output before it is accepted.
func (a *Assembler) generateSection(ctx context.Context, doc *domain.Document, section *domain.Section, block *domain.Block) (string, error) {
	prompt := domain.PromptConfig{}
	if section.Prompt != nil {
		prompt = *section.Prompt
	}
	if prompt.MaxLength <= 0 {
		prompt.MaxLength = a.maxOutput
	}

	genCtx, cancel := context.WithTimeout(ctx, a.genTimeout)
	defer cancel()

	text, err := a.generator.Generate(genCtx, driven.GenerationRequest{
		SectionPath:     section.Path,
		BlockType:       block.Type,
		Prompt:          prompt,
		TemplateText:    block.Text(),
		DocumentContext: doc.Context,
	})
	if err != nil {
		if errors.Is(err, domain.ErrGeneration) {
			return "", fmt.Errorf("section %s: %w", section.Path, err)
		}
		return "", fmt.Errorf("%w: section %s: %v", domain.ErrGeneration, section.Path, err)
	}

	text = strings.TrimSpace(text)
	if err := validateOutput(text, prompt.MaxLength); err != nil {
		return "", fmt.Errorf("%w: section %s: %v", domain.ErrGeneration, section.Path, err)
	}
	return text, nil
}

// validateOutput rejects generator output that is empty, out of bounds, or
// not the plain prose assembly expects.
func validateOutput(text string, maxLength int) error {
	if text == "" {
		return errors.New("generator returned empty content")
	}
	if len(text) < minMeaningfulOutput {
		return fmt.Errorf("content near-empty (%d chars)", len(text))
	}
	if maxLength > 0 && len(text) > maxLength {
		return fmt.Errorf("content length %d exceeds maximum %d", len(text), maxLength)
	}
	if htmlTagPattern.MatchString(text) {
		return errors.New("content contains html tags")
	}
	if markdownHeaderPattern.MatchString(text) {
		return errors.New("content contains markdown headers")
	}
	if codeFencePattern.MatchString(text) {
		return errors.New("content contains code fences")
	}
	if boilerplatePattern.MatchString(text) {
		return errors.New("content is placeholder boilerplate")
	}
	return nil
}

// injectable reports whether generated text can be placed into this block
// type. Only run-bearing blocks accept injection.
func injectable(t domain.BlockType) bool {
	return t == domain.BlockParagraph || t == domain.BlockHeading
}

// injectedBlock replaces the block's runs with a single plain run of the
// generated text, keeping the block's identity, position and paragraph
// formatting intact.
func (a *Assembler) injectedBlock(block *domain.Block, section *domain.Section, text string) domain.AssembledBlock {
	out := *block
	out.Runs = []domain.TextRun{{Text: text}}
	return domain.AssembledBlock{
		Block:         out,
		SectionID:     section.ID,
		IsDynamic:     true,
		WasModified:   true,
		OriginalHash:  block.ContentHash(),
		AssembledHash: out.ContentHash(),
	}
}

// preservedBlock carries a model block into the artifact untouched.
func preservedBlock(block *domain.Block, section *domain.Section) domain.AssembledBlock {
	hash := block.ContentHash()
	return domain.AssembledBlock{
		Block:         *block,
		SectionID:     section.ID,
		IsDynamic:     section.Dynamic(),
		WasModified:   false,
		OriginalHash:  hash,
		AssembledHash: hash,
	}
}

// finalize computes the artifact hash and runs the structural integrity
// check. A violation discards the assembly; no version is stored.
func (a *Assembler) finalize(artifact *domain.AssembledDocument, bundle *versionBundle) error {
	artifact.FinalHash = artifact.ComputeFinalHash()
	sections := make([]domain.Section, len(bundle.sections))
	for i, s := range bundle.sections {
		sections[i] = *s
	}
	if err := artifact.ValidateAgainst(bundle.model, sections); err != nil {
		a.logger.Error("assembly failed integrity validation",
			"document_id", artifact.DocumentID,
			"template_version_id", artifact.TemplateVersionID,
			"error", err,
		)
		return err
	}
	return nil
}

// loadBundle fetches the template version, its parsed model and its
// section set. Only READY versions can be assembled from.
func (a *Assembler) loadBundle(ctx context.Context, templateVersionID string) (*versionBundle, error) {
	version, err := a.templates.GetVersion(ctx, templateVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template version: %w", err)
	}
	if !version.Ready() {
		return nil, fmt.Errorf("%w: template version %s is %s", domain.ErrNotReady, version.ID, version.State)
	}

	raw, err := a.blobs.Get(ctx, version.ParsedModelRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read parsed model: %w", err)
	}
	model, err := domain.DecodeParsedModel(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode parsed model: %w", err)
	}

	sections, err := a.templates.ListSections(ctx, version.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}

	byPath := make(map[string]*domain.Section, len(sections))
	for _, s := range sections {
		byPath[s.Path] = s
	}

	return &versionBundle{
		version:  version,
		model:    model,
		sections: sections,
		byPath:   byPath,
	}, nil
}

// loadArtifact reads and decodes a stored assembled document.
func (a *Assembler) loadArtifact(ctx context.Context, ref string) (*domain.AssembledDocument, error) {
	raw, err := a.blobs.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	artifact, err := domain.DecodeAssembledDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return artifact, nil
}

// storeVersion persists the artifact blob and its version row, advancing
// the document's current version pointer in the same store transaction.
func (a *Assembler) storeVersion(ctx context.Context, doc *domain.Document, artifact *domain.AssembledDocument, meta domain.GenerationMetadata, rebind string) (*domain.DocumentVersion, error) {
	encoded, err := artifact.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}
	ref, err := a.blobs.Put(ctx, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	meta.FinalHash = artifact.FinalHash
	version := domain.NewDocumentVersion(doc.ID, ref, meta)
	if err := a.documents.CreateVersion(ctx, version, rebind); err != nil {
		return nil, fmt.Errorf("failed to persist document version: %w", err)
	}

	a.logger.Info("document version assembled",
		"document_id", doc.ID,
		"version_number", version.VersionNumber,
		"generated", len(meta.GeneratedPaths),
		"carried", len(meta.CarriedPaths),
		"final_hash", artifact.FinalHash,
	)
	return version, nil
}

// samePrompt reports whether two prompt configurations are equivalent for
// carry-forward purposes.
func samePrompt(a, b *domain.PromptConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Instruction == b.Instruction && a.MaxLength == b.MaxLength
}
