package features

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/drafterhq/drafter-core/internal/adapters/driven/blob"
	"github.com/drafterhq/drafter-core/internal/adapters/driven/classify"
	"github.com/drafterhq/drafter-core/internal/adapters/driven/docparse"
	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven/mocks"
	"github.com/drafterhq/drafter-core/internal/core/ports/driving"
	"github.com/drafterhq/drafter-core/internal/core/services"
)

func TestPipelineFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"."},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("feature suite failed")
	}
}

// InitializeScenario wires the step definitions against a world rebuilt
// before every scenario. The world runs the real pipeline, parser,
// classifier (rules only) and assembler over in-memory stores; only the
// content generator is a recording stand-in with deterministic output.
func InitializeScenario(sc *godog.ScenarioContext) {
	w := &pipelineWorld{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, w.reset(ctx)
	})

	sc.Step(`^a template named "([^"]*)"$`, w.createTemplate)
	sc.Step(`^I upload a version with blocks:$`, w.uploadVersionWithBlocks)
	sc.Step(`^I upload a version with unparseable bytes$`, w.uploadUnparseableVersion)
	sc.Step(`^I upload the same bytes again$`, w.uploadSameBytesAgain)
	sc.Step(`^the worker drains the queue$`, w.drainQueue)
	sc.Step(`^the template version state is "([^"]*)"$`, w.assertVersionState)
	sc.Step(`^the version has (\d+) static and (\d+) dynamic sections$`, w.assertSectionSplit)
	sc.Step(`^I create a document named "([^"]*)" with context:$`, w.createDocument)
	sc.Step(`^the document has (\d+) versions?$`, w.assertDocumentVersionCount)
	sc.Step(`^every static section matches the template text$`, w.assertStaticPreserved)
	sc.Step(`^every dynamic section carries generated content$`, w.assertDynamicGenerated)
	sc.Step(`^I regenerate the section "([^"]*)"$`, w.regenerateSection)
	sc.Step(`^version (\d+) changed only the section "([^"]*)"$`, w.assertOnlySectionChanged)
	sc.Step(`^regenerating the section "([^"]*)" is rejected because the section is static$`, w.assertRegenerateRejectedStatic)
	sc.Step(`^regenerating the section "([^"]*)" is rejected as unknown$`, w.assertRegenerateRejectedUnknown)
	sc.Step(`^the parse job is recorded as failed$`, w.assertParseJobFailed)
	sc.Step(`^creating a document named "([^"]*)" is rejected because the version is not ready$`, w.assertCreateRejectedNotReady)
	sc.Step(`^no new template version is created$`, w.assertNoNewVersion)
}

// pipelineWorld holds the assembled system and the entities the current
// scenario has created so far.
type pipelineWorld struct {
	jobs      *mocks.MockJobStore
	templates *mocks.MockTemplateStore
	documents *mocks.MockDocumentStore
	blobs     driven.BlobStore
	generator *mocks.MockContentGenerator

	pipeline    *services.Pipeline
	templateSvc driving.TemplateService
	documentSvc driving.DocumentService

	template *domain.Template
	version  *domain.TemplateVersion
	document *domain.Document

	uploaded []byte
	reupload *domain.TemplateVersion
	genSeq   int
}

func (w *pipelineWorld) reset(ctx context.Context) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w.jobs = mocks.NewMockJobStore()
	w.templates = mocks.NewMockTemplateStore(w.jobs)
	w.documents = mocks.NewMockDocumentStore(w.jobs)
	w.blobs = blob.NewMemory()
	w.genSeq = 0
	w.generator = &mocks.MockContentGenerator{
		GenerateFn: func(_ context.Context, req driven.GenerationRequest) (string, error) {
			w.genSeq++
			return fmt.Sprintf("Generated content %d for section %s.", w.genSeq, req.SectionPath), nil
		},
	}

	classifier, err := classify.NewClassifier(ctx, classify.Config{Logger: logger})
	if err != nil {
		return err
	}

	audit := mocks.NewMockAuditStore()
	assembler := services.NewAssembler(services.AssemblerConfig{
		Templates: w.templates,
		Documents: w.documents,
		Blobs:     w.blobs,
		Generator: w.generator,
		Logger:    logger,
	})
	w.pipeline = services.NewPipeline(services.PipelineConfig{
		Templates:  w.templates,
		Blobs:      w.blobs,
		Parser:     docparse.NewParser(),
		Classifier: classifier,
		Assembler:  assembler,
		Audit:      audit,
		Logger:     logger,
	})
	w.templateSvc = services.NewTemplateService(w.templates, w.blobs, audit, nil, logger)
	w.documentSvc = services.NewDocumentService(w.documents, w.templates, w.jobs, w.blobs, audit, nil, logger)

	w.template = nil
	w.version = nil
	w.document = nil
	w.uploaded = nil
	w.reupload = nil
	return nil
}

// Steps

func (w *pipelineWorld) createTemplate(ctx context.Context, name string) error {
	template, err := w.templateSvc.Create(ctx, name)
	if err != nil {
		return err
	}
	w.template = template
	return nil
}

func (w *pipelineWorld) uploadVersionWithBlocks(ctx context.Context, table *godog.Table) error {
	source, err := docxFromTable(table)
	if err != nil {
		return err
	}
	return w.upload(ctx, source)
}

func (w *pipelineWorld) uploadUnparseableVersion(ctx context.Context) error {
	return w.upload(ctx, []byte("this is not a word document"))
}

func (w *pipelineWorld) upload(ctx context.Context, source []byte) error {
	version, err := w.templateSvc.UploadVersion(ctx, w.template.ID, source)
	if err != nil {
		return err
	}
	w.version = version
	w.uploaded = source
	return nil
}

func (w *pipelineWorld) uploadSameBytesAgain(ctx context.Context) error {
	version, err := w.templateSvc.UploadVersion(ctx, w.template.ID, w.uploaded)
	if err != nil {
		return err
	}
	w.reupload = version
	return nil
}

// drainQueue runs claimed jobs to completion the way the worker does:
// execute, then record success or failure on the job. Failed jobs are
// expected in some scenarios, so execution errors land on the job instead
// of failing the step.
func (w *pipelineWorld) drainQueue(ctx context.Context) error {
	const workerID = "godog-worker"
	for {
		job, err := w.jobs.Claim(ctx, workerID)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		result, err := w.pipeline.Execute(ctx, job)
		if err != nil {
			if failErr := w.jobs.Fail(ctx, job.ID, workerID, err.Error()); failErr != nil {
				return failErr
			}
			continue
		}
		if err := w.jobs.Complete(ctx, job.ID, workerID, result); err != nil {
			return err
		}
	}
}

func (w *pipelineWorld) assertVersionState(ctx context.Context, state string) error {
	version, err := w.templateSvc.GetVersion(ctx, w.version.ID)
	if err != nil {
		return err
	}
	if string(version.State) != state {
		return fmt.Errorf("template version state is %s, expected %s", version.State, state)
	}
	return nil
}

func (w *pipelineWorld) assertSectionSplit(ctx context.Context, staticCount, dynamicCount int) error {
	sections, err := w.templateSvc.ListSections(ctx, w.version.ID)
	if err != nil {
		return err
	}
	gotStatic, gotDynamic := 0, 0
	for _, s := range sections {
		if s.Dynamic() {
			gotDynamic++
		} else {
			gotStatic++
		}
	}
	if gotStatic != staticCount || gotDynamic != dynamicCount {
		return fmt.Errorf("sections split %d static / %d dynamic, expected %d / %d",
			gotStatic, gotDynamic, staticCount, dynamicCount)
	}
	return nil
}

func (w *pipelineWorld) createDocument(ctx context.Context, name string, table *godog.Table) error {
	docContext := make(map[string]string, len(table.Rows))
	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return fmt.Errorf("context table rows need exactly 2 cells, got %d", len(row.Cells))
		}
		docContext[row.Cells[0].Value] = row.Cells[1].Value
	}
	doc, err := w.documentSvc.Create(ctx, w.version.ID, name, docContext)
	if err != nil {
		return err
	}
	w.document = doc
	return nil
}

func (w *pipelineWorld) assertDocumentVersionCount(ctx context.Context, count int) error {
	versions, err := w.documentSvc.ListVersions(ctx, w.document.ID)
	if err != nil {
		return err
	}
	if len(versions) != count {
		return fmt.Errorf("document has %d versions, expected %d", len(versions), count)
	}
	return nil
}

func (w *pipelineWorld) assertStaticPreserved(ctx context.Context) error {
	artifact, err := w.documentSvc.GetCurrentArtifact(ctx, w.document.ID)
	if err != nil {
		return err
	}
	model, err := w.templateSvc.GetParsedModel(ctx, w.version.ID)
	if err != nil {
		return err
	}
	for i := range artifact.Blocks {
		got := &artifact.Blocks[i]
		if got.IsDynamic {
			continue
		}
		if got.WasModified {
			return fmt.Errorf("static block %s marked modified", got.Block.Path)
		}
		want := model.BlockAt(got.Block.Path)
		if want == nil {
			return fmt.Errorf("no model block at %s", got.Block.Path)
		}
		if got.Block.Text() != want.Text() {
			return fmt.Errorf("static block %s text changed: %q != %q",
				got.Block.Path, got.Block.Text(), want.Text())
		}
		if got.AssembledHash != want.ContentHash() {
			return fmt.Errorf("static block %s content hash drifted", got.Block.Path)
		}
	}
	return nil
}

func (w *pipelineWorld) assertDynamicGenerated(ctx context.Context) error {
	artifact, err := w.documentSvc.GetCurrentArtifact(ctx, w.document.ID)
	if err != nil {
		return err
	}
	dynamic := 0
	for i := range artifact.Blocks {
		got := &artifact.Blocks[i]
		if !got.IsDynamic {
			continue
		}
		dynamic++
		if !got.WasModified {
			return fmt.Errorf("dynamic block %s was not modified", got.Block.Path)
		}
		if !strings.HasPrefix(got.Block.Text(), "Generated content") {
			return fmt.Errorf("dynamic block %s carries unexpected text %q", got.Block.Path, got.Block.Text())
		}
	}
	if dynamic == 0 {
		return errors.New("artifact has no dynamic blocks")
	}
	// The document context travels all the way to the generator.
	for _, req := range w.generator.Requests() {
		if req.DocumentContext["client_name"] != w.document.Context["client_name"] {
			return fmt.Errorf("generator saw context %v, expected the document's %v",
				req.DocumentContext, w.document.Context)
		}
	}
	return nil
}

func (w *pipelineWorld) regenerateSection(ctx context.Context, path string) error {
	_, err := w.documentSvc.RegenerateSection(ctx, w.document.ID, path)
	return err
}

func (w *pipelineWorld) assertOnlySectionChanged(ctx context.Context, versionNumber int, path string) error {
	after, err := w.loadArtifact(ctx, versionNumber)
	if err != nil {
		return err
	}
	before, err := w.loadArtifact(ctx, versionNumber-1)
	if err != nil {
		return err
	}
	if len(after.Blocks) != len(before.Blocks) {
		return fmt.Errorf("block count changed from %d to %d", len(before.Blocks), len(after.Blocks))
	}
	for i := range after.Blocks {
		got, prior := &after.Blocks[i], &before.Blocks[i]
		if got.Block.Path != prior.Block.Path {
			return fmt.Errorf("block order changed at index %d: %s != %s", i, got.Block.Path, prior.Block.Path)
		}
		if got.Block.Path == path {
			if got.Block.Text() == prior.Block.Text() {
				return fmt.Errorf("target section %s content did not change", path)
			}
			continue
		}
		if got.AssembledHash != prior.AssembledHash || got.Block.Text() != prior.Block.Text() {
			return fmt.Errorf("untouched block %s changed across versions", got.Block.Path)
		}
	}

	current, err := w.documentSvc.GetVersion(ctx, w.document.ID, versionNumber)
	if err != nil {
		return err
	}
	if len(current.Metadata.GeneratedPaths) != 1 || current.Metadata.GeneratedPaths[0] != path {
		return fmt.Errorf("version %d generated paths = %v, expected only %s",
			versionNumber, current.Metadata.GeneratedPaths, path)
	}
	return nil
}

func (w *pipelineWorld) assertRegenerateRejectedStatic(ctx context.Context, path string) error {
	jobsBefore := len(w.jobs.Jobs())
	_, err := w.documentSvc.RegenerateSection(ctx, w.document.ID, path)
	if !errors.Is(err, domain.ErrInvalidSection) {
		return fmt.Errorf("expected an invalid section rejection, got %v", err)
	}
	if got := len(w.jobs.Jobs()); got != jobsBefore {
		return fmt.Errorf("rejected regeneration still enqueued a job (%d -> %d)", jobsBefore, got)
	}
	return nil
}

func (w *pipelineWorld) assertRegenerateRejectedUnknown(ctx context.Context, path string) error {
	jobsBefore := len(w.jobs.Jobs())
	_, err := w.documentSvc.RegenerateSection(ctx, w.document.ID, path)
	if !errors.Is(err, domain.ErrValidation) {
		return fmt.Errorf("expected a validation rejection, got %v", err)
	}
	if got := len(w.jobs.Jobs()); got != jobsBefore {
		return fmt.Errorf("rejected regeneration still enqueued a job (%d -> %d)", jobsBefore, got)
	}
	return nil
}

func (w *pipelineWorld) assertParseJobFailed(ctx context.Context) error {
	parseJobs := w.jobs.JobsOfType(domain.JobTypeParse)
	if len(parseJobs) != 1 {
		return fmt.Errorf("found %d parse jobs, expected 1", len(parseJobs))
	}
	job := parseJobs[0]
	if job.Status != domain.JobStatusFailed {
		return fmt.Errorf("parse job status is %s, expected FAILED", job.Status)
	}
	if job.Error == "" {
		return errors.New("failed parse job carries no error message")
	}
	return nil
}

func (w *pipelineWorld) assertCreateRejectedNotReady(ctx context.Context, name string) error {
	_, err := w.documentSvc.Create(ctx, w.version.ID, name, nil)
	if !errors.Is(err, domain.ErrNotReady) {
		return fmt.Errorf("expected a not-ready rejection, got %v", err)
	}
	return nil
}

func (w *pipelineWorld) assertNoNewVersion(ctx context.Context) error {
	if w.reupload.ID != w.version.ID {
		return fmt.Errorf("re-upload created version %s, expected existing %s", w.reupload.ID, w.version.ID)
	}
	versions, err := w.templateSvc.ListVersions(ctx, w.template.ID)
	if err != nil {
		return err
	}
	if len(versions) != 1 {
		return fmt.Errorf("template has %d versions, expected 1", len(versions))
	}
	if got := len(w.jobs.JobsOfType(domain.JobTypeParse)); got != 1 {
		return fmt.Errorf("found %d parse jobs, expected the original 1", got)
	}
	return nil
}

func (w *pipelineWorld) loadArtifact(ctx context.Context, versionNumber int) (*domain.AssembledDocument, error) {
	version, err := w.documentSvc.GetVersion(ctx, w.document.ID, versionNumber)
	if err != nil {
		return nil, err
	}
	raw, err := w.blobs.Get(ctx, version.OutputRef)
	if err != nil {
		return nil, err
	}
	return domain.DecodeAssembledDocument(raw)
}

// docxFromTable builds a minimal .docx container from a | type | text |
// table, so scenarios describe documents in plain terms while the real
// parser still sees real bytes.
func docxFromTable(table *godog.Table) ([]byte, error) {
	if len(table.Rows) < 2 {
		return nil, errors.New("blocks table needs a header row and at least one block")
	}
	var body strings.Builder
	for _, row := range table.Rows[1:] {
		if len(row.Cells) != 2 {
			return nil, fmt.Errorf("blocks table rows need exactly 2 cells, got %d", len(row.Cells))
		}
		text, err := escapeXML(row.Cells[1].Value)
		if err != nil {
			return nil, err
		}
		switch kind := row.Cells[0].Value; kind {
		case "heading":
			body.WriteString(`<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>` + text + `</w:t></w:r></w:p>`)
		case "paragraph":
			body.WriteString(`<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`)
		default:
			return nil, fmt.Errorf("unknown block kind %q", kind)
		}
	}

	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body>` + body.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("word/document.xml")
	if err != nil {
		return nil, err
	}
	if _, err := entry.Write([]byte(document)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func escapeXML(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
