package domain

import (
	"time"

	"github.com/google/uuid"
)

// Document is one generation target bound to a specific template version.
// CurrentVersion is 0 until the first GENERATE job completes.
type Document struct {
	ID                string            `json:"id"`
	TemplateVersionID string            `json:"template_version_id"`
	Name              string            `json:"name"`
	CurrentVersion    int               `json:"current_version"`
	Context           map[string]string `json:"context,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewDocument creates a document bound to a template version. Context
// carries document-level values handed to the content generator.
func NewDocument(templateVersionID, name string, context map[string]string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:                uuid.NewString(),
		TemplateVersionID: templateVersionID,
		Name:              name,
		CurrentVersion:    0,
		Context:           context,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// GenerationMetadata records the provenance of one document version: the
// job that produced it, which sections were generated fresh, which were
// carried forward, and the final content hash of the assembled artifact.
// JobID makes re-executed jobs detectable, so a reclaimed generation job
// returns the version it already produced instead of allocating another.
type GenerationMetadata struct {
	JobID             string    `json:"job_id"`
	TemplateVersionID string    `json:"template_version_id"`
	GeneratedPaths    []string  `json:"generated_paths,omitempty"`
	CarriedPaths      []string  `json:"carried_paths,omitempty"`
	TargetPath        string    `json:"target_path,omitempty"`
	FinalHash         string    `json:"final_hash"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
}

// DocumentVersion is one immutable generated artifact. Regeneration always
// creates a new version; prior versions are never mutated.
type DocumentVersion struct {
	ID            string             `json:"id"`
	DocumentID    string             `json:"document_id"`
	VersionNumber int                `json:"version_number"`
	OutputRef     string             `json:"output_ref"`
	Metadata      GenerationMetadata `json:"metadata"`
	CreatedAt     time.Time          `json:"created_at"`
}

// NewDocumentVersion creates a version record. The caller is responsible
// for allocating VersionNumber atomically against the store.
func NewDocumentVersion(documentID, outputRef string, meta GenerationMetadata) *DocumentVersion {
	return &DocumentVersion{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		OutputRef:  outputRef,
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}
}
