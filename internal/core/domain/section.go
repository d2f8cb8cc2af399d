package domain

import (
	"time"

	"github.com/google/uuid"
)

// SectionType labels a structural block as preserved or generated content.
type SectionType string

const (
	// SectionStatic content is preserved verbatim across generation
	SectionStatic SectionType = "STATIC"
	// SectionDynamic content is produced by the generation collaborator
	SectionDynamic SectionType = "DYNAMIC"
)

// ClassificationMethod records which stage of the classifier produced a label.
type ClassificationMethod string

const (
	ClassifiedByRule     ClassificationMethod = "rule"
	ClassifiedByLLM      ClassificationMethod = "llm"
	ClassifiedByFallback ClassificationMethod = "fallback"
)

// Classification is the confidence-scored label attached to a section.
type Classification struct {
	Method        ClassificationMethod `json:"method"`
	Confidence    float64              `json:"confidence"`
	Justification string               `json:"justification,omitempty"`
}

// PromptConfig is the generation configuration carried by dynamic sections.
type PromptConfig struct {
	// Instruction is the prompt handed to the content generator
	Instruction string `json:"instruction"`
	// MaxLength bounds the accepted output in characters (0 = default bound)
	MaxLength int `json:"max_length,omitempty"`
}

// Section is one classified structural block within a template version.
// The section set for a version is created exactly once, at classify
// completion, and is never mutated in place; a new template version gets
// a new section set.
type Section struct {
	ID                string         `json:"id"`
	TemplateVersionID string         `json:"template_version_id"`
	Path              string         `json:"path"`
	Sequence          int            `json:"sequence"`
	BlockID           string         `json:"block_id"`
	BlockType         BlockType      `json:"block_type"`
	Type              SectionType    `json:"type"`
	Classification    Classification `json:"classification"`
	Prompt            *PromptConfig  `json:"prompt,omitempty"`
	ContentHash       string         `json:"content_hash"`
	CreatedAt         time.Time      `json:"created_at"`
}

// NewSection builds a section for one labeled block.
func NewSection(templateVersionID string, block *Block, sectionType SectionType, c Classification) *Section {
	return &Section{
		ID:                uuid.NewString(),
		TemplateVersionID: templateVersionID,
		Path:              block.Path,
		Sequence:          block.Sequence,
		BlockID:           block.ID,
		BlockType:         block.Type,
		Type:              sectionType,
		Classification:    c,
		ContentHash:       block.ContentHash(),
		CreatedAt:         time.Now().UTC(),
	}
}

// Dynamic reports whether the section's content is generator-produced.
func (s *Section) Dynamic() bool {
	return s.Type == SectionDynamic
}

// SectionLabel is one entry of a classifier response, before sections are
// persisted. Paths address blocks in the parsed model.
type SectionLabel struct {
	Path          string               `json:"path"`
	Type          SectionType          `json:"type"`
	Confidence    float64              `json:"confidence"`
	Method        ClassificationMethod `json:"method"`
	Justification string               `json:"justification,omitempty"`
}
