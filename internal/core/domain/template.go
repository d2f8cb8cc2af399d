package domain

import (
	"time"

	"github.com/google/uuid"
)

// Template is a logical document family. Its identity is immutable and it
// is never deleted while versions reference it.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTemplate creates a template with a fresh id.
func NewTemplate(name string) *Template {
	now := time.Now().UTC()
	return &Template{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TemplateVersionState is the pipeline state machine position of one
// uploaded template version.
//
//	NOT_STARTED -> PARSING -> PARSED -> CLASSIFYING -> READY
//
// FAILED is absorbing, reachable from PARSING or CLASSIFYING.
type TemplateVersionState string

const (
	VersionStateNotStarted  TemplateVersionState = "NOT_STARTED"
	VersionStateParsing     TemplateVersionState = "PARSING"
	VersionStateParsed      TemplateVersionState = "PARSED"
	VersionStateClassifying TemplateVersionState = "CLASSIFYING"
	VersionStateReady       TemplateVersionState = "READY"
	VersionStateFailed      TemplateVersionState = "FAILED"
)

// ParsingStatus tracks the parse stage independently of the wider state
// machine, mirroring what callers polling an upload want to see.
type ParsingStatus string

const (
	ParsingNotStarted ParsingStatus = "NOT_STARTED"
	ParsingInProgress ParsingStatus = "IN_PROGRESS"
	ParsingCompleted  ParsingStatus = "COMPLETED"
	ParsingFailed     ParsingStatus = "FAILED"
)

// TemplateVersion is one uploaded .docx snapshot of a template.
// VersionNumber is monotonic and gapless per template, starting at 1.
// ParsedModelRef is set exactly once, at parse completion, and is
// immutable afterwards (content-addressed).
type TemplateVersion struct {
	ID             string               `json:"id"`
	TemplateID     string               `json:"template_id"`
	VersionNumber  int                  `json:"version_number"`
	SourceRef      string               `json:"source_ref"`
	ParsedModelRef string               `json:"parsed_model_ref,omitempty"`
	ContentHash    string               `json:"content_hash,omitempty"`
	State          TemplateVersionState `json:"state"`
	ParsingStatus  ParsingStatus        `json:"parsing_status"`
	ParsingError   string               `json:"parsing_error,omitempty"`
	ParsedAt       *time.Time           `json:"parsed_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// NewTemplateVersion creates an unparsed version snapshot. The caller is
// responsible for allocating VersionNumber atomically against the store.
func NewTemplateVersion(templateID, sourceRef, contentHash string) *TemplateVersion {
	now := time.Now().UTC()
	return &TemplateVersion{
		ID:            uuid.NewString(),
		TemplateID:    templateID,
		SourceRef:     sourceRef,
		ContentHash:   contentHash,
		State:         VersionStateNotStarted,
		ParsingStatus: ParsingNotStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Ready reports whether documents may be created against this version.
func (v *TemplateVersion) Ready() bool {
	return v.State == VersionStateReady
}

// Failed reports whether the version is in the absorbing failure state.
func (v *TemplateVersion) Failed() bool {
	return v.State == VersionStateFailed
}

// validTransitions encodes the forward edges of the state machine.
var validTransitions = map[TemplateVersionState][]TemplateVersionState{
	VersionStateNotStarted:  {VersionStateParsing},
	VersionStateParsing:     {VersionStateParsed, VersionStateFailed},
	VersionStateParsed:      {VersionStateClassifying},
	VersionStateClassifying: {VersionStateReady, VersionStateFailed},
}

// CanTransition reports whether the state machine permits moving to next.
func (v *TemplateVersion) CanTransition(next TemplateVersionState) bool {
	for _, s := range validTransitions[v.State] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves the version to next, returning ErrInvalidState when the
// edge does not exist. READY and FAILED are terminal.
func (v *TemplateVersion) Transition(next TemplateVersionState) error {
	if !v.CanTransition(next) {
		return ErrInvalidState
	}
	v.State = next
	v.UpdatedAt = time.Now().UTC()
	return nil
}
