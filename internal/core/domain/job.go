package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the kind of pipeline work a job carries
type JobType string

const (
	// JobTypeParse converts an uploaded template version into its structural model
	JobTypeParse JobType = "PARSE"
	// JobTypeClassify labels the parsed blocks of a template version static or dynamic
	JobTypeClassify JobType = "CLASSIFY"
	// JobTypeGenerate produces the first document version for a new document
	JobTypeGenerate JobType = "GENERATE"
	// JobTypeRegenerateSection regenerates a single dynamic section of a document
	JobTypeRegenerateSection JobType = "REGENERATE_SECTION"
	// JobTypeRegenerateDocument regenerates a whole document, optionally against a new template version
	JobTypeRegenerateDocument JobType = "REGENERATE_DOCUMENT"
)

// JobTypes lists every job type the pipeline dispatches.
var JobTypes = []JobType{
	JobTypeParse,
	JobTypeClassify,
	JobTypeGenerate,
	JobTypeRegenerateSection,
	JobTypeRegenerateDocument,
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeParse, JobTypeClassify, JobTypeGenerate, JobTypeRegenerateSection, JobTypeRegenerateDocument:
		return true
	}
	return false
}

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status can never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one unit of asynchronous pipeline work. The payload is immutable
// input captured at enqueue time; the result is set exactly once on success.
// Jobs reference templates and documents by id only.
type Job struct {
	// ID is the unique identifier for this job
	ID string `json:"id"`

	// Type identifies what kind of job this is
	Type JobType `json:"type"`

	// Payload contains the job-type-specific input, encoded as JSON.
	// Decode it with the matching payload struct for Type.
	Payload json.RawMessage `json:"payload"`

	// Result contains the job-type-specific output, set on completion
	Result json.RawMessage `json:"result,omitempty"`

	// Status is the current state of the job
	Status JobStatus `json:"status"`

	// Error contains the failure message if the job failed
	Error string `json:"error,omitempty"`

	// ClaimedBy is the identity of the worker that holds the claim
	ClaimedBy string `json:"claimed_by,omitempty"`

	// CreatedAt is when the job was enqueued
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the job was last modified
	UpdatedAt time.Time `json:"updated_at"`

	// StartedAt is when the claim was taken (nil while pending)
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal state
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// LeaseExpiresAt is when the current claim stops being valid.
	// A RUNNING job whose lease has expired is claimable again.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// NewJob creates a PENDING job carrying the given payload.
func NewJob(jobType JobType, payload any) (*Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrValidation, jobType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   raw,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Claimable reports whether the job can be handed to a worker at the given
// instant: either PENDING, or RUNNING with an expired lease.
func (j *Job) Claimable(now time.Time) bool {
	if j.Status == JobStatusPending {
		return true
	}
	if j.Status == JobStatusRunning && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
		return true
	}
	return false
}

// MarkRunning records a successful claim by workerID with a lease of the
// given duration.
func (j *Job) MarkRunning(workerID string, lease time.Duration) {
	now := time.Now().UTC()
	expires := now.Add(lease)
	j.Status = JobStatusRunning
	j.ClaimedBy = workerID
	j.StartedAt = &now
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
}

// MarkCompleted records the result and moves the job to COMPLETED.
func (j *Job) MarkCompleted(result json.RawMessage) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.Result = result
	j.Error = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed records the failure message and moves the job to FAILED.
// FAILED is terminal; the pipeline never retries automatically.
func (j *Job) MarkFailed(errMsg string) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// ParsePayload is the input for a PARSE job.
type ParsePayload struct {
	TemplateVersionID string `json:"template_version_id"`
}

// ParseResult is the output of a successful PARSE job.
type ParseResult struct {
	ParsedModelRef string `json:"parsed_model_ref"`
	ContentHash    string `json:"content_hash"`
}

// ClassifyPayload is the input for a CLASSIFY job.
type ClassifyPayload struct {
	TemplateVersionID string `json:"template_version_id"`
}

// ClassifyResult is the output of a successful CLASSIFY job.
type ClassifyResult struct {
	SectionCount int `json:"section_count"`
	StaticCount  int `json:"static_count"`
	DynamicCount int `json:"dynamic_count"`
}

// GeneratePayload is the input for a GENERATE job.
type GeneratePayload struct {
	TemplateVersionID string `json:"template_version_id"`
	DocumentID        string `json:"document_id"`
}

// RegenerateSectionPayload is the input for a REGENERATE_SECTION job.
type RegenerateSectionPayload struct {
	DocumentID  string `json:"document_id"`
	SectionPath string `json:"section_path"`
}

// RegenerateDocumentPayload is the input for a REGENERATE_DOCUMENT job.
// TemplateVersionID may point at a newer version than the document is
// bound to; the job rebinds the document on success.
type RegenerateDocumentPayload struct {
	DocumentID        string `json:"document_id"`
	TemplateVersionID string `json:"template_version_id"`
}

// GenerateResult is the output of GENERATE and both REGENERATE job types.
type GenerateResult struct {
	DocumentVersionID string `json:"document_version_id"`
	VersionNumber     int    `json:"version_number"`
}

// NewParseJob creates the PARSE job for a freshly uploaded template version.
func NewParseJob(templateVersionID string) (*Job, error) {
	return NewJob(JobTypeParse, ParsePayload{TemplateVersionID: templateVersionID})
}

// NewClassifyJob creates the CLASSIFY job that follows a completed parse.
func NewClassifyJob(templateVersionID string) (*Job, error) {
	return NewJob(JobTypeClassify, ClassifyPayload{TemplateVersionID: templateVersionID})
}

// NewGenerateJob creates the GENERATE job for a newly created document.
func NewGenerateJob(templateVersionID, documentID string) (*Job, error) {
	return NewJob(JobTypeGenerate, GeneratePayload{
		TemplateVersionID: templateVersionID,
		DocumentID:        documentID,
	})
}

// NewRegenerateSectionJob creates a surgical single-section regeneration job.
func NewRegenerateSectionJob(documentID, sectionPath string) (*Job, error) {
	return NewJob(JobTypeRegenerateSection, RegenerateSectionPayload{
		DocumentID:  documentID,
		SectionPath: sectionPath,
	})
}

// NewRegenerateDocumentJob creates a full-document regeneration job.
func NewRegenerateDocumentJob(documentID, templateVersionID string) (*Job, error) {
	return NewJob(JobTypeRegenerateDocument, RegenerateDocumentPayload{
		DocumentID:        documentID,
		TemplateVersionID: templateVersionID,
	})
}

// DecodePayload unmarshals the job payload into dst, which must be the
// payload struct matching the job type.
func (j *Job) DecodePayload(dst any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("%w: job %s has no payload", ErrValidation, j.ID)
	}
	if err := json.Unmarshal(j.Payload, dst); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrValidation, j.Type, err)
	}
	return nil
}

// EncodeResult marshals a typed result for MarkCompleted.
func EncodeResult(result any) (json.RawMessage, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}
