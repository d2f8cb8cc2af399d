package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the pipeline.
const (
	AuditTemplateCreated        = "template_created"
	AuditTemplateVersionCreated = "template_version_created"
	AuditParseCompleted         = "parse_completed"
	AuditParseFailed            = "parse_failed"
	AuditClassifyCompleted      = "classify_completed"
	AuditClassifyFailed         = "classify_failed"
	AuditDocumentCreated        = "document_created"
	AuditVersionCreated         = "document_version_created"
	AuditRegenerationTriggered  = "regeneration_triggered"
	AuditJobCancelled           = "job_cancelled"
	AuditJobRetried             = "job_retried"
)

// AuditEntry is one append-only record of a pipeline-visible change.
// Audit writes are best-effort and never fail the operation they describe.
type AuditEntry struct {
	ID         string            `json:"id"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Action     string            `json:"action"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewAuditEntry creates an audit record for one entity action.
func NewAuditEntry(entityType, entityID, action string, metadata map[string]string) *AuditEntry {
	return &AuditEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}
