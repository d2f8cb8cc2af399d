package driven

import (
	"context"

	"github.com/drafterhq/drafter-core/internal/core/domain"
)

// AuditStore records the append-only trail of pipeline-visible changes.
// Writes are best-effort: callers log failures and move on.
type AuditStore interface {
	// Record appends one audit entry.
	Record(ctx context.Context, entry *domain.AuditEntry) error

	// ListByEntity retrieves the newest entries for one entity.
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*domain.AuditEntry, error)
}
