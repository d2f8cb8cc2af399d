package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements driven.DocumentStore using PostgreSQL.
// Document versions are immutable rows; the documents row carries the
// current_version pointer and is the only thing that changes.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// CreateDocument persists the document and its initial GENERATE job in one
// transaction, so a stored document always has its generation queued.
func (s *DocumentStore) CreateDocument(ctx context.Context, document *domain.Document, generateJob *domain.Job) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		contextJSON, err := json.Marshal(document.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}

		query := `
			INSERT INTO documents (id, template_version_id, name, current_version, context, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err = tx.ExecContext(ctx, query,
			document.ID,
			document.TemplateVersionID,
			document.Name,
			document.CurrentVersion,
			contextJSON,
			document.CreatedAt,
			document.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}

		if generateJob != nil {
			if err := insertJobTx(ctx, tx, generateJob); err != nil {
				return err
			}
		}
		return nil
	})
}

const documentColumns = `id, template_version_id, name, current_version, context, created_at, updated_at`

func (s *DocumentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

func (s *DocumentStore) ListByTemplateVersion(ctx context.Context, templateVersionID string) ([]*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE template_version_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, templateVersionID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// CreateVersion allocates the next version number under a lock on the
// document row, inserts the immutable version, and advances the
// current_version pointer, optionally rebinding the document to a new
// template version. All of it commits together.
func (s *DocumentStore) CreateVersion(ctx context.Context, version *domain.DocumentVersion, rebindTemplateVersionID string) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx,
			`SELECT current_version FROM documents WHERE id = $1 FOR UPDATE`,
			version.DocumentID,
		).Scan(&current)
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		version.VersionNumber = current + 1

		metadataJSON, err := json.Marshal(version.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		insertQuery := `
			INSERT INTO document_versions (id, document_id, version_number, output_ref, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err = tx.ExecContext(ctx, insertQuery,
			version.ID,
			version.DocumentID,
			version.VersionNumber,
			version.OutputRef,
			metadataJSON,
			version.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}

		now := time.Now().UTC()
		if rebindTemplateVersionID != "" {
			_, err = tx.ExecContext(ctx,
				`UPDATE documents SET current_version = $1, template_version_id = $2, updated_at = $3 WHERE id = $4`,
				version.VersionNumber, rebindTemplateVersionID, now, version.DocumentID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE documents SET current_version = $1, updated_at = $2 WHERE id = $3`,
				version.VersionNumber, now, version.DocumentID)
		}
		if err != nil {
			return fmt.Errorf("advance current version: %w", err)
		}
		return nil
	})
}

const documentVersionColumns = `id, document_id, version_number, output_ref, metadata, created_at`

func (s *DocumentStore) GetVersion(ctx context.Context, documentID string, versionNumber int) (*domain.DocumentVersion, error) {
	query := `
		SELECT ` + documentVersionColumns + `
		FROM document_versions
		WHERE document_id = $1 AND version_number = $2
	`
	v, err := scanDocumentVersion(s.db.QueryRowContext(ctx, query, documentID, versionNumber))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

// GetCurrentVersion resolves the document's current_version pointer.
// A pointer of 0 means nothing has been generated yet.
func (s *DocumentStore) GetCurrentVersion(ctx context.Context, documentID string) (*domain.DocumentVersion, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.CurrentVersion == 0 {
		return nil, domain.ErrNoVersion
	}
	return s.GetVersion(ctx, documentID, doc.CurrentVersion)
}

func (s *DocumentStore) ListVersions(ctx context.Context, documentID string) ([]*domain.DocumentVersion, error) {
	query := `
		SELECT ` + documentVersionColumns + `
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version_number DESC
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.DocumentVersion
	for rows.Next() {
		v, err := scanDocumentVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var contextJSON []byte

	err := row.Scan(
		&doc.ID,
		&doc.TemplateVersionID,
		&doc.Name,
		&doc.CurrentVersion,
		&contextJSON,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &doc.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &doc, nil
}

func scanDocumentVersion(row rowScanner) (*domain.DocumentVersion, error) {
	var v domain.DocumentVersion
	var metadataJSON []byte

	err := row.Scan(
		&v.ID,
		&v.DocumentID,
		&v.VersionNumber,
		&v.OutputRef,
		&metadataJSON,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &v.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &v, nil
}
