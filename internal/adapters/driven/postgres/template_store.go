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
var _ driven.TemplateStore = (*TemplateStore)(nil)

// TemplateStore implements driven.TemplateStore using PostgreSQL. Pipeline
// transitions are conditional UPDATEs guarded by the current state; a guard
// that no longer holds reports applied=false so replayed jobs stay no-ops.
// Transition-coupled job inserts share the transition's transaction.
type TemplateStore struct {
	db *DB
}

// NewTemplateStore creates a new TemplateStore
func NewTemplateStore(db *DB) *TemplateStore {
	return &TemplateStore{db: db}
}

func (s *TemplateStore) CreateTemplate(ctx context.Context, template *domain.Template) error {
	query := `
		INSERT INTO templates (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query,
		template.ID, template.Name, template.CreatedAt, template.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *TemplateStore) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	query := `SELECT id, name, created_at, updated_at FROM templates WHERE id = $1`

	var tpl domain.Template
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&tpl.ID, &tpl.Name, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	return &tpl, nil
}

func (s *TemplateStore) ListTemplates(ctx context.Context) ([]*domain.Template, error) {
	query := `SELECT id, name, created_at, updated_at FROM templates ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*domain.Template
	for rows.Next() {
		var tpl domain.Template
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, &tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// CreateVersion allocates the next version number under a lock on the
// template row, so concurrent uploads of the same template serialize and
// the sequence stays gapless. The version insert and the parse job insert
// commit together.
func (s *TemplateStore) CreateVersion(ctx context.Context, version *domain.TemplateVersion, parseJob *domain.Job) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var templateID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM templates WHERE id = $1 FOR UPDATE`,
			version.TemplateID,
		).Scan(&templateID)
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock template: %w", err)
		}

		var next int
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version_number), 0) + 1 FROM template_versions WHERE template_id = $1`,
			version.TemplateID,
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("allocate version number: %w", err)
		}
		version.VersionNumber = next

		insertQuery := `
			INSERT INTO template_versions (
				id, template_id, version_number, source_ref, parsed_model_ref,
				content_hash, state, parsing_status, parsing_error, parsed_at,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		_, err = tx.ExecContext(ctx, insertQuery,
			version.ID,
			version.TemplateID,
			version.VersionNumber,
			version.SourceRef,
			version.ParsedModelRef,
			version.ContentHash,
			version.State,
			version.ParsingStatus,
			version.ParsingError,
			NullTime(version.ParsedAt),
			version.CreatedAt,
			version.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}

		if parseJob != nil {
			if err := insertJobTx(ctx, tx, parseJob); err != nil {
				return err
			}
		}
		return nil
	})
}

const versionColumns = `id, template_id, version_number, source_ref, parsed_model_ref,
	   content_hash, state, parsing_status, parsing_error, parsed_at,
	   created_at, updated_at`

func (s *TemplateStore) GetVersion(ctx context.Context, id string) (*domain.TemplateVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM template_versions WHERE id = $1`
	v, err := scanVersion(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

func (s *TemplateStore) GetVersionByHash(ctx context.Context, templateID, contentHash string) (*domain.TemplateVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM template_versions
		WHERE template_id = $1 AND content_hash = $2
		ORDER BY version_number DESC
		LIMIT 1
	`
	v, err := scanVersion(s.db.QueryRowContext(ctx, query, templateID, contentHash))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query version by hash: %w", err)
	}
	return v, nil
}

func (s *TemplateStore) ListVersions(ctx context.Context, templateID string) ([]*domain.TemplateVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM template_versions
		WHERE template_id = $1
		ORDER BY version_number DESC
	`
	rows, err := s.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.TemplateVersion
	for rows.Next() {
		v, err := scanVersion(rows)
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

// MarkParsing is idempotent: only the first call moves the version out of
// NOT_STARTED, later calls find the guard gone and change nothing.
func (s *TemplateStore) MarkParsing(ctx context.Context, versionID string) error {
	query := `
		UPDATE template_versions
		SET state = $1, parsing_status = $2, updated_at = $3
		WHERE id = $4 AND state = $5
	`
	result, err := s.db.ExecContext(ctx, query,
		domain.VersionStateParsing, domain.ParsingInProgress, time.Now().UTC(),
		versionID, domain.VersionStateNotStarted)
	if err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	return s.versionExists(ctx, versionID)
}

func (s *TemplateStore) CompleteParse(ctx context.Context, versionID, parsedModelRef string, classifyJob *domain.Job) (bool, error) {
	applied := false
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `
			UPDATE template_versions
			SET parsed_model_ref = $1, parsing_status = $2, parsed_at = $3,
			    state = $4, updated_at = $3
			WHERE id = $5 AND state = $6
		`
		result, err := tx.ExecContext(ctx, query,
			parsedModelRef, domain.ParsingCompleted, now,
			domain.VersionStateClassifying, versionID, domain.VersionStateParsing)
		if err != nil {
			return fmt.Errorf("update version: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return s.versionExistsTx(ctx, tx, versionID)
		}
		applied = true

		if classifyJob != nil {
			if err := insertJobTx(ctx, tx, classifyJob); err != nil {
				return err
			}
		}
		return nil
	})
	return applied, err
}

func (s *TemplateStore) FailParse(ctx context.Context, versionID, errMsg string) (bool, error) {
	return s.fail(ctx, versionID, errMsg, domain.VersionStateParsing, true)
}

func (s *TemplateStore) FailClassify(ctx context.Context, versionID, errMsg string) (bool, error) {
	return s.fail(ctx, versionID, errMsg, domain.VersionStateClassifying, false)
}

func (s *TemplateStore) fail(ctx context.Context, versionID, errMsg string, guard domain.TemplateVersionState, parseStage bool) (bool, error) {
	var query string
	var args []any
	now := time.Now().UTC()
	if parseStage {
		query = `
			UPDATE template_versions
			SET state = $1, parsing_error = $2, parsing_status = $3, updated_at = $4
			WHERE id = $5 AND state = $6
		`
		args = []any{domain.VersionStateFailed, errMsg, domain.ParsingFailed, now, versionID, guard}
	} else {
		query = `
			UPDATE template_versions
			SET state = $1, parsing_error = $2, updated_at = $3
			WHERE id = $4 AND state = $5
		`
		args = []any{domain.VersionStateFailed, errMsg, now, versionID, guard}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update version: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return false, s.versionExists(ctx, versionID)
	}
	return true, nil
}

// CompleteClassify persists the section set and marks the version READY in
// one transaction. The state guard means the set is written exactly once;
// a replayed classify job observes applied=false and inserts nothing.
func (s *TemplateStore) CompleteClassify(ctx context.Context, versionID string, sections []*domain.Section) (bool, error) {
	applied := false
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE template_versions
			SET state = $1, updated_at = $2
			WHERE id = $3 AND state = $4
		`
		result, err := tx.ExecContext(ctx, query,
			domain.VersionStateReady, time.Now().UTC(), versionID, domain.VersionStateClassifying)
		if err != nil {
			return fmt.Errorf("update version: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return s.versionExistsTx(ctx, tx, versionID)
		}
		applied = true

		insertQuery := `
			INSERT INTO sections (
				id, template_version_id, path, sequence, block_id, block_type,
				type, classification, prompt, content_hash, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		stmt, err := tx.PrepareContext(ctx, insertQuery)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, section := range sections {
			classificationJSON, err := json.Marshal(section.Classification)
			if err != nil {
				return fmt.Errorf("marshal classification for %s: %w", section.Path, err)
			}
			var promptJSON any
			if section.Prompt != nil {
				raw, err := json.Marshal(section.Prompt)
				if err != nil {
					return fmt.Errorf("marshal prompt for %s: %w", section.Path, err)
				}
				promptJSON = raw
			}

			_, err = stmt.ExecContext(ctx,
				section.ID,
				section.TemplateVersionID,
				section.Path,
				section.Sequence,
				section.BlockID,
				section.BlockType,
				section.Type,
				classificationJSON,
				promptJSON,
				section.ContentHash,
				section.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert section %s: %w", section.Path, err)
			}
		}
		return nil
	})
	return applied, err
}

const sectionColumns = `id, template_version_id, path, sequence, block_id, block_type,
	   type, classification, prompt, content_hash, created_at`

func (s *TemplateStore) ListSections(ctx context.Context, versionID string) ([]*domain.Section, error) {
	query := `
		SELECT ` + sectionColumns + `
		FROM sections
		WHERE template_version_id = $1
		ORDER BY sequence ASC
	`
	rows, err := s.db.QueryContext(ctx, query, versionID)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	var sections []*domain.Section
	for rows.Next() {
		section, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, section)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return sections, nil
}

func (s *TemplateStore) GetSectionByPath(ctx context.Context, versionID, path string) (*domain.Section, error) {
	query := `
		SELECT ` + sectionColumns + `
		FROM sections
		WHERE template_version_id = $1 AND path = $2
	`
	section, err := scanSection(s.db.QueryRowContext(ctx, query, versionID, path))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query section: %w", err)
	}
	return section, nil
}

// versionExists resolves a zero-row conditional update: ErrNotFound when
// the version is missing, nil when it exists but the guard failed.
func (s *TemplateStore) versionExists(ctx context.Context, versionID string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM template_versions WHERE id = $1)", versionID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

func (s *TemplateStore) versionExistsTx(ctx context.Context, tx *sql.Tx, versionID string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM template_versions WHERE id = $1)", versionID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

// insertJobTx enqueues a job inside a store transaction, so entity
// transitions and their downstream jobs commit or roll back together.
func insertJobTx(ctx context.Context, tx *sql.Tx, job *domain.Job) error {
	payload := job.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	query := `
		INSERT INTO jobs (id, type, payload, status, error, claimed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.ExecContext(ctx, query,
		job.ID, job.Type, []byte(payload), job.Status, job.Error, job.ClaimedBy,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func scanVersion(row rowScanner) (*domain.TemplateVersion, error) {
	var v domain.TemplateVersion
	var parsedAt sql.NullTime

	err := row.Scan(
		&v.ID,
		&v.TemplateID,
		&v.VersionNumber,
		&v.SourceRef,
		&v.ParsedModelRef,
		&v.ContentHash,
		&v.State,
		&v.ParsingStatus,
		&v.ParsingError,
		&parsedAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parsedAt.Valid {
		v.ParsedAt = &parsedAt.Time
	}
	return &v, nil
}

func scanSection(row rowScanner) (*domain.Section, error) {
	var section domain.Section
	var classificationJSON, promptJSON []byte

	err := row.Scan(
		&section.ID,
		&section.TemplateVersionID,
		&section.Path,
		&section.Sequence,
		&section.BlockID,
		&section.BlockType,
		&section.Type,
		&classificationJSON,
		&promptJSON,
		&section.ContentHash,
		&section.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(classificationJSON) > 0 {
		if err := json.Unmarshal(classificationJSON, &section.Classification); err != nil {
			return nil, fmt.Errorf("unmarshal classification: %w", err)
		}
	}
	if len(promptJSON) > 0 {
		section.Prompt = &domain.PromptConfig{}
		if err := json.Unmarshal(promptJSON, section.Prompt); err != nil {
			return nil, fmt.Errorf("unmarshal prompt: %w", err)
		}
	}
	return &section, nil
}
