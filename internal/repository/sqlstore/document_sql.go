package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"coachdocs/internal/model"
	"coachdocs/internal/repository"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const documentColumns = `id, coachee_id, name, type, encoded_payload, resource_url, upload_date, size, format`

// DocumentSQL implements repository.DocumentRepository on database/sql.
// The queries are portable between SQLite and PostgreSQL. Record uniqueness is
// left to the engine's UNIQUE constraint on id.
type DocumentSQL struct {
	db *sql.DB
}

// NewDocumentSQL creates a new DocumentSQL repository over an already migrated db.
func NewDocumentSQL(db *sql.DB) *DocumentSQL {
	return &DocumentSQL{db: db}
}

var _ repository.DocumentRepository = (*DocumentSQL)(nil)

// Put inserts a new document row.
func (r *DocumentSQL) Put(ctx context.Context, doc *model.Document) (string, error) {
	if err := repository.Validate(doc); err != nil {
		return "", err
	}
	const q = `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, q,
		doc.ID,
		doc.CoacheeID,
		doc.Name,
		doc.Type,
		doc.EncodedPayload,
		doc.ResourceURL,
		doc.UploadDate,
		doc.Size,
		doc.Format,
	)
	if err != nil {
		if isDuplicate(err) {
			return "", fmt.Errorf("%w: %s", repository.ErrDuplicateKey, doc.ID)
		}
		return "", err
	}
	return doc.ID, nil
}

// Get fetches a single document by its ID.
func (r *DocumentSQL) Get(ctx context.Context, id string) (*model.Document, bool, error) {
	const q = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1
	`
	d, err := scanDocument(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return d, true, nil
}

// ListByOwner returns the documents of a coachee through idx_documents_coachee_id.
func (r *DocumentSQL) ListByOwner(ctx context.Context, coacheeID string) ([]model.Document, error) {
	const q = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE coachee_id = $1
		ORDER BY seq
	`
	return r.list(ctx, q, coacheeID)
}

// ListByType returns the documents of one category through idx_documents_type.
func (r *DocumentSQL) ListByType(ctx context.Context, docType string) ([]model.Document, error) {
	const q = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE type = $1
		ORDER BY seq
	`
	return r.list(ctx, q, docType)
}

// Remove deletes a document by ID. It does not return an error if the row does not exist.
func (r *DocumentSQL) Remove(ctx context.Context, id string) error {
	const q = `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// Count returns the number of stored documents.
func (r *DocumentSQL) Count(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM documents`
	var total int
	if err := r.db.QueryRowContext(ctx, q).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *DocumentSQL) list(ctx context.Context, q string, arg string) ([]model.Document, error) {
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*model.Document, error) {
	var d model.Document
	if err := s.Scan(
		&d.ID,
		&d.CoacheeID,
		&d.Name,
		&d.Type,
		&d.EncodedPayload,
		&d.ResourceURL,
		&d.UploadDate,
		&d.Size,
		&d.Format,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func isDuplicate(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
