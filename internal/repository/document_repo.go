package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skytrack/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DocumentRepository interface {
	Create(ctx context.Context, userID, fileName string) (*model.Document, error)
	GetByID(ctx context.Context, id string) (*model.Document, error)
	SetStoragePath(ctx context.Context, id, path string) error
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus) error
	Complete(ctx context.Context, id, text string, pages int) error
	Fail(ctx context.Context, id, reason string) error
	// ListStale returns up to limit documents that have sat in status since
	// before olderThan, oldest first.
	ListStale(ctx context.Context, status model.DocumentStatus, olderThan time.Time, limit int) ([]*model.Document, error)
}

type documentRepo struct {
	pool *pgxpool.Pool
}

func NewDocumentRepo(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepo{pool: pool}
}

const documentColumns = `id, user_id, file_name, storage_path, status, extracted_text, page_count, error, created_at, updated_at, deleted_at`

func scanDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	if err := row.Scan(
		&d.ID, &d.UserID, &d.FileName, &d.StoragePath, &d.Status, &d.ExtractedText,
		&d.PageCount, &d.Error, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *documentRepo) Create(ctx context.Context, userID, fileName string) (*model.Document, error) {
	q := `INSERT INTO documents (user_id, file_name) VALUES ($1, $2) RETURNING ` + documentColumns
	d, err := scanDocument(r.pool.QueryRow(ctx, q, userID, fileName))
	if err != nil {
		return nil, fmt.Errorf("create document for user %s: %w", userID, err)
	}
	return d, nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND deleted_at IS NULL`
	d, err := scanDocument(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch document %s: %w", id, err)
	}
	return d, nil
}

func (r *documentRepo) SetStoragePath(ctx context.Context, id, path string) error {
	const q = `UPDATE documents SET storage_path = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, path); err != nil {
		return fmt.Errorf("set storage path for document %s: %w", id, err)
	}
	return nil
}

func (r *documentRepo) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	const q = `UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, status); err != nil {
		return fmt.Errorf("update status for document %s: %w", id, err)
	}
	return nil
}

func (r *documentRepo) Complete(ctx context.Context, id, text string, pages int) error {
	const q = `
        UPDATE documents
        SET status = 'complete', extracted_text = $2, page_count = $3, error = NULL, updated_at = NOW()
        WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, text, pages); err != nil {
		return fmt.Errorf("complete document %s: %w", id, err)
	}
	return nil
}

func (r *documentRepo) Fail(ctx context.Context, id, reason string) error {
	const q = `UPDATE documents SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, reason); err != nil {
		return fmt.Errorf("fail document %s: %w", id, err)
	}
	return nil
}

func (r *documentRepo) ListStale(ctx context.Context, status model.DocumentStatus, olderThan time.Time, limit int) ([]*model.Document, error) {
	q := `SELECT ` + documentColumns + `
        FROM documents
        WHERE status = $1 AND updated_at < $2 AND deleted_at IS NULL
        ORDER BY updated_at
        LIMIT $3`
	rows, err := r.pool.Query(ctx, q, status, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale %s documents: %w", status, err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
