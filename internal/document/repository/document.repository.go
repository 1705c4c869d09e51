package repository

import (
	"context"
	"database/sql"
	"errors"

	"docsync/internal/document/model"
	"docsync/pkg/logger"
)

// ErrNoDocument is returned by GetContent and UpdateContent when the row no longer
// exists.
var ErrNoDocument = model.ErrNoDocument

type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func (r *DocumentRepository) GetUser(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx, "SELECT id, username FROM users WHERE id = $1", userID).Scan(&u.ID, &u.Username)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get user %s: %v", userID, err)
	}
	return u, err
}

// GetDocument loads a document together with its share grants.
func (r *DocumentRepository) GetDocument(ctx context.Context, docID string) (model.Document, error) {
	var d model.Document
	var content sql.NullString
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, title, content, owner_id, updated_at FROM documents WHERE id = $1", docID,
	).Scan(&d.ID, &d.Title, &content, &d.OwnerID, &d.UpdatedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Sugar.Errorf("Failed to get doc %s: %v", docID, err)
		}
		return d, err
	}
	d.Content = content.String

	d.Shares, err = r.ListShares(ctx, docID)
	return d, err
}

func (r *DocumentRepository) ListShares(ctx context.Context, docID string) ([]model.ShareGrant, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, document_id, shared_with_id, can_edit, shared_at FROM document_shares WHERE document_id = $1 ORDER BY shared_at ASC", docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list shares for doc %s: %v", docID, err)
		return nil, err
	}
	defer rows.Close()

	shares := []model.ShareGrant{}
	for rows.Next() {
		var g model.ShareGrant
		if err := rows.Scan(&g.ID, &g.DocumentID, &g.UserID, &g.CanEdit, &g.SharedAt); err != nil {
			logger.Sugar.Errorf("Failed to scan share for doc %s: %v", docID, err)
			return nil, err
		}
		shares = append(shares, g)
	}
	return shares, rows.Err()
}

// GetContent reads the stored content only. Sessions call it when they open so they
// start from the latest write rather than from an older copy of the document.
func (r *DocumentRepository) GetContent(ctx context.Context, docID string) (string, error) {
	var content sql.NullString
	err := r.DB.QueryRowContext(ctx, "SELECT content FROM documents WHERE id = $1", docID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoDocument
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get content for doc %s: %v", docID, err)
		return "", err
	}
	return content.String, nil
}

// UpdateContent overwrites the stored content. Writing the same value twice is harmless.
func (r *DocumentRepository) UpdateContent(ctx context.Context, docID, content string) error {
	result, err := r.DB.ExecContext(ctx, `UPDATE documents SET content = $1, updated_at = NOW() WHERE id = $2`, content, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update content for doc %s: %v", docID, err)
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNoDocument
	}
	return nil
}
