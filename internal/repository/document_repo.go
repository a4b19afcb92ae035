package repository

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Document kinds
const (
	DocumentKindDANFE  = "danfe"
	DocumentKindLabels = "labels"
)

// Document is a rendered file recorded against an invoice
type Document struct {
	ID        int64     `json:"id"`
	InvoiceID int64     `json:"invoice_id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentRepository records where rendered documents were written
type DocumentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sql.DB, logger *zap.Logger) *DocumentRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentRepository{db: db, logger: logger}
}

// Create records a document; each invoice holds at most one document per kind
func (r *DocumentRepository) Create(tx *sql.Tx, doc *Document) error {
	query := `INSERT INTO documents (invoice_id, kind, path, size) VALUES (?, ?, ?, ?)`

	result, err := pick(r.db, tx).Exec(query, doc.InvoiceID, doc.Kind, doc.Path, doc.Size)
	if err != nil {
		r.logger.Error("Failed to create document",
			zap.Int64("invoice_id", doc.InvoiceID),
			zap.String("kind", doc.Kind),
			zap.Error(err))
		return fmt.Errorf("failed to create document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	doc.ID = id
	return nil
}

// ListByInvoice returns the documents of an invoice
func (r *DocumentRepository) ListByInvoice(invoiceID int64) ([]Document, error) {
	rows, err := r.db.Query(`
		SELECT id, invoice_id, kind, path, size, created_at
		FROM documents WHERE invoice_id = ? ORDER BY kind`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.InvoiceID, &d.Kind, &d.Path, &d.Size, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
