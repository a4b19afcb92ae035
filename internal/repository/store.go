package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/pipeline"
	"github.com/garyjia/nfe-danfe/internal/storage"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"go.uber.org/zap"
)

// Store persists one processed invoice with its labels and rendered documents.
// Rows are written in a single transaction; document files written before a
// failure are removed again, so a failed save leaves nothing behind.
type Store struct {
	db        *database.DB
	invoices  *InvoiceRepository
	volumes   *VolumeRepository
	documents *DocumentRepository
	files     storage.FileStorage
	folders   *storage.FolderManager
	logger    *zap.Logger
}

// NewStore creates a store. files and folders may be nil, in which case
// rendered documents are not archived.
func NewStore(db *database.DB, files storage.FileStorage, folders *storage.FolderManager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:        db,
		invoices:  NewInvoiceRepository(db.DB, logger),
		volumes:   NewVolumeRepository(db.DB, logger),
		documents: NewDocumentRepository(db.DB, logger),
		files:     files,
		folders:   folders,
		logger:    logger,
	}
}

// Invoices exposes the invoice repository for reads
func (s *Store) Invoices() *InvoiceRepository { return s.invoices }

// Volumes exposes the volume repository for reads
func (s *Store) Volumes() *VolumeRepository { return s.volumes }

// Documents exposes the document repository for reads
func (s *Store) Documents() *DocumentRepository { return s.documents }

// Save stores res atomically. It satisfies batch.Sink.
func (s *Store) Save(ctx context.Context, itemID string, res *pipeline.Result) error {
	if res == nil || res.Invoice == nil {
		return fmt.Errorf("nothing to save for item %s", itemID)
	}
	inv := res.Invoice

	var written []string
	err := s.db.WithTransactionContext(ctx, func(tx *sql.Tx) error {
		invoiceID, err := s.invoices.Create(tx, inv)
		if err != nil {
			return err
		}

		if res.Labels != nil {
			if err := s.volumes.CreateSet(tx, invoiceID, res.Labels.Volumes, res.Labels.Master); err != nil {
				return err
			}
		}

		docs := []struct {
			kind string
			data []byte
		}{
			{DocumentKindDANFE, res.Document},
			{DocumentKindLabels, res.LabelSheet},
		}
		rendered := false
		for _, d := range docs {
			if len(d.data) == 0 || s.files == nil || s.folders == nil {
				continue
			}
			path, err := s.archive(inv, d.kind, d.data)
			if err != nil {
				return err
			}
			written = append(written, path)

			if err := s.documents.Create(tx, &Document{
				InvoiceID: invoiceID,
				Kind:      d.kind,
				Path:      path,
				Size:      int64(len(d.data)),
			}); err != nil {
				return err
			}
			rendered = true
		}

		if rendered {
			return s.invoices.UpdateStatus(tx, invoiceID, entity.InvoiceStatusRendered)
		}
		return nil
	})
	if err != nil {
		for _, p := range written {
			if rmErr := s.files.Remove(p); rmErr != nil {
				s.logger.Warn("Failed to remove orphaned document", zap.String("path", p), zap.Error(rmErr))
			}
		}
		s.logger.Error("Failed to persist invoice",
			zap.String("item_id", itemID),
			zap.String("access_key", inv.Identification.AccessKey),
			zap.Error(err))
		return err
	}

	s.logger.Info("Invoice persisted",
		zap.String("item_id", itemID),
		zap.String("access_key", inv.Identification.AccessKey),
		zap.Int("documents", len(written)))
	return nil
}

func (s *Store) archive(inv *entity.Invoice, kind string, data []byte) (string, error) {
	issuer := inv.Emitter.TaxID
	key := inv.Identification.AccessKey
	if _, err := s.folders.CreateInvoiceFolder(issuer, key); err != nil {
		return "", err
	}
	path := s.folders.DocumentPath(issuer, key, kind+".pdf")
	if err := s.files.SaveFileWithType(path, data, storage.FileTypePDF); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", kind, err)
	}
	return path, nil
}
