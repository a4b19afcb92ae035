package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"go.uber.org/zap"
)

// StoredInvoice is an invoice row with its decoded payload
type StoredInvoice struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Invoice   *entity.Invoice `json:"invoice"`
}

// InvoiceSummary is one row of the invoice listing
type InvoiceSummary struct {
	ID            int64      `json:"id"`
	AccessKey     string     `json:"access_key"`
	Number        string     `json:"number"`
	Series        string     `json:"series"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	EmitterName   string     `json:"emitter_name"`
	RecipientName string     `json:"recipient_name"`
	DocumentTotal string     `json:"document_total"`
	Status        string     `json:"status"`
}

// InvoiceRepository handles invoice database operations
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores the invoice header, its full JSON payload and its items.
// A second invoice with the same access key fails with ErrDuplicateAccessKey.
func (r *InvoiceRepository) Create(tx *sql.Tx, inv *entity.Invoice) (int64, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return 0, fmt.Errorf("failed to encode invoice: %w", err)
	}

	query := `
		INSERT INTO invoices (
			access_key, number, series, issued_at, emitter_tax_id, emitter_name,
			recipient_tax_id, recipient_name, document_total, icms_total,
			purchase_order, protocol, status, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	id := inv.Identification
	result, err := pick(r.db, tx).Exec(query,
		id.AccessKey,
		id.Number,
		id.Series,
		id.IssuedAt,
		inv.Emitter.TaxID,
		inv.Emitter.LegalName,
		inv.Recipient.TaxID,
		inv.Recipient.LegalName,
		inv.Totals.DocumentTotal.String(),
		inv.Totals.ICMSValue.String(),
		inv.PurchaseOrder,
		id.Protocol,
		entity.InvoiceStatusImported,
		string(payload),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateAccessKey, id.AccessKey)
		}
		r.logger.Error("Failed to create invoice", zap.String("access_key", id.AccessKey), zap.Error(err))
		return 0, fmt.Errorf("failed to create invoice: %w", err)
	}

	invoiceID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := r.createItems(tx, invoiceID, inv.Items); err != nil {
		return 0, err
	}
	return invoiceID, nil
}

func (r *InvoiceRepository) createItems(tx *sql.Tx, invoiceID int64, items []entity.LineItem) error {
	query := `
		INSERT INTO invoice_items (
			invoice_id, item_index, code, description, ncm, cfop, unit,
			quantity, unit_value, total
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	q := pick(r.db, tx)
	for _, item := range items {
		_, err := q.Exec(query,
			invoiceID,
			item.Index,
			item.Code,
			item.Description,
			item.NCM,
			item.CFOP,
			item.Unit,
			item.Quantity.String(),
			item.UnitValue.String(),
			item.Total.String(),
		)
		if err != nil {
			r.logger.Error("Failed to create invoice item",
				zap.Int64("invoice_id", invoiceID),
				zap.Int("item_index", item.Index),
				zap.Error(err))
			return fmt.Errorf("failed to create invoice item %d: %w", item.Index, err)
		}
	}
	return nil
}

// GetByAccessKey loads a stored invoice by its access key
func (r *InvoiceRepository) GetByAccessKey(accessKey string) (*StoredInvoice, error) {
	query := `
		SELECT id, status, payload, created_at, updated_at
		FROM invoices
		WHERE access_key = ?
	`

	var (
		stored  StoredInvoice
		payload string
	)
	err := r.db.QueryRow(query, accessKey).Scan(
		&stored.ID, &stored.Status, &payload, &stored.CreatedAt, &stored.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.String("access_key", accessKey), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	var inv entity.Invoice
	if err := json.Unmarshal([]byte(payload), &inv); err != nil {
		return nil, fmt.Errorf("failed to decode invoice payload: %w", err)
	}
	stored.Invoice = &inv
	return &stored, nil
}

// Exists reports whether an invoice with the access key is stored
func (r *InvoiceRepository) Exists(accessKey string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM invoices WHERE access_key = ?`, accessKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check invoice: %w", err)
	}
	return n > 0, nil
}

// List returns invoices newest first
func (r *InvoiceRepository) List(limit, offset int) ([]InvoiceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, access_key, number, COALESCE(series, ''), issued_at,
		       COALESCE(emitter_name, ''), COALESCE(recipient_name, ''),
		       document_total, status
		FROM invoices
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var out []InvoiceSummary
	for rows.Next() {
		var (
			s        InvoiceSummary
			issuedAt sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.AccessKey, &s.Number, &s.Series, &issuedAt,
			&s.EmitterName, &s.RecipientName, &s.DocumentTotal, &s.Status); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		if issuedAt.Valid {
			t := issuedAt.Time
			s.IssuedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateStatus sets the status of an invoice row
func (r *InvoiceRepository) UpdateStatus(tx *sql.Tx, id int64, status string) error {
	query := `UPDATE invoices SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	result, err := pick(r.db, tx).Exec(query, status, id)
	if err != nil {
		r.logger.Error("Failed to update invoice status",
			zap.Int64("id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
