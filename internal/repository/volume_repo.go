package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"go.uber.org/zap"
)

// VolumeRepository stores derived volume and master labels
type VolumeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVolumeRepository creates a new volume repository
func NewVolumeRepository(db *sql.DB, logger *zap.Logger) *VolumeRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VolumeRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSet stores every volume of an invoice and, when present, its master
// label. Label codes are unique across all invoices.
func (r *VolumeRepository) CreateSet(tx *sql.Tx, invoiceID int64, volumes []entity.Volume, master *entity.MasterLabel) error {
	for i := range volumes {
		if err := r.create(tx, invoiceID, &volumes[i], &volumes[i]); err != nil {
			return err
		}
	}
	if master != nil {
		if err := r.create(tx, invoiceID, &master.Volume, master); err != nil {
			return err
		}
	}
	return nil
}

func (r *VolumeRepository) create(tx *sql.Tx, invoiceID int64, v *entity.Volume, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode label: %w", err)
	}

	var unNumber, riskCode, class string
	if v.Hazard != nil {
		unNumber, riskCode, class = v.Hazard.UNNumber, v.Hazard.RiskCode, v.Hazard.Classification
	}

	query := `
		INSERT INTO volumes (
			label_id, label_code, invoice_id, kind, sequence, total_in_set,
			un_number, risk_code, classification, gross_weight, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = pick(r.db, tx).Exec(query,
		v.LabelID,
		v.LabelCode,
		invoiceID,
		v.Kind,
		v.Sequence,
		v.TotalInSet,
		unNumber,
		riskCode,
		class,
		v.GrossWeight.String(),
		string(payload),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateLabel, v.LabelCode)
		}
		r.logger.Error("Failed to create label",
			zap.String("label_code", v.LabelCode),
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err))
		return fmt.Errorf("failed to create label: %w", err)
	}
	return nil
}

// ListByInvoice returns the volume labels of an invoice in sequence order.
// The master label is excluded; see GetMaster.
func (r *VolumeRepository) ListByInvoice(invoiceID int64) ([]entity.Volume, error) {
	query := `
		SELECT payload FROM volumes
		WHERE invoice_id = ? AND kind = ?
		ORDER BY sequence
	`

	rows, err := r.db.Query(query, invoiceID, entity.LabelKindVolume)
	if err != nil {
		r.logger.Error("Failed to list volumes", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	defer rows.Close()

	var volumes []entity.Volume
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan volume: %w", err)
		}
		var v entity.Volume
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("failed to decode volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// GetMaster returns the master label of an invoice
func (r *VolumeRepository) GetMaster(invoiceID int64) (*entity.MasterLabel, error) {
	var payload string
	err := r.db.QueryRow(`SELECT payload FROM volumes WHERE invoice_id = ? AND kind = ?`,
		invoiceID, entity.LabelKindMaster).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get master label: %w", err)
	}

	var m entity.MasterLabel
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("failed to decode master label: %w", err)
	}
	return &m, nil
}

// GetByLabelCode looks a volume up by its printed code
func (r *VolumeRepository) GetByLabelCode(code string) (*entity.Volume, error) {
	var payload string
	err := r.db.QueryRow(`SELECT payload FROM volumes WHERE label_code = ?`, code).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get label: %w", err)
	}

	var v entity.Volume
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("failed to decode label: %w", err)
	}
	return &v, nil
}
