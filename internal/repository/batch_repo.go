package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"go.uber.org/zap"
)

// BatchRepository stores batch reports
type BatchRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB, logger *zap.Logger) *BatchRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchRepository{db: db, logger: logger}
}

// Save stores a report and its item errors in one transaction
func (r *BatchRepository) Save(report *entity.BatchReport) error {
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO batch_jobs (job_id, succeeded, failed, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?)`,
			report.JobID, report.Succeeded, report.Failed, report.StartedAt, report.FinishedAt)
		if err != nil {
			return fmt.Errorf("failed to create batch job: %w", err)
		}

		for _, e := range report.Errors {
			_, err := tx.Exec(`
				INSERT INTO batch_errors (job_id, item_id, stage, reason)
				VALUES (?, ?, ?, ?)`,
				report.JobID, e.ItemID, e.Stage, e.Reason)
			if err != nil {
				return fmt.Errorf("failed to create batch error: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save batch report", zap.String("job_id", report.JobID), zap.Error(err))
		return err
	}
	return nil
}

// Get loads a report by job id
func (r *BatchRepository) Get(jobID string) (*entity.BatchReport, error) {
	report := &entity.BatchReport{JobID: jobID, Errors: []entity.ItemError{}}

	err := r.db.QueryRow(`
		SELECT succeeded, failed, started_at, finished_at
		FROM batch_jobs WHERE job_id = ?`, jobID).
		Scan(&report.Succeeded, &report.Failed, &report.StartedAt, &report.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch job: %w", err)
	}

	rows, err := r.db.Query(`
		SELECT item_id, COALESCE(stage, ''), reason
		FROM batch_errors WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch errors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e entity.ItemError
		if err := rows.Scan(&e.ItemID, &e.Stage, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan batch error: %w", err)
		}
		report.Errors = append(report.Errors, e)
	}
	return report, rows.Err()
}
