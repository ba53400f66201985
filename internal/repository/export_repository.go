package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medcapture/capture-gateway/internal/models"
	"gorm.io/gorm"
)

// ExportRepository persists export history records
type ExportRepository struct {
	db *gorm.DB
}

// NewExportRepository creates a new export repository
func NewExportRepository(db *gorm.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Record stores one terminal export outcome
func (r *ExportRepository) Record(ctx context.Context, record models.ExportRecord) error {
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to create export record: %w", err)
	}
	return nil
}

// GetBySession retrieves the export history of one session
func (r *ExportRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ExportRecord, error) {
	var records []models.ExportRecord
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("completed_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get export records: %w", err)
	}
	return records, nil
}

// GetRecent retrieves the most recent export records across sessions
func (r *ExportRepository) GetRecent(ctx context.Context, limit int) ([]models.ExportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.ExportRecord
	if err := r.db.WithContext(ctx).
		Order("completed_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get recent export records: %w", err)
	}
	return records, nil
}

// PurgeOlderThan removes records past the retention window
func (r *ExportRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("completed_at < ?", cutoff).
		Delete(&models.ExportRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge export records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
