package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stitts-dev/edge-calibration/internal/models"
)

type patternRepo struct {
	db *gorm.DB
}

// Upsert writes a pattern keyed by (pattern_type, pattern_key); re-runs update
// statistics in place rather than duplicating rows.
func (r *patternRepo) Upsert(ctx context.Context, p *models.DetectedPattern) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pattern_type"}, {Name: "pattern_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_count", "correct_count", "hit_rate", "severity",
			"sample_prediction_ids", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("failed to upsert pattern %s/%s: %w", p.PatternType, p.PatternKey, err)
	}
	return nil
}

// ListOpen returns unaddressed patterns at the given severities, the set the
// improvement agent consumes.
func (r *patternRepo) ListOpen(ctx context.Context, severities []string) ([]models.DetectedPattern, error) {
	var patterns []models.DetectedPattern
	err := r.db.WithContext(ctx).
		Where("addressed = ?", false).
		Where("severity IN ?", severities).
		Order("hit_rate").
		Find(&patterns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open patterns: %w", err)
	}
	return patterns, nil
}

func (r *patternRepo) List(ctx context.Context, severity string) ([]models.DetectedPattern, error) {
	var patterns []models.DetectedPattern
	query := r.db.WithContext(ctx).Order("hit_rate")
	if severity != "" {
		query = query.Where("severity = ?", severity)
	}
	if err := query.Find(&patterns).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch patterns: %w", err)
	}
	return patterns, nil
}

func (r *patternRepo) MarkAddressed(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Model(&models.DetectedPattern{}).
		Where("id = ?", id).
		Update("addressed", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark pattern %d addressed: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
