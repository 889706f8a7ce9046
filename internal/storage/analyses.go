package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stitts-dev/edge-calibration/internal/models"
)

type analysisRepo struct {
	db *gorm.DB
}

// AnalyzedIDs returns the prediction IDs that already carry a stored analysis
// for the season/week, so re-runs skip them. This read-then-write check is
// not safe against a second concurrent invocation for the same season/week;
// callers serialize runs.
func (r *analysisRepo) AnalyzedIDs(ctx context.Context, season, week int) (map[uint]struct{}, error) {
	var ids []uint
	query := r.db.WithContext(ctx).Model(&models.PredictionAnalysis{}).Where("season = ?", season)
	if week > 0 {
		query = query.Where("week = ?", week)
	}
	if err := query.Pluck("prediction_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch analyzed prediction ids: %w", err)
	}
	analyzed := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		analyzed[id] = struct{}{}
	}
	return analyzed, nil
}

func (r *analysisRepo) SaveBatch(ctx context.Context, analyses []models.PredictionAnalysis) error {
	if len(analyses) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(analyses, 100).Error; err != nil {
		return fmt.Errorf("failed to save prediction analyses: %w", err)
	}
	return nil
}

func (r *analysisRepo) ListBySeason(ctx context.Context, season int) ([]models.PredictionAnalysis, error) {
	var analyses []models.PredictionAnalysis
	if err := r.db.WithContext(ctx).Where("season = ?", season).Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch analyses for season %d: %w", season, err)
	}
	return analyses, nil
}

// ListWorstMisses returns bad and major misses ordered by rank diff
// descending, the raw material for the improvement agent context.
func (r *analysisRepo) ListWorstMisses(ctx context.Context, season, limit int) ([]models.PredictionAnalysis, error) {
	var analyses []models.PredictionAnalysis
	query := r.db.WithContext(ctx).
		Where("season = ?", season).
		Where("severity IN ?", []string{models.SeverityBadMiss, models.SeverityMajorMiss}).
		Order("rank_diff DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch worst misses for season %d: %w", season, err)
	}
	return analyses, nil
}

// HitRateAround splits analyzed predictions by game time around a cutoff and
// aggregates hit counts on each side.
func (r *analysisRepo) HitRateAround(ctx context.Context, cutoff time.Time) (HitRateSplit, HitRateSplit, error) {
	var before, after HitRateSplit

	type row struct {
		Total   int
		Correct int
	}
	var b, a row

	err := r.db.WithContext(ctx).Model(&models.PredictionAnalysis{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN hit THEN 1 ELSE 0 END), 0) AS correct").
		Where("game_time < ?", cutoff).
		Scan(&b).Error
	if err != nil {
		return before, after, fmt.Errorf("failed to aggregate pre-cutoff accuracy: %w", err)
	}

	err = r.db.WithContext(ctx).Model(&models.PredictionAnalysis{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN hit THEN 1 ELSE 0 END), 0) AS correct").
		Where("game_time >= ?", cutoff).
		Scan(&a).Error
	if err != nil {
		return before, after, fmt.Errorf("failed to aggregate post-cutoff accuracy: %w", err)
	}

	before = HitRateSplit{Total: b.Total, Correct: b.Correct}
	after = HitRateSplit{Total: a.Total, Correct: a.Correct}
	return before, after, nil
}
