package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stitts-dev/edge-calibration/internal/models"
)

type weightRepo struct {
	db *gorm.DB
}

// Get returns the weight row for an edge type, or nil when the edge type has
// never been calibrated.
func (r *weightRepo) Get(ctx context.Context, edgeType string) (*models.EdgeWeight, error) {
	var weight models.EdgeWeight
	err := r.db.WithContext(ctx).Where("edge_type = ?", edgeType).First(&weight).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch weight for edge type %s: %w", edgeType, err)
	}
	return &weight, nil
}

func (r *weightRepo) GetAll(ctx context.Context) ([]models.EdgeWeight, error) {
	var weights []models.EdgeWeight
	if err := r.db.WithContext(ctx).Order("edge_type").Find(&weights).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch edge weights: %w", err)
	}
	return weights, nil
}

func (r *weightRepo) Upsert(ctx context.Context, w *models.EdgeWeight) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "edge_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"weight", "qb_weight", "rb_weight", "wr_weight", "te_weight",
			"hit_rate", "sample_size", "updated_at",
		}),
	}).Create(w).Error
	if err != nil {
		return fmt.Errorf("failed to upsert weight for edge type %s: %w", w.EdgeType, err)
	}
	return nil
}

// AppendHistory inserts one audit row. History is append-only; there is no
// update or delete path.
func (r *weightRepo) AppendHistory(ctx context.Context, h *models.WeightHistory) error {
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("failed to append weight history for edge type %s: %w", h.EdgeType, err)
	}
	return nil
}

func (r *weightRepo) ListHistory(ctx context.Context, edgeType string, limit int) ([]models.WeightHistory, error) {
	var history []models.WeightHistory
	query := r.db.WithContext(ctx).Where("edge_type = ?", edgeType).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch weight history for edge type %s: %w", edgeType, err)
	}
	return history, nil
}

func (r *weightRepo) UpsertEdgeAccuracy(ctx context.Context, a *models.EdgeAccuracy) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "edge_type"}, {Name: "season"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_predictions", "correct_predictions", "hit_rate", "avg_magnitude", "updated_at",
		}),
	}).Create(a).Error
	if err != nil {
		return fmt.Errorf("failed to upsert edge accuracy for %s season %d: %w", a.EdgeType, a.Season, err)
	}
	return nil
}
