package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stitts-dev/edge-calibration/internal/models"
)

type predictionRepo struct {
	db *gorm.DB
}

type outcomeKey struct {
	playerID string
	week     int
	season   int
}

// ListWithOutcomes joins predictions to outcomes by (player, week, season).
// Predictions without an outcome are returned with a nil Outcome so callers
// decide whether pending games count.
func (r *predictionRepo) ListWithOutcomes(ctx context.Context, season, week int) ([]PredictionPair, error) {
	var predictions []models.Prediction
	query := r.db.WithContext(ctx).Where("season = ?", season)
	if week > 0 {
		query = query.Where("week = ?", week)
	}
	if err := query.Order("week, player_id").Find(&predictions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch predictions: %w", err)
	}

	var outcomes []models.Outcome
	outcomeQuery := r.db.WithContext(ctx).Where("season = ?", season)
	if week > 0 {
		outcomeQuery = outcomeQuery.Where("week = ?", week)
	}
	if err := outcomeQuery.Find(&outcomes).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch outcomes: %w", err)
	}

	byKey := make(map[outcomeKey]*models.Outcome, len(outcomes))
	for i := range outcomes {
		o := &outcomes[i]
		byKey[outcomeKey{o.PlayerID, o.Week, o.Season}] = o
	}

	pairs := make([]PredictionPair, 0, len(predictions))
	for _, p := range predictions {
		pairs = append(pairs, PredictionPair{
			Prediction: p,
			Outcome:    byKey[outcomeKey{p.PlayerID, p.Week, p.Season}],
		})
	}
	return pairs, nil
}

func (r *predictionRepo) UpsertPrediction(ctx context.Context, p *models.Prediction) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_id"}, {Name: "week"}, {Name: "season"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"player_name", "team", "role", "edge_score", "confidence",
			"recommendation", "signals", "game_time", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("failed to upsert prediction for player %s week %d: %w", p.PlayerID, p.Week, err)
	}
	return nil
}

func (r *predictionRepo) UpsertOutcome(ctx context.Context, o *models.Outcome) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "week"}, {Name: "season"}},
		DoUpdates: clause.AssignmentColumns([]string{"fantasy_points", "position_rank"}),
	}).Create(o).Error
	if err != nil {
		return fmt.Errorf("failed to upsert outcome for player %s week %d: %w", o.PlayerID, o.Week, err)
	}
	return nil
}
