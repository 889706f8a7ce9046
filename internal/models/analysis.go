package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Severity tiers for a single analyzed prediction.
const (
	SeveritySmashHit  = "smash_hit"
	SeverityHit       = "hit"
	SeverityMiss      = "miss"
	SeverityMinorMiss = "minor_miss"
	SeverityMajorMiss = "major_miss"
	SeverityBadMiss   = "bad_miss"
)

// Severity tiers for detected patterns. Healthy groups are not persisted.
const (
	PatternSeverityCritical   = "critical"
	PatternSeverityConcerning = "concerning"
	PatternSeverityNotable    = "notable"
)

// Pattern grouping dimensions.
const (
	PatternTypeTeam           = "team"
	PatternTypeRole           = "role"
	PatternTypeEdgeType       = "edge_type"
	PatternTypeRecommendation = "recommendation"
	PatternTypeConfidenceTier = "confidence_tier"
	PatternTypeContribFactor  = "contributing_factor"
)

// PredictionAnalysis is the cached deep analysis of a single prediction
// against its outcome, computed once per prediction. Game time is carried so
// improvement impact can be split around an applied-at timestamp.
type PredictionAnalysis struct {
	ID                 uint           `json:"id" gorm:"primaryKey"`
	PredictionID       uint           `json:"prediction_id" gorm:"not null;uniqueIndex"`
	Season             int            `json:"season" gorm:"not null;index:idx_analysis_season_week,priority:1"`
	Week               int            `json:"week" gorm:"not null;index:idx_analysis_season_week,priority:2"`
	PlayerName         string         `json:"player_name" gorm:"size:128;not null"`
	Team               string         `json:"team" gorm:"size:8;not null"`
	Role               Role           `json:"role" gorm:"size:4;not null"`
	Recommendation     Recommendation `json:"recommendation" gorm:"size:8;not null"`
	Confidence         float64        `json:"confidence" gorm:"not null"`
	Hit                bool           `json:"hit" gorm:"not null"`
	ExpectedRank       int            `json:"expected_rank" gorm:"not null"`
	ActualRank         int            `json:"actual_rank" gorm:"not null"`
	RankDiff           int            `json:"rank_diff" gorm:"not null"`
	Severity           string         `json:"severity" gorm:"size:16;not null"`
	StrongestSignal    string         `json:"strongest_signal" gorm:"size:64"`
	StrongestMagnitude float64        `json:"strongest_magnitude"`
	WeakestSignal      string         `json:"weakest_signal" gorm:"size:64"`
	Factors            datatypes.JSON `json:"factors"`
	GameTime           time.Time      `json:"game_time" gorm:"not null;index"`
	CreatedAt          time.Time      `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// FactorList decodes the qualitative contributing factors.
func (a *PredictionAnalysis) FactorList() []string {
	if len(a.Factors) == 0 {
		return nil
	}
	var factors []string
	if err := json.Unmarshal(a.Factors, &factors); err != nil {
		return nil
	}
	return factors
}

// SetFactors encodes the contributing factors into the JSON column.
func (a *PredictionAnalysis) SetFactors(factors []string) error {
	data, err := json.Marshal(factors)
	if err != nil {
		return err
	}
	a.Factors = datatypes.JSON(data)
	return nil
}

// DetectedPattern is a statistically weak cross-section of predictions,
// upserted by (pattern_type, pattern_key) so re-runs update statistics in
// place.
type DetectedPattern struct {
	ID                  uint           `json:"id" gorm:"primaryKey"`
	PatternType         string         `json:"pattern_type" gorm:"size:32;not null;uniqueIndex:idx_pattern_identity,priority:1"`
	PatternKey          string         `json:"pattern_key" gorm:"size:128;not null;uniqueIndex:idx_pattern_identity,priority:2"`
	TotalCount          int            `json:"total_count" gorm:"not null"`
	CorrectCount        int            `json:"correct_count" gorm:"not null"`
	HitRate             float64        `json:"hit_rate" gorm:"not null"`
	Severity            string         `json:"severity" gorm:"size:16;not null"`
	SamplePredictionIDs datatypes.JSON `json:"sample_prediction_ids"`
	Addressed           bool           `json:"addressed" gorm:"not null;default:false"`
	CreatedAt           time.Time      `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time      `json:"updated_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// SetSampleIDs encodes sample prediction IDs into the JSON column.
func (p *DetectedPattern) SetSampleIDs(ids []uint) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	p.SamplePredictionIDs = datatypes.JSON(data)
	return nil
}
