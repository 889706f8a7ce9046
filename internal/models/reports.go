package models

import "time"

// BucketStats aggregates hit/miss counts along one reporting dimension.
type BucketStats struct {
	Total   int     `json:"total"`
	Correct int     `json:"correct"`
	HitRate float64 `json:"hit_rate"` // percentage, one decimal
}

// PredictionResult is one line of the human-readable best/worst section of an
// accuracy report.
type PredictionResult struct {
	PredictionID   uint           `json:"prediction_id"`
	PlayerName     string         `json:"player_name"`
	Team           string         `json:"team"`
	Role           Role           `json:"role"`
	Week           int            `json:"week"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	PositionRank   int            `json:"position_rank"`
	FantasyPoints  float64        `json:"fantasy_points"`
}

// AccuracyReport is the output of the accuracy evaluator. A season with no
// predictions yields a zero-filled report, not an error.
type AccuracyReport struct {
	Season           int                    `json:"season"`
	Week             int                    `json:"week,omitempty"`
	TotalPredictions int                    `json:"total_predictions"`
	CorrectCount     int                    `json:"correct_count"`
	HitRate          float64                `json:"hit_rate"`
	ByRecommendation map[string]BucketStats `json:"by_recommendation"`
	ByRole           map[string]BucketStats `json:"by_role"`
	ByConfidenceTier map[string]BucketStats `json:"by_confidence_tier"`
	ByEdgeType       map[string]BucketStats `json:"by_edge_type"`
	BiggestHits      []PredictionResult     `json:"biggest_hits"`
	BiggestMisses    []PredictionResult     `json:"biggest_misses"`
	GeneratedAt      time.Time              `json:"generated_at"`
}

// WeightUpdate is one applied weight change in a learn report.
type WeightUpdate struct {
	EdgeType    string             `json:"edge_type"`
	OldWeight   float64            `json:"old_weight"`
	NewWeight   float64            `json:"new_weight"`
	HitRate     float64            `json:"hit_rate"`
	SampleSize  int                `json:"sample_size"`
	Reason      string             `json:"reason"`
	RoleWeights map[string]float64 `json:"role_weights,omitempty"`
}

// LearnReport is the output of one weight learning pass.
type LearnReport struct {
	Season       int            `json:"season"`
	Week         int            `json:"week"`
	UpdatedCount int            `json:"updated_count"`
	Updates      []WeightUpdate `json:"updates"`
}

// AnalyzeReport is the output of one pattern detection pass.
type AnalyzeReport struct {
	Season           int `json:"season"`
	Week             int `json:"week"`
	AnalyzedCount    int `json:"analyzed_count"`
	PatternsDetected int `json:"patterns_detected"`
}

// AppliedChange summarizes one auto-applied weight nudge.
type AppliedChange struct {
	ImprovementID uint    `json:"improvement_id"`
	EdgeType      string  `json:"edge_type"`
	OldWeight     float64 `json:"old_weight"`
	NewWeight     float64 `json:"new_weight"`
	Reasoning     string  `json:"reasoning"`
}

// ImprovementReport is the output of one improvement agent run.
type ImprovementReport struct {
	Season                  int             `json:"season"`
	RecommendationsReceived int             `json:"recommendations_received"`
	AutoApplied             int             `json:"auto_applied"`
	Refused                 int             `json:"refused"`
	ProposalsCreated        int             `json:"proposals_created"`
	Escalated               int             `json:"escalated"`
	AppliedChanges          []AppliedChange `json:"applied_changes"`
}

// ImprovementImpact compares analyzed-prediction accuracy before and after an
// improvement's applied timestamp.
type ImprovementImpact struct {
	ImprovementID       uint    `json:"improvement_id"`
	PredictionsBefore   int     `json:"predictions_before"`
	PredictionsAfter    int     `json:"predictions_after"`
	AccuracyBefore      float64 `json:"accuracy_before"`
	AccuracyAfter       float64 `json:"accuracy_after"`
	ImprovementDetected bool    `json:"improvement_detected"`
}

// PipelineReport summarizes one full calibration run.
type PipelineReport struct {
	RunID            string    `json:"run_id"`
	Season           int       `json:"season"`
	Week             int       `json:"week"`
	HitRate          float64   `json:"hit_rate"`
	WeightsUpdated   int       `json:"weights_updated"`
	AnalyzedCount    int       `json:"analyzed_count"`
	PatternsDetected int       `json:"patterns_detected"`
	AutoApplied      int       `json:"auto_applied"`
	ProposalsCreated int       `json:"proposals_created"`
	StageErrors      []string  `json:"stage_errors,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}
