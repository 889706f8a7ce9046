package services

import "github.com/stitts-dev/edge-calibration/internal/models"

// hitRule is the threshold rule for one recommendation bucket. Positive calls
// hit when the realized position rank is at or under the threshold; negative
// calls (RISKY/SIT/AVOID) hit when the player indeed finished worse than it.
type hitRule struct {
	Threshold int
	Positive  bool
}

// hitCriteria is the single source of truth for hit/miss semantics. The
// evaluator, the weight learner and the pattern detector all classify through
// this table so the pipeline never disagrees with itself.
var hitCriteria = map[models.Recommendation]hitRule{
	models.RecommendationSmash: {Threshold: 5, Positive: true},
	models.RecommendationStart: {Threshold: 12, Positive: true},
	models.RecommendationFlex:  {Threshold: 24, Positive: true},
	models.RecommendationRisky: {Threshold: 20, Positive: false},
	models.RecommendationSit:   {Threshold: 20, Positive: false},
	models.RecommendationAvoid: {Threshold: 30, Positive: false},
}

// Signal significance floors. The learner and the accuracy breakdown look at
// different slices of the signal population on purpose: learning tolerates
// weaker signals than the per-edge accuracy report does.
const (
	LearningMagnitudeFloor = 1.5
	AccuracyMagnitudeFloor = 2.0
)

// IsHit reports whether a realized position rank satisfies the bucket's
// threshold rule. Unknown buckets never hit.
func IsHit(rec models.Recommendation, positionRank int) bool {
	rule, ok := hitCriteria[rec]
	if !ok {
		return false
	}
	if rule.Positive {
		return positionRank <= rule.Threshold
	}
	return positionRank > rule.Threshold
}

// IsPositiveCall reports whether a bucket is a "start him" call; the best/worst
// reporting sections only consider positive calls.
func IsPositiveCall(rec models.Recommendation) bool {
	rule, ok := hitCriteria[rec]
	return ok && rule.Positive
}

// ExpectedRank returns the bucket's threshold, the rank the prediction
// implicitly promised.
func ExpectedRank(rec models.Recommendation) int {
	return hitCriteria[rec].Threshold
}

// ConfidenceTier buckets a 0-100 confidence into the reporting tiers.
func ConfidenceTier(confidence float64) string {
	switch {
	case confidence >= 80:
		return "high"
	case confidence >= 60:
		return "medium"
	default:
		return "low"
	}
}
