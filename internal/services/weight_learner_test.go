package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/internal/storage"
)

type WeightLearnerTestSuite struct {
	suite.Suite
	store   *storage.Store
	db      *gorm.DB
	learner *WeightLearner
}

func (s *WeightLearnerTestSuite) SetupTest() {
	s.store, s.db = newTestStore(s.T())
	s.learner = NewWeightLearner(s.store.Predictions, s.store.Weights, NewCacheService(nil, newTestLogger()), newTestLogger())
}

// seedSignalWeek writes count predictions carrying one significant signal,
// with hits of them finishing inside the START threshold.
func (s *WeightLearnerTestSuite) seedSignalWeek(edgeType string, magnitude float64, count, hits int) {
	for i := 0; i < count; i++ {
		rank := 30
		if i < hits {
			rank = 5
		}
		pred := models.Prediction{
			PlayerID:       fmt.Sprintf("p%d", i),
			PlayerName:     fmt.Sprintf("Player %d", i),
			Team:           "GB",
			Role:           models.RoleWR,
			Week:           1,
			Season:         2025,
			EdgeScore:      2.0,
			Confidence:     70,
			Recommendation: models.RecommendationStart,
		}
		pred.Signals = mustSignals(s.T(), []models.EdgeSignal{{Type: edgeType, Magnitude: magnitude, Confidence: 75}})
		seedPair(s.T(), s.db, pred, intPtr(rank), 12.0)
	}
}

func (s *WeightLearnerTestSuite) TestStrongPerformerRaisesWeight() {
	s.seedSignalWeek("weather_wind", 2.0, 20, 20)

	report, err := s.learner.Learn(context.Background(), 2025, 1)
	s.Require().NoError(err)
	s.Equal(1, report.UpdatedCount)
	s.Require().Len(report.Updates, 1)

	update := report.Updates[0]
	s.Equal("weather_wind", update.EdgeType)
	s.Equal(1.0, update.OldWeight)
	s.InDelta(1.02, update.NewWeight, 1e-9)
	s.Equal(100.0, update.HitRate)
	s.Equal(20, update.SampleSize)
	s.Equal("strong performer", update.Reason)

	weight, err := s.store.Weights.Get(context.Background(), "weather_wind")
	s.Require().NoError(err)
	s.Require().NotNil(weight)
	s.InDelta(1.02, weight.Weight, 1e-9)
	s.InDelta(1.02, weight.WRWeight, 1e-9)
	s.Equal(1.0, weight.QBWeight)

	history, err := s.store.Weights.ListHistory(context.Background(), "weather_wind", 10)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(1.0, history[0].OldWeight)
	s.InDelta(1.02, history[0].NewWeight, 1e-9)
	s.Equal(1, history[0].Week)
}

func (s *WeightLearnerTestSuite) TestBelowMinimumSampleSizeIsSkipped() {
	s.seedSignalWeek("redzone_share", 2.0, 8, 8)

	report, err := s.learner.Learn(context.Background(), 2025, 1)
	s.Require().NoError(err)
	s.Equal(0, report.UpdatedCount)

	weight, err := s.store.Weights.Get(context.Background(), "redzone_share")
	s.Require().NoError(err)
	s.Nil(weight)
}

func (s *WeightLearnerTestSuite) TestBaselinePerformanceIsANoOp() {
	s.seedSignalWeek("vegas_total", 2.0, 10, 5)

	report, err := s.learner.Learn(context.Background(), 2025, 1)
	s.Require().NoError(err)
	s.Equal(0, report.UpdatedCount)

	history, err := s.store.Weights.ListHistory(context.Background(), "vegas_total", 10)
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *WeightLearnerTestSuite) TestWeakSignalsAreExcluded() {
	s.seedSignalWeek("matchup_rating", 1.0, 20, 20)

	report, err := s.learner.Learn(context.Background(), 2025, 1)
	s.Require().NoError(err)
	s.Equal(0, report.UpdatedCount)
}

func (s *WeightLearnerTestSuite) TestGetEdgeWeightFallsBackToNeutral() {
	s.Equal(1.0, s.learner.GetEdgeWeight(context.Background(), "never_calibrated"))
	s.Equal(1.0, s.learner.GetEdgeWeightForRole(context.Background(), "never_calibrated", models.RoleQB))
}

func TestWeightLearnerTestSuite(t *testing.T) {
	suite.Run(t, new(WeightLearnerTestSuite))
}

func TestComputeNewWeight(t *testing.T) {
	// 70% over 50+ samples: full confidence, +2% adjustment on a neutral weight.
	assert.InDelta(t, 1.02, computeNewWeight(1.0, 70, 50), 1e-9)

	// 30% over 50+ samples: full confidence, -2% adjustment.
	assert.InDelta(t, 0.98, computeNewWeight(1.0, 30, 50), 1e-9)

	// Decay pulls an elevated weight toward neutral even at baseline accuracy.
	assert.InDelta(t, 1.9, computeNewWeight(2.0, 50, 50), 1e-9)
}

func TestComputeNewWeightStaysWithinBounds(t *testing.T) {
	for _, current := range []float64{models.MinWeight, 0.5, 1.0, 2.0, models.MaxWeight} {
		for _, hitRate := range []float64{0, 25, 50, 75, 100} {
			for _, n := range []int{10, 50, 500} {
				got := computeNewWeight(current, hitRate, n)
				assert.GreaterOrEqual(t, got, models.MinWeight)
				assert.LessOrEqual(t, got, models.MaxWeight)
			}
		}
	}
}

func TestClampWeight(t *testing.T) {
	assert.Equal(t, models.MaxWeight, clampWeight(5.0))
	assert.Equal(t, models.MinWeight, clampWeight(0.05))
	assert.Equal(t, 1.5, clampWeight(1.5))
}

func TestAdjustmentReason(t *testing.T) {
	assert.Equal(t, "strong performer", adjustmentReason(65))
	assert.Equal(t, "weak performer", adjustmentReason(35))
	assert.Equal(t, "average performer, minor adjustment", adjustmentReason(55))
}
