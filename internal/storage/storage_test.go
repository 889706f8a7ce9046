package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stitts-dev/edge-calibration/internal/models"
)

type StorageTestSuite struct {
	suite.Suite
	db    *gorm.DB
	store *Store
	ctx   context.Context
}

func (s *StorageTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	s.Require().NoError(err)
	s.Require().NoError(Migrate(db))
	s.db = db
	s.store = New(db)
	s.ctx = context.Background()
}

func (s *StorageTestSuite) seedPrediction(playerID string, week int, rec models.Recommendation) models.Prediction {
	p := models.Prediction{
		PlayerID:       playerID,
		PlayerName:     "Player " + playerID,
		Team:           "KC",
		Role:           models.RoleRB,
		Week:           week,
		Season:         2025,
		EdgeScore:      2.0,
		Confidence:     70,
		Recommendation: rec,
		GameTime:       time.Date(2025, 9, 7, 13, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.Predictions.UpsertPrediction(s.ctx, &p))
	return p
}

func (s *StorageTestSuite) TestPredictionUpsertIsIdempotent() {
	s.seedPrediction("p1", 1, models.RecommendationStart)

	updated := models.Prediction{
		PlayerID:       "p1",
		PlayerName:     "Player p1",
		Team:           "KC",
		Role:           models.RoleRB,
		Week:           1,
		Season:         2025,
		EdgeScore:      4.0,
		Confidence:     90,
		Recommendation: models.RecommendationSmash,
		GameTime:       time.Date(2025, 9, 7, 13, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.Predictions.UpsertPrediction(s.ctx, &updated))

	var count int64
	s.Require().NoError(s.db.Model(&models.Prediction{}).Count(&count).Error)
	s.Equal(int64(1), count)

	var stored models.Prediction
	s.Require().NoError(s.db.Where("player_id = ?", "p1").First(&stored).Error)
	s.Equal(models.RecommendationSmash, stored.Recommendation)
	s.Equal(90.0, stored.Confidence)
}

func (s *StorageTestSuite) TestListWithOutcomesJoinsByIdentity() {
	s.seedPrediction("p1", 1, models.RecommendationStart)
	s.seedPrediction("p2", 1, models.RecommendationStart)
	s.seedPrediction("p3", 2, models.RecommendationSit)

	rank := 7
	s.Require().NoError(s.store.Predictions.UpsertOutcome(s.ctx, &models.Outcome{
		PlayerID: "p1", Week: 1, Season: 2025, FantasyPoints: 18.2, PositionRank: &rank,
	}))

	pairs, err := s.store.Predictions.ListWithOutcomes(s.ctx, 2025, 1)
	s.Require().NoError(err)
	s.Require().Len(pairs, 2)

	byPlayer := map[string]PredictionPair{}
	for _, pair := range pairs {
		byPlayer[pair.Prediction.PlayerID] = pair
	}
	s.Require().NotNil(byPlayer["p1"].Outcome)
	s.Equal(7, *byPlayer["p1"].Outcome.PositionRank)
	s.Nil(byPlayer["p2"].Outcome)

	all, err := s.store.Predictions.ListWithOutcomes(s.ctx, 2025, 0)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *StorageTestSuite) TestOutcomeUpsertUpdatesInPlace() {
	s.seedPrediction("p1", 1, models.RecommendationStart)

	provisional := 15
	s.Require().NoError(s.store.Predictions.UpsertOutcome(s.ctx, &models.Outcome{
		PlayerID: "p1", Week: 1, Season: 2025, FantasyPoints: 9.0, PositionRank: &provisional,
	}))
	final := 11
	s.Require().NoError(s.store.Predictions.UpsertOutcome(s.ctx, &models.Outcome{
		PlayerID: "p1", Week: 1, Season: 2025, FantasyPoints: 12.6, PositionRank: &final,
	}))

	var count int64
	s.Require().NoError(s.db.Model(&models.Outcome{}).Count(&count).Error)
	s.Equal(int64(1), count)

	var stored models.Outcome
	s.Require().NoError(s.db.Where("player_id = ?", "p1").First(&stored).Error)
	s.Equal(12.6, stored.FantasyPoints)
	s.Equal(11, *stored.PositionRank)
}

func (s *StorageTestSuite) TestWeightGetMissingReturnsNil() {
	weight, err := s.store.Weights.Get(s.ctx, "never_seen")
	s.Require().NoError(err)
	s.Nil(weight)
}

func (s *StorageTestSuite) TestWeightUpsertByEdgeType() {
	w := models.NewEdgeWeight("weather_wind")
	s.Require().NoError(s.store.Weights.Upsert(s.ctx, w))

	w2 := models.NewEdgeWeight("weather_wind")
	w2.Weight = 1.15
	w2.HitRate = 62.0
	w2.SampleSize = 40
	s.Require().NoError(s.store.Weights.Upsert(s.ctx, w2))

	var count int64
	s.Require().NoError(s.db.Model(&models.EdgeWeight{}).Count(&count).Error)
	s.Equal(int64(1), count)

	stored, err := s.store.Weights.Get(s.ctx, "weather_wind")
	s.Require().NoError(err)
	s.Require().NotNil(stored)
	s.Equal(1.15, stored.Weight)
	s.Equal(40, stored.SampleSize)
}

func (s *StorageTestSuite) TestWeightHistoryIsAppendOnly() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.Weights.AppendHistory(s.ctx, &models.WeightHistory{
			EdgeType: "weather_wind", Season: 2025, Week: i + 1,
			OldWeight: 1.0, NewWeight: 1.0 + float64(i+1)/100,
			HitRate: 55, SampleSize: 20, Reason: "strong performer",
		}))
	}
	history, err := s.store.Weights.ListHistory(s.ctx, "weather_wind", 0)
	s.Require().NoError(err)
	s.Len(history, 3)

	limited, err := s.store.Weights.ListHistory(s.ctx, "weather_wind", 2)
	s.Require().NoError(err)
	s.Len(limited, 2)
}

func (s *StorageTestSuite) TestEdgeAccuracyUpsertBySeason() {
	row := &models.EdgeAccuracy{EdgeType: "vegas_total", Season: 2025, TotalPredictions: 10, CorrectPredictions: 6, HitRate: 60}
	s.Require().NoError(s.store.Weights.UpsertEdgeAccuracy(s.ctx, row))

	row2 := &models.EdgeAccuracy{EdgeType: "vegas_total", Season: 2025, TotalPredictions: 15, CorrectPredictions: 9, HitRate: 60}
	s.Require().NoError(s.store.Weights.UpsertEdgeAccuracy(s.ctx, row2))

	var count int64
	s.Require().NoError(s.db.Model(&models.EdgeAccuracy{}).Count(&count).Error)
	s.Equal(int64(1), count)

	var stored models.EdgeAccuracy
	s.Require().NoError(s.db.First(&stored).Error)
	s.Equal(15, stored.TotalPredictions)
}

func (s *StorageTestSuite) TestAnalyzedIDsFiltersByWeek() {
	analyses := []models.PredictionAnalysis{
		{PredictionID: 1, Season: 2025, Week: 1, GameTime: time.Now()},
		{PredictionID: 2, Season: 2025, Week: 2, GameTime: time.Now()},
	}
	s.Require().NoError(s.store.Analyses.SaveBatch(s.ctx, analyses))

	week1, err := s.store.Analyses.AnalyzedIDs(s.ctx, 2025, 1)
	s.Require().NoError(err)
	s.Len(week1, 1)
	s.Contains(week1, uint(1))

	all, err := s.store.Analyses.AnalyzedIDs(s.ctx, 2025, 0)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *StorageTestSuite) TestListWorstMissesOrdersByRankDiff() {
	analyses := []models.PredictionAnalysis{
		{PredictionID: 1, Season: 2025, Week: 1, Severity: models.SeverityMajorMiss, RankDiff: 14, GameTime: time.Now()},
		{PredictionID: 2, Season: 2025, Week: 1, Severity: models.SeverityBadMiss, RankDiff: 25, GameTime: time.Now()},
		{PredictionID: 3, Season: 2025, Week: 1, Severity: models.SeverityMinorMiss, RankDiff: 8, GameTime: time.Now()},
	}
	s.Require().NoError(s.store.Analyses.SaveBatch(s.ctx, analyses))

	misses, err := s.store.Analyses.ListWorstMisses(s.ctx, 2025, 10)
	s.Require().NoError(err)
	s.Require().Len(misses, 2)
	s.Equal(uint(2), misses[0].PredictionID)
	s.Equal(uint(1), misses[1].PredictionID)
}

func (s *StorageTestSuite) TestHitRateAroundCutoff() {
	cutoff := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	analyses := []models.PredictionAnalysis{
		{PredictionID: 1, Season: 2025, Week: 1, Hit: true, GameTime: cutoff.AddDate(0, 0, -7)},
		{PredictionID: 2, Season: 2025, Week: 1, Hit: false, GameTime: cutoff.AddDate(0, 0, -6)},
		{PredictionID: 3, Season: 2025, Week: 5, Hit: true, GameTime: cutoff.AddDate(0, 0, 7)},
	}
	s.Require().NoError(s.store.Analyses.SaveBatch(s.ctx, analyses))

	before, after, err := s.store.Analyses.HitRateAround(s.ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(2, before.Total)
	s.Equal(1, before.Correct)
	s.Equal(1, after.Total)
	s.Equal(1, after.Correct)
}

func (s *StorageTestSuite) TestPatternUpsertByTypeAndKey() {
	p := &models.DetectedPattern{
		PatternType: models.PatternTypeTeam, PatternKey: "NYJ",
		TotalCount: 3, CorrectCount: 0, HitRate: 0, Severity: models.PatternSeverityCritical,
	}
	s.Require().NoError(s.store.Patterns.Upsert(s.ctx, p))

	p2 := &models.DetectedPattern{
		PatternType: models.PatternTypeTeam, PatternKey: "NYJ",
		TotalCount: 5, CorrectCount: 2, HitRate: 40, Severity: models.PatternSeverityConcerning,
	}
	s.Require().NoError(s.store.Patterns.Upsert(s.ctx, p2))

	var count int64
	s.Require().NoError(s.db.Model(&models.DetectedPattern{}).Count(&count).Error)
	s.Equal(int64(1), count)

	patterns, err := s.store.Patterns.List(s.ctx, "")
	s.Require().NoError(err)
	s.Require().Len(patterns, 1)
	s.Equal(5, patterns[0].TotalCount)
	s.Equal(models.PatternSeverityConcerning, patterns[0].Severity)
}

func (s *StorageTestSuite) TestListOpenExcludesAddressed() {
	open := &models.DetectedPattern{
		PatternType: models.PatternTypeTeam, PatternKey: "NYJ",
		TotalCount: 3, HitRate: 0, Severity: models.PatternSeverityCritical,
	}
	s.Require().NoError(s.store.Patterns.Upsert(s.ctx, open))
	done := &models.DetectedPattern{
		PatternType: models.PatternTypeRole, PatternKey: "TE",
		TotalCount: 6, HitRate: 33.3, Severity: models.PatternSeverityCritical,
	}
	s.Require().NoError(s.store.Patterns.Upsert(s.ctx, done))
	s.Require().NoError(s.store.Patterns.MarkAddressed(s.ctx, done.ID))

	patterns, err := s.store.Patterns.ListOpen(s.ctx, []string{models.PatternSeverityCritical, models.PatternSeverityConcerning})
	s.Require().NoError(err)
	s.Require().Len(patterns, 1)
	s.Equal("NYJ", patterns[0].PatternKey)
}

func (s *StorageTestSuite) TestMarkAddressedUnknownPattern() {
	s.ErrorIs(s.store.Patterns.MarkAddressed(s.ctx, 999), gorm.ErrRecordNotFound)
}

func (s *StorageTestSuite) TestProposalLifecycle() {
	proposal := &models.ImprovementProposal{
		Title:    "Rework weather model",
		Category: models.RecommendationTypeCodeChange,
		Priority: "high",
	}
	s.Require().NoError(s.store.Improvements.CreateProposal(s.ctx, proposal))
	s.Equal(models.ProposalStatusPending, proposal.Status)

	s.Require().NoError(s.store.Improvements.SetIssueRef(s.ctx, proposal.ID, "https://github.com/test/repo/issues/7", 7))

	proposals, err := s.store.Improvements.ListProposals(s.ctx, models.ProposalStatusPending)
	s.Require().NoError(err)
	s.Require().Len(proposals, 1)
	s.Require().NotNil(proposals[0].IssueURL)
	s.Equal("https://github.com/test/repo/issues/7", *proposals[0].IssueURL)
	s.Equal(7, *proposals[0].IssueNumber)
}

func (s *StorageTestSuite) TestAppliedImprovementRollbackAndImpact() {
	applied := &models.AppliedImprovement{
		ChangeType:   models.RecommendationTypeWeightAdjustment,
		EdgeType:     "weather_wind",
		Season:       2025,
		BeforeWeight: 1.0,
		AfterWeight:  1.2,
	}
	s.Require().NoError(s.store.Improvements.CreateApplied(s.ctx, applied))
	s.False(applied.AppliedAt.IsZero())

	s.Require().NoError(s.store.Improvements.UpdateImpact(s.ctx, applied.ID, models.ImprovementImpact{
		PredictionsBefore: 20, PredictionsAfter: 10,
		AccuracyBefore: 48.0, AccuracyAfter: 55.0,
		ImprovementDetected: true,
	}))
	s.Require().NoError(s.store.Improvements.MarkRolledBack(s.ctx, applied.ID, "regressed in week 6"))

	stored, err := s.store.Improvements.GetApplied(s.ctx, applied.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored)
	s.True(stored.RolledBack)
	s.Equal("regressed in week 6", *stored.RollbackReason)
	s.NotNil(stored.RolledBackAt)
	s.Equal(55.0, stored.AccuracyAfter)
	s.True(stored.ImprovementDetected)

	missing, err := s.store.Improvements.GetApplied(s.ctx, 999)
	s.Require().NoError(err)
	s.Nil(missing)
}

func TestStorageTestSuite(t *testing.T) {
	suite.Run(t, new(StorageTestSuite))
}
