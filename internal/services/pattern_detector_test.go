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

type recordingNotifier struct {
	alerts []string
}

func (n *recordingNotifier) SendAlert(message string) error {
	n.alerts = append(n.alerts, message)
	return nil
}

type PatternDetectorTestSuite struct {
	suite.Suite
	store    *storage.Store
	db       *gorm.DB
	notifier *recordingNotifier
	detector *PatternDetector
}

func (s *PatternDetectorTestSuite) SetupTest() {
	s.store, s.db = newTestStore(s.T())
	s.notifier = &recordingNotifier{}
	s.detector = NewPatternDetector(s.store.Predictions, s.store.Analyses, s.store.Patterns, s.notifier, newTestLogger())
}

// seedTeamBusts writes count START predictions for one team that all finished
// at rank 30 (a major miss, rank diff +18).
func (s *PatternDetectorTestSuite) seedTeamBusts(team string, count int) {
	for i := 0; i < count; i++ {
		pred := models.Prediction{
			PlayerID:       fmt.Sprintf("%s-p%d", team, i),
			PlayerName:     fmt.Sprintf("%s Player %d", team, i),
			Team:           team,
			Role:           models.RoleWR,
			Week:           1,
			Season:         2025,
			EdgeScore:      3.0,
			Confidence:     85,
			Recommendation: models.RecommendationStart,
		}
		pred.Signals = mustSignals(s.T(), []models.EdgeSignal{{Type: "vegas_total", Magnitude: 2.2, Confidence: 80}})
		seedPair(s.T(), s.db, pred, intPtr(30), 3.5)
	}
}

func (s *PatternDetectorTestSuite) TestAnalyzeComputesSeverityAndFactors() {
	s.seedTeamBusts("NYJ", 1)

	report, err := s.detector.Analyze(context.Background(), 2025, 1)
	s.Require().NoError(err)
	s.Equal(1, report.AnalyzedCount)

	var analyses []models.PredictionAnalysis
	s.Require().NoError(s.db.Find(&analyses).Error)
	s.Require().Len(analyses, 1)

	a := analyses[0]
	s.False(a.Hit)
	s.Equal(12, a.ExpectedRank)
	s.Equal(30, a.ActualRank)
	s.Equal(18, a.RankDiff)
	s.Equal(models.SeverityMajorMiss, a.Severity)
	s.Equal("vegas_total", a.StrongestSignal)
	s.Contains(a.FactorList(), "positive edge but outcome was poor")
	s.Contains(a.FactorList(), "high confidence but large miss")
}

func (s *PatternDetectorTestSuite) TestAnalyzeIsIdempotent() {
	s.seedTeamBusts("NYJ", 3)

	first, err := s.detector.Analyze(context.Background(), 2025, 1)
	s.Require().NoError(err)
	s.Equal(3, first.AnalyzedCount)

	second, err := s.detector.Analyze(context.Background(), 2025, 1)
	s.Require().NoError(err)
	s.Equal(0, second.AnalyzedCount)

	var count int64
	s.Require().NoError(s.db.Model(&models.PredictionAnalysis{}).Count(&count).Error)
	s.Equal(int64(3), count)
}

func (s *PatternDetectorTestSuite) TestTeamPatternDetectedAndAlerted() {
	s.seedTeamBusts("NYJ", 3)

	report, err := s.detector.Analyze(context.Background(), 2025, 1)
	s.Require().NoError(err)
	s.Greater(report.PatternsDetected, 0)

	patterns, err := s.store.Patterns.List(context.Background(), "")
	s.Require().NoError(err)

	var team *models.DetectedPattern
	for i := range patterns {
		if patterns[i].PatternType == models.PatternTypeTeam && patterns[i].PatternKey == "NYJ" {
			team = &patterns[i]
		}
	}
	s.Require().NotNil(team)
	s.Equal(3, team.TotalCount)
	s.Equal(0, team.CorrectCount)
	s.Equal(0.0, team.HitRate)
	s.Equal(models.PatternSeverityCritical, team.Severity)

	s.NotEmpty(s.notifier.alerts)
}

func (s *PatternDetectorTestSuite) TestSmallGroupsAreNotPatterns() {
	s.seedTeamBusts("DEN", 2)

	_, err := s.detector.Analyze(context.Background(), 2025, 1)
	s.Require().NoError(err)

	patterns, err := s.store.Patterns.List(context.Background(), "")
	s.Require().NoError(err)
	for _, p := range patterns {
		s.NotEqual(models.PatternTypeTeam, p.PatternType)
	}
}

func (s *PatternDetectorTestSuite) TestFactorPatternFromSharedMisses() {
	s.seedTeamBusts("NYJ", 2)

	_, err := s.detector.Analyze(context.Background(), 2025, 1)
	s.Require().NoError(err)

	patterns, err := s.store.Patterns.List(context.Background(), "")
	s.Require().NoError(err)

	var factor *models.DetectedPattern
	for i := range patterns {
		if patterns[i].PatternType == models.PatternTypeContribFactor && patterns[i].PatternKey == "high confidence but large miss" {
			factor = &patterns[i]
		}
	}
	s.Require().NotNil(factor)
	s.Equal(2, factor.TotalCount)
	s.Equal(models.PatternSeverityConcerning, factor.Severity)
}

func TestPatternDetectorTestSuite(t *testing.T) {
	suite.Run(t, new(PatternDetectorTestSuite))
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, models.SeveritySmashHit, severityFor(true, -5))
	assert.Equal(t, models.SeverityHit, severityFor(true, -4))
	assert.Equal(t, models.SeverityHit, severityFor(true, 0))
	assert.Equal(t, models.SeverityMiss, severityFor(false, 3))
	assert.Equal(t, models.SeverityMinorMiss, severityFor(false, 6))
	assert.Equal(t, models.SeverityMajorMiss, severityFor(false, 12))
	assert.Equal(t, models.SeverityBadMiss, severityFor(false, 20))
}

func TestPatternSeverity(t *testing.T) {
	assert.Equal(t, models.PatternSeverityCritical, patternSeverity(39.9))
	assert.Equal(t, models.PatternSeverityConcerning, patternSeverity(40))
	assert.Equal(t, models.PatternSeverityConcerning, patternSeverity(49.9))
	assert.Equal(t, models.PatternSeverityNotable, patternSeverity(50))
	assert.Equal(t, models.PatternSeverityNotable, patternSeverity(54.9))
	assert.Equal(t, "", patternSeverity(55))
}
