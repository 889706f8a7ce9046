package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/internal/services"
	"github.com/stitts-dev/edge-calibration/internal/storage"
	"github.com/stitts-dev/edge-calibration/pkg/config"
	"github.com/stitts-dev/edge-calibration/pkg/utils"
)

type noRecommendations struct{}

func (noRecommendations) Recommend(ctx context.Context, contextDoc string) ([]models.AgentRecommendation, error) {
	return nil, nil
}

type CalibrationHandlerTestSuite struct {
	suite.Suite
	db      *gorm.DB
	store   *storage.Store
	agent   *services.ImprovementAgent
	router  *gin.Engine
	handler *CalibrationHandler
}

func (s *CalibrationHandlerTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	s.Require().NoError(err)
	s.Require().NoError(storage.Migrate(db))
	s.db = db
	s.store = storage.New(db)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cache := services.NewCacheService(nil, logger)
	evaluator := services.NewEvaluator(s.store.Predictions, s.store.Weights, cache, logger)
	learner := services.NewWeightLearner(s.store.Predictions, s.store.Weights, cache, logger)
	detector := services.NewPatternDetector(s.store.Predictions, s.store.Analyses, s.store.Patterns, services.NewMockNotifier(logger), logger)
	s.agent = services.NewImprovementAgent(s.store.Weights, s.store.Patterns, s.store.Analyses, s.store.Improvements, noRecommendations{}, nil, cache, logger)
	pipeline := services.NewPipelineService(evaluator, learner, detector, s.agent, s.store.Predictions, &config.Config{CurrentSeason: 2025}, logger)

	cfg := &config.Config{CurrentSeason: 2025}
	s.handler = NewCalibrationHandler(evaluator, learner, detector, s.agent, pipeline, s.store, cfg, logger)

	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	s.router.POST("/calibration/evaluate", s.handler.Evaluate)
	s.router.POST("/calibration/learn", s.handler.Learn)
	s.router.POST("/calibration/run", s.handler.Run)
	s.router.GET("/calibration/accuracy", s.handler.GetAccuracy)
	s.router.GET("/calibration/weights", s.handler.GetWeights)
	s.router.GET("/calibration/patterns", s.handler.GetPatterns)
	s.router.POST("/calibration/improvements/:id/rollback", s.handler.Rollback)
	s.router.GET("/calibration/improvements/:id/impact", s.handler.Impact)
}

func (s *CalibrationHandlerTestSuite) request(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewBuffer(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *CalibrationHandlerTestSuite) decode(w *httptest.ResponseRecorder) utils.Response {
	var resp utils.Response
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *CalibrationHandlerTestSuite) TestEvaluateEmptySeason() {
	w := s.request(http.MethodPost, "/calibration/evaluate", gin.H{"season": 2025})
	s.Equal(http.StatusOK, w.Code)

	resp := s.decode(w)
	s.True(resp.Success)

	data, err := json.Marshal(resp.Data)
	s.Require().NoError(err)
	var report models.AccuracyReport
	s.Require().NoError(json.Unmarshal(data, &report))
	s.Equal(2025, report.Season)
	s.Equal(0, report.TotalPredictions)
}

func (s *CalibrationHandlerTestSuite) TestGetAccuracyDefaultsToCurrentSeason() {
	w := s.request(http.MethodGet, "/calibration/accuracy", nil)
	s.Equal(http.StatusOK, w.Code)

	resp := s.decode(w)
	s.True(resp.Success)

	data, err := json.Marshal(resp.Data)
	s.Require().NoError(err)
	var report models.AccuracyReport
	s.Require().NoError(json.Unmarshal(data, &report))
	s.Equal(2025, report.Season)
	s.Equal(0, report.Week)
}

func (s *CalibrationHandlerTestSuite) TestGetAccuracyRejectsBadWeek() {
	w := s.request(http.MethodGet, "/calibration/accuracy?week=zero", nil)
	s.Equal(http.StatusBadRequest, w.Code)

	resp := s.decode(w)
	s.Equal(utils.ErrCodeValidation, resp.Error.Code)
}

func (s *CalibrationHandlerTestSuite) TestLearnRequiresWeek() {
	w := s.request(http.MethodPost, "/calibration/learn", gin.H{"season": 2025})
	s.Equal(http.StatusBadRequest, w.Code)

	resp := s.decode(w)
	s.False(resp.Success)
	s.Equal(utils.ErrCodeValidation, resp.Error.Code)
}

func (s *CalibrationHandlerTestSuite) TestRunPipelineOnEmptySeason() {
	w := s.request(http.MethodPost, "/calibration/run", gin.H{"season": 2025, "week": 1})
	s.Equal(http.StatusOK, w.Code)

	resp := s.decode(w)
	s.True(resp.Success)

	data, err := json.Marshal(resp.Data)
	s.Require().NoError(err)
	var report models.PipelineReport
	s.Require().NoError(json.Unmarshal(data, &report))
	s.NotEmpty(report.RunID)
	s.Empty(report.StageErrors)
}

func (s *CalibrationHandlerTestSuite) TestGetWeights() {
	s.Require().NoError(s.store.Weights.Upsert(context.Background(), models.NewEdgeWeight("weather_wind")))

	w := s.request(http.MethodGet, "/calibration/weights", nil)
	s.Equal(http.StatusOK, w.Code)

	resp := s.decode(w)
	s.True(resp.Success)

	data, err := json.Marshal(resp.Data)
	s.Require().NoError(err)
	var weights []models.EdgeWeight
	s.Require().NoError(json.Unmarshal(data, &weights))
	s.Require().Len(weights, 1)
	s.Equal("weather_wind", weights[0].EdgeType)
}

func (s *CalibrationHandlerTestSuite) TestGetPatternsFiltersBySeverity() {
	s.Require().NoError(s.store.Patterns.Upsert(context.Background(), &models.DetectedPattern{
		PatternType: models.PatternTypeTeam, PatternKey: "NYJ",
		TotalCount: 3, HitRate: 0, Severity: models.PatternSeverityCritical,
	}))
	s.Require().NoError(s.store.Patterns.Upsert(context.Background(), &models.DetectedPattern{
		PatternType: models.PatternTypeRole, PatternKey: "TE",
		TotalCount: 6, HitRate: 52, Severity: models.PatternSeverityNotable,
	}))

	w := s.request(http.MethodGet, "/calibration/patterns?severity=critical", nil)
	s.Equal(http.StatusOK, w.Code)

	resp := s.decode(w)
	data, err := json.Marshal(resp.Data)
	s.Require().NoError(err)
	var patterns []models.DetectedPattern
	s.Require().NoError(json.Unmarshal(data, &patterns))
	s.Require().Len(patterns, 1)
	s.Equal("NYJ", patterns[0].PatternKey)
}

func (s *CalibrationHandlerTestSuite) TestRollbackUnknownImprovement() {
	w := s.request(http.MethodPost, "/calibration/improvements/999/rollback", gin.H{"reason": "bad"})
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *CalibrationHandlerTestSuite) TestRollbackTwiceConflicts() {
	applied := &models.AppliedImprovement{
		ChangeType:   models.RecommendationTypeWeightAdjustment,
		EdgeType:     "weather_wind",
		Season:       2025,
		BeforeWeight: 1.0,
		AfterWeight:  1.2,
		AppliedAt:    time.Now().UTC(),
	}
	s.Require().NoError(s.store.Improvements.CreateApplied(context.Background(), applied))

	first := s.request(http.MethodPost, "/calibration/improvements/1/rollback", gin.H{"reason": "regressed"})
	s.Equal(http.StatusOK, first.Code)

	second := s.request(http.MethodPost, "/calibration/improvements/1/rollback", gin.H{"reason": "again"})
	s.Equal(http.StatusConflict, second.Code)

	resp := s.decode(second)
	s.Equal(utils.ErrCodeConflict, resp.Error.Code)
}

func (s *CalibrationHandlerTestSuite) TestRollbackRequiresReason() {
	w := s.request(http.MethodPost, "/calibration/improvements/1/rollback", gin.H{})
	s.Equal(http.StatusBadRequest, w.Code)
}

func TestCalibrationHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(CalibrationHandlerTestSuite))
}
