package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/internal/storage"
	"github.com/stitts-dev/edge-calibration/pkg/config"
)

// PipelineService chains the calibration stages into one run and owns the
// cron schedule. Overlapping triggers (cron firing while a manual run is in
// flight) are serialized behind a single mutex.
type PipelineService struct {
	evaluator   *Evaluator
	learner     *WeightLearner
	detector    *PatternDetector
	agent       *ImprovementAgent
	predictions storage.PredictionRepository
	config      *config.Config
	logger      *logrus.Logger
	cron        *cron.Cron
	runMu       sync.Mutex
	mu          sync.Mutex
	isRunning   bool
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(
	evaluator *Evaluator,
	learner *WeightLearner,
	detector *PatternDetector,
	agent *ImprovementAgent,
	predictions storage.PredictionRepository,
	cfg *config.Config,
	logger *logrus.Logger,
) *PipelineService {
	return &PipelineService{
		evaluator:   evaluator,
		learner:     learner,
		detector:    detector,
		agent:       agent,
		predictions: predictions,
		config:      cfg,
		logger:      logger,
		cron:        cron.New(),
	}
}

// Start registers the weekly calibration run and the daily accuracy refresh.
func (s *PipelineService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("calibration scheduler is already running")
	}

	// Tuesday morning, after Monday night outcomes have landed
	_, err := s.cron.AddFunc(s.config.CalibrationCron, s.runScheduled)
	if err != nil {
		return fmt.Errorf("failed to schedule calibration run: %w", err)
	}

	_, err = s.cron.AddFunc(s.config.AccuracyRefreshCron, s.refreshAccuracy)
	if err != nil {
		return fmt.Errorf("failed to schedule accuracy refresh: %w", err)
	}

	s.cron.Start()
	s.isRunning = true

	s.logger.WithFields(logrus.Fields{
		"calibration_cron": s.config.CalibrationCron,
		"refresh_cron":     s.config.AccuracyRefreshCron,
	}).Info("Calibration scheduler started")
	return nil
}

// Stop halts the cron schedule and waits for any in-flight job.
func (s *PipelineService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.logger.Info("Calibration scheduler stopped")
}

// Run executes the full pipeline for one season and week: evaluate, learn,
// analyze, then the improvement agent. The first three stages are independent
// and a failure in one is recorded and skipped past; the agent still runs on
// whatever state the earlier stages left behind.
func (s *PipelineService) Run(ctx context.Context, season, week int) (*models.PipelineReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	runID := uuid.New().String()
	log := s.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"season": season,
		"week":   week,
	})
	log.Info("Starting calibration run")

	report := &models.PipelineReport{
		RunID:     runID,
		Season:    season,
		Week:      week,
		StartedAt: time.Now().UTC(),
	}

	accuracy, err := s.evaluator.Evaluate(ctx, season, week)
	if err != nil {
		log.WithError(err).Error("Evaluate stage failed")
		report.StageErrors = append(report.StageErrors, fmt.Sprintf("evaluate: %v", err))
	} else {
		report.HitRate = accuracy.HitRate
	}

	learn, err := s.learner.Learn(ctx, season, week)
	if err != nil {
		log.WithError(err).Error("Learn stage failed")
		report.StageErrors = append(report.StageErrors, fmt.Sprintf("learn: %v", err))
	} else {
		report.WeightsUpdated = learn.UpdatedCount
	}

	analyze, err := s.detector.Analyze(ctx, season, week)
	if err != nil {
		log.WithError(err).Error("Analyze stage failed")
		report.StageErrors = append(report.StageErrors, fmt.Sprintf("analyze: %v", err))
	} else {
		report.AnalyzedCount = analyze.AnalyzedCount
		report.PatternsDetected = analyze.PatternsDetected
	}

	improve, err := s.agent.RunImprovementAgent(ctx, season)
	if err != nil {
		log.WithError(err).Error("Improvement stage failed")
		report.StageErrors = append(report.StageErrors, fmt.Sprintf("improve: %v", err))
	} else {
		report.AutoApplied = improve.AutoApplied
		report.ProposalsCreated = improve.ProposalsCreated
	}

	report.FinishedAt = time.Now().UTC()
	log.WithFields(logrus.Fields{
		"hit_rate":        report.HitRate,
		"weights_updated": report.WeightsUpdated,
		"analyzed":        report.AnalyzedCount,
		"auto_applied":    report.AutoApplied,
		"stage_errors":    len(report.StageErrors),
	}).Info("Calibration run complete")

	return report, nil
}

// runScheduled is the weekly cron entry point. It targets the most recent
// week of the current season that already has outcomes recorded.
func (s *PipelineService) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	season := s.config.CurrentSeason
	week, err := s.latestCompletedWeek(ctx, season)
	if err != nil {
		s.logger.WithError(err).Error("Failed to resolve latest completed week, skipping scheduled run")
		return
	}
	if week == 0 {
		s.logger.WithField("season", season).Info("No completed weeks yet, skipping scheduled calibration run")
		return
	}

	if _, err := s.Run(ctx, season, week); err != nil {
		s.logger.WithError(err).Error("Scheduled calibration run failed")
	}
}

// refreshAccuracy is the daily cron entry point. It re-evaluates the whole
// current season so the cached accuracy report and per-edge rows stay fresh.
func (s *PipelineService) refreshAccuracy() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.evaluator.Evaluate(ctx, s.config.CurrentSeason, 0); err != nil {
		s.logger.WithError(err).Error("Scheduled accuracy refresh failed")
	}
}

func (s *PipelineService) latestCompletedWeek(ctx context.Context, season int) (int, error) {
	pairs, err := s.predictions.ListWithOutcomes(ctx, season, 0)
	if err != nil {
		return 0, err
	}
	week := 0
	for _, pair := range pairs {
		if pair.Outcome == nil {
			continue
		}
		if pair.Prediction.Week > week {
			week = pair.Prediction.Week
		}
	}
	return week, nil
}

// GetStatus reports scheduler state for the readiness endpoint.
func (s *PipelineService) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"running":   s.isRunning,
		"cron_jobs": len(s.cron.Entries()),
	}
}
