package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/stitts-dev/edge-calibration/internal/services"
	"github.com/stitts-dev/edge-calibration/internal/storage"
	"github.com/stitts-dev/edge-calibration/pkg/config"
	"github.com/stitts-dev/edge-calibration/pkg/utils"
)

// CalibrationHandler exposes the calibration pipeline over HTTP.
type CalibrationHandler struct {
	evaluator *services.Evaluator
	learner   *services.WeightLearner
	detector  *services.PatternDetector
	agent     *services.ImprovementAgent
	pipeline  *services.PipelineService
	store     *storage.Store
	config    *config.Config
	logger    *logrus.Logger
}

// NewCalibrationHandler creates a new calibration handler
func NewCalibrationHandler(
	evaluator *services.Evaluator,
	learner *services.WeightLearner,
	detector *services.PatternDetector,
	agent *services.ImprovementAgent,
	pipeline *services.PipelineService,
	store *storage.Store,
	cfg *config.Config,
	logger *logrus.Logger,
) *CalibrationHandler {
	return &CalibrationHandler{
		evaluator: evaluator,
		learner:   learner,
		detector:  detector,
		agent:     agent,
		pipeline:  pipeline,
		store:     store,
		config:    cfg,
		logger:    logger,
	}
}

type seasonWeekRequest struct {
	Season int `json:"season"`
	Week   int `json:"week"`
}

// resolveSeason falls back to the configured current season when the request
// omits one.
func (h *CalibrationHandler) resolveSeason(season int) int {
	if season == 0 {
		return h.config.CurrentSeason
	}
	return season
}

// Evaluate handles POST /calibration/evaluate. Week 0 evaluates the whole
// season.
func (h *CalibrationHandler) Evaluate(c *gin.Context) {
	var req seasonWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}

	report, err := h.evaluator.Evaluate(c.Request.Context(), h.resolveSeason(req.Season), req.Week)
	if err != nil {
		h.logger.WithError(err).Error("Accuracy evaluation failed")
		utils.SendInternalError(c, "Failed to evaluate prediction accuracy")
		return
	}
	utils.SendSuccess(c, report)
}

// GetAccuracy handles GET /calibration/accuracy, serving the cached report
// when it is warm. Optional season and week query parameters; week 0 covers
// the whole season.
func (h *CalibrationHandler) GetAccuracy(c *gin.Context) {
	season := 0
	if raw := c.Query("season"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.SendValidationError(c, "Invalid season", "season must be a positive integer")
			return
		}
		season = parsed
	}
	week := 0
	if raw := c.Query("week"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.SendValidationError(c, "Invalid week", "week must be a positive integer")
			return
		}
		week = parsed
	}

	report, err := h.evaluator.LatestReport(c.Request.Context(), h.resolveSeason(season), week)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load accuracy report")
		utils.SendInternalError(c, "Failed to load accuracy report")
		return
	}
	utils.SendSuccess(c, report)
}

// Learn handles POST /calibration/learn.
func (h *CalibrationHandler) Learn(c *gin.Context) {
	var req seasonWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}
	if req.Week <= 0 {
		utils.SendValidationError(c, "week is required", "weight learning runs against one completed week")
		return
	}

	report, err := h.learner.Learn(c.Request.Context(), h.resolveSeason(req.Season), req.Week)
	if err != nil {
		h.logger.WithError(err).Error("Weight learning failed")
		utils.SendInternalError(c, "Failed to learn edge weights")
		return
	}
	utils.SendSuccess(c, report)
}

// Analyze handles POST /calibration/analyze.
func (h *CalibrationHandler) Analyze(c *gin.Context) {
	var req seasonWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}
	if req.Week <= 0 {
		utils.SendValidationError(c, "week is required", "pattern analysis runs against one completed week")
		return
	}

	report, err := h.detector.Analyze(c.Request.Context(), h.resolveSeason(req.Season), req.Week)
	if err != nil {
		h.logger.WithError(err).Error("Pattern analysis failed")
		utils.SendInternalError(c, "Failed to analyze predictions")
		return
	}
	utils.SendSuccess(c, report)
}

// Improve handles POST /calibration/improve.
func (h *CalibrationHandler) Improve(c *gin.Context) {
	var req seasonWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}

	report, err := h.agent.RunImprovementAgent(c.Request.Context(), h.resolveSeason(req.Season))
	if err != nil {
		h.logger.WithError(err).Error("Improvement agent run failed")
		utils.SendInternalError(c, "Failed to run improvement agent")
		return
	}
	utils.SendSuccess(c, report)
}

// Run handles POST /calibration/run, the full pipeline.
func (h *CalibrationHandler) Run(c *gin.Context) {
	var req seasonWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}
	if req.Week <= 0 {
		utils.SendValidationError(c, "week is required", "the pipeline runs against one completed week")
		return
	}

	report, err := h.pipeline.Run(c.Request.Context(), h.resolveSeason(req.Season), req.Week)
	if err != nil {
		h.logger.WithError(err).Error("Calibration run failed")
		utils.SendInternalError(c, "Failed to run calibration pipeline")
		return
	}
	utils.SendSuccess(c, report)
}

type rollbackRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Rollback handles POST /calibration/improvements/:id/rollback.
func (h *CalibrationHandler) Rollback(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		utils.SendValidationError(c, "Invalid improvement ID", err.Error())
		return
	}

	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}

	if err := h.agent.Rollback(c.Request.Context(), uint(id), req.Reason); err != nil {
		switch {
		case errors.Is(err, services.ErrImprovementNotFound):
			utils.SendNotFound(c, "Improvement not found")
		case errors.Is(err, services.ErrAlreadyRolledBack):
			utils.SendConflict(c, "Improvement has already been rolled back")
		default:
			h.logger.WithError(err).Error("Rollback failed")
			utils.SendInternalError(c, "Failed to roll back improvement")
		}
		return
	}
	utils.SendSuccess(c, gin.H{"rolled_back": true, "improvement_id": uint(id)})
}

// Impact handles GET /calibration/improvements/:id/impact.
func (h *CalibrationHandler) Impact(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		utils.SendValidationError(c, "Invalid improvement ID", err.Error())
		return
	}

	impact, err := h.agent.TrackImpact(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, services.ErrImprovementNotFound) {
			utils.SendNotFound(c, "Improvement not found")
			return
		}
		h.logger.WithError(err).Error("Impact tracking failed")
		utils.SendInternalError(c, "Failed to track improvement impact")
		return
	}
	utils.SendSuccess(c, impact)
}

// ListImprovements handles GET /calibration/improvements.
func (h *CalibrationHandler) ListImprovements(c *gin.Context) {
	applied, err := h.store.Improvements.ListApplied(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list applied improvements")
		utils.SendInternalError(c, "Failed to list applied improvements")
		return
	}
	utils.SendSuccess(c, applied)
}

// GetWeights handles GET /calibration/weights.
func (h *CalibrationHandler) GetWeights(c *gin.Context) {
	weights, err := h.store.Weights.GetAll(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list edge weights")
		utils.SendInternalError(c, "Failed to list edge weights")
		return
	}
	utils.SendSuccess(c, weights)
}

// GetWeightHistory handles GET /calibration/weights/:edgeType/history.
func (h *CalibrationHandler) GetWeightHistory(c *gin.Context) {
	edgeType := c.Param("edgeType")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.SendValidationError(c, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	history, err := h.store.Weights.ListHistory(c.Request.Context(), edgeType, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list weight history")
		utils.SendInternalError(c, "Failed to list weight history")
		return
	}
	utils.SendSuccess(c, history)
}

// GetPatterns handles GET /calibration/patterns. An optional severity query
// parameter narrows the list.
func (h *CalibrationHandler) GetPatterns(c *gin.Context) {
	patterns, err := h.store.Patterns.List(c.Request.Context(), c.Query("severity"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list detected patterns")
		utils.SendInternalError(c, "Failed to list detected patterns")
		return
	}
	utils.SendSuccess(c, patterns)
}

// MarkPatternAddressed handles PUT /calibration/patterns/:id/addressed.
func (h *CalibrationHandler) MarkPatternAddressed(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		utils.SendValidationError(c, "Invalid pattern ID", err.Error())
		return
	}

	if err := h.store.Patterns.MarkAddressed(c.Request.Context(), uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendNotFound(c, "Pattern not found")
			return
		}
		h.logger.WithError(err).Error("Failed to mark pattern addressed")
		utils.SendInternalError(c, "Failed to mark pattern addressed")
		return
	}
	utils.SendSuccess(c, gin.H{"addressed": true, "pattern_id": uint(id)})
}

// GetProposals handles GET /calibration/proposals. An optional status query
// parameter narrows the list.
func (h *CalibrationHandler) GetProposals(c *gin.Context) {
	proposals, err := h.store.Improvements.ListProposals(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list improvement proposals")
		utils.SendInternalError(c, "Failed to list improvement proposals")
		return
	}
	utils.SendSuccess(c, proposals)
}
