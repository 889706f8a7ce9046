package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/edge-calibration/internal/api/handlers"
	"github.com/stitts-dev/edge-calibration/internal/services"
	"github.com/stitts-dev/edge-calibration/internal/storage"
	"github.com/stitts-dev/edge-calibration/pkg/config"
)

// SetupRoutes configures all API routes on the given router group
func SetupRoutes(
	group *gin.RouterGroup,
	evaluator *services.Evaluator,
	learner *services.WeightLearner,
	detector *services.PatternDetector,
	agent *services.ImprovementAgent,
	pipeline *services.PipelineService,
	store *storage.Store,
	cfg *config.Config,
	logger *logrus.Logger,
) {
	calibrationHandler := handlers.NewCalibrationHandler(evaluator, learner, detector, agent, pipeline, store, cfg, logger)

	calibration := group.Group("/calibration")
	{
		calibration.POST("/evaluate", calibrationHandler.Evaluate)
		calibration.POST("/learn", calibrationHandler.Learn)
		calibration.POST("/analyze", calibrationHandler.Analyze)
		calibration.POST("/improve", calibrationHandler.Improve)
		calibration.POST("/run", calibrationHandler.Run)

		calibration.GET("/accuracy", calibrationHandler.GetAccuracy)

		calibration.GET("/weights", calibrationHandler.GetWeights)
		calibration.GET("/weights/:edgeType/history", calibrationHandler.GetWeightHistory)

		calibration.GET("/patterns", calibrationHandler.GetPatterns)
		calibration.PUT("/patterns/:id/addressed", calibrationHandler.MarkPatternAddressed)

		calibration.GET("/proposals", calibrationHandler.GetProposals)

		calibration.GET("/improvements", calibrationHandler.ListImprovements)
		calibration.POST("/improvements/:id/rollback", calibrationHandler.Rollback)
		calibration.GET("/improvements/:id/impact", calibrationHandler.Impact)
	}
}
