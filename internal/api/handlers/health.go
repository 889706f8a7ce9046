package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stitts-dev/edge-calibration/internal/services"
	"github.com/stitts-dev/edge-calibration/pkg/database"
)

type HealthHandler struct {
	db       *database.DB
	cache    *services.CacheService
	pipeline *services.PipelineService
}

func NewHealthHandler(db *database.DB, cache *services.CacheService, pipeline *services.PipelineService) *HealthHandler {
	return &HealthHandler{
		db:       db,
		cache:    cache,
		pipeline: pipeline,
	}
}

// GetHealth returns basic health status - always returns 200 if server is running
// This is used for basic liveness probes
func (h *HealthHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "edge-calibration",
		"time":    time.Now().UTC(),
	})
}

// GetReady returns readiness status - only returns 200 when the database is
// reachable. Redis is a degradation, not a readiness failure.
func (h *HealthHandler) GetReady(c *gin.Context) {
	if err := h.db.HealthCheck(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}

	status := gin.H{
		"status":   "ready",
		"database": "ok",
	}
	if h.cache != nil {
		if h.cache.IsHealthy(c.Request.Context()) {
			status["cache"] = "ok"
		} else {
			status["cache"] = "degraded"
		}
	}
	if h.pipeline != nil {
		status["scheduler"] = h.pipeline.GetStatus()
	}
	c.JSON(http.StatusOK, status)
}
