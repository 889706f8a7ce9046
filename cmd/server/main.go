package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/edge-calibration/internal/api"
	"github.com/stitts-dev/edge-calibration/internal/api/handlers"
	"github.com/stitts-dev/edge-calibration/internal/api/middleware"
	"github.com/stitts-dev/edge-calibration/internal/services"
	"github.com/stitts-dev/edge-calibration/internal/storage"
	"github.com/stitts-dev/edge-calibration/pkg/config"
	"github.com/stitts-dev/edge-calibration/pkg/database"
	"github.com/stitts-dev/edge-calibration/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Setup logging
	log := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	logger.WithService("edge-calibration").WithField("env", cfg.Env).Info("Starting calibration service")
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db.DB); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Connect to Redis. The cache degrades to pass-through when Redis is
	// unavailable, so a failed connection is logged, not fatal.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warnf("Invalid Redis URL, running without cache: %v", err)
		} else {
			redisClient = redis.NewClient(opt)
			if err := redisClient.Ping(context.Background()).Err(); err != nil {
				log.Warnf("Failed to connect to Redis, running without cache: %v", err)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
			}
		}
	}

	// Initialize storage and services
	store := storage.New(db.DB)
	cacheService := services.NewCacheService(redisClient, log)

	var notifier services.Notifier
	if cfg.SMSProvider == "twilio" && cfg.TwilioAccountSID != "" {
		notifier = services.NewTwilioNotifier(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.AlertPhoneNumber, log)
	} else {
		notifier = services.NewMockNotifier(log)
	}

	var tracker services.TicketTracker
	if cfg.GitHubToken != "" && cfg.GitHubRepo != "" {
		tracker = services.NewGitHubTracker(cfg.GitHubToken, cfg.GitHubRepo, log)
	}

	claudeClient := services.NewClaudeClient(cfg, cacheService, log)

	evaluator := services.NewEvaluator(store.Predictions, store.Weights, cacheService, log)
	learner := services.NewWeightLearner(store.Predictions, store.Weights, cacheService, log)
	detector := services.NewPatternDetector(store.Predictions, store.Analyses, store.Patterns, notifier, log)
	agent := services.NewImprovementAgent(store.Weights, store.Patterns, store.Analyses, store.Improvements, claudeClient, tracker, cacheService, log)

	pipeline := services.NewPipelineService(evaluator, learner, detector, agent, store.Predictions, cfg, log)
	if cfg.EnableScheduler {
		if err := pipeline.Start(); err != nil {
			log.Errorf("Failed to start calibration scheduler: %v", err)
		}
		defer pipeline.Stop()
	}

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorLogger(log))
	router.Use(middleware.CORS(cfg.CorsOrigins))

	healthHandler := handlers.NewHealthHandler(db, cacheService, pipeline)
	router.GET("/health", healthHandler.GetHealth)
	router.GET("/ready", healthHandler.GetReady)

	// Setup API routes under /api/v1
	apiV1 := router.Group("/api/v1")
	api.SetupRoutes(apiV1, evaluator, learner, detector, agent, pipeline, store, cfg, log)

	// Setup server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
