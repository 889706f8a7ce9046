package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/stitts-dev/edge-calibration/internal/models"
)

// PredictionPair joins a prediction to its realized outcome. Outcome is nil
// until the results fetcher has written one.
type PredictionPair struct {
	Prediction models.Prediction
	Outcome    *models.Outcome
}

// PredictionRepository reads the prediction/outcome facts the calibration
// pipeline consumes. Week 0 means the whole season.
type PredictionRepository interface {
	ListWithOutcomes(ctx context.Context, season, week int) ([]PredictionPair, error)
	UpsertPrediction(ctx context.Context, p *models.Prediction) error
	UpsertOutcome(ctx context.Context, o *models.Outcome) error
}

// WeightRepository owns EdgeWeight rows and their audit trail. Single writer
// per edge type per run is assumed; there is no optimistic-concurrency token.
type WeightRepository interface {
	Get(ctx context.Context, edgeType string) (*models.EdgeWeight, error)
	GetAll(ctx context.Context) ([]models.EdgeWeight, error)
	Upsert(ctx context.Context, w *models.EdgeWeight) error
	AppendHistory(ctx context.Context, h *models.WeightHistory) error
	ListHistory(ctx context.Context, edgeType string, limit int) ([]models.WeightHistory, error)
	UpsertEdgeAccuracy(ctx context.Context, a *models.EdgeAccuracy) error
}

// HitRateSplit is a hit-rate aggregate over analyzed predictions on one side
// of a cutoff timestamp.
type HitRateSplit struct {
	Total   int
	Correct int
}

// AnalysisRepository owns the per-prediction analysis cache.
type AnalysisRepository interface {
	AnalyzedIDs(ctx context.Context, season, week int) (map[uint]struct{}, error)
	SaveBatch(ctx context.Context, analyses []models.PredictionAnalysis) error
	ListBySeason(ctx context.Context, season int) ([]models.PredictionAnalysis, error)
	ListWorstMisses(ctx context.Context, season, limit int) ([]models.PredictionAnalysis, error)
	HitRateAround(ctx context.Context, cutoff time.Time) (before, after HitRateSplit, err error)
}

// PatternRepository owns detected patterns, upserted by (type, key).
type PatternRepository interface {
	Upsert(ctx context.Context, p *models.DetectedPattern) error
	ListOpen(ctx context.Context, severities []string) ([]models.DetectedPattern, error)
	List(ctx context.Context, severity string) ([]models.DetectedPattern, error)
	MarkAddressed(ctx context.Context, id uint) error
}

// ImprovementRepository owns proposals and the applied-improvement log.
type ImprovementRepository interface {
	CreateProposal(ctx context.Context, p *models.ImprovementProposal) error
	ListProposals(ctx context.Context, status string) ([]models.ImprovementProposal, error)
	SetIssueRef(ctx context.Context, proposalID uint, url string, number int) error
	CreateApplied(ctx context.Context, a *models.AppliedImprovement) error
	GetApplied(ctx context.Context, id uint) (*models.AppliedImprovement, error)
	ListApplied(ctx context.Context) ([]models.AppliedImprovement, error)
	MarkRolledBack(ctx context.Context, id uint, reason string) error
	UpdateImpact(ctx context.Context, id uint, impact models.ImprovementImpact) error
}

// Store bundles the gorm-backed repositories over one database handle.
type Store struct {
	Predictions  PredictionRepository
	Weights      WeightRepository
	Analyses     AnalysisRepository
	Patterns     PatternRepository
	Improvements ImprovementRepository
}

// New wires all repositories over db.
func New(db *gorm.DB) *Store {
	return &Store{
		Predictions:  &predictionRepo{db: db},
		Weights:      &weightRepo{db: db},
		Analyses:     &analysisRepo{db: db},
		Patterns:     &patternRepo{db: db},
		Improvements: &improvementRepo{db: db},
	}
}

// Migrate creates or updates the calibration schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Prediction{},
		&models.Outcome{},
		&models.EdgeWeight{},
		&models.WeightHistory{},
		&models.EdgeAccuracy{},
		&models.PredictionAnalysis{},
		&models.DetectedPattern{},
		&models.ImprovementProposal{},
		&models.AppliedImprovement{},
	)
}
