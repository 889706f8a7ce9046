package services

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/internal/storage"
)

// Evaluator joins predictions to outcomes and computes hit rates along the
// reporting dimensions. It is the first stage of the calibration pipeline.
type Evaluator struct {
	predictions storage.PredictionRepository
	weights     storage.WeightRepository
	cache       *CacheService
	logger      *logrus.Logger
}

func NewEvaluator(
	predictions storage.PredictionRepository,
	weights storage.WeightRepository,
	cache *CacheService,
	logger *logrus.Logger,
) *Evaluator {
	return &Evaluator{
		predictions: predictions,
		weights:     weights,
		cache:       cache,
		logger:      logger,
	}
}

type edgeTally struct {
	total        int
	correct      int
	sumMagnitude float64
}

// Evaluate computes the accuracy report for a season (optionally one week).
// A season with no scorable predictions yields a zero-filled report; absence
// of data is not a failure. Side effect: season-wide per-edge-type accuracy
// rows are upserted for dashboard reads.
func (e *Evaluator) Evaluate(ctx context.Context, season, week int) (*models.AccuracyReport, error) {
	report := emptyAccuracyReport(season, week)
	if e.predictions == nil {
		return report, nil
	}

	pairs, err := e.predictions.ListWithOutcomes(ctx, season, week)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"season": season,
			"week":   week,
		}).Error("Failed to load predictions for evaluation")
		return nil, err
	}

	var hits, misses []models.PredictionResult

	for _, pair := range pairs {
		if pair.Outcome == nil || pair.Outcome.PositionRank == nil {
			continue
		}
		pred := pair.Prediction
		rank := *pair.Outcome.PositionRank
		hit := IsHit(pred.Recommendation, rank)

		report.TotalPredictions++
		if hit {
			report.CorrectCount++
		}

		tally(report.ByRecommendation, string(pred.Recommendation), hit)
		tally(report.ByRole, string(pred.Role), hit)
		tally(report.ByConfidenceTier, ConfidenceTier(pred.Confidence), hit)

		if IsPositiveCall(pred.Recommendation) {
			result := models.PredictionResult{
				PredictionID:   pred.ID,
				PlayerName:     pred.PlayerName,
				Team:           pred.Team,
				Role:           pred.Role,
				Week:           pred.Week,
				Recommendation: pred.Recommendation,
				Confidence:     pred.Confidence,
				PositionRank:   rank,
				FantasyPoints:  pair.Outcome.FantasyPoints,
			}
			if hit {
				hits = append(hits, result)
			} else {
				misses = append(misses, result)
			}
		}
	}

	report.HitRate = roundedHitRate(report.CorrectCount, report.TotalPredictions)
	finalizeBuckets(report.ByRecommendation)
	finalizeBuckets(report.ByRole)
	finalizeBuckets(report.ByConfidenceTier)

	edgeTallies := collectEdgeTallies(pairs)
	for edgeType, t := range edgeTallies {
		report.ByEdgeType[edgeType] = models.BucketStats{
			Total:   t.total,
			Correct: t.correct,
			HitRate: roundedHitRate(t.correct, t.total),
		}
	}
	e.refreshEdgeAccuracy(ctx, season, week, edgeTallies)

	// Biggest hits: lowest realized rank among positive calls. Biggest
	// misses: highest realized rank among positive calls.
	sort.Slice(hits, func(i, j int) bool { return hits[i].PositionRank < hits[j].PositionRank })
	sort.Slice(misses, func(i, j int) bool { return misses[i].PositionRank > misses[j].PositionRank })
	report.BiggestHits = truncateResults(hits, 5)
	report.BiggestMisses = truncateResults(misses, 5)

	if err := e.cache.SetAccuracyReport(ctx, season, week, report); err != nil {
		e.logger.WithError(err).WithField("season", season).Debug("Accuracy report not cached")
	}

	e.logger.WithFields(logrus.Fields{
		"season":            season,
		"week":              week,
		"total_predictions": report.TotalPredictions,
		"hit_rate":          report.HitRate,
	}).Info("Accuracy evaluation completed")

	return report, nil
}

// LatestReport serves the accuracy report from cache when it is warm,
// recomputing on a miss. Dashboard reads go through here so repeated polls do
// not re-scan the season.
func (e *Evaluator) LatestReport(ctx context.Context, season, week int) (*models.AccuracyReport, error) {
	var cached models.AccuracyReport
	if err := e.cache.GetAccuracyReport(ctx, season, week, &cached); err == nil {
		return &cached, nil
	}
	return e.Evaluate(ctx, season, week)
}

// refreshEdgeAccuracy upserts the per-(edge type, season) dashboard rows.
// The rows always hold season totals: a week-scoped evaluation re-tallies the
// whole season before writing so it never shrinks them to one week's numbers.
func (e *Evaluator) refreshEdgeAccuracy(ctx context.Context, season, week int, tallies map[string]*edgeTally) {
	if e.weights == nil {
		return
	}
	if week > 0 {
		pairs, err := e.predictions.ListWithOutcomes(ctx, season, 0)
		if err != nil {
			e.logger.WithError(err).WithField("season", season).
				Error("Failed to load season predictions for edge accuracy refresh")
			return
		}
		tallies = collectEdgeTallies(pairs)
	}
	for edgeType, t := range tallies {
		e.cacheEdgeAccuracy(ctx, season, edgeType, t)
	}
}

// collectEdgeTallies aggregates scored pairs by significant signal type.
func collectEdgeTallies(pairs []storage.PredictionPair) map[string]*edgeTally {
	tallies := make(map[string]*edgeTally)
	for _, pair := range pairs {
		if pair.Outcome == nil || pair.Outcome.PositionRank == nil {
			continue
		}
		hit := IsHit(pair.Prediction.Recommendation, *pair.Outcome.PositionRank)
		for _, signal := range pair.Prediction.SignalList() {
			if math.Abs(signal.Magnitude) < AccuracyMagnitudeFloor {
				continue
			}
			t := tallies[signal.Type]
			if t == nil {
				t = &edgeTally{}
				tallies[signal.Type] = t
			}
			t.total++
			if hit {
				t.correct++
			}
			t.sumMagnitude += math.Abs(signal.Magnitude)
		}
	}
	return tallies
}

func (e *Evaluator) cacheEdgeAccuracy(ctx context.Context, season int, edgeType string, t *edgeTally) {
	if t.total == 0 {
		return
	}
	row := &models.EdgeAccuracy{
		EdgeType:           edgeType,
		Season:             season,
		TotalPredictions:   t.total,
		CorrectPredictions: t.correct,
		HitRate:            roundedHitRate(t.correct, t.total),
		AvgMagnitude:       round2(t.sumMagnitude / float64(t.total)),
		UpdatedAt:          time.Now().UTC(),
	}
	if err := e.weights.UpsertEdgeAccuracy(ctx, row); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"season":    season,
			"edge_type": edgeType,
		}).Error("Failed to upsert edge accuracy cache row")
	}
}

func emptyAccuracyReport(season, week int) *models.AccuracyReport {
	return &models.AccuracyReport{
		Season:           season,
		Week:             week,
		ByRecommendation: make(map[string]models.BucketStats),
		ByRole:           make(map[string]models.BucketStats),
		ByConfidenceTier: make(map[string]models.BucketStats),
		ByEdgeType:       make(map[string]models.BucketStats),
		BiggestHits:      []models.PredictionResult{},
		BiggestMisses:    []models.PredictionResult{},
		GeneratedAt:      time.Now().UTC(),
	}
}

func tally(buckets map[string]models.BucketStats, key string, hit bool) {
	stats := buckets[key]
	stats.Total++
	if hit {
		stats.Correct++
	}
	buckets[key] = stats
}

func finalizeBuckets(buckets map[string]models.BucketStats) {
	for key, stats := range buckets {
		stats.HitRate = roundedHitRate(stats.Correct, stats.Total)
		buckets[key] = stats
	}
}

func truncateResults(results []models.PredictionResult, n int) []models.PredictionResult {
	if len(results) > n {
		return results[:n]
	}
	return results
}

// roundedHitRate reports a percentage rounded to one decimal.
func roundedHitRate(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*1000) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
